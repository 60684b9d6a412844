package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/nakliyeci/carrier-jobs/internal/service"
)

type issueOfferRequest struct {
	ShipmentID string  `json:"shipment_id"`
	CarrierID  string  `json:"carrier_id"`
	Price      float64 `json:"price"`
	PickupCity string  `json:"pickup_city,omitempty"`
}

type rejectOfferRequest struct {
	Reason *string `json:"reason,omitempty"`
}

// issueOfferHandler sends a direct assignment offer to one carrier
func (s *Server) issueOfferHandler(w http.ResponseWriter, r *http.Request) {
	var req issueOfferRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	offer, err := s.services.Offers.IssueOffer(r.Context(), service.IssueOfferInput{
		BrokerID:   caller(r).UserID,
		ShipmentID: req.ShipmentID,
		CarrierID:  req.CarrierID,
		PickupCity: req.PickupCity,
		Price:      req.Price,
	})
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: offer})
}

// getOfferHandler returns an offer with its effective status
func (s *Server) getOfferHandler(w http.ResponseWriter, r *http.Request) {
	offer, err := s.services.Offers.GetOffer(r.Context(), mux.Vars(r)["id"], caller(r).UserID)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: offer})
}

// acceptOfferHandler accepts an offer on behalf of the calling carrier. The
// carrier's city comes from the directory, never from the request.
func (s *Server) acceptOfferHandler(w http.ResponseWriter, r *http.Request) {
	offer, err := s.services.Offers.AcceptForCarrier(r.Context(), mux.Vars(r)["id"], caller(r).UserID)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: offer})
}

// rejectOfferHandler declines an offer with an optional reason
func (s *Server) rejectOfferHandler(w http.ResponseWriter, r *http.Request) {
	var req rejectOfferRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	offer, err := s.services.Offers.Reject(r.Context(), mux.Vars(r)["id"], caller(r).UserID, req.Reason)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: offer})
}
