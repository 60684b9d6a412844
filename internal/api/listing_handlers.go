package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/nakliyeci/carrier-jobs/internal/service"
)

type publishListingRequest struct {
	ShipmentID    string   `json:"shipment_id"`
	PickupCity    string   `json:"pickup_city"`
	DeliveryCity  string   `json:"delivery_city"`
	BudgetCeiling *float64 `json:"budget_ceiling,omitempty"`
}

// publishListingHandler opens a shipment for bidding
func (s *Server) publishListingHandler(w http.ResponseWriter, r *http.Request) {
	var req publishListingRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	listing, err := s.services.Listings.Publish(r.Context(), service.PublishListingInput{
		BrokerID:      caller(r).UserID,
		ShipmentID:    req.ShipmentID,
		PickupCity:    req.PickupCity,
		DeliveryCity:  req.DeliveryCity,
		BudgetCeiling: req.BudgetCeiling,
	})
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: listing})
}

// getOpenListingsHandler lists open listings, optionally by city
func (s *Server) getOpenListingsHandler(w http.ResponseWriter, r *http.Request) {
	query := service.ListingQuery{
		FromCity: r.URL.Query().Get("from_city"),
		ToCity:   r.URL.Query().Get("to_city"),
	}

	listings, err := service.Collect(s.services.Listings.GetOpenListings(r.Context(), query))
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: listings})
}

// getListingHandler returns one listing
func (s *Server) getListingHandler(w http.ResponseWriter, r *http.Request) {
	listing, err := s.services.Listings.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: listing})
}

// closeListingHandler withdraws a listing
func (s *Server) closeListingHandler(w http.ResponseWriter, r *http.Request) {
	listing, err := s.services.Listings.Close(r.Context(), mux.Vars(r)["id"], caller(r).UserID)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: listing})
}
