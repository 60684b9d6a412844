package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/nakliyeci/carrier-jobs/internal/models"
	"github.com/nakliyeci/carrier-jobs/internal/service"
)

type submitBidRequest struct {
	ListingID string   `json:"listing_id"`
	BidPrice  float64  `json:"bid_price"`
	ETAHours  *float64 `json:"eta_hours,omitempty"`
}

// submitBidHandler records a carrier's bid
func (s *Server) submitBidHandler(w http.ResponseWriter, r *http.Request) {
	var req submitBidRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	bid, err := s.services.Bids.SubmitBid(r.Context(), service.SubmitBidInput{
		ListingID: req.ListingID,
		CarrierID: caller(r).UserID,
		Price:     req.BidPrice,
		ETAHours:  req.ETAHours,
	})
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: bid})
}

// acceptBidHandler makes a bid the listing's winner
func (s *Server) acceptBidHandler(w http.ResponseWriter, r *http.Request) {
	s.resolveBid(w, r, s.services.Bids.AcceptBid)
}

// rejectBidHandler rejects a pending bid
func (s *Server) rejectBidHandler(w http.ResponseWriter, r *http.Request) {
	s.resolveBid(w, r, s.services.Bids.RejectBid)
}

// cancelBidHandler withdraws the carrier's own bid
func (s *Server) cancelBidHandler(w http.ResponseWriter, r *http.Request) {
	s.resolveBid(w, r, s.services.Bids.CancelBid)
}

func (s *Server) resolveBid(w http.ResponseWriter, r *http.Request, resolve func(ctx context.Context, bidID, userID string) (*models.Bid, error)) {
	bid, err := resolve(r.Context(), mux.Vars(r)["id"], caller(r).UserID)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: bid})
}
