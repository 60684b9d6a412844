package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/nakliyeci/carrier-jobs/internal/models"
	"github.com/nakliyeci/carrier-jobs/internal/service"
	"github.com/nakliyeci/carrier-jobs/pkg/apperrors"
)

// getJobHandler returns the lifecycle state of a shipment
func (s *Server) getJobHandler(w http.ResponseWriter, r *http.Request) {
	s.jobStep(w, r, s.services.Jobs.Get)
}

// startJobHandler moves a bound shipment into progress
func (s *Server) startJobHandler(w http.ResponseWriter, r *http.Request) {
	s.jobStep(w, r, s.services.Jobs.StartWork)
}

// completeJobHandler marks an in-progress shipment delivered
func (s *Server) completeJobHandler(w http.ResponseWriter, r *http.Request) {
	s.jobStep(w, r, s.services.Jobs.Complete)
}

// cancelJobHandler cancels a shipment before work starts
func (s *Server) cancelJobHandler(w http.ResponseWriter, r *http.Request) {
	s.jobStep(w, r, s.services.Jobs.Cancel)
}

func (s *Server) jobStep(w http.ResponseWriter, r *http.Request, step func(ctx context.Context, shipmentID, userID string) (*models.ShipmentJob, error)) {
	job, err := step(r.Context(), mux.Vars(r)["shipmentId"], caller(r).UserID)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: job})
}

// getCarrierJobsHandler returns the carrier's "My Jobs" view with its default tab
func (s *Server) getCarrierJobsHandler(w http.ResponseWriter, r *http.Request) {
	carrierID := mux.Vars(r)["id"]
	if carrierID != caller(r).UserID {
		s.respondWithAppError(w, r, apperrors.NewForbiddenError("carriers may only view their own jobs"))
		return
	}

	view := s.services.View.GetCarrierView(r.Context(), carrierID)
	snapshot, err := service.Snapshot(view)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: snapshot})
}
