package service

import (
	"context"
	"errors"

	"github.com/nakliyeci/carrier-jobs/internal/lifecycle"
	"github.com/nakliyeci/carrier-jobs/internal/models"
	"github.com/nakliyeci/carrier-jobs/pkg/apperrors"
	"github.com/nakliyeci/carrier-jobs/pkg/logger"
)

// ListingCloser closes the open listings of a shipment
type ListingCloser interface {
	CloseForShipment(ctx context.Context, shipmentID string) (int, error)
}

// JobService exposes job reads and the carrier and broker driven transitions
type JobService struct {
	engine   Lifecycle
	listings ListingCloser
	offers   OfferWithdrawer
	logger   logger.Logger
}

// NewJobService creates a new JobService
func NewJobService(engine Lifecycle, listings ListingCloser, offers OfferWithdrawer, logger logger.Logger) *JobService {
	return &JobService{
		engine:   engine,
		listings: listings,
		offers:   offers,
		logger:   logger,
	}
}

// Get returns a job to its owning broker or its bound carrier
func (s *JobService) Get(ctx context.Context, shipmentID, requesterID string) (*models.ShipmentJob, error) {
	job, err := s.engine.Get(ctx, shipmentID)
	if err != nil {
		return nil, err
	}
	if job.BrokerID != requesterID && !job.IsBoundTo(requesterID) {
		return nil, apperrors.NewForbiddenError("job belongs to another party").
			WithContext("shipment_id", shipmentID)
	}
	return job, nil
}

// StartWork moves an accepted job to in_progress for its bound carrier
func (s *JobService) StartWork(ctx context.Context, shipmentID, carrierID string) (*models.ShipmentJob, error) {
	return s.carrierStep(ctx, lifecycle.EventWorkStarted, shipmentID, carrierID)
}

// Complete moves an in-progress job to completed for its bound carrier
func (s *JobService) Complete(ctx context.Context, shipmentID, carrierID string) (*models.ShipmentJob, error) {
	return s.carrierStep(ctx, lifecycle.EventWorkCompleted, shipmentID, carrierID)
}

func (s *JobService) carrierStep(ctx context.Context, event lifecycle.EventType, shipmentID, carrierID string) (*models.ShipmentJob, error) {
	job, err := s.engine.Apply(ctx, lifecycle.Event{
		Type:       event,
		ShipmentID: shipmentID,
		CarrierID:  carrierID,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Job advanced", "shipmentID", shipmentID, "carrierID", carrierID, "status", job.Status)
	return job, nil
}

// Cancel cancels a job that no carrier is bound to, then closes its listings
// and withdraws its pending offer. Repeating a cancel by the owning broker
// re-runs the cleanup.
func (s *JobService) Cancel(ctx context.Context, shipmentID, brokerID string) (*models.ShipmentJob, error) {
	job, err := s.engine.Apply(ctx, lifecycle.Event{
		Type:       lifecycle.EventCancelled,
		ShipmentID: shipmentID,
		BrokerID:   brokerID,
	})
	if errors.Is(err, apperrors.ErrAlreadyBound) {
		current, getErr := s.engine.Get(ctx, shipmentID)
		if getErr != nil || current.Status != models.JobStatusCancelled || current.BrokerID != brokerID {
			return nil, err
		}
		job, err = current, nil
	}
	if err != nil {
		return nil, err
	}

	closed, err := s.listings.CloseForShipment(ctx, shipmentID)
	if err != nil {
		return nil, err
	}
	if s.offers != nil {
		if err := s.offers.WithdrawForShipment(ctx, shipmentID, "shipment cancelled"); err != nil {
			return nil, err
		}
	}

	s.logger.Info("Job cancelled", "shipmentID", shipmentID, "closedListings", closed)
	return job, nil
}
