package service

import (
	"context"
	"iter"

	"github.com/nakliyeci/carrier-jobs/internal/models"
	"github.com/nakliyeci/carrier-jobs/internal/repository"
	"github.com/nakliyeci/carrier-jobs/pkg/logger"
)

// TabKey names a section of the carrier's jobs screen
type TabKey string

const (
	TabAssignmentOffers TabKey = "assignment_offers"
	TabAcceptedBids     TabKey = "accepted_bids"
	TabPendingBids      TabKey = "pending_bids"
	TabActiveJobs       TabKey = "active_jobs"
)

// CarrierView groups everything a carrier is involved in. Each sequence reads
// the stores again every time it is ranged over.
type CarrierView struct {
	CarrierID        string
	AssignmentOffers iter.Seq2[*models.AssignmentOffer, error]
	PendingBids      iter.Seq2[*models.Bid, error]
	AcceptedBids     iter.Seq2[*models.Bid, error]
	ActiveJobs       iter.Seq2[*models.ShipmentJob, error]
	CompletedJobs    iter.Seq2[*models.ShipmentJob, error]
}

// CarrierSnapshot is a materialised CarrierView
type CarrierSnapshot struct {
	CarrierID        string                    `json:"carrier_id"`
	DefaultTab       TabKey                    `json:"default_tab"`
	AssignmentOffers []*models.AssignmentOffer `json:"assignment_offers"`
	PendingBids      []*models.Bid             `json:"pending_bids"`
	AcceptedBids     []*models.Bid             `json:"accepted_bids"`
	ActiveJobs       []*models.ShipmentJob     `json:"active_jobs"`
	CompletedJobs    []*models.ShipmentJob     `json:"completed_jobs"`
}

// CarrierViewService is the read-only lifecycle query facade
type CarrierViewService struct {
	offers *OfferService
	bids   *BidService
	jobs   repository.JobStore
	logger logger.Logger
}

// NewCarrierViewService creates a new CarrierViewService
func NewCarrierViewService(offers *OfferService, bids *BidService, jobs repository.JobStore, logger logger.Logger) *CarrierViewService {
	return &CarrierViewService{
		offers: offers,
		bids:   bids,
		jobs:   jobs,
		logger: logger,
	}
}

// GetCarrierView returns the carrier's lazily evaluated view
func (s *CarrierViewService) GetCarrierView(ctx context.Context, carrierID string) *CarrierView {
	return &CarrierView{
		CarrierID:        carrierID,
		AssignmentOffers: s.offers.ListPendingOffersForCarrier(ctx, carrierID),
		PendingBids:      s.bids.ListBidsForCarrier(ctx, carrierID, models.BidStatusPending),
		AcceptedBids:     s.bids.ListBidsForCarrier(ctx, carrierID, models.BidStatusAccepted),
		ActiveJobs:       s.listJobs(ctx, carrierID, models.JobStatusAccepted, models.JobStatusInProgress),
		CompletedJobs:    s.listJobs(ctx, carrierID, models.JobStatusCompleted),
	}
}

func (s *CarrierViewService) listJobs(ctx context.Context, carrierID string, statuses ...models.JobStatus) iter.Seq2[*models.ShipmentJob, error] {
	return lazy(ctx, func(ctx context.Context) ([]*models.ShipmentJob, error) {
		jobs, err := s.jobs.ListJobsForCarrier(ctx, carrierID, statuses...)
		if err != nil {
			return nil, internalError(s.logger, "list jobs", err, "carrierID", carrierID)
		}
		return jobs, nil
	}, nil)
}

// DefaultTab picks the first non-empty tab in priority order, falling back to
// active jobs
func DefaultTab(view *CarrierView) (TabKey, error) {
	if empty, err := isEmpty(view.AssignmentOffers); err != nil || !empty {
		return TabAssignmentOffers, err
	}
	if empty, err := isEmpty(view.AcceptedBids); err != nil || !empty {
		return TabAcceptedBids, err
	}
	if empty, err := isEmpty(view.PendingBids); err != nil || !empty {
		return TabPendingBids, err
	}
	return TabActiveJobs, nil
}

// Snapshot materialises view. The default tab is derived from the same
// collected slices so the two cannot disagree.
func Snapshot(view *CarrierView) (*CarrierSnapshot, error) {
	snap := &CarrierSnapshot{CarrierID: view.CarrierID}

	var err error
	if snap.AssignmentOffers, err = Collect(view.AssignmentOffers); err != nil {
		return nil, err
	}
	if snap.PendingBids, err = Collect(view.PendingBids); err != nil {
		return nil, err
	}
	if snap.AcceptedBids, err = Collect(view.AcceptedBids); err != nil {
		return nil, err
	}
	if snap.ActiveJobs, err = Collect(view.ActiveJobs); err != nil {
		return nil, err
	}
	if snap.CompletedJobs, err = Collect(view.CompletedJobs); err != nil {
		return nil, err
	}

	switch {
	case len(snap.AssignmentOffers) > 0:
		snap.DefaultTab = TabAssignmentOffers
	case len(snap.AcceptedBids) > 0:
		snap.DefaultTab = TabAcceptedBids
	case len(snap.PendingBids) > 0:
		snap.DefaultTab = TabPendingBids
	default:
		snap.DefaultTab = TabActiveJobs
	}
	return snap, nil
}
