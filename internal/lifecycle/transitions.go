package lifecycle

import (
	"time"

	"github.com/nakliyeci/carrier-jobs/internal/models"
	"github.com/nakliyeci/carrier-jobs/pkg/apperrors"
)

// transition computes the job that results from applying ev to job at now.
// A nil job means none exists yet. A nil result with a nil error is a no-op.
func transition(job *models.ShipmentJob, ev Event, now time.Time) (*models.ShipmentJob, error) {
	switch ev.Type {
	case EventListingPublished:
		return onListingPublished(job, ev, now)
	case EventOfferIssued:
		return onOfferIssued(job, ev, now)
	case EventBidWon:
		return onWin(job, ev, now, models.BoundViaBid)
	case EventOfferWon:
		return onWin(job, ev, now, models.BoundViaOffer)
	case EventOfferRejected, EventOfferExpired:
		return onOfferClosed(job, now)
	case EventWorkStarted:
		return onWork(job, ev, now, models.JobStatusAccepted, models.JobStatusInProgress)
	case EventWorkCompleted:
		return onWork(job, ev, now, models.JobStatusInProgress, models.JobStatusCompleted)
	case EventCancelled:
		return onCancelled(job, ev, now)
	default:
		return nil, apperrors.NewInvalidInputError("unknown lifecycle event " + string(ev.Type))
	}
}

func newJob(ev Event, status models.JobStatus, now time.Time) *models.ShipmentJob {
	return &models.ShipmentJob{
		ShipmentID:   ev.ShipmentID,
		BrokerID:     ev.BrokerID,
		Status:       status,
		PickupCity:   ev.PickupCity,
		DeliveryCity: ev.DeliveryCity,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func advance(job *models.ShipmentJob, status models.JobStatus, now time.Time) *models.ShipmentJob {
	next := job.Clone()
	next.Status = status
	next.Version = job.Version + 1
	next.UpdatedAt = now
	return next
}

func onListingPublished(job *models.ShipmentJob, ev Event, now time.Time) (*models.ShipmentJob, error) {
	if job == nil {
		if ev.BrokerID == "" || ev.PickupCity == "" {
			return nil, apperrors.NewInvalidInputError("broker and pickup city are required to create a job")
		}
		next := newJob(ev, models.JobStatusListed, now)
		next.ListedAt = &now
		return next, nil
	}
	if job.Status.IsBinding() {
		return nil, apperrors.NewAlreadyBoundError(job.ShipmentID, string(job.Status))
	}
	if job.BrokerID != ev.BrokerID {
		return nil, apperrors.NewForbiddenError("shipment belongs to another broker").
			WithContext("shipment_id", job.ShipmentID)
	}
	return nil, nil
}

func onOfferIssued(job *models.ShipmentJob, ev Event, now time.Time) (*models.ShipmentJob, error) {
	if job == nil {
		if ev.BrokerID == "" || ev.PickupCity == "" {
			return nil, apperrors.NewInvalidInputError("broker and pickup city are required to create a job")
		}
		next := newJob(ev, models.JobStatusAssignmentOffered, now)
		next.OfferedAt = &now
		return next, nil
	}

	switch {
	case job.Status.IsBinding():
		return nil, apperrors.NewAlreadyBoundError(job.ShipmentID, string(job.Status))
	case job.BrokerID != ev.BrokerID:
		return nil, apperrors.NewForbiddenError("shipment belongs to another broker").
			WithContext("shipment_id", job.ShipmentID)
	case job.Status == models.JobStatusAssignmentOffered:
		return nil, apperrors.NewOfferAlreadyActiveError(job.ShipmentID, ev.OfferID)
	}

	next := advance(job, models.JobStatusAssignmentOffered, now)
	next.OfferedAt = &now
	return next, nil
}

func onWin(job *models.ShipmentJob, ev Event, now time.Time, via models.BoundVia) (*models.ShipmentJob, error) {
	if job == nil {
		return nil, apperrors.NewNotFoundError("shipment job not found").WithContext("shipment_id", ev.ShipmentID)
	}
	if job.Status.IsBinding() {
		return nil, apperrors.NewAlreadyBoundError(job.ShipmentID, string(job.Status))
	}
	if via == models.BoundViaOffer && job.Status != models.JobStatusAssignmentOffered {
		return nil, apperrors.NewInvalidTransitionError(job.ShipmentID, string(job.Status), string(ev.Type))
	}
	if ev.CarrierID == "" {
		return nil, apperrors.NewInvalidInputError("winning carrier is required")
	}

	next := advance(job, models.JobStatusAccepted, now)
	carrier := ev.CarrierID
	next.BoundCarrierID = &carrier
	next.BoundVia = &via
	next.Price = ev.Price
	next.AcceptedAt = &now
	return next, nil
}

func onOfferClosed(job *models.ShipmentJob, now time.Time) (*models.ShipmentJob, error) {
	if job == nil || job.Status != models.JobStatusAssignmentOffered {
		return nil, nil
	}
	next := advance(job, models.JobStatusListed, now)
	if next.ListedAt == nil {
		next.ListedAt = &now
	}
	return next, nil
}

func onWork(job *models.ShipmentJob, ev Event, now time.Time, from, to models.JobStatus) (*models.ShipmentJob, error) {
	if job == nil {
		return nil, apperrors.NewNotFoundError("shipment job not found").WithContext("shipment_id", ev.ShipmentID)
	}
	if job.Status != from || !job.IsBoundTo(ev.CarrierID) {
		return nil, apperrors.NewNotBoundError(job.ShipmentID, string(job.Status)).
			WithContext("required_status", string(from))
	}

	next := advance(job, to, now)
	if to == models.JobStatusInProgress {
		next.StartedAt = &now
	} else {
		next.CompletedAt = &now
	}
	return next, nil
}

func onCancelled(job *models.ShipmentJob, ev Event, now time.Time) (*models.ShipmentJob, error) {
	if job == nil {
		return nil, apperrors.NewNotFoundError("shipment job not found").WithContext("shipment_id", ev.ShipmentID)
	}
	if job.BrokerID != ev.BrokerID {
		return nil, apperrors.NewForbiddenError("only the owning broker may cancel").
			WithContext("shipment_id", job.ShipmentID)
	}
	if job.Status.IsBinding() {
		return nil, apperrors.NewAlreadyBoundError(job.ShipmentID, string(job.Status))
	}

	next := advance(job, models.JobStatusCancelled, now)
	next.CancelledAt = &now
	return next, nil
}
