package service

import (
	"context"
	"errors"
	"iter"
	"math"
	"strings"
	"time"

	"github.com/nakliyeci/carrier-jobs/internal/eligibility"
	"github.com/nakliyeci/carrier-jobs/internal/lifecycle"
	"github.com/nakliyeci/carrier-jobs/internal/models"
	"github.com/nakliyeci/carrier-jobs/internal/repository"
	"github.com/nakliyeci/carrier-jobs/pkg/apperrors"
	"github.com/nakliyeci/carrier-jobs/pkg/keylock"
	"github.com/nakliyeci/carrier-jobs/pkg/logger"
)

// expireBatchSize bounds how many offers one ExpireStale call resolves
const expireBatchSize = 100

// IssueOfferInput describes a direct assignment offer
type IssueOfferInput struct {
	BrokerID   string
	ShipmentID string
	CarrierID  string
	// PickupCity defaults to the job's pickup city when empty.
	PickupCity string
	Price      float64
}

// OfferService is the assignment offer manager
type OfferService struct {
	offers    repository.OfferStore
	engine    Lifecycle
	listings  ListingCloser
	checker   *eligibility.Checker
	directory CityDirectory
	locks     *keylock.Locker
	settings  settings
	logger    logger.Logger
}

// NewOfferService creates a new OfferService. directory may be nil when
// callers always pass the carrier's city to Accept. listings may be nil.
func NewOfferService(
	offers repository.OfferStore,
	engine Lifecycle,
	listings ListingCloser,
	checker *eligibility.Checker,
	directory CityDirectory,
	locks *keylock.Locker,
	logger logger.Logger,
	opts ...Option,
) *OfferService {
	if checker == nil {
		checker = eligibility.NewChecker()
	}
	return &OfferService{
		offers:    offers,
		engine:    engine,
		listings:  listings,
		checker:   checker,
		directory: directory,
		locks:     locks,
		settings:  newSettings(opts),
		logger:    logger,
	}
}

func shipmentKey(id string) string { return "shipment:" + id }

// IssueOffer offers a shipment to one carrier for the configured window
func (s *OfferService) IssueOffer(ctx context.Context, in IssueOfferInput) (*models.AssignmentOffer, error) {
	in.ShipmentID = strings.TrimSpace(in.ShipmentID)
	in.CarrierID = strings.TrimSpace(in.CarrierID)
	in.PickupCity = strings.TrimSpace(in.PickupCity)

	if in.BrokerID == "" {
		return nil, apperrors.NewUnauthorizedError("broker identity is required")
	}
	if in.ShipmentID == "" || in.CarrierID == "" {
		return nil, apperrors.NewInvalidInputError("shipment id and carrier id are required")
	}
	if in.Price <= 0 || math.IsNaN(in.Price) || math.IsInf(in.Price, 0) {
		return nil, apperrors.NewInvalidInputError("offer price must be a positive amount").
			WithContext("price", in.Price)
	}

	unlock := s.locks.Lock(shipmentKey(in.ShipmentID))
	defer unlock()

	job, err := s.engine.Get(ctx, in.ShipmentID)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		job = nil
	case err != nil:
		return nil, err
	case job.BrokerID != in.BrokerID:
		return nil, apperrors.NewForbiddenError("shipment belongs to another broker").
			WithContext("shipment_id", in.ShipmentID)
	}

	if in.PickupCity == "" {
		if job == nil {
			return nil, apperrors.NewInvalidInputError("pickup city is required for a new shipment")
		}
		in.PickupCity = job.PickupCity
	}

	if err := s.clearStalePending(ctx, in.ShipmentID); err != nil {
		return nil, err
	}

	offer := models.NewAssignmentOffer(in.ShipmentID, in.BrokerID, in.CarrierID, in.PickupCity, in.Price, s.settings.now(), s.settings.offerTTL)

	if err := s.offers.CreateOffer(ctx, offer); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperrors.NewOfferAlreadyActiveError(in.ShipmentID, "")
		}
		return nil, internalError(s.logger, "create offer", err, "shipmentID", in.ShipmentID)
	}

	price := offer.Price
	_, err = s.engine.Apply(ctx, lifecycle.Event{
		Type:       lifecycle.EventOfferIssued,
		ShipmentID: offer.ShipmentID,
		BrokerID:   offer.BrokerID,
		CarrierID:  offer.CarrierID,
		PickupCity: offer.PickupCity,
		Price:      &price,
		OfferID:    offer.ID,
	})
	if err != nil {
		if delErr := s.offers.DeleteOffer(ctx, offer.ID); delErr != nil {
			s.logger.Error("Failed to remove refused offer", "error", delErr, "offerID", offer.ID)
		}
		return nil, err
	}

	s.logger.Info("Assignment offer issued",
		"offerID", offer.ID,
		"shipmentID", offer.ShipmentID,
		"carrierID", offer.CarrierID,
		"expiresAt", offer.ExpiresAt)

	return offer, nil
}

// clearStalePending expires a pending offer already past its window and
// refuses when a live one exists. Callers hold the shipment lock.
func (s *OfferService) clearStalePending(ctx context.Context, shipmentID string) error {
	pending, err := s.offers.GetPendingOfferForShipment(ctx, shipmentID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return internalError(s.logger, "look up pending offer", err, "shipmentID", shipmentID)
	}
	if pending.EffectiveStatus(s.settings.now()) == models.OfferStatusPending {
		return apperrors.NewOfferAlreadyActiveError(shipmentID, pending.ID)
	}
	_, err = s.expireLocked(ctx, pending)
	return err
}

// ResolveExpiry returns the offer's status as of now
func (s *OfferService) ResolveExpiry(ctx context.Context, offerID string) (models.OfferStatus, error) {
	offer, err := s.getOffer(ctx, offerID)
	if err != nil {
		return "", err
	}
	return offer.EffectiveStatus(s.settings.now()), nil
}

// GetOffer returns an offer with its effective status. Only the offered
// carrier and the issuing broker may read it.
func (s *OfferService) GetOffer(ctx context.Context, offerID, requesterID string) (*models.AssignmentOffer, error) {
	offer, err := s.getOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if requesterID != offer.CarrierID && requesterID != offer.BrokerID {
		return nil, apperrors.NewForbiddenError("offer belongs to another carrier").
			WithContext("offer_id", offerID)
	}
	offer.Status = offer.EffectiveStatus(s.settings.now())
	return offer, nil
}

// Accept binds the carrier to the shipment if the offer is still open and the
// carrier's city matches the pickup city
func (s *OfferService) Accept(ctx context.Context, offerID, carrierID, carrierCity string) (*models.AssignmentOffer, error) {
	return s.accept(ctx, offerID, carrierID, func(context.Context) (string, error) {
		return carrierCity, nil
	})
}

// AcceptForCarrier accepts using the carrier's registered city from the directory
func (s *OfferService) AcceptForCarrier(ctx context.Context, offerID, carrierID string) (*models.AssignmentOffer, error) {
	if s.directory == nil {
		return nil, apperrors.NewInternalError("carrier directory is not configured")
	}
	return s.accept(ctx, offerID, carrierID, func(ctx context.Context) (string, error) {
		return s.directory.RegisteredCity(ctx, carrierID)
	})
}

func (s *OfferService) accept(ctx context.Context, offerID, carrierID string, carrierCity func(context.Context) (string, error)) (*models.AssignmentOffer, error) {
	offer, err := s.acceptLocked(ctx, offerID, carrierID, carrierCity)
	if err != nil {
		return nil, err
	}

	// Listing locks rank above shipment locks, so the shipment's listings are
	// closed only after the shipment lock is released.
	if s.listings != nil {
		closed, err := s.listings.CloseForShipment(ctx, offer.ShipmentID)
		if err != nil {
			s.logger.Error("Failed to close listings after offer win", "error", err, "shipmentID", offer.ShipmentID)
			return nil, apperrors.NewInternalError("offer accepted but the shipment's listing could not be closed").
				WithContext("offer_id", offer.ID).
				WithContext("shipment_id", offer.ShipmentID).
				WithContext("bound", true)
		}
		if closed > 0 {
			s.logger.Info("Closed listings of shipment assigned via offer",
				"shipmentID", offer.ShipmentID,
				"closedListings", closed)
		}
	}

	return offer, nil
}

func (s *OfferService) acceptLocked(ctx context.Context, offerID, carrierID string, carrierCity func(context.Context) (string, error)) (*models.AssignmentOffer, error) {
	offer, unlock, err := s.openForCarrier(ctx, offerID, carrierID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	city, err := carrierCity(ctx)
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		s.logger.Error("Failed to resolve carrier city", "error", err, "carrierID", carrierID)
		return nil, apperrors.NewTemporaryError("carrier profile is unavailable")
	}

	err = s.checker.Check(ctx, eligibility.Candidate{
		OfferID:     offer.ID,
		ShipmentID:  offer.ShipmentID,
		CarrierID:   carrierID,
		PickupCity:  offer.PickupCity,
		CarrierCity: city,
	})
	if err != nil {
		s.logger.Info("Offer acceptance refused by eligibility",
			"offerID", offer.ID,
			"carrierID", carrierID,
			"error", err)
		return nil, err
	}

	now := s.settings.now()
	if err := s.transition(ctx, offer, models.OfferStatusPending, models.OfferStatusAccepted, &now, nil); err != nil {
		return nil, err
	}

	price := offer.Price
	_, err = s.engine.Apply(ctx, lifecycle.Event{
		Type:       lifecycle.EventOfferWon,
		ShipmentID: offer.ShipmentID,
		CarrierID:  carrierID,
		Price:      &price,
		OfferID:    offer.ID,
	})
	if err != nil {
		s.rollback(ctx, offer.ID, models.OfferStatusAccepted)
		s.logger.Warn("Offer acceptance refused by lifecycle",
			"offerID", offer.ID,
			"shipmentID", offer.ShipmentID,
			"error", err)
		return nil, err
	}

	s.logger.Info("Assignment offer accepted",
		"offerID", offer.ID,
		"shipmentID", offer.ShipmentID,
		"carrierID", carrierID)

	offer.Status = models.OfferStatusAccepted
	offer.ResolvedAt = &now
	return offer, nil
}

// Reject declines an open offer so the broker may offer the shipment again
func (s *OfferService) Reject(ctx context.Context, offerID, carrierID string, reason *string) (*models.AssignmentOffer, error) {
	offer, unlock, err := s.openForCarrier(ctx, offerID, carrierID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if reason != nil {
		trimmed := strings.TrimSpace(*reason)
		if trimmed == "" {
			reason = nil
		} else {
			reason = &trimmed
		}
	}

	now := s.settings.now()
	if err := s.transition(ctx, offer, models.OfferStatusPending, models.OfferStatusRejected, &now, reason); err != nil {
		return nil, err
	}

	_, err = s.engine.Apply(ctx, lifecycle.Event{
		Type:       lifecycle.EventOfferRejected,
		ShipmentID: offer.ShipmentID,
		CarrierID:  carrierID,
		OfferID:    offer.ID,
	})
	if err != nil {
		s.rollback(ctx, offer.ID, models.OfferStatusRejected)
		return nil, err
	}

	s.logger.Info("Assignment offer rejected", "offerID", offer.ID, "shipmentID", offer.ShipmentID)

	offer.Status = models.OfferStatusRejected
	offer.ResolvedAt = &now
	if reason != nil {
		offer.Reason = reason
	}
	return offer, nil
}

// openForCarrier loads an offer the carrier may still answer and returns it
// with the shipment lock held. The checks run in a fixed order: existence,
// ownership, expiry, resolution.
func (s *OfferService) openForCarrier(ctx context.Context, offerID, carrierID string) (*models.AssignmentOffer, func(), error) {
	offer, err := s.getOffer(ctx, offerID)
	if err != nil {
		return nil, nil, err
	}
	if offer.CarrierID != carrierID {
		return nil, nil, apperrors.NewForbiddenError("offer belongs to another carrier").
			WithContext("offer_id", offerID)
	}

	unlock := s.locks.Lock(shipmentKey(offer.ShipmentID))

	if offer, err = s.getOffer(ctx, offerID); err != nil {
		unlock()
		return nil, nil, err
	}

	now := s.settings.now()
	if offer.Status == models.OfferStatusExpired || !now.Before(offer.ExpiresAt) {
		if offer.Status == models.OfferStatusPending {
			if _, err := s.expireLocked(ctx, offer); err != nil {
				unlock()
				return nil, nil, err
			}
		}
		unlock()
		return nil, nil, apperrors.NewOfferExpiredError(offer.ID, offer.ExpiresAt)
	}
	if offer.Status != models.OfferStatusPending {
		unlock()
		return nil, nil, apperrors.NewOfferAlreadyResolvedError(offer.ID, string(offer.Status))
	}

	return offer, unlock, nil
}

// ListPendingOffersForCarrier returns a restartable sequence of the carrier's
// open offers. Expiry is judged as each offer is yielded.
func (s *OfferService) ListPendingOffersForCarrier(ctx context.Context, carrierID string) iter.Seq2[*models.AssignmentOffer, error] {
	return lazy(ctx, func(ctx context.Context) ([]*models.AssignmentOffer, error) {
		offers, err := s.offers.ListPendingOffersForCarrier(ctx, carrierID)
		if err != nil {
			return nil, internalError(s.logger, "list offers", err, "carrierID", carrierID)
		}
		return offers, nil
	}, func(o *models.AssignmentOffer) bool {
		return o.EffectiveStatus(s.settings.now()) == models.OfferStatusPending
	})
}

// ExpireStale records expiry for pending offers past their window and returns
// how many it expired. Reads never depend on it having run.
func (s *OfferService) ExpireStale(ctx context.Context) (int, error) {
	stale, err := s.offers.ListPendingOffersExpiredBefore(ctx, s.settings.now(), expireBatchSize)
	if err != nil {
		return 0, internalError(s.logger, "list stale offers", err)
	}

	expired := 0
	for _, offer := range stale {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		ok, err := s.expire(ctx, offer.ID)
		if err != nil {
			return expired, err
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}

func (s *OfferService) expire(ctx context.Context, offerID string) (bool, error) {
	offer, err := s.getOffer(ctx, offerID)
	if err != nil {
		return false, err
	}

	unlock := s.locks.Lock(shipmentKey(offer.ShipmentID))
	defer unlock()

	if offer, err = s.getOffer(ctx, offerID); err != nil {
		return false, err
	}
	if offer.EffectiveStatus(s.settings.now()) != models.OfferStatusExpired || offer.Status != models.OfferStatusPending {
		return false, nil
	}
	return s.expireLocked(ctx, offer)
}

// expireLocked marks a pending offer expired and returns the shipment to
// listed. Callers hold the shipment lock.
func (s *OfferService) expireLocked(ctx context.Context, offer *models.AssignmentOffer) (bool, error) {
	at := offer.ExpiresAt
	ok, err := s.offers.TransitionOffer(ctx, offer.ID, models.OfferStatusPending, models.OfferStatusExpired, &at, nil)
	if err != nil {
		return false, internalError(s.logger, "expire offer", err, "offerID", offer.ID)
	}
	if !ok {
		return false, nil
	}

	_, err = s.engine.Apply(ctx, lifecycle.Event{
		Type:       lifecycle.EventOfferExpired,
		ShipmentID: offer.ShipmentID,
		CarrierID:  offer.CarrierID,
		OfferID:    offer.ID,
	})
	if err != nil {
		s.logger.Error("Failed to record offer expiry on job", "error", err, "offerID", offer.ID)
	}

	s.logger.Info("Assignment offer expired", "offerID", offer.ID, "shipmentID", offer.ShipmentID)
	return true, nil
}

// WithdrawForShipment rejects the shipment's pending offer, if any, with reason
func (s *OfferService) WithdrawForShipment(ctx context.Context, shipmentID, reason string) error {
	unlock := s.locks.Lock(shipmentKey(shipmentID))
	defer unlock()

	pending, err := s.offers.GetPendingOfferForShipment(ctx, shipmentID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return internalError(s.logger, "look up pending offer", err, "shipmentID", shipmentID)
	}

	now := s.settings.now()
	if _, err := s.offers.TransitionOffer(ctx, pending.ID, models.OfferStatusPending, models.OfferStatusRejected, &now, &reason); err != nil {
		return internalError(s.logger, "withdraw offer", err, "offerID", pending.ID)
	}

	s.logger.Info("Assignment offer withdrawn",
		"offerID", pending.ID,
		"shipmentID", shipmentID,
		"reason", reason)
	return nil
}

func (s *OfferService) transition(ctx context.Context, offer *models.AssignmentOffer, from, to models.OfferStatus, at *time.Time, reason *string) error {
	ok, err := s.offers.TransitionOffer(ctx, offer.ID, from, to, at, reason)
	if err != nil {
		return internalError(s.logger, "update offer", err, "offerID", offer.ID)
	}
	if !ok {
		current, err := s.getOffer(ctx, offer.ID)
		if err != nil {
			return err
		}
		return apperrors.NewOfferAlreadyResolvedError(current.ID, string(current.Status))
	}
	return nil
}

// rollback returns an offer the engine refused to pending
func (s *OfferService) rollback(ctx context.Context, offerID string, from models.OfferStatus) {
	if _, err := s.offers.TransitionOffer(ctx, offerID, from, models.OfferStatusPending, nil, nil); err != nil {
		s.logger.Error("Failed to restore offer to pending", "error", err, "offerID", offerID)
	}
}

func (s *OfferService) getOffer(ctx context.Context, offerID string) (*models.AssignmentOffer, error) {
	offer, err := s.offers.GetOffer(ctx, offerID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewNotFoundError("offer not found").WithContext("offer_id", offerID)
	}
	if err != nil {
		return nil, internalError(s.logger, "get offer", err, "offerID", offerID)
	}
	return offer, nil
}
