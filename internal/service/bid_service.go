package service

import (
	"context"
	"errors"
	"iter"
	"math"
	"time"

	"github.com/nakliyeci/carrier-jobs/internal/lifecycle"
	"github.com/nakliyeci/carrier-jobs/internal/models"
	"github.com/nakliyeci/carrier-jobs/internal/repository"
	"github.com/nakliyeci/carrier-jobs/pkg/apperrors"
	"github.com/nakliyeci/carrier-jobs/pkg/keylock"
	"github.com/nakliyeci/carrier-jobs/pkg/logger"
)

// OfferWithdrawer rejects a shipment's pending offer
type OfferWithdrawer interface {
	WithdrawForShipment(ctx context.Context, shipmentID, reason string) error
}

// SubmitBidInput describes a carrier's bid
type SubmitBidInput struct {
	ListingID string
	CarrierID string
	Price     float64
	ETAHours  *float64
}

// BidService is the bid ledger
type BidService struct {
	bids     repository.BidStore
	listings repository.ListingStore
	engine   Lifecycle
	offers   OfferWithdrawer
	locks    *keylock.Locker
	settings settings
	logger   logger.Logger
}

// NewBidService creates a new BidService. offers may be nil.
func NewBidService(
	bids repository.BidStore,
	listings repository.ListingStore,
	engine Lifecycle,
	offers OfferWithdrawer,
	locks *keylock.Locker,
	logger logger.Logger,
	opts ...Option,
) *BidService {
	return &BidService{
		bids:     bids,
		listings: listings,
		engine:   engine,
		offers:   offers,
		locks:    locks,
		settings: newSettings(opts),
		logger:   logger,
	}
}

// SubmitBid records a pending bid on an open listing
func (s *BidService) SubmitBid(ctx context.Context, in SubmitBidInput) (*models.Bid, error) {
	if in.Price <= 0 || math.IsNaN(in.Price) || math.IsInf(in.Price, 0) {
		return nil, apperrors.NewInvalidInputError("bid price must be a positive amount").
			WithContext("bid_price", in.Price)
	}
	if in.ETAHours != nil && (*in.ETAHours < 0 || math.IsNaN(*in.ETAHours)) {
		return nil, apperrors.NewInvalidInputError("eta hours cannot be negative")
	}
	if in.CarrierID == "" {
		return nil, apperrors.NewUnauthorizedError("carrier identity is required")
	}

	unlock := s.locks.Lock(listingKey(in.ListingID))
	defer unlock()

	listing, err := s.getListing(ctx, in.ListingID)
	if err != nil {
		return nil, err
	}
	if !listing.IsOpen() {
		return nil, apperrors.NewListingClosedError(listing.ID)
	}
	if listing.BudgetCeiling != nil && in.Price > *listing.BudgetCeiling {
		return nil, apperrors.NewBudgetExceededError(in.Price, *listing.BudgetCeiling)
	}

	bid := models.NewBid(listing.ID, in.CarrierID, in.Price, in.ETAHours, s.settings.now())

	if err := s.bids.CreateBid(ctx, bid); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperrors.NewDuplicateBidError(listing.ID, in.CarrierID)
		}
		return nil, internalError(s.logger, "create bid", err, "listingID", listing.ID)
	}

	s.logger.Info("Bid submitted",
		"bidID", bid.ID,
		"listingID", listing.ID,
		"carrierID", bid.CarrierID,
		"price", bid.Price)

	return bid, nil
}

// AcceptBid makes bid the single winner of its listing. The listing closes,
// the engine binds the carrier, and the remaining pending bids are rejected.
// If the engine refuses, the bid and listing are restored and the refusal returned.
func (s *BidService) AcceptBid(ctx context.Context, bidID, brokerID string) (*models.Bid, error) {
	bid, err := s.getBid(ctx, bidID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(listingKey(bid.ListingID))
	defer unlock()

	// Re-read under the lock: a concurrent accept may have resolved it.
	if bid, err = s.getBid(ctx, bidID); err != nil {
		return nil, err
	}
	listing, err := s.getListing(ctx, bid.ListingID)
	if err != nil {
		return nil, err
	}

	if listing.BrokerID != brokerID {
		return nil, apperrors.NewForbiddenError("only the publishing broker may accept bids").
			WithContext("listing_id", listing.ID)
	}
	if bid.Status != models.BidStatusPending {
		return nil, apperrors.NewInvalidBidStateError(bid.ID, string(bid.Status))
	}
	if !listing.IsOpen() {
		return nil, apperrors.NewListingClosedError(listing.ID)
	}

	now := s.settings.now()

	ok, err := s.bids.TransitionBid(ctx, bid.ID, models.BidStatusPending, models.BidStatusAccepted, now)
	if errors.Is(err, repository.ErrConflict) {
		return nil, apperrors.NewListingClosedError(listing.ID)
	}
	if err != nil {
		return nil, internalError(s.logger, "accept bid", err, "bidID", bid.ID)
	}
	if !ok {
		return nil, s.currentBidState(ctx, bid.ID)
	}

	closed, err := s.listings.CloseListing(ctx, listing.ID, now)
	if err != nil || !closed {
		s.restoreBid(ctx, bid.ID, now)
		if err != nil {
			return nil, internalError(s.logger, "close listing", err, "listingID", listing.ID)
		}
		return nil, apperrors.NewListingClosedError(listing.ID)
	}

	price := bid.Price
	_, err = s.engine.Apply(ctx, lifecycle.Event{
		Type:       lifecycle.EventBidWon,
		ShipmentID: listing.ShipmentID,
		CarrierID:  bid.CarrierID,
		Price:      &price,
		ListingID:  listing.ID,
		BidID:      bid.ID,
	})
	if err != nil {
		s.restoreBid(ctx, bid.ID, now)
		s.settleRefusedListing(ctx, listing, now)
		s.logger.Warn("Bid acceptance refused by lifecycle",
			"bidID", bid.ID,
			"shipmentID", listing.ShipmentID,
			"error", err)
		return nil, err
	}

	rejected, rejectErr := rejectPendingBids(ctx, s.bids, listing.ID, bid.ID, now)

	if s.offers != nil {
		if err := s.offers.WithdrawForShipment(ctx, listing.ShipmentID, "shipment assigned via bid"); err != nil {
			s.logger.Error("Failed to withdraw pending offer", "error", err, "shipmentID", listing.ShipmentID)
		}
	}

	if rejectErr != nil {
		s.logger.Error("Failed to reject losing bids", "error", rejectErr, "listingID", listing.ID)
		return nil, apperrors.NewInternalError("bid accepted but the losing bids could not be rejected").
			WithContext("bid_id", bid.ID).
			WithContext("listing_id", listing.ID).
			WithContext("bound", true)
	}

	s.logger.Info("Bid accepted",
		"bidID", bid.ID,
		"listingID", listing.ID,
		"shipmentID", listing.ShipmentID,
		"carrierID", bid.CarrierID,
		"rejectedBids", rejected)

	bid.Status = models.BidStatusAccepted
	bid.UpdatedAt = now
	return bid, nil
}

// RejectBid rejects a pending bid on the broker's listing
func (s *BidService) RejectBid(ctx context.Context, bidID, brokerID string) (*models.Bid, error) {
	return s.resolve(ctx, bidID, models.BidStatusRejected, func(bid *models.Bid, listing *models.Listing) error {
		if listing.BrokerID != brokerID {
			return apperrors.NewForbiddenError("only the publishing broker may reject bids").
				WithContext("listing_id", listing.ID)
		}
		return nil
	})
}

// CancelBid withdraws the carrier's own pending bid
func (s *BidService) CancelBid(ctx context.Context, bidID, carrierID string) (*models.Bid, error) {
	return s.resolve(ctx, bidID, models.BidStatusCancelled, func(bid *models.Bid, _ *models.Listing) error {
		if bid.CarrierID != carrierID {
			return apperrors.NewForbiddenError("only the bidding carrier may cancel this bid").
				WithContext("bid_id", bid.ID)
		}
		return nil
	})
}

func (s *BidService) resolve(ctx context.Context, bidID string, to models.BidStatus, authorize func(*models.Bid, *models.Listing) error) (*models.Bid, error) {
	bid, err := s.getBid(ctx, bidID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(listingKey(bid.ListingID))
	defer unlock()

	if bid, err = s.getBid(ctx, bidID); err != nil {
		return nil, err
	}
	listing, err := s.getListing(ctx, bid.ListingID)
	if err != nil {
		return nil, err
	}
	if err := authorize(bid, listing); err != nil {
		return nil, err
	}
	if bid.Status != models.BidStatusPending {
		return nil, apperrors.NewInvalidBidStateError(bid.ID, string(bid.Status))
	}

	now := s.settings.now()
	ok, err := s.bids.TransitionBid(ctx, bid.ID, models.BidStatusPending, to, now)
	if err != nil {
		return nil, internalError(s.logger, "update bid", err, "bidID", bid.ID)
	}
	if !ok {
		return nil, s.currentBidState(ctx, bid.ID)
	}

	s.logger.Info("Bid resolved", "bidID", bid.ID, "status", to)

	bid.Status = to
	bid.UpdatedAt = now
	return bid, nil
}

// Get returns a bid
func (s *BidService) Get(ctx context.Context, bidID string) (*models.Bid, error) {
	return s.getBid(ctx, bidID)
}

// ListBidsForCarrier returns a restartable sequence of the carrier's bids,
// optionally narrowed to statuses
func (s *BidService) ListBidsForCarrier(ctx context.Context, carrierID string, statuses ...models.BidStatus) iter.Seq2[*models.Bid, error] {
	return lazy(ctx, func(ctx context.Context) ([]*models.Bid, error) {
		bids, err := s.bids.ListBidsForCarrier(ctx, carrierID, statuses...)
		if err != nil {
			return nil, internalError(s.logger, "list bids", err, "carrierID", carrierID)
		}
		return bids, nil
	}, nil)
}

// settleRefusedListing reopens a listing whose winner the engine refused. When
// the shipment is already bound elsewhere the listing stays closed and its
// pending bids are rejected instead.
func (s *BidService) settleRefusedListing(ctx context.Context, listing *models.Listing, at time.Time) {
	job, err := s.engine.Get(ctx, listing.ShipmentID)
	if err == nil && job.Status.IsBinding() {
		if _, err := rejectPendingBids(ctx, s.bids, listing.ID, "", at); err != nil {
			s.logger.Error("Failed to reject bids of bound shipment", "error", err, "listingID", listing.ID)
		}
		return
	}

	if _, err := s.listings.ReopenListing(ctx, listing.ID); err != nil {
		s.logger.Error("Failed to reopen listing after refused bid", "error", err, "listingID", listing.ID)
	}
}

func (s *BidService) restoreBid(ctx context.Context, bidID string, at time.Time) {
	if _, err := s.bids.TransitionBid(ctx, bidID, models.BidStatusAccepted, models.BidStatusPending, at); err != nil {
		s.logger.Error("Failed to restore bid to pending", "error", err, "bidID", bidID)
	}
}

// currentBidState explains a lost compare-and-set from the bid's stored status
func (s *BidService) currentBidState(ctx context.Context, bidID string) error {
	bid, err := s.getBid(ctx, bidID)
	if err != nil {
		return err
	}
	return apperrors.NewInvalidBidStateError(bid.ID, string(bid.Status))
}

func (s *BidService) getBid(ctx context.Context, bidID string) (*models.Bid, error) {
	bid, err := s.bids.GetBid(ctx, bidID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewNotFoundError("bid not found").WithContext("bid_id", bidID)
	}
	if err != nil {
		return nil, internalError(s.logger, "get bid", err, "bidID", bidID)
	}
	return bid, nil
}

func (s *BidService) getListing(ctx context.Context, listingID string) (*models.Listing, error) {
	listing, err := s.listings.GetListing(ctx, listingID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewNotFoundError("listing not found").WithContext("listing_id", listingID)
	}
	if err != nil {
		return nil, internalError(s.logger, "get listing", err, "listingID", listingID)
	}
	return listing, nil
}
