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

// PublishListingInput describes a new listing
type PublishListingInput struct {
	BrokerID      string
	ShipmentID    string
	PickupCity    string
	DeliveryCity  string
	BudgetCeiling *float64
}

// ListingQuery filters open listings by city. Empty fields match everything.
type ListingQuery struct {
	FromCity string
	ToCity   string
}

// ListingService manages listings open for bidding
type ListingService struct {
	listings repository.ListingStore
	bids     repository.BidStore
	engine   Lifecycle
	locks    *keylock.Locker
	settings settings
	logger   logger.Logger
}

// NewListingService creates a new ListingService. locks must be shared with
// the BidService so closing and accepting on one listing are serialised.
func NewListingService(
	listings repository.ListingStore,
	bids repository.BidStore,
	engine Lifecycle,
	locks *keylock.Locker,
	logger logger.Logger,
	opts ...Option,
) *ListingService {
	return &ListingService{
		listings: listings,
		bids:     bids,
		engine:   engine,
		locks:    locks,
		settings: newSettings(opts),
		logger:   logger,
	}
}

func listingKey(id string) string { return "listing:" + id }

// Publish creates an open listing and registers the shipment with the engine
func (s *ListingService) Publish(ctx context.Context, in PublishListingInput) (*models.Listing, error) {
	in.ShipmentID = strings.TrimSpace(in.ShipmentID)
	in.PickupCity = strings.TrimSpace(in.PickupCity)
	in.DeliveryCity = strings.TrimSpace(in.DeliveryCity)

	if in.ShipmentID == "" || in.PickupCity == "" || in.DeliveryCity == "" {
		return nil, apperrors.NewInvalidListingError("shipment id, pickup city and delivery city are required")
	}
	if in.BudgetCeiling != nil && (*in.BudgetCeiling <= 0 || math.IsNaN(*in.BudgetCeiling) || math.IsInf(*in.BudgetCeiling, 0)) {
		return nil, apperrors.NewInvalidListingError("budget ceiling must be a positive amount").
			WithContext("budget_ceiling", *in.BudgetCeiling)
	}
	if in.BrokerID == "" {
		return nil, apperrors.NewUnauthorizedError("broker identity is required")
	}

	unlock := s.locks.Lock(shipmentKey(in.ShipmentID))
	defer unlock()

	existing, err := s.listings.ListListingsForShipment(ctx, in.ShipmentID)
	if err != nil {
		return nil, internalError(s.logger, "look up listings", err, "shipmentID", in.ShipmentID)
	}
	for _, l := range existing {
		if l.IsOpen() {
			return nil, apperrors.NewInvalidListingError("shipment already has an open listing").
				WithContext("listing_id", l.ID)
		}
	}

	now := s.settings.now()
	listing := &models.Listing{
		ID:              models.GenerateID("lst"),
		ShipmentID:      in.ShipmentID,
		BrokerID:        in.BrokerID,
		PickupCity:      in.PickupCity,
		DeliveryCity:    in.DeliveryCity,
		PickupCityKey:   eligibility.NormalizeCity(in.PickupCity),
		DeliveryCityKey: eligibility.NormalizeCity(in.DeliveryCity),
		BudgetCeiling:   in.BudgetCeiling,
		Status:          models.ListingStatusOpen,
		CreatedAt:       now,
	}

	err = s.listings.CreateListing(ctx, listing)
	if errors.Is(err, repository.ErrConflict) {
		return nil, apperrors.NewInvalidListingError("shipment already has an open listing").
			WithContext("shipment_id", in.ShipmentID)
	}
	if err != nil {
		return nil, internalError(s.logger, "create listing", err, "shipmentID", in.ShipmentID)
	}

	_, err = s.engine.Apply(ctx, lifecycle.Event{
		Type:         lifecycle.EventListingPublished,
		ShipmentID:   listing.ShipmentID,
		BrokerID:     listing.BrokerID,
		PickupCity:   listing.PickupCity,
		DeliveryCity: listing.DeliveryCity,
		ListingID:    listing.ID,
	})
	if err != nil {
		if delErr := s.listings.DeleteListing(ctx, listing.ID); delErr != nil {
			s.logger.Error("Failed to remove refused listing", "error", delErr, "listingID", listing.ID)
		}
		return nil, err
	}

	s.logger.Info("Listing published",
		"listingID", listing.ID,
		"shipmentID", listing.ShipmentID,
		"brokerID", listing.BrokerID)

	return listing, nil
}

// Get returns a listing
func (s *ListingService) Get(ctx context.Context, listingID string) (*models.Listing, error) {
	listing, err := s.listings.GetListing(ctx, listingID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewNotFoundError("listing not found").WithContext("listing_id", listingID)
	}
	if err != nil {
		return nil, internalError(s.logger, "get listing", err, "listingID", listingID)
	}
	return listing, nil
}

// GetOpenListings returns a restartable sequence of open listings matching q.
// Each range re-reads the store.
func (s *ListingService) GetOpenListings(ctx context.Context, q ListingQuery) iter.Seq2[*models.Listing, error] {
	filter := models.ListingFilter{
		FromCityKey: eligibility.NormalizeCity(q.FromCity),
		ToCityKey:   eligibility.NormalizeCity(q.ToCity),
	}

	return lazy(ctx, func(ctx context.Context) ([]*models.Listing, error) {
		listings, err := s.listings.ListOpenListings(ctx, filter)
		if err != nil {
			return nil, internalError(s.logger, "list open listings", err)
		}
		return listings, nil
	}, nil)
}

// Close withdraws a listing. Only the publishing broker may close it. Closing
// an already closed listing rejects any bids still pending on it.
func (s *ListingService) Close(ctx context.Context, listingID, brokerID string) (*models.Listing, error) {
	unlock := s.locks.Lock(listingKey(listingID))
	defer unlock()

	listing, err := s.Get(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.BrokerID != brokerID {
		return nil, apperrors.NewForbiddenError("only the publishing broker may close this listing").
			WithContext("listing_id", listingID)
	}

	return s.closeLocked(ctx, listing)
}

// CloseForShipment closes every open listing of a shipment and returns how many it closed
func (s *ListingService) CloseForShipment(ctx context.Context, shipmentID string) (int, error) {
	listings, err := s.listings.ListListingsForShipment(ctx, shipmentID)
	if err != nil {
		return 0, internalError(s.logger, "look up listings", err, "shipmentID", shipmentID)
	}

	closed := 0
	for _, l := range listings {
		if !l.IsOpen() {
			continue
		}
		if err := s.closeOne(ctx, l.ID); err != nil {
			return closed, err
		}
		closed++
	}
	return closed, nil
}

func (s *ListingService) closeOne(ctx context.Context, listingID string) error {
	unlock := s.locks.Lock(listingKey(listingID))
	defer unlock()

	listing, err := s.Get(ctx, listingID)
	if err != nil {
		return err
	}
	if !listing.IsOpen() {
		return nil
	}
	_, err = s.closeLocked(ctx, listing)
	return err
}

// closeLocked closes listing and rejects its pending bids. Callers hold the listing lock.
func (s *ListingService) closeLocked(ctx context.Context, listing *models.Listing) (*models.Listing, error) {
	now := s.settings.now()

	ok, err := s.listings.CloseListing(ctx, listing.ID, now)
	if err != nil {
		return nil, internalError(s.logger, "close listing", err, "listingID", listing.ID)
	}
	if ok {
		listing.Status = models.ListingStatusClosed
		listing.ClosedAt = &now
	}

	rejected, err := rejectPendingBids(ctx, s.bids, listing.ID, "", now)
	if err != nil {
		return nil, internalError(s.logger, "reject pending bids", err, "listingID", listing.ID)
	}

	s.logger.Info("Listing closed", "listingID", listing.ID, "rejectedBids", rejected)
	return listing, nil
}

// rejectPendingBids rejects every pending bid on a listing except keepID
func rejectPendingBids(ctx context.Context, bids repository.BidStore, listingID, keepID string, at time.Time) (int, error) {
	all, err := bids.ListBidsForListing(ctx, listingID)
	if err != nil {
		return 0, err
	}

	rejected := 0
	for _, b := range all {
		if b.ID == keepID || b.Status != models.BidStatusPending {
			continue
		}
		ok, err := bids.TransitionBid(ctx, b.ID, models.BidStatusPending, models.BidStatusRejected, at)
		if err != nil {
			return rejected, err
		}
		if ok {
			rejected++
		}
	}
	return rejected, nil
}
