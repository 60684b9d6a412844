package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nakliyeci/carrier-jobs/internal/eligibility"
	"github.com/nakliyeci/carrier-jobs/internal/lifecycle"
	"github.com/nakliyeci/carrier-jobs/internal/models"
	"github.com/nakliyeci/carrier-jobs/internal/repository/memory"
	"github.com/nakliyeci/carrier-jobs/pkg/apperrors"
	"github.com/nakliyeci/carrier-jobs/pkg/keylock"
	"github.com/nakliyeci/carrier-jobs/pkg/logger"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type cityDirectory map[string]string

func (d cityDirectory) RegisteredCity(_ context.Context, carrierID string) (string, error) {
	city, ok := d[carrierID]
	if !ok {
		return "", apperrors.NewNotFoundError("carrier not found")
	}
	return city, nil
}

type fixture struct {
	store    *memory.Store
	clock    *fakeClock
	engine   *lifecycle.Engine
	listings *ListingService
	bids     *BidService
	offers   *OfferService
	jobs     *JobService
	view     *CarrierViewService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithEngine(t, nil)
}

// newFixtureWithEngine wires the services; wrap, when set, decorates the engine they see
func newFixtureWithEngine(t *testing.T, wrap func(Lifecycle) Lifecycle) *fixture {
	t.Helper()

	store := memory.NewStore()
	clock := &fakeClock{now: t0}
	log := logger.NewNopLogger()
	inner := lifecycle.NewEngine(store, log, lifecycle.WithClock(clock.Now))
	var engine Lifecycle = inner
	if wrap != nil {
		engine = wrap(inner)
	}

	locks := keylock.New()
	opts := []Option{WithClock(clock.Now)}
	dir := cityDirectory{"car-a": "İstanbul", "car-b": "istanbul", "car-c": "Ankara"}

	listings := NewListingService(store, store, engine, locks, log, opts...)
	offers := NewOfferService(store, engine, listings, eligibility.NewChecker(), dir, locks, log, opts...)
	bids := NewBidService(store, store, engine, offers, locks, log, opts...)

	return &fixture{
		store:    store,
		clock:    clock,
		engine:   inner,
		listings: listings,
		bids:     bids,
		offers:   offers,
		jobs:     NewJobService(engine, listings, offers, log),
		view:     NewCarrierViewService(offers, bids, store, log),
	}
}

func ptr[T any](v T) *T { return &v }

func (f *fixture) publish(t *testing.T, shipmentID string, ceiling *float64) *models.Listing {
	t.Helper()
	listing, err := f.listings.Publish(context.Background(), PublishListingInput{
		BrokerID:      "brk-1",
		ShipmentID:    shipmentID,
		PickupCity:    "İstanbul",
		DeliveryCity:  "Ankara",
		BudgetCeiling: ceiling,
	})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	return listing
}

func (f *fixture) bid(t *testing.T, listingID, carrierID string, price float64) *models.Bid {
	t.Helper()
	bid, err := f.bids.SubmitBid(context.Background(), SubmitBidInput{ListingID: listingID, CarrierID: carrierID, Price: price})
	if err != nil {
		t.Fatalf("SubmitBid(%s) error = %v", carrierID, err)
	}
	return bid
}

func (f *fixture) offer(t *testing.T, shipmentID, carrierID string) *models.AssignmentOffer {
	t.Helper()
	offer, err := f.offers.IssueOffer(context.Background(), IssueOfferInput{
		BrokerID:   "brk-1",
		ShipmentID: shipmentID,
		CarrierID:  carrierID,
		PickupCity: "İstanbul",
		Price:      2500,
	})
	if err != nil {
		t.Fatalf("IssueOffer() error = %v", err)
	}
	return offer
}

func (f *fixture) job(t *testing.T, shipmentID string) *models.ShipmentJob {
	t.Helper()
	job, err := f.engine.Get(context.Background(), shipmentID)
	if err != nil {
		t.Fatalf("Get job %s: %v", shipmentID, err)
	}
	return job
}

func (f *fixture) bidStatus(t *testing.T, bidID string) models.BidStatus {
	t.Helper()
	bid, err := f.store.GetBid(context.Background(), bidID)
	if err != nil {
		t.Fatalf("GetBid(%s) error = %v", bidID, err)
	}
	return bid.Status
}

func (f *fixture) offerStatus(t *testing.T, offerID string) models.OfferStatus {
	t.Helper()
	offer, err := f.store.GetOffer(context.Background(), offerID)
	if err != nil {
		t.Fatalf("GetOffer(%s) error = %v", offerID, err)
	}
	return offer.Status
}

func assertKind(t *testing.T, err, kind error) *apperrors.AppError {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Fatalf("error = %v, want %v", err, kind)
	}
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("error %v is not an *AppError", err)
	}
	return appErr
}

// refusingEngine delegates to a real engine but refuses one event type
type refusingEngine struct {
	Lifecycle
	refuse lifecycle.EventType
}

func (e *refusingEngine) Apply(ctx context.Context, ev lifecycle.Event) (*models.ShipmentJob, error) {
	if ev.Type == e.refuse {
		return nil, apperrors.NewAlreadyBoundError(ev.ShipmentID, string(models.JobStatusAccepted))
	}
	return e.Lifecycle.Apply(ctx, ev)
}
