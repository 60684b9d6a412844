package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/nakliyeci/carrier-jobs/internal/lifecycle"
	"github.com/nakliyeci/carrier-jobs/internal/models"
	"github.com/nakliyeci/carrier-jobs/internal/repository"
	"github.com/nakliyeci/carrier-jobs/pkg/apperrors"
	"github.com/nakliyeci/carrier-jobs/pkg/keylock"
	"github.com/nakliyeci/carrier-jobs/pkg/logger"
)

func TestBudgetCeilingAndSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	listing := f.publish(t, "shp-1", ptr(3000.0))

	_, err := f.bids.SubmitBid(ctx, SubmitBidInput{ListingID: listing.ID, CarrierID: "car-a", Price: 3500})
	appErr := assertKind(t, err, apperrors.ErrBudgetExceeded)
	if appErr.Context["bid_price"] != 3500.0 || appErr.Context["budget_ceiling"] != 3000.0 {
		t.Errorf("unexpected context: %#v", appErr.Context)
	}

	winner := f.bid(t, listing.ID, "car-b", 2800)
	loser := f.bid(t, listing.ID, "car-c", 2900)

	accepted, err := f.bids.AcceptBid(ctx, winner.ID, "brk-1")
	if err != nil {
		t.Fatalf("AcceptBid() error = %v", err)
	}
	if accepted.Status != models.BidStatusAccepted {
		t.Errorf("accepted status = %s", accepted.Status)
	}
	if got := f.bidStatus(t, loser.ID); got != models.BidStatusRejected {
		t.Errorf("loser status = %s, want rejected", got)
	}

	stored, err := f.listings.Get(ctx, listing.ID)
	if err != nil {
		t.Fatalf("Get listing: %v", err)
	}
	if stored.Status != models.ListingStatusClosed {
		t.Errorf("listing status = %s, want closed", stored.Status)
	}

	job := f.job(t, "shp-1")
	if job.Status != models.JobStatusAccepted || !job.IsBoundTo("car-b") {
		t.Fatalf("job = %s bound to %v, want accepted bound to car-b", job.Status, job.BoundCarrierID)
	}
	if job.BoundVia == nil || *job.BoundVia != models.BoundViaBid {
		t.Errorf("bound via = %v, want bid", job.BoundVia)
	}
	if job.Price == nil || *job.Price != 2800 {
		t.Errorf("job price = %v, want 2800", job.Price)
	}

	// Bids on a closed listing are refused.
	_, err = f.bids.SubmitBid(ctx, SubmitBidInput{ListingID: listing.ID, CarrierID: "car-d", Price: 100})
	assertKind(t, err, apperrors.ErrListingClosed)
}

func TestSubmitBidValidation(t *testing.T) {
	f := newFixture(t)
	listing := f.publish(t, "shp-1", nil)
	f.bid(t, listing.ID, "car-a", 1000)

	tests := []struct {
		name    string
		in      SubmitBidInput
		wantErr error
	}{
		{"zero price", SubmitBidInput{ListingID: listing.ID, CarrierID: "car-b", Price: 0}, apperrors.ErrInvalidInput},
		{"negative price", SubmitBidInput{ListingID: listing.ID, CarrierID: "car-b", Price: -5}, apperrors.ErrInvalidInput},
		{"negative eta", SubmitBidInput{ListingID: listing.ID, CarrierID: "car-b", Price: 10, ETAHours: ptr(-1.0)}, apperrors.ErrInvalidInput},
		{"unknown listing", SubmitBidInput{ListingID: "lst-missing", CarrierID: "car-b", Price: 10}, apperrors.ErrNotFound},
		{"second active bid", SubmitBidInput{ListingID: listing.ID, CarrierID: "car-a", Price: 900}, apperrors.ErrDuplicateBid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.bids.SubmitBid(context.Background(), tt.in)
			assertKind(t, err, tt.wantErr)
		})
	}
}

func TestCarrierMayBidOnManyListings(t *testing.T) {
	f := newFixture(t)
	first := f.publish(t, "shp-1", nil)
	second := f.publish(t, "shp-2", nil)

	f.bid(t, first.ID, "car-a", 1000)
	f.bid(t, second.ID, "car-a", 1100)

	bids, err := Collect(f.bids.ListBidsForCarrier(context.Background(), "car-a"))
	if err != nil {
		t.Fatalf("ListBidsForCarrier() error = %v", err)
	}
	if len(bids) != 2 {
		t.Errorf("got %d bids, want 2", len(bids))
	}
}

func TestConcurrentAcceptBidHasSingleWinner(t *testing.T) {
	f := newFixture(t)
	listing := f.publish(t, "shp-1", nil)

	const carriers = 8
	bids := make([]*models.Bid, carriers)
	for i := range carriers {
		bids[i] = f.bid(t, listing.ID, fmt.Sprintf("car-%d", i), float64(1000+i))
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  []error
	)
	for _, b := range bids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.bids.AcceptBid(context.Background(), b.ID, "brk-1")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			successes++
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("successes = %d, want 1", successes)
	}
	for _, err := range failures {
		if !errors.Is(err, apperrors.ErrInvalidBidState) {
			t.Errorf("loser error = %v, want InvalidBidState", err)
		}
	}

	accepted := 0
	for _, b := range bids {
		switch f.bidStatus(t, b.ID) {
		case models.BidStatusAccepted:
			accepted++
		case models.BidStatusRejected:
		default:
			t.Errorf("bid %s left in %s", b.ID, f.bidStatus(t, b.ID))
		}
	}
	if accepted != 1 {
		t.Errorf("accepted bids = %d, want 1", accepted)
	}
}

func TestAcceptBidChecksOwnershipAndState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	listing := f.publish(t, "shp-1", nil)
	bid := f.bid(t, listing.ID, "car-a", 1000)

	_, err := f.bids.AcceptBid(ctx, bid.ID, "brk-2")
	assertKind(t, err, apperrors.ErrForbidden)

	_, err = f.bids.AcceptBid(ctx, "bid-missing", "brk-1")
	assertKind(t, err, apperrors.ErrNotFound)

	if _, err := f.bids.AcceptBid(ctx, bid.ID, "brk-1"); err != nil {
		t.Fatalf("AcceptBid() error = %v", err)
	}
	_, err = f.bids.AcceptBid(ctx, bid.ID, "brk-1")
	assertKind(t, err, apperrors.ErrInvalidBidState)
}

func TestAcceptBidRollsBackWhenLifecycleRefuses(t *testing.T) {
	f := newFixtureWithEngine(t, func(inner Lifecycle) Lifecycle {
		return &refusingEngine{Lifecycle: inner, refuse: lifecycle.EventBidWon}
	})
	ctx := context.Background()
	listing := f.publish(t, "shp-1", nil)
	bid := f.bid(t, listing.ID, "car-a", 1000)
	other := f.bid(t, listing.ID, "car-b", 1100)

	_, err := f.bids.AcceptBid(ctx, bid.ID, "brk-1")
	assertKind(t, err, apperrors.ErrAlreadyBound)

	if got := f.bidStatus(t, bid.ID); got != models.BidStatusPending {
		t.Errorf("bid status = %s, want pending", got)
	}
	if got := f.bidStatus(t, other.ID); got != models.BidStatusPending {
		t.Errorf("other bid status = %s, want pending", got)
	}
	stored, _ := f.listings.Get(ctx, listing.ID)
	if !stored.IsOpen() {
		t.Errorf("listing status = %s, want open", stored.Status)
	}
	if job := f.job(t, "shp-1"); job.Status != models.JobStatusListed {
		t.Errorf("job status = %s, want listed", job.Status)
	}
}

func TestAcceptBidWithdrawsPendingOffer(t *testing.T) {
	f := newFixture(t)
	listing := f.publish(t, "shp-1", nil)
	offer := f.offer(t, "shp-1", "car-c")
	bid := f.bid(t, listing.ID, "car-a", 1000)

	if _, err := f.bids.AcceptBid(context.Background(), bid.ID, "brk-1"); err != nil {
		t.Fatalf("AcceptBid() error = %v", err)
	}

	stored, err := f.store.GetOffer(context.Background(), offer.ID)
	if err != nil {
		t.Fatalf("GetOffer() error = %v", err)
	}
	if stored.Status != models.OfferStatusRejected {
		t.Errorf("offer status = %s, want rejected", stored.Status)
	}
	if stored.Reason == nil || *stored.Reason != "shipment assigned via bid" {
		t.Errorf("offer reason = %v", stored.Reason)
	}

	_, err = f.offers.Accept(context.Background(), offer.ID, "car-c", "İstanbul")
	assertKind(t, err, apperrors.ErrOfferAlreadyResolved)
}

func TestRejectAndCancelBid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	listing := f.publish(t, "shp-1", nil)
	a := f.bid(t, listing.ID, "car-a", 1000)
	b := f.bid(t, listing.ID, "car-b", 1100)

	_, err := f.bids.RejectBid(ctx, a.ID, "brk-2")
	assertKind(t, err, apperrors.ErrForbidden)

	rejected, err := f.bids.RejectBid(ctx, a.ID, "brk-1")
	if err != nil {
		t.Fatalf("RejectBid() error = %v", err)
	}
	if rejected.Status != models.BidStatusRejected {
		t.Errorf("status = %s, want rejected", rejected.Status)
	}
	_, err = f.bids.RejectBid(ctx, a.ID, "brk-1")
	assertKind(t, err, apperrors.ErrInvalidBidState)

	_, err = f.bids.CancelBid(ctx, b.ID, "car-a")
	assertKind(t, err, apperrors.ErrForbidden)

	if _, err := f.bids.CancelBid(ctx, b.ID, "car-b"); err != nil {
		t.Fatalf("CancelBid() error = %v", err)
	}
	if got := f.bidStatus(t, b.ID); got != models.BidStatusCancelled {
		t.Errorf("status = %s, want cancelled", got)
	}

	// A cancelled bid no longer blocks a fresh one.
	f.bid(t, listing.ID, "car-b", 1050)
}

func TestListBidsForCarrierIsRestartable(t *testing.T) {
	f := newFixture(t)
	first := f.publish(t, "shp-1", nil)
	seq := f.bids.ListBidsForCarrier(context.Background(), "car-a", models.BidStatusPending)

	got, _ := Collect(seq)
	if len(got) != 0 {
		t.Fatalf("got %d bids before bidding", len(got))
	}

	f.bid(t, first.ID, "car-a", 1000)

	got, _ = Collect(seq)
	if len(got) != 1 {
		t.Errorf("got %d bids on second range, want 1", len(got))
	}
}

func TestAcceptBidOnBoundShipmentLeavesListingClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	listing := f.publish(t, "shp-1", nil)
	bid := f.bid(t, listing.ID, "car-b", 1200)
	f.offer(t, "shp-1", "car-a")

	// The shipment binds through the offer before the broker accepts the bid.
	_, err := f.engine.Apply(ctx, lifecycle.Event{Type: lifecycle.EventOfferWon, ShipmentID: "shp-1", CarrierID: "car-a", Price: ptr(2500.0)})
	if err != nil {
		t.Fatalf("Apply(OfferWon) error = %v", err)
	}

	_, err = f.bids.AcceptBid(ctx, bid.ID, "brk-1")
	assertKind(t, err, apperrors.ErrAlreadyBound)

	stored, _ := f.listings.Get(ctx, listing.ID)
	if stored.IsOpen() {
		t.Errorf("listing status = %s, want closed", stored.Status)
	}
	if got := f.bidStatus(t, bid.ID); got != models.BidStatusRejected {
		t.Errorf("bid status = %s, want rejected", got)
	}
}

// unlistableBids fails every listing-wide bid query
type unlistableBids struct {
	repository.BidStore
}

func (unlistableBids) ListBidsForListing(context.Context, string) ([]*models.Bid, error) {
	return nil, errors.New("connection reset")
}

func TestAcceptBidReportsUnrejectedLosers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	listing := f.publish(t, "shp-1", nil)
	winner := f.bid(t, listing.ID, "car-a", 1000)
	loser := f.bid(t, listing.ID, "car-b", 1100)

	bids := NewBidService(unlistableBids{f.store}, f.store, f.engine, f.offers, keylock.New(), logger.NewNopLogger(), WithClock(f.clock.Now))

	_, err := bids.AcceptBid(ctx, winner.ID, "brk-1")
	appErr := assertKind(t, err, apperrors.ErrInternal)
	if appErr.Context["bound"] != true {
		t.Errorf("context = %#v, want bound=true", appErr.Context)
	}

	// The winner stays bound; only the cleanup failed.
	if job := f.job(t, "shp-1"); job.Status != models.JobStatusAccepted {
		t.Errorf("job status = %s, want accepted", job.Status)
	}
	if got := f.bidStatus(t, loser.ID); got != models.BidStatusPending {
		t.Fatalf("loser status = %s, want pending", got)
	}

	// Closing the listing again clears the stranded bid.
	if _, err := f.listings.Close(ctx, listing.ID, "brk-1"); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := f.bidStatus(t, loser.ID); got != models.BidStatusRejected {
		t.Errorf("loser status = %s, want rejected", got)
	}
	if got := f.bidStatus(t, winner.ID); got != models.BidStatusAccepted {
		t.Errorf("winner status = %s, want accepted", got)
	}
}
