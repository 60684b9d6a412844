package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nakliyeci/carrier-jobs/internal/models"
	"github.com/nakliyeci/carrier-jobs/pkg/apperrors"
)

func TestPublishValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name    string
		in      PublishListingInput
		wantErr error
	}{
		{"missing shipment", PublishListingInput{BrokerID: "brk-1", PickupCity: "İstanbul", DeliveryCity: "Ankara"}, apperrors.ErrInvalidListing},
		{"blank pickup", PublishListingInput{BrokerID: "brk-1", ShipmentID: "shp-1", PickupCity: "  ", DeliveryCity: "Ankara"}, apperrors.ErrInvalidListing},
		{"missing delivery", PublishListingInput{BrokerID: "brk-1", ShipmentID: "shp-1", PickupCity: "İstanbul"}, apperrors.ErrInvalidListing},
		{"zero ceiling", PublishListingInput{BrokerID: "brk-1", ShipmentID: "shp-1", PickupCity: "İstanbul", DeliveryCity: "Ankara", BudgetCeiling: ptr(0.0)}, apperrors.ErrInvalidListing},
		{"missing broker", PublishListingInput{ShipmentID: "shp-1", PickupCity: "İstanbul", DeliveryCity: "Ankara"}, apperrors.ErrUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.listings.Publish(context.Background(), tt.in)
			assertKind(t, err, tt.wantErr)
		})
	}
}

func TestPublishCreatesListedJob(t *testing.T) {
	f := newFixture(t)
	listing := f.publish(t, "shp-1", ptr(3000.0))

	if listing.Status != models.ListingStatusOpen {
		t.Errorf("listing status = %s, want open", listing.Status)
	}
	job := f.job(t, "shp-1")
	if job.Status != models.JobStatusListed || job.BrokerID != "brk-1" {
		t.Errorf("job = %s by %s, want listed by brk-1", job.Status, job.BrokerID)
	}

	_, err := f.listings.Publish(context.Background(), PublishListingInput{
		BrokerID: "brk-1", ShipmentID: "shp-1", PickupCity: "İstanbul", DeliveryCity: "İzmir",
	})
	assertKind(t, err, apperrors.ErrInvalidListing)
}

func TestPublishRefusedForBoundShipmentRemovesListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	listing := f.publish(t, "shp-1", nil)
	bid := f.bid(t, listing.ID, "car-a", 1000)
	if _, err := f.bids.AcceptBid(ctx, bid.ID, "brk-1"); err != nil {
		t.Fatalf("AcceptBid() error = %v", err)
	}

	_, err := f.listings.Publish(ctx, PublishListingInput{
		BrokerID: "brk-1", ShipmentID: "shp-1", PickupCity: "İstanbul", DeliveryCity: "Ankara",
	})
	assertKind(t, err, apperrors.ErrAlreadyBound)

	listings, _ := f.store.ListListingsForShipment(ctx, "shp-1")
	if len(listings) != 1 {
		t.Errorf("listings for shipment = %d, want 1", len(listings))
	}
}

func TestGetOpenListingsFiltersByNormalisedCity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.publish(t, "shp-1", nil)
	other, err := f.listings.Publish(ctx, PublishListingInput{
		BrokerID: "brk-1", ShipmentID: "shp-2", PickupCity: "İzmir", DeliveryCity: "Bursa",
	})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	tests := []struct {
		name  string
		query ListingQuery
		want  int
	}{
		{"no filter", ListingQuery{}, 2},
		{"from folded city", ListingQuery{FromCity: "istanbul"}, 1},
		{"from and to", ListingQuery{FromCity: "IZMIR", ToCity: "bursa"}, 1},
		{"no match", ListingQuery{ToCity: "Antalya"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Collect(f.listings.GetOpenListings(ctx, tt.query))
			if err != nil {
				t.Fatalf("GetOpenListings() error = %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("got %d listings, want %d", len(got), tt.want)
			}
		})
	}

	seq := f.listings.GetOpenListings(ctx, ListingQuery{})
	if _, err := f.listings.Close(ctx, other.ID, "brk-1"); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	got, _ := Collect(seq)
	if len(got) != 1 {
		t.Errorf("re-ranged sequence returned %d listings, want 1", len(got))
	}
}

func TestCloseListingRejectsPendingBids(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	listing := f.publish(t, "shp-1", nil)
	bid := f.bid(t, listing.ID, "car-a", 1000)

	_, err := f.listings.Close(ctx, listing.ID, "brk-2")
	assertKind(t, err, apperrors.ErrForbidden)

	closed, err := f.listings.Close(ctx, listing.ID, "brk-1")
	if err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if closed.Status != models.ListingStatusClosed || closed.ClosedAt == nil {
		t.Errorf("closed listing = %s at %v", closed.Status, closed.ClosedAt)
	}
	if got := f.bidStatus(t, bid.ID); got != models.BidStatusRejected {
		t.Errorf("bid status = %s, want rejected", got)
	}

	again, err := f.listings.Close(ctx, listing.ID, "brk-1")
	if err != nil || again.Status != models.ListingStatusClosed {
		t.Errorf("second Close() = %v, %v; want closed no-op", again, err)
	}

	// A withdrawn listing may be replaced by a new one.
	f.publish(t, "shp-1", nil)
}

func TestConcurrentPublishKeepsOneOpenListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const brokers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for range brokers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.listings.Publish(ctx, PublishListingInput{
				BrokerID:     "brk-1",
				ShipmentID:   "shp-1",
				PickupCity:   "İstanbul",
				DeliveryCity: "Ankara",
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			if !errors.Is(err, apperrors.ErrInvalidListing) {
				t.Errorf("error = %v, want ErrInvalidListing", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("successes = %d, want 1", successes)
	}

	listings, err := f.store.ListListingsForShipment(ctx, "shp-1")
	if err != nil {
		t.Fatalf("ListListingsForShipment() error = %v", err)
	}
	open := 0
	for _, l := range listings {
		if l.IsOpen() {
			open++
		}
	}
	if open != 1 {
		t.Errorf("open listings = %d, want 1", open)
	}
}
