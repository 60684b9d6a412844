package service

import (
	"context"
	"testing"
	"time"
)

func TestDefaultTabPriority(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view := f.view.GetCarrierView(ctx, "car-a")

	tab, err := DefaultTab(view)
	if err != nil || tab != TabActiveJobs {
		t.Fatalf("empty view tab = %s (%v), want active_jobs", tab, err)
	}

	first := f.publish(t, "shp-1", nil)
	f.bid(t, first.ID, "car-a", 1000)
	if tab, _ = DefaultTab(view); tab != TabPendingBids {
		t.Errorf("tab = %s, want pending_bids", tab)
	}

	second := f.publish(t, "shp-2", nil)
	won := f.bid(t, second.ID, "car-a", 900)
	if _, err := f.bids.AcceptBid(ctx, won.ID, "brk-1"); err != nil {
		t.Fatalf("AcceptBid() error = %v", err)
	}
	if tab, _ = DefaultTab(view); tab != TabAcceptedBids {
		t.Errorf("tab = %s, want accepted_bids", tab)
	}

	f.offer(t, "shp-3", "car-a")
	if tab, _ = DefaultTab(view); tab != TabAssignmentOffers {
		t.Errorf("tab = %s, want assignment_offers", tab)
	}

	// A lapsed offer drops out without any sweep.
	f.clock.Advance(time.Hour)
	if tab, _ = DefaultTab(view); tab != TabAcceptedBids {
		t.Errorf("tab after expiry = %s, want accepted_bids", tab)
	}
}

func TestSnapshotGroupsJobs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bound(t, f)

	second := f.publish(t, "shp-2", nil)
	bid := f.bid(t, second.ID, "car-a", 800)
	if _, err := f.bids.AcceptBid(ctx, bid.ID, "brk-1"); err != nil {
		t.Fatalf("AcceptBid() error = %v", err)
	}
	if _, err := f.jobs.StartWork(ctx, "shp-2", "car-a"); err != nil {
		t.Fatalf("StartWork() error = %v", err)
	}
	if _, err := f.jobs.Complete(ctx, "shp-2", "car-a"); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	snap, err := Snapshot(f.view.GetCarrierView(ctx, "car-a"))
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if len(snap.ActiveJobs) != 1 || snap.ActiveJobs[0].ShipmentID != "shp-1" {
		t.Errorf("active jobs = %+v", snap.ActiveJobs)
	}
	if len(snap.CompletedJobs) != 1 || snap.CompletedJobs[0].ShipmentID != "shp-2" {
		t.Errorf("completed jobs = %+v", snap.CompletedJobs)
	}
	if len(snap.AcceptedBids) != 2 || len(snap.PendingBids) != 0 {
		t.Errorf("accepted = %d pending = %d", len(snap.AcceptedBids), len(snap.PendingBids))
	}
	if snap.DefaultTab != TabAcceptedBids {
		t.Errorf("default tab = %s, want accepted_bids", snap.DefaultTab)
	}
}
