// Package memory is an in-process implementation of every repository store.
// It backs STORAGE_DRIVER=memory and the service tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/nakliyeci/carrier-jobs/internal/models"
	"github.com/nakliyeci/carrier-jobs/internal/repository"
)

// Store keeps all records behind one RWMutex. Values are copied on the way
// in and out so callers never share memory with the store.
type Store struct {
	mu       sync.RWMutex
	listings map[string]models.Listing
	bids     map[string]models.Bid
	offers   map[string]models.AssignmentOffer
	jobs     map[string]*models.ShipmentJob
	outbox   []*models.OutboxMessage
	nextID   int64
}

// NewStore creates an empty Store
func NewStore() *Store {
	return &Store{
		listings: make(map[string]models.Listing),
		bids:     make(map[string]models.Bid),
		offers:   make(map[string]models.AssignmentOffer),
		jobs:     make(map[string]*models.ShipmentJob),
	}
}

// Stores exposes s through the repository interfaces
func (s *Store) Stores() repository.Stores {
	return repository.Stores{
		Listings: s,
		Bids:     s,
		Offers:   s,
		Jobs:     s,
		Outbox:   s,
	}
}

// CreateListing stores a listing
func (s *Store) CreateListing(_ context.Context, listing *models.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.listings[listing.ID]; exists {
		return fmt.Errorf("%w: listing %s exists", repository.ErrConflict, listing.ID)
	}
	if listing.Status == models.ListingStatusOpen && s.hasOpenListing(listing.ShipmentID) {
		return fmt.Errorf("%w: shipment %s already has an open listing", repository.ErrConflict, listing.ShipmentID)
	}
	s.listings[listing.ID] = *listing
	return nil
}

// GetListing returns a listing by ID
func (s *Store) GetListing(_ context.Context, id string) (*models.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.listings[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &l, nil
}

// DeleteListing removes a listing
func (s *Store) DeleteListing(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.listings[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.listings, id)
	return nil
}

// ListOpenListings returns open listings matching filter, newest first
func (s *Store) ListOpenListings(_ context.Context, filter models.ListingFilter) ([]*models.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Listing
	for _, l := range s.listings {
		if l.Status != models.ListingStatusOpen || !filter.Matches(&l) {
			continue
		}
		out = append(out, &l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// ListListingsForShipment returns every listing of a shipment, oldest first
func (s *Store) ListListingsForShipment(_ context.Context, shipmentID string) ([]*models.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Listing
	for _, l := range s.listings {
		if l.ShipmentID != shipmentID {
			continue
		}
		out = append(out, &l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// CloseListing closes an open listing
func (s *Store) CloseListing(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.listings[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if l.Status != models.ListingStatusOpen {
		return false, nil
	}
	l.Status = models.ListingStatusClosed
	l.ClosedAt = &at
	s.listings[id] = l
	return true, nil
}

// ReopenListing reverses CloseListing
func (s *Store) ReopenListing(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.listings[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if l.Status != models.ListingStatusClosed {
		return false, nil
	}
	if s.hasOpenListing(l.ShipmentID) {
		return false, fmt.Errorf("%w: shipment %s already has an open listing", repository.ErrConflict, l.ShipmentID)
	}
	l.Status = models.ListingStatusOpen
	l.ClosedAt = nil
	s.listings[id] = l
	return true, nil
}

// hasOpenListing reports whether shipmentID has an open listing. Callers hold s.mu.
func (s *Store) hasOpenListing(shipmentID string) bool {
	for _, l := range s.listings {
		if l.ShipmentID == shipmentID && l.Status == models.ListingStatusOpen {
			return true
		}
	}
	return false
}

// CreateBid stores a bid unless the carrier already holds an active one on the listing
func (s *Store) CreateBid(_ context.Context, bid *models.Bid) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.bids {
		if b.ListingID == bid.ListingID && b.CarrierID == bid.CarrierID && b.IsActive() {
			return fmt.Errorf("%w: active bid %s", repository.ErrConflict, b.ID)
		}
	}
	s.bids[bid.ID] = *bid
	return nil
}

// GetBid returns a bid by ID
func (s *Store) GetBid(_ context.Context, id string) (*models.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bids[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &b, nil
}

// ListBidsForListing returns a listing's bids in submission order
func (s *Store) ListBidsForListing(_ context.Context, listingID string) ([]*models.Bid, error) {
	return s.selectBids(func(b *models.Bid) bool { return b.ListingID == listingID }, false), nil
}

// ListBidsForCarrier returns a carrier's bids, newest first
func (s *Store) ListBidsForCarrier(_ context.Context, carrierID string, statuses ...models.BidStatus) ([]*models.Bid, error) {
	return s.selectBids(func(b *models.Bid) bool {
		return b.CarrierID == carrierID && (len(statuses) == 0 || slices.Contains(statuses, b.Status))
	}, true), nil
}

func (s *Store) selectBids(match func(*models.Bid) bool, newestFirst bool) []*models.Bid {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Bid
	for _, b := range s.bids {
		if match(&b) {
			out = append(out, &b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		if newestFirst {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// TransitionBid is a compare-and-set on the bid's status
func (s *Store) TransitionBid(_ context.Context, id string, from, to models.BidStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bids[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if b.Status != from {
		return false, nil
	}
	if to == models.BidStatusAccepted {
		for _, other := range s.bids {
			if other.ListingID == b.ListingID && other.ID != id && other.Status == models.BidStatusAccepted {
				return false, fmt.Errorf("%w: listing %s already has a winner", repository.ErrConflict, b.ListingID)
			}
		}
	}
	b.Status = to
	b.UpdatedAt = at
	s.bids[id] = b
	return true, nil
}

// CreateOffer stores an offer unless the shipment already has a pending one
func (s *Store) CreateOffer(_ context.Context, offer *models.AssignmentOffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range s.offers {
		if o.ShipmentID == offer.ShipmentID && o.Status == models.OfferStatusPending {
			return fmt.Errorf("%w: pending offer %s", repository.ErrConflict, o.ID)
		}
	}
	s.offers[offer.ID] = *offer
	return nil
}

// GetOffer returns an offer by ID
func (s *Store) GetOffer(_ context.Context, id string) (*models.AssignmentOffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.offers[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &o, nil
}

// DeleteOffer removes an offer
func (s *Store) DeleteOffer(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.offers[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.offers, id)
	return nil
}

// GetPendingOfferForShipment returns the shipment's pending offer
func (s *Store) GetPendingOfferForShipment(_ context.Context, shipmentID string) (*models.AssignmentOffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, o := range s.offers {
		if o.ShipmentID == shipmentID && o.Status == models.OfferStatusPending {
			return &o, nil
		}
	}
	return nil, repository.ErrNotFound
}

// ListPendingOffersForCarrier returns a carrier's pending offers, newest first
func (s *Store) ListPendingOffersForCarrier(_ context.Context, carrierID string) ([]*models.AssignmentOffer, error) {
	out := s.selectOffers(func(o *models.AssignmentOffer) bool {
		return o.CarrierID == carrierID && o.Status == models.OfferStatusPending
	})
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	return out, nil
}

// ListPendingOffersExpiredBefore returns pending offers whose expiry is at or before t
func (s *Store) ListPendingOffersExpiredBefore(_ context.Context, t time.Time, limit int) ([]*models.AssignmentOffer, error) {
	out := s.selectOffers(func(o *models.AssignmentOffer) bool {
		return o.Status == models.OfferStatusPending && !o.ExpiresAt.After(t)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) selectOffers(match func(*models.AssignmentOffer) bool) []*models.AssignmentOffer {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.AssignmentOffer
	for _, o := range s.offers {
		if match(&o) {
			out = append(out, &o)
		}
	}
	return out
}

// TransitionOffer is a compare-and-set on the offer's status
func (s *Store) TransitionOffer(_ context.Context, id string, from, to models.OfferStatus, resolvedAt *time.Time, reason *string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.offers[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if o.Status != from {
		return false, nil
	}
	if to == models.OfferStatusPending {
		for _, other := range s.offers {
			if other.ShipmentID == o.ShipmentID && other.ID != id && other.Status == models.OfferStatusPending {
				return false, fmt.Errorf("%w: pending offer %s", repository.ErrConflict, other.ID)
			}
		}
	}
	o.Status = to
	o.ResolvedAt = resolvedAt
	if reason != nil {
		o.Reason = reason
	}
	s.offers[id] = o
	return true, nil
}

// GetJob returns a job by shipment ID
func (s *Store) GetJob(_ context.Context, shipmentID string) (*models.ShipmentJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[shipmentID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return j.Clone(), nil
}

// CreateJob stores a new job and its outbox messages atomically
func (s *Store) CreateJob(_ context.Context, job *models.ShipmentJob, events ...*models.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ShipmentID]; exists {
		return fmt.Errorf("%w: job %s exists", repository.ErrConflict, job.ShipmentID)
	}
	s.jobs[job.ShipmentID] = job.Clone()
	s.appendOutbox(events)
	return nil
}

// UpdateJob replaces a job if its stored version equals expectedVersion
func (s *Store) UpdateJob(_ context.Context, job *models.ShipmentJob, expectedVersion int64, events ...*models.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[job.ShipmentID]
	if !ok {
		return repository.ErrNotFound
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("%w: job %s is at version %d, not %d",
			repository.ErrConflict, job.ShipmentID, current.Version, expectedVersion)
	}
	s.jobs[job.ShipmentID] = job.Clone()
	s.appendOutbox(events)
	return nil
}

// ListJobsForCarrier returns jobs bound to a carrier, most recently updated first
func (s *Store) ListJobsForCarrier(_ context.Context, carrierID string, statuses ...models.JobStatus) ([]*models.ShipmentJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.ShipmentJob
	for _, j := range s.jobs {
		if !j.IsBoundTo(carrierID) {
			continue
		}
		if len(statuses) > 0 && !slices.Contains(statuses, j.Status) {
			continue
		}
		out = append(out, j.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// appendOutbox assigns ids to events; callers hold s.mu
func (s *Store) appendOutbox(events []*models.OutboxMessage) {
	for _, e := range events {
		s.nextID++
		e.ID = s.nextID
		c := *e
		s.outbox = append(s.outbox, &c)
	}
}

// GetPendingMessages returns pending outbox messages in insertion order
func (s *Store) GetPendingMessages(_ context.Context, limit int) ([]*models.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.OutboxMessage
	for _, m := range s.outbox {
		if m.Status != models.OutboxStatusPending {
			continue
		}
		c := *m
		out = append(out, &c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// OutboxMessages returns a copy of every outbox message, for inspection
func (s *Store) OutboxMessages() []models.OutboxMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.OutboxMessage, len(s.outbox))
	for i, m := range s.outbox {
		out[i] = *m
	}
	return out
}

// MarkAsProcessing claims a pending message
func (s *Store) MarkAsProcessing(_ context.Context, id int64) error {
	return s.updateOutbox(id, func(m *models.OutboxMessage) error {
		if m.Status != models.OutboxStatusPending {
			return repository.ErrNotFound
		}
		m.Status = models.OutboxStatusProcessing
		m.ProcessingAttempts++
		return nil
	})
}

// MarkAsCompleted records a successful publish
func (s *Store) MarkAsCompleted(_ context.Context, id int64) error {
	return s.updateOutbox(id, func(m *models.OutboxMessage) error {
		now := time.Now().UTC()
		m.Status = models.OutboxStatusCompleted
		m.ProcessedAt = &now
		return nil
	})
}

// MarkForRetry returns a message to pending
func (s *Store) MarkForRetry(_ context.Context, id int64, errorMessage string) error {
	return s.updateOutbox(id, func(m *models.OutboxMessage) error {
		m.Status = models.OutboxStatusPending
		m.LastError = &errorMessage
		return nil
	})
}

// MarkAsFailed parks a message
func (s *Store) MarkAsFailed(_ context.Context, id int64, errorMessage string) error {
	return s.updateOutbox(id, func(m *models.OutboxMessage) error {
		m.Status = models.OutboxStatusFailed
		m.LastError = &errorMessage
		return nil
	})
}

func (s *Store) updateOutbox(id int64, fn func(*models.OutboxMessage) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.outbox {
		if m.ID == id {
			return fn(m)
		}
	}
	return repository.ErrNotFound
}

var (
	_ repository.ListingStore = (*Store)(nil)
	_ repository.BidStore     = (*Store)(nil)
	_ repository.OfferStore   = (*Store)(nil)
	_ repository.JobStore     = (*Store)(nil)
	_ repository.OutboxStore  = (*Store)(nil)
)
