package repository

import (
	"context"
	"errors"
	"time"

	"github.com/nakliyeci/carrier-jobs/internal/models"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrDatabase = errors.New("database error")
	ErrConflict = errors.New("record conflict")
)

// ListingStore persists listings
type ListingStore interface {
	CreateListing(ctx context.Context, listing *models.Listing) error
	GetListing(ctx context.Context, id string) (*models.Listing, error)
	DeleteListing(ctx context.Context, id string) error
	ListOpenListings(ctx context.Context, filter models.ListingFilter) ([]*models.Listing, error)
	ListListingsForShipment(ctx context.Context, shipmentID string) ([]*models.Listing, error)
	// CloseListing moves an open listing to closed and reports whether it did.
	CloseListing(ctx context.Context, id string, at time.Time) (bool, error)
	ReopenListing(ctx context.Context, id string) (bool, error)
}

// BidStore persists bids. CreateBid returns ErrConflict when the carrier
// already holds a pending or accepted bid on the listing.
type BidStore interface {
	CreateBid(ctx context.Context, bid *models.Bid) error
	GetBid(ctx context.Context, id string) (*models.Bid, error)
	ListBidsForListing(ctx context.Context, listingID string) ([]*models.Bid, error)
	ListBidsForCarrier(ctx context.Context, carrierID string, statuses ...models.BidStatus) ([]*models.Bid, error)
	// TransitionBid is a compare-and-set on status.
	TransitionBid(ctx context.Context, id string, from, to models.BidStatus, at time.Time) (bool, error)
}

// OfferStore persists assignment offers. CreateOffer returns ErrConflict when
// the shipment already has a pending offer.
type OfferStore interface {
	CreateOffer(ctx context.Context, offer *models.AssignmentOffer) error
	GetOffer(ctx context.Context, id string) (*models.AssignmentOffer, error)
	DeleteOffer(ctx context.Context, id string) error
	GetPendingOfferForShipment(ctx context.Context, shipmentID string) (*models.AssignmentOffer, error)
	ListPendingOffersForCarrier(ctx context.Context, carrierID string) ([]*models.AssignmentOffer, error)
	ListPendingOffersExpiredBefore(ctx context.Context, t time.Time, limit int) ([]*models.AssignmentOffer, error)
	// TransitionOffer is a compare-and-set on status. A nil reason keeps the stored one.
	TransitionOffer(ctx context.Context, id string, from, to models.OfferStatus, resolvedAt *time.Time, reason *string) (bool, error)
}

// JobStore persists shipment jobs together with the outbox messages describing
// each change, in one atomic write.
type JobStore interface {
	GetJob(ctx context.Context, shipmentID string) (*models.ShipmentJob, error)
	// CreateJob returns ErrConflict if the job already exists.
	CreateJob(ctx context.Context, job *models.ShipmentJob, events ...*models.OutboxMessage) error
	// UpdateJob returns ErrConflict if the stored version is not expectedVersion.
	UpdateJob(ctx context.Context, job *models.ShipmentJob, expectedVersion int64, events ...*models.OutboxMessage) error
	ListJobsForCarrier(ctx context.Context, carrierID string, statuses ...models.JobStatus) ([]*models.ShipmentJob, error)
}

// OutboxStore is what the outbox processor needs from storage
type OutboxStore interface {
	GetPendingMessages(ctx context.Context, limit int) ([]*models.OutboxMessage, error)
	MarkAsProcessing(ctx context.Context, id int64) error
	MarkAsCompleted(ctx context.Context, id int64) error
	// MarkForRetry returns a message to pending, recording the error.
	MarkForRetry(ctx context.Context, id int64, errorMessage string) error
	MarkAsFailed(ctx context.Context, id int64, errorMessage string) error
}

// Stores bundles every store a backend provides
type Stores struct {
	Listings ListingStore
	Bids     BidStore
	Offers   OfferStore
	Jobs     JobStore
	Outbox   OutboxStore
}
