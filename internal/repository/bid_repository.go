package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/nakliyeci/carrier-jobs/internal/database"
	"github.com/nakliyeci/carrier-jobs/internal/models"
	"github.com/nakliyeci/carrier-jobs/pkg/logger"
)

const bidColumns = `id, listing_id, carrier_id, price, eta_hours, status, created_at, updated_at`

// BidRepository handles database operations for bids
type BidRepository struct {
	db     *database.Database
	logger logger.Logger
}

// NewBidRepository creates a new BidRepository
func NewBidRepository(db *database.Database, logger logger.Logger) *BidRepository {
	return &BidRepository{
		db:     db,
		logger: logger,
	}
}

// CreateBid inserts a bid. The uq_bids_active_carrier index turns a second
// active bid into ErrConflict.
func (r *BidRepository) CreateBid(ctx context.Context, bid *models.Bid) error {
	query := `
		INSERT INTO bids (` + bidColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.DB.ExecContext(
		ctx,
		query,
		bid.ID,
		bid.ListingID,
		bid.CarrierID,
		bid.Price,
		bid.ETAHours,
		bid.Status,
		bid.CreatedAt,
		bid.UpdatedAt,
	)

	if err != nil {
		err = translate(err)
		if !errors.Is(err, ErrConflict) {
			r.logger.Error("Failed to create bid", "error", err, "bidID", bid.ID)
		}
		return err
	}

	return nil
}

// GetBid retrieves a bid by its ID
func (r *BidRepository) GetBid(ctx context.Context, id string) (*models.Bid, error) {
	query := `SELECT ` + bidColumns + ` FROM bids WHERE id = $1`

	var bid models.Bid
	err := r.db.DB.GetContext(ctx, &bid, query, id)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("Failed to get bid", "error", err, "bidID", id)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return &bid, nil
}

// ListBidsForListing returns a listing's bids in submission order
func (r *BidRepository) ListBidsForListing(ctx context.Context, listingID string) ([]*models.Bid, error) {
	query := `SELECT ` + bidColumns + ` FROM bids WHERE listing_id = $1 ORDER BY created_at ASC`

	var bids []*models.Bid
	err := r.db.DB.SelectContext(ctx, &bids, query, listingID)

	if err != nil {
		r.logger.Error("Failed to list bids for listing", "error", err, "listingID", listingID)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return bids, nil
}

// ListBidsForCarrier returns a carrier's bids, newest first, optionally narrowed by status
func (r *BidRepository) ListBidsForCarrier(ctx context.Context, carrierID string, statuses ...models.BidStatus) ([]*models.Bid, error) {
	query := `
		SELECT ` + bidColumns + `
		FROM bids
		WHERE carrier_id = $1
		  AND (cardinality($2::text[]) = 0 OR status = ANY($2))
		ORDER BY created_at DESC
	`

	var bids []*models.Bid
	err := r.db.DB.SelectContext(ctx, &bids, query, carrierID, pq.Array(statusStrings(statuses)))

	if err != nil {
		r.logger.Error("Failed to list bids for carrier", "error", err, "carrierID", carrierID)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return bids, nil
}

// TransitionBid moves a bid from one status to another if it is still in from
func (r *BidRepository) TransitionBid(ctx context.Context, id string, from, to models.BidStatus, at time.Time) (bool, error) {
	query := `
		UPDATE bids
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`

	result, err := r.db.DB.ExecContext(ctx, query, to, at, id, from)
	if err != nil {
		err = translate(err)
		if !errors.Is(err, ErrConflict) {
			r.logger.Error("Failed to transition bid", "error", err, "bidID", id, "from", from, "to", to)
		}
		return false, err
	}

	return swapped(result)
}
