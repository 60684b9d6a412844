package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nakliyeci/carrier-jobs/internal/database"
	"github.com/nakliyeci/carrier-jobs/internal/models"
	"github.com/nakliyeci/carrier-jobs/pkg/logger"
)

const listingColumns = `id, shipment_id, broker_id, pickup_city, delivery_city, pickup_city_key,
	delivery_city_key, budget_ceiling, status, created_at, closed_at`

// ListingRepository handles database operations for listings
type ListingRepository struct {
	db     *database.Database
	logger logger.Logger
}

// NewListingRepository creates a new ListingRepository
func NewListingRepository(db *database.Database, logger logger.Logger) *ListingRepository {
	return &ListingRepository{
		db:     db,
		logger: logger,
	}
}

// CreateListing inserts a new listing
func (r *ListingRepository) CreateListing(ctx context.Context, listing *models.Listing) error {
	query := `
		INSERT INTO listings (` + listingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.DB.ExecContext(
		ctx,
		query,
		listing.ID,
		listing.ShipmentID,
		listing.BrokerID,
		listing.PickupCity,
		listing.DeliveryCity,
		listing.PickupCityKey,
		listing.DeliveryCityKey,
		listing.BudgetCeiling,
		listing.Status,
		listing.CreatedAt,
		listing.ClosedAt,
	)

	if err != nil {
		r.logger.Error("Failed to create listing", "error", err, "listingID", listing.ID)
		return translate(err)
	}

	return nil
}

// GetListing retrieves a listing by its ID
func (r *ListingRepository) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE id = $1`

	var listing models.Listing
	err := r.db.DB.GetContext(ctx, &listing, query, id)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("Failed to get listing", "error", err, "listingID", id)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return &listing, nil
}

// DeleteListing removes a listing
func (r *ListingRepository) DeleteListing(ctx context.Context, id string) error {
	result, err := r.db.DB.ExecContext(ctx, `DELETE FROM listings WHERE id = $1`, id)

	if err != nil {
		r.logger.Error("Failed to delete listing", "error", err, "listingID", id)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return expectRow(result)
}

// ListOpenListings returns open listings, newest first
func (r *ListingRepository) ListOpenListings(ctx context.Context, filter models.ListingFilter) ([]*models.Listing, error) {
	query := `
		SELECT ` + listingColumns + `
		FROM listings
		WHERE status = $1
		  AND ($2 = '' OR pickup_city_key = $2)
		  AND ($3 = '' OR delivery_city_key = $3)
		ORDER BY created_at DESC
	`

	var listings []*models.Listing
	err := r.db.DB.SelectContext(ctx, &listings, query, models.ListingStatusOpen, filter.FromCityKey, filter.ToCityKey)

	if err != nil {
		r.logger.Error("Failed to list open listings", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return listings, nil
}

// ListListingsForShipment returns every listing published for a shipment
func (r *ListingRepository) ListListingsForShipment(ctx context.Context, shipmentID string) ([]*models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE shipment_id = $1 ORDER BY created_at ASC`

	var listings []*models.Listing
	err := r.db.DB.SelectContext(ctx, &listings, query, shipmentID)

	if err != nil {
		r.logger.Error("Failed to list listings for shipment", "error", err, "shipmentID", shipmentID)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return listings, nil
}

// CloseListing closes an open listing
func (r *ListingRepository) CloseListing(ctx context.Context, id string, at time.Time) (bool, error) {
	query := `
		UPDATE listings
		SET status = $1, closed_at = $2
		WHERE id = $3 AND status = $4
	`

	result, err := r.db.DB.ExecContext(ctx, query, models.ListingStatusClosed, at, id, models.ListingStatusOpen)
	if err != nil {
		r.logger.Error("Failed to close listing", "error", err, "listingID", id)
		return false, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return swapped(result)
}

// ReopenListing reverses CloseListing
func (r *ListingRepository) ReopenListing(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE listings
		SET status = $1, closed_at = NULL
		WHERE id = $2 AND status = $3
	`

	result, err := r.db.DB.ExecContext(ctx, query, models.ListingStatusOpen, id, models.ListingStatusClosed)
	if err != nil {
		r.logger.Error("Failed to reopen listing", "error", err, "listingID", id)
		return false, translate(err)
	}

	return swapped(result)
}

// swapped reports whether a compare-and-set update hit its row
func swapped(result sql.Result) (bool, error) {
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return rows == 1, nil
}

func expectRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
