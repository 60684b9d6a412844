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

const offerColumns = `id, shipment_id, broker_id, carrier_id, pickup_city, price, issued_at,
	expires_at, status, reason, resolved_at`

// OfferRepository handles database operations for assignment offers
type OfferRepository struct {
	db     *database.Database
	logger logger.Logger
}

// NewOfferRepository creates a new OfferRepository
func NewOfferRepository(db *database.Database, logger logger.Logger) *OfferRepository {
	return &OfferRepository{
		db:     db,
		logger: logger,
	}
}

// CreateOffer inserts an offer. uq_offers_pending_shipment turns a second
// pending offer for the shipment into ErrConflict.
func (r *OfferRepository) CreateOffer(ctx context.Context, offer *models.AssignmentOffer) error {
	query := `
		INSERT INTO assignment_offers (` + offerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.DB.ExecContext(
		ctx,
		query,
		offer.ID,
		offer.ShipmentID,
		offer.BrokerID,
		offer.CarrierID,
		offer.PickupCity,
		offer.Price,
		offer.IssuedAt,
		offer.ExpiresAt,
		offer.Status,
		offer.Reason,
		offer.ResolvedAt,
	)

	if err != nil {
		err = translate(err)
		if !errors.Is(err, ErrConflict) {
			r.logger.Error("Failed to create offer", "error", err, "offerID", offer.ID)
		}
		return err
	}

	return nil
}

// GetOffer retrieves an offer by its ID
func (r *OfferRepository) GetOffer(ctx context.Context, id string) (*models.AssignmentOffer, error) {
	return r.getOne(ctx, `SELECT `+offerColumns+` FROM assignment_offers WHERE id = $1`, id)
}

// GetPendingOfferForShipment returns the shipment's pending offer, or ErrNotFound
func (r *OfferRepository) GetPendingOfferForShipment(ctx context.Context, shipmentID string) (*models.AssignmentOffer, error) {
	return r.getOne(ctx,
		`SELECT `+offerColumns+` FROM assignment_offers WHERE shipment_id = $1 AND status = $2`,
		shipmentID, models.OfferStatusPending)
}

func (r *OfferRepository) getOne(ctx context.Context, query string, args ...interface{}) (*models.AssignmentOffer, error) {
	var offer models.AssignmentOffer
	err := r.db.DB.GetContext(ctx, &offer, query, args...)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("Failed to get offer", "error", err, "args", args)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return &offer, nil
}

// DeleteOffer removes an offer
func (r *OfferRepository) DeleteOffer(ctx context.Context, id string) error {
	result, err := r.db.DB.ExecContext(ctx, `DELETE FROM assignment_offers WHERE id = $1`, id)

	if err != nil {
		r.logger.Error("Failed to delete offer", "error", err, "offerID", id)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return expectRow(result)
}

// ListPendingOffersForCarrier returns pending offers addressed to a carrier, newest first
func (r *OfferRepository) ListPendingOffersForCarrier(ctx context.Context, carrierID string) ([]*models.AssignmentOffer, error) {
	query := `
		SELECT ` + offerColumns + `
		FROM assignment_offers
		WHERE carrier_id = $1 AND status = $2
		ORDER BY issued_at DESC
	`

	var offers []*models.AssignmentOffer
	err := r.db.DB.SelectContext(ctx, &offers, query, carrierID, models.OfferStatusPending)

	if err != nil {
		r.logger.Error("Failed to list pending offers", "error", err, "carrierID", carrierID)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return offers, nil
}

// ListPendingOffersExpiredBefore returns pending offers whose expiry is at or before t
func (r *OfferRepository) ListPendingOffersExpiredBefore(ctx context.Context, t time.Time, limit int) ([]*models.AssignmentOffer, error) {
	query := `
		SELECT ` + offerColumns + `
		FROM assignment_offers
		WHERE status = $1 AND expires_at <= $2
		ORDER BY expires_at ASC
		LIMIT $3
	`

	var offers []*models.AssignmentOffer
	err := r.db.DB.SelectContext(ctx, &offers, query, models.OfferStatusPending, t, limit)

	if err != nil {
		r.logger.Error("Failed to list expired offers", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return offers, nil
}

// TransitionOffer moves an offer from one status to another if it is still in from
func (r *OfferRepository) TransitionOffer(ctx context.Context, id string, from, to models.OfferStatus, resolvedAt *time.Time, reason *string) (bool, error) {
	query := `
		UPDATE assignment_offers
		SET status = $1, resolved_at = $2, reason = COALESCE($3, reason)
		WHERE id = $4 AND status = $5
	`

	result, err := r.db.DB.ExecContext(ctx, query, to, resolvedAt, reason, id, from)
	if err != nil {
		err = translate(err)
		if !errors.Is(err, ErrConflict) {
			r.logger.Error("Failed to transition offer", "error", err, "offerID", id, "from", from, "to", to)
		}
		return false, err
	}

	return swapped(result)
}
