package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/nakliyeci/carrier-jobs/internal/database"
	"github.com/nakliyeci/carrier-jobs/internal/models"
	"github.com/nakliyeci/carrier-jobs/pkg/logger"
)

const jobColumns = `shipment_id, broker_id, bound_carrier_id, bound_via, status, pickup_city,
	delivery_city, price, version, listed_at, offered_at, accepted_at, started_at, completed_at,
	cancelled_at, created_at, updated_at`

// JobRepository persists shipment jobs and writes their outbox messages in the same transaction
type JobRepository struct {
	db         *database.Database
	outboxRepo *OutboxRepository
	logger     logger.Logger
}

// NewJobRepository creates a new JobRepository
func NewJobRepository(db *database.Database, outboxRepo *OutboxRepository, logger logger.Logger) *JobRepository {
	return &JobRepository{
		db:         db,
		outboxRepo: outboxRepo,
		logger:     logger,
	}
}

// GetJob retrieves a job by shipment ID
func (r *JobRepository) GetJob(ctx context.Context, shipmentID string) (*models.ShipmentJob, error) {
	query := `SELECT ` + jobColumns + ` FROM shipment_jobs WHERE shipment_id = $1`

	var job models.ShipmentJob
	err := r.db.DB.GetContext(ctx, &job, query, shipmentID)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("Failed to get job", "error", err, "shipmentID", shipmentID)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return &job, nil
}

// CreateJob inserts a job together with its outbox messages
func (r *JobRepository) CreateJob(ctx context.Context, job *models.ShipmentJob, events ...*models.OutboxMessage) error {
	query := `
		INSERT INTO shipment_jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	return r.inTx(ctx, job.ShipmentID, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(
			ctx,
			query,
			job.ShipmentID,
			job.BrokerID,
			job.BoundCarrierID,
			job.BoundVia,
			job.Status,
			job.PickupCity,
			job.DeliveryCity,
			job.Price,
			job.Version,
			job.ListedAt,
			job.OfferedAt,
			job.AcceptedAt,
			job.StartedAt,
			job.CompletedAt,
			job.CancelledAt,
			job.CreatedAt,
			job.UpdatedAt,
		)
		if err != nil {
			return translate(err)
		}

		return r.writeEvents(ctx, tx, events)
	})
}

// UpdateJob writes job if the stored version still equals expectedVersion
func (r *JobRepository) UpdateJob(ctx context.Context, job *models.ShipmentJob, expectedVersion int64, events ...*models.OutboxMessage) error {
	query := `
		UPDATE shipment_jobs
		SET bound_carrier_id = $1, bound_via = $2, status = $3, pickup_city = $4, delivery_city = $5,
			price = $6, version = $7, listed_at = $8, offered_at = $9, accepted_at = $10,
			started_at = $11, completed_at = $12, cancelled_at = $13, updated_at = $14
		WHERE shipment_id = $15 AND version = $16
	`

	return r.inTx(ctx, job.ShipmentID, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(
			ctx,
			query,
			job.BoundCarrierID,
			job.BoundVia,
			job.Status,
			job.PickupCity,
			job.DeliveryCity,
			job.Price,
			job.Version,
			job.ListedAt,
			job.OfferedAt,
			job.AcceptedAt,
			job.StartedAt,
			job.CompletedAt,
			job.CancelledAt,
			job.UpdatedAt,
			job.ShipmentID,
			expectedVersion,
		)
		if err != nil {
			return translate(err)
		}

		ok, err := swapped(result)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: job %s is no longer at version %d", ErrConflict, job.ShipmentID, expectedVersion)
		}

		return r.writeEvents(ctx, tx, events)
	})
}

// ListJobsForCarrier returns jobs bound to a carrier, most recently updated first
func (r *JobRepository) ListJobsForCarrier(ctx context.Context, carrierID string, statuses ...models.JobStatus) ([]*models.ShipmentJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM shipment_jobs
		WHERE bound_carrier_id = $1
		  AND (cardinality($2::text[]) = 0 OR status = ANY($2))
		ORDER BY updated_at DESC
	`

	var jobs []*models.ShipmentJob
	err := r.db.DB.SelectContext(ctx, &jobs, query, carrierID, pq.Array(statusStrings(statuses)))

	if err != nil {
		r.logger.Error("Failed to list jobs for carrier", "error", err, "carrierID", carrierID)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return jobs, nil
}

func (r *JobRepository) writeEvents(ctx context.Context, tx *sqlx.Tx, events []*models.OutboxMessage) error {
	for _, event := range events {
		if err := r.outboxRepo.CreateInTx(ctx, tx, event); err != nil {
			return fmt.Errorf("%w: %v", ErrDatabase, err)
		}
	}
	return nil
}

func (r *JobRepository) inTx(ctx context.Context, shipmentID string, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.DB.BeginTxx(ctx, nil)
	if err != nil {
		r.logger.Error("Failed to begin transaction", "error", err, "shipmentID", shipmentID)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			r.logger.Error("Failed to roll back transaction", "error", rbErr, "shipmentID", shipmentID)
		}
		if !errors.Is(err, ErrConflict) {
			r.logger.Error("Job write failed", "error", err, "shipmentID", shipmentID)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		r.logger.Error("Failed to commit transaction", "error", err, "shipmentID", shipmentID)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return nil
}
