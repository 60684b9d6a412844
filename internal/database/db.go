package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/nakliyeci/carrier-jobs/internal/config"
	"github.com/nakliyeci/carrier-jobs/pkg/logger"
)

// Database represents a database connection
type Database struct {
	DB     *sqlx.DB
	logger logger.Logger
}

// New creates a new database connection
func New(cfg *config.Config, logger logger.Logger) (*Database, error) {
	db, err := sqlx.Connect("postgres", cfg.GetDBConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	logger.Info("Connected to database", "host", cfg.DB.Host, "database", cfg.DB.Name)

	return NewFromDB(db, logger), nil
}

// NewFromDB wraps an existing connection
func NewFromDB(db *sqlx.DB, logger logger.Logger) *Database {
	return &Database{
		DB:     db,
		logger: logger,
	}
}

// Ping checks the database connection
func (d *Database) Ping(ctx context.Context) error {
	return d.DB.PingContext(ctx)
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.DB.Close()
}

// schema is idempotent. The partial unique indexes back the
// one-active-bid-per-carrier and one-pending-offer-per-shipment rules
// across processes.
const schema = `
CREATE TABLE IF NOT EXISTS listings (
	id VARCHAR(64) PRIMARY KEY,
	shipment_id VARCHAR(64) NOT NULL,
	broker_id VARCHAR(64) NOT NULL,
	pickup_city TEXT NOT NULL,
	delivery_city TEXT NOT NULL,
	pickup_city_key TEXT NOT NULL,
	delivery_city_key TEXT NOT NULL,
	budget_ceiling NUMERIC(12, 2),
	status VARCHAR(20) NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	closed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_listings_open_route ON listings(pickup_city_key, delivery_city_key) WHERE status = 'open';
CREATE INDEX IF NOT EXISTS idx_listings_shipment ON listings(shipment_id);
CREATE UNIQUE INDEX IF NOT EXISTS uq_listings_open_shipment ON listings(shipment_id) WHERE status = 'open';

CREATE TABLE IF NOT EXISTS bids (
	id VARCHAR(64) PRIMARY KEY,
	listing_id VARCHAR(64) NOT NULL REFERENCES listings(id) ON DELETE CASCADE,
	carrier_id VARCHAR(64) NOT NULL,
	price NUMERIC(12, 2) NOT NULL CHECK (price > 0),
	eta_hours NUMERIC(8, 2),
	status VARCHAR(20) NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_bids_active_carrier ON bids(listing_id, carrier_id) WHERE status IN ('pending', 'accepted');
CREATE UNIQUE INDEX IF NOT EXISTS uq_bids_single_winner ON bids(listing_id) WHERE status = 'accepted';
CREATE INDEX IF NOT EXISTS idx_bids_carrier ON bids(carrier_id, status);

CREATE TABLE IF NOT EXISTS assignment_offers (
	id VARCHAR(64) PRIMARY KEY,
	shipment_id VARCHAR(64) NOT NULL,
	broker_id VARCHAR(64) NOT NULL,
	carrier_id VARCHAR(64) NOT NULL,
	pickup_city TEXT NOT NULL,
	price NUMERIC(12, 2) NOT NULL,
	issued_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	status VARCHAR(20) NOT NULL,
	reason TEXT,
	resolved_at TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_offers_pending_shipment ON assignment_offers(shipment_id) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_offers_carrier_pending ON assignment_offers(carrier_id) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_offers_expiry ON assignment_offers(expires_at) WHERE status = 'pending';

CREATE TABLE IF NOT EXISTS shipment_jobs (
	shipment_id VARCHAR(64) PRIMARY KEY,
	broker_id VARCHAR(64) NOT NULL,
	bound_carrier_id VARCHAR(64),
	bound_via VARCHAR(10),
	status VARCHAR(30) NOT NULL,
	pickup_city TEXT NOT NULL,
	delivery_city TEXT NOT NULL DEFAULT '',
	price NUMERIC(12, 2),
	version BIGINT NOT NULL DEFAULT 1,
	listed_at TIMESTAMPTZ,
	offered_at TIMESTAMPTZ,
	accepted_at TIMESTAMPTZ,
	started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	cancelled_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_jobs_carrier ON shipment_jobs(bound_carrier_id, status);

CREATE TABLE IF NOT EXISTS outbox_messages (
	id BIGSERIAL PRIMARY KEY,
	aggregate_type VARCHAR(50) NOT NULL,
	aggregate_id VARCHAR(64) NOT NULL,
	event_type VARCHAR(50) NOT NULL,
	payload JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	processed_at TIMESTAMPTZ,
	processing_attempts INT NOT NULL DEFAULT 0,
	last_error TEXT,
	status VARCHAR(20) NOT NULL DEFAULT 'pending'
);

CREATE INDEX IF NOT EXISTS idx_outbox_status ON outbox_messages(status, created_at);
CREATE INDEX IF NOT EXISTS idx_outbox_aggregate ON outbox_messages(aggregate_type, aggregate_id);
`

// RunMigrations creates the schema if it does not exist
func (d *Database) RunMigrations(ctx context.Context) error {
	if _, err := d.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.logger.Info("Database migrations completed successfully")
	return nil
}
