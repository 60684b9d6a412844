package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/nakliyeci/carrier-jobs/internal/database"
	"github.com/nakliyeci/carrier-jobs/internal/models"
	"github.com/nakliyeci/carrier-jobs/pkg/logger"
)

func newMockDB(t *testing.T) (*database.Database, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return database.NewFromDB(sqlx.NewDb(db, "postgres"), logger.NewNopLogger()), mock
}

var listingCols = []string{
	"id", "shipment_id", "broker_id", "pickup_city", "delivery_city", "pickup_city_key",
	"delivery_city_key", "budget_ceiling", "status", "created_at", "closed_at",
}

func TestListingRepository_GetListing(t *testing.T) {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		rows    *sqlmock.Rows
		wantErr error
	}{
		{
			name: "found",
			rows: sqlmock.NewRows(listingCols).AddRow(
				"lst-1", "shp-1", "brk-1", "İstanbul", "Ankara", "istanbul", "ankara", 3000.0, "open", created, nil),
		},
		{
			name:    "not found",
			rows:    sqlmock.NewRows(listingCols),
			wantErr: ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			repo := NewListingRepository(db, logger.NewNopLogger())

			mock.ExpectQuery(`SELECT (.+) FROM listings WHERE id = \$1`).
				WithArgs("lst-1").
				WillReturnRows(tt.rows)

			listing, err := repo.GetListing(context.Background(), "lst-1")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
			} else {
				if err != nil {
					t.Fatalf("GetListing() error = %v", err)
				}
				if listing.Status != models.ListingStatusOpen || listing.BudgetCeiling == nil || *listing.BudgetCeiling != 3000 {
					t.Errorf("unexpected listing: %+v", listing)
				}
				if listing.ClosedAt != nil {
					t.Errorf("ClosedAt = %v, want nil", listing.ClosedAt)
				}
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}

func TestListingRepository_CloseListing(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{"open listing closes", 1, true},
		{"already closed", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			repo := NewListingRepository(db, logger.NewNopLogger())

			mock.ExpectExec(`UPDATE listings`).
				WithArgs(models.ListingStatusClosed, at, "lst-1", models.ListingStatusOpen).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			got, err := repo.CloseListing(context.Background(), "lst-1", at)
			if err != nil {
				t.Fatalf("CloseListing() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("CloseListing() = %v, want %v", got, tt.want)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}

func TestBidRepository_CreateBidMapsUniqueViolation(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBidRepository(db, logger.NewNopLogger())

	mock.ExpectExec(`INSERT INTO bids`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "uq_bids_active_carrier"})

	bid := models.NewBid("lst-1", "car-1", 2800, nil, time.Now().UTC())
	err := repo.CreateBid(context.Background(), bid)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("error = %v, want ErrConflict", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestBidRepository_CreateBidOtherError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBidRepository(db, logger.NewNopLogger())

	mock.ExpectExec(`INSERT INTO bids`).WillReturnError(errors.New("connection reset"))

	err := repo.CreateBid(context.Background(), models.NewBid("lst-1", "car-1", 2800, nil, time.Now().UTC()))
	if !errors.Is(err, ErrDatabase) {
		t.Fatalf("error = %v, want ErrDatabase", err)
	}
}

func TestBidRepository_ListBidsForCarrier(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBidRepository(db, logger.NewNopLogger())
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	cols := []string{"id", "listing_id", "carrier_id", "price", "eta_hours", "status", "created_at", "updated_at"}
	mock.ExpectQuery(`SELECT (.+) FROM bids WHERE carrier_id = \$1`).
		WithArgs("car-1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("bid-2", "lst-2", "car-1", 1900.0, 12.0, "pending", now, now).
			AddRow("bid-1", "lst-1", "car-1", 2800.0, nil, "pending", now, now))

	bids, err := repo.ListBidsForCarrier(context.Background(), "car-1", models.BidStatusPending)
	if err != nil {
		t.Fatalf("ListBidsForCarrier() error = %v", err)
	}
	if len(bids) != 2 {
		t.Fatalf("len = %d, want 2", len(bids))
	}
	if bids[0].ETAHours == nil || *bids[0].ETAHours != 12 || bids[1].ETAHours != nil {
		t.Errorf("unexpected eta values: %v %v", bids[0].ETAHours, bids[1].ETAHours)
	}
}

func TestOfferRepository_TransitionOffer(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOfferRepository(db, logger.NewNopLogger())
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE assignment_offers`).
		WithArgs(models.OfferStatusExpired, &at, nil, "ofr-1", models.OfferStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.TransitionOffer(context.Background(), "ofr-1", models.OfferStatusPending, models.OfferStatusExpired, &at, nil)
	if err != nil {
		t.Fatalf("TransitionOffer() error = %v", err)
	}
	if ok {
		t.Error("expected lost compare-and-set")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestJobRepository_UpdateJob(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	carrier := "car-1"
	job := &models.ShipmentJob{
		ShipmentID:     "shp-1",
		BrokerID:       "brk-1",
		BoundCarrierID: &carrier,
		Status:         models.JobStatusAccepted,
		Version:        3,
		UpdatedAt:      now,
	}

	t.Run("writes outbox in the same transaction", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewJobRepository(db, NewOutboxRepository(db, logger.NewNopLogger()), logger.NewNopLogger())

		msg, err := models.NewJobTransitionEvent(job, models.JobStatusListed, "bid_won", now)
		if err != nil {
			t.Fatalf("NewJobTransitionEvent() error = %v", err)
		}

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE shipment_jobs`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`INSERT INTO outbox_messages`).
			WithArgs(models.AggregateShipmentJob, "shp-1", "bid_won", sqlmock.AnyArg(), now, models.OutboxStatusPending).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))
		mock.ExpectCommit()

		if err := repo.UpdateJob(context.Background(), job, 2, msg); err != nil {
			t.Fatalf("UpdateJob() error = %v", err)
		}
		if msg.ID != 42 {
			t.Errorf("outbox id = %d, want 42", msg.ID)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})

	t.Run("stale version rolls back", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewJobRepository(db, NewOutboxRepository(db, logger.NewNopLogger()), logger.NewNopLogger())

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE shipment_jobs`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := repo.UpdateJob(context.Background(), job, 2)
		if !errors.Is(err, ErrConflict) {
			t.Fatalf("error = %v, want ErrConflict", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
}

func TestJobRepository_CreateJobDuplicate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobRepository(db, NewOutboxRepository(db, logger.NewNopLogger()), logger.NewNopLogger())

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO shipment_jobs`).WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err := repo.CreateJob(context.Background(), &models.ShipmentJob{ShipmentID: "shp-1", Version: 1})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("error = %v, want ErrConflict", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestOutboxRepository_MarkAsProcessingLostClaim(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOutboxRepository(db, logger.NewNopLogger())

	mock.ExpectExec(`UPDATE outbox_messages`).
		WithArgs(models.OutboxStatusProcessing, int64(7), models.OutboxStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.MarkAsProcessing(context.Background(), 7); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestListingRepository_CreateListingMapsOpenShipmentViolation(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewListingRepository(db, logger.NewNopLogger())

	mock.ExpectExec(`INSERT INTO listings`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "uq_listings_open_shipment"})

	listing := &models.Listing{
		ID:         "lst-2",
		ShipmentID: "shp-1",
		BrokerID:   "brk-1",
		Status:     models.ListingStatusOpen,
		CreatedAt:  time.Now().UTC(),
	}
	err := repo.CreateListing(context.Background(), listing)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("error = %v, want ErrConflict", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
