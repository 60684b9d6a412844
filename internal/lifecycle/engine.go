// Package lifecycle holds the authoritative per-shipment state machine.
// The bid ledger and the offer manager propose transitions through Apply;
// only the engine writes a job's status and bound carrier.
package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/nakliyeci/carrier-jobs/internal/models"
	"github.com/nakliyeci/carrier-jobs/internal/repository"
	"github.com/nakliyeci/carrier-jobs/pkg/apperrors"
	"github.com/nakliyeci/carrier-jobs/pkg/keylock"
	"github.com/nakliyeci/carrier-jobs/pkg/logger"
)

// maxWriteAttempts bounds re-evaluation after a lost optimistic write
const maxWriteAttempts = 3

// Engine applies lifecycle events to shipment jobs
type Engine struct {
	jobs   repository.JobStore
	locks  *keylock.Locker
	now    models.Clock
	logger logger.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithClock overrides the time source
func WithClock(clock models.Clock) Option {
	return func(e *Engine) { e.now = clock }
}

// NewEngine creates a new Engine
func NewEngine(jobs repository.JobStore, logger logger.Logger, opts ...Option) *Engine {
	e := &Engine{
		jobs:   jobs,
		locks:  keylock.New(),
		now:    models.GetCurrentTime,
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply evaluates ev against the current job and persists the result together
// with its outbox message. Events that do not change the job return it as is.
func (e *Engine) Apply(ctx context.Context, ev Event) (*models.ShipmentJob, error) {
	if ev.ShipmentID == "" {
		return nil, apperrors.NewInvalidInputError("shipment id is required")
	}

	unlock := e.locks.Lock(ev.ShipmentID)
	defer unlock()

	for attempt := 1; ; attempt++ {
		job, err := e.load(ctx, ev.ShipmentID)
		if err != nil {
			return nil, err
		}

		now := e.now()
		next, err := transition(job, ev, now)
		if err != nil {
			e.logger.Debug("Lifecycle event refused",
				"shipmentID", ev.ShipmentID,
				"event", ev.Type,
				"status", statusOf(job),
				"error", err)
			return nil, err
		}
		if next == nil {
			return job, nil
		}

		msg, err := models.NewJobTransitionEvent(next, statusOf(job), string(ev.Type), now)
		if err != nil {
			return nil, apperrors.NewInternalError(fmt.Sprintf("failed to encode lifecycle event: %v", err))
		}

		if job == nil {
			err = e.jobs.CreateJob(ctx, next, msg)
		} else {
			err = e.jobs.UpdateJob(ctx, next, job.Version, msg)
		}

		switch {
		case err == nil:
			e.logger.Info("Shipment job transitioned",
				"shipmentID", next.ShipmentID,
				"event", ev.Type,
				"from", statusOf(job),
				"to", next.Status,
				"version", next.Version)
			return next, nil
		case errors.Is(err, repository.ErrConflict) && attempt < maxWriteAttempts:
			e.logger.Warn("Shipment job changed concurrently, re-evaluating",
				"shipmentID", ev.ShipmentID,
				"event", ev.Type,
				"attempt", attempt)
			continue
		case errors.Is(err, repository.ErrConflict):
			return nil, apperrors.NewConflictError("shipment job was modified concurrently").
				WithContext("shipment_id", ev.ShipmentID)
		default:
			e.logger.Error("Failed to persist shipment job", "error", err, "shipmentID", ev.ShipmentID)
			return nil, apperrors.NewInternalError("failed to persist shipment job")
		}
	}
}

// Get returns the job for a shipment
func (e *Engine) Get(ctx context.Context, shipmentID string) (*models.ShipmentJob, error) {
	job, err := e.load(ctx, shipmentID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, apperrors.NewNotFoundError("shipment job not found").WithContext("shipment_id", shipmentID)
	}
	return job, nil
}

func (e *Engine) load(ctx context.Context, shipmentID string) (*models.ShipmentJob, error) {
	job, err := e.jobs.GetJob(ctx, shipmentID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		e.logger.Error("Failed to load shipment job", "error", err, "shipmentID", shipmentID)
		return nil, apperrors.NewInternalError("failed to load shipment job")
	}
	return job, nil
}

func statusOf(job *models.ShipmentJob) models.JobStatus {
	if job == nil {
		return ""
	}
	return job.Status
}
