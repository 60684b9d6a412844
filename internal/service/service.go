// Package service holds the listing store, bid ledger, assignment offer
// manager, job operations and the carrier view. Every write that affects a
// shipment's lifecycle is proposed to the engine through Lifecycle.
package service

import (
	"context"
	"iter"
	"time"

	"github.com/nakliyeci/carrier-jobs/internal/lifecycle"
	"github.com/nakliyeci/carrier-jobs/internal/models"
	"github.com/nakliyeci/carrier-jobs/pkg/apperrors"
	"github.com/nakliyeci/carrier-jobs/pkg/logger"
)

// Lifecycle is the engine as seen by the services
type Lifecycle interface {
	Apply(ctx context.Context, ev lifecycle.Event) (*models.ShipmentJob, error)
	Get(ctx context.Context, shipmentID string) (*models.ShipmentJob, error)
}

// CityDirectory resolves a carrier's registered city
type CityDirectory interface {
	RegisteredCity(ctx context.Context, carrierID string) (string, error)
}

// Option configures a service
type Option func(*settings)

type settings struct {
	now      models.Clock
	offerTTL time.Duration
}

func newSettings(opts []Option) settings {
	s := settings{
		now:      models.GetCurrentTime,
		offerTTL: models.DefaultOfferTTL,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithClock overrides the time source
func WithClock(clock models.Clock) Option {
	return func(s *settings) { s.now = clock }
}

// WithOfferTTL overrides how long offers stay open
func WithOfferTTL(ttl time.Duration) Option {
	return func(s *settings) {
		if ttl > 0 {
			s.offerTTL = ttl
		}
	}
}

// internalError logs err and returns the generic error callers see
func internalError(l logger.Logger, op string, err error, keyvals ...interface{}) error {
	l.Error("Failed to "+op, append([]interface{}{"error", err}, keyvals...)...)
	return apperrors.NewInternalError("failed to " + op)
}

// lazy re-runs fetch every time the sequence is ranged over. keep, when set,
// is evaluated per item at iteration time.
func lazy[T any](ctx context.Context, fetch func(context.Context) ([]T, error), keep func(T) bool) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		items, err := fetch(ctx)
		if err != nil {
			var zero T
			yield(zero, err)
			return
		}
		for _, item := range items {
			if keep != nil && !keep(item) {
				continue
			}
			if !yield(item, nil) {
				return
			}
		}
	}
}

// Collect drains a sequence into a slice, stopping at the first error
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	out := []T{}
	for item, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// isEmpty reports whether seq yields nothing, reading at most one item
func isEmpty[T any](seq iter.Seq2[T, error]) (bool, error) {
	for _, err := range seq {
		if err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}
