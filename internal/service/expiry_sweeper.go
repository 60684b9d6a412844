package service

import (
	"context"
	"sync"
	"time"

	"github.com/nakliyeci/carrier-jobs/pkg/logger"
)

// DefaultSweepInterval is how often the sweeper records offer expiry
const DefaultSweepInterval = time.Minute

// StaleOfferExpirer expires pending offers past their window
type StaleOfferExpirer interface {
	ExpireStale(ctx context.Context) (int, error)
}

// ExpirySweeper periodically records expiry for offers nobody answered.
// Expiry is always derived from the clock on read, so the sweep only keeps
// stored state and job status tidy.
type ExpirySweeper struct {
	offers   StaleOfferExpirer
	interval time.Duration
	logger   logger.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
}

// NewExpirySweeper creates a new ExpirySweeper
func NewExpirySweeper(offers StaleOfferExpirer, interval time.Duration, logger logger.Logger) *ExpirySweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &ExpirySweeper{
		offers:   offers,
		interval: interval,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start starts the sweep loop
func (s *ExpirySweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	s.running = true
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		s.run()
	}()

	s.logger.Info("Offer expiry sweeper started", "interval", s.interval)
}

// Stop stops the sweep loop and waits for an in-flight sweep
func (s *ExpirySweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.cancel()
	s.wg.Wait()
	s.running = false

	s.logger.Info("Offer expiry sweeper stopped")
}

func (s *ExpirySweeper) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(s.ctx)
		}
	}
}

// SweepOnce runs a single sweep and returns how many offers it expired
func (s *ExpirySweeper) SweepOnce(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()

	expired, err := s.offers.ExpireStale(ctx)
	if err != nil {
		s.logger.Error("Failed to expire stale offers", "error", err, "expired", expired)
		return expired
	}
	if expired > 0 {
		s.logger.Info("Expired stale offers", "count", expired)
	}
	return expired
}
