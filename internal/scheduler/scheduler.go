// Package scheduler drives the periodic sync sweep. One goroutine owns the
// loop, so sweeps never overlap: a manual trigger arriving mid-sweep parks
// until the running sweep finishes, and at most one trigger parks at a
// time.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// Func is one sweep.
type Func func(ctx context.Context) error

// Scheduler runs a Func at a fixed interval and on demand.
type Scheduler struct {
	interval time.Duration
	fn       Func
	logger   *slog.Logger
	kick     chan struct{}
	running  atomic.Bool
}

// New builds a scheduler. logger may be nil.
func New(interval time.Duration, fn Func, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		interval: interval,
		fn:       fn,
		logger:   logger,
		kick:     make(chan struct{}, 1),
	}
}

// Trigger requests a sweep as soon as the loop is free. Returns false when
// a request is already parked, which callers surface as "sync already
// queued".
func (s *Scheduler) Trigger() bool {
	select {
	case s.kick <- struct{}{}:
		return true
	default:
		return false
	}
}

// Running reports whether a sweep is executing right now.
func (s *Scheduler) Running() bool { return s.running.Load() }

// Run sweeps once immediately, then on every tick and trigger, until ctx
// is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sync scheduler started", "interval", s.interval)
	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync scheduler stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		case <-s.kick:
			s.sweep(ctx)
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	s.running.Store(true)
	defer s.running.Store(false)

	start := time.Now()
	if err := s.fn(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Error("sweep failed", "error", err, "elapsed", time.Since(start))
		}
		return
	}
	s.logger.Info("sweep finished", "elapsed", time.Since(start))
}
