// Package cleanup runs periodic maintenance on a cache engine.
package cleanup

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/transitbook/tiercache/pkg/errors"
)

// Sweeper performs one maintenance pass and returns the number of entries removed.
type Sweeper interface {
	Sweep(ctx context.Context) int
}

// SweepFunc adapts a function to Sweeper.
type SweepFunc func(ctx context.Context) int

// Sweep calls f.
func (f SweepFunc) Sweep(ctx context.Context) int { return f(ctx) }

// Scheduler calls a Sweeper on a fixed interval. At most one pass runs at a time.
type Scheduler struct {
	sweeper  Sweeper
	interval time.Duration
	logger   *zap.Logger

	running atomic.Bool

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	runs    atomic.Uint64
	removed atomic.Uint64
}

// NewScheduler creates a stopped scheduler. A non-positive interval defaults to one minute.
func NewScheduler(sweeper Sweeper, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		sweeper:  sweeper,
		interval: interval,
		logger:   logger.With(zap.String("component", "cleanup")),
	}
}

// Start launches the ticker goroutine. It runs until Stop is called or ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.NewError(errors.ErrCodeAlreadyStarted, "cleanup scheduler already started").
			WithComponent("cleanup")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.started = true
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(runCtx, s.done)

	s.logger.Debug("cleanup scheduler started", zap.Duration("interval", s.interval))
	return nil
}

// Stop cancels the loop and waits for an in-flight pass to finish. Stopping a stopped scheduler
// is a no-op; a stopped scheduler may be started again.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.started = false
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Debug("cleanup scheduler stopped")
}

// Running reports whether the scheduler loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// RunOnce performs a pass unless one is already in progress, in which case it returns
// immediately with ran == false.
func (s *Scheduler) RunOnce(ctx context.Context) (removed int, ran bool) {
	if !s.running.CompareAndSwap(false, true) {
		return 0, false
	}
	defer s.running.Store(false)

	start := time.Now()
	removed = s.sweeper.Sweep(ctx)

	s.runs.Add(1)
	s.removed.Add(uint64(removed))
	s.logger.Debug("cleanup pass finished",
		zap.Int("removed", removed),
		zap.Duration("duration", time.Since(start)))
	return removed, true
}

// Runs returns the number of completed passes.
func (s *Scheduler) Runs() uint64 {
	return s.runs.Load()
}

// Removed returns the total entries removed by all passes.
func (s *Scheduler) Removed() uint64 {
	return s.removed.Load()
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}
