package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/transitbook/tiercache/pkg/errors"
	"github.com/transitbook/tiercache/pkg/types"
)

// WarmPattern describes a batch of keys to preload.
type WarmPattern struct {
	Category types.Category
	Keys     []string
	Loader   types.Loader
	Priority types.Priority
	Tags     []string
}

// WarmReport summarizes a WarmCache call.
type WarmReport struct {
	Requested  int           `json:"requested"`
	Loaded     int           `json:"loaded"`
	Skipped    int           `json:"skipped"`
	Failed     int           `json:"failed"`
	FailedKeys []string      `json:"failed_keys,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// WarmCache loads every key of patterns that is not already live in memory. Each loader runs
// in its own goroutine under warming.loader_timeout; the whole call is bounded by
// warming.budget. A failed or slow key never prevents the others from loading.
func (e *Engine) WarmCache(ctx context.Context, patterns []WarmPattern) WarmReport {
	ctx, span := e.tracer.Start(ctx, "cache.WarmCache")
	defer span.End()
	start := e.clock()

	w := e.cfg.Warming
	if w.Budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.Budget)
		defer cancel()
	}

	var limiter *rate.Limiter
	if w.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(w.RatePerSecond), 1)
	}

	var (
		report WarmReport
		mu     sync.Mutex
		g      errgroup.Group
	)
	concurrency := w.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	g.SetLimit(concurrency)

	fail := func(p WarmPattern, key string, err error) {
		e.loaderFailures.Add(1)
		e.recorder.RecordLoaderFailure(p.Category)
		e.health.RecordError(ComponentWarming, err)
		e.logger.Warn("warm loader failed", zap.String("key", key), zap.Error(err))

		mu.Lock()
		report.Failed++
		report.FailedKeys = append(report.FailedKeys, key)
		mu.Unlock()
	}

	seen := make(map[string]struct{})
	for _, p := range patterns {
		for _, key := range p.Keys {
			report.Requested++

			if _, dup := seen[key]; dup || key == "" || p.Loader == nil || e.memory.Has(ctx, key) {
				report.Skipped++
				continue
			}
			seen[key] = struct{}{}

			if err := ctx.Err(); err != nil {
				fail(p, key, errors.Wrap(err, errors.ErrCodeOperationTimeout, "warming budget exhausted").WithKey(key))
				continue
			}

			p, key := p, key
			g.Go(func() error {
				if err := e.warmKey(ctx, limiter, p, key); err != nil {
					fail(p, key, err)
					return nil
				}
				e.health.RecordSuccess(ComponentWarming)
				mu.Lock()
				report.Loaded++
				mu.Unlock()
				return nil
			})
		}
	}
	_ = g.Wait()

	sort.Strings(report.FailedKeys)
	report.Duration = e.clock().Sub(start)
	e.ComputeStats(ctx)

	span.SetAttributes(
		attribute.Int("cache.warm.requested", report.Requested),
		attribute.Int("cache.warm.loaded", report.Loaded),
		attribute.Int("cache.warm.failed", report.Failed))
	e.recorder.RecordOperation("warm", report.Duration, report.Failed == 0)
	e.logger.Debug("warming complete",
		zap.Int("requested", report.Requested),
		zap.Int("loaded", report.Loaded),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed))
	return report
}

type loadResult struct {
	value interface{}
	err   error
}

func (e *Engine) warmKey(ctx context.Context, limiter *rate.Limiter, p WarmPattern, key string) error {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return errors.Wrap(err, errors.ErrCodeLoaderFailure, "rate limiter wait failed").WithKey(key)
		}
	}

	lctx := ctx
	if timeout := e.cfg.Warming.LoaderTimeout; timeout > 0 {
		var cancel context.CancelFunc
		lctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	// The loader runs detached so a loader ignoring its context cannot hold the batch.
	ch := make(chan loadResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- loadResult{err: fmt.Errorf("loader panicked: %v", r)}
			}
		}()
		v, err := p.Loader(lctx, key)
		ch <- loadResult{value: v, err: err}
	}()

	var res loadResult
	select {
	case res = <-ch:
	case <-lctx.Done():
		return errors.Wrap(lctx.Err(), errors.ErrCodeLoaderFailure, "loader timed out").WithKey(key)
	}
	if res.err != nil {
		return errors.Wrap(res.err, errors.ErrCodeLoaderFailure, "loader returned error").WithKey(key)
	}

	base := e.cfg.BaseTTL(p.Category)
	ttl := time.Duration(float64(base) * p.Priority.Multiplier())
	if ttl <= 0 {
		ttl = base
	}

	return e.Set(ctx, key, res.value,
		WithTTL(ttl),
		WithCategory(p.Category),
		WithTags(p.Tags...))
}
