package cache

import (
	"context"

	"go.uber.org/zap"

	"github.com/transitbook/tiercache/internal/metrics"
	"github.com/transitbook/tiercache/pkg/types"
)

// Sweep deletes expired entries from every tier, one key at a time, evicts least-recently
// accessed memory entries above max_entries and refreshes the statistics. It returns the number
// of entries removed. A call made while another sweep is running returns 0 without sweeping.
func (e *Engine) Sweep(ctx context.Context) int {
	if !e.sweeping.CompareAndSwap(false, true) {
		e.logger.Debug("sweep already running, skipping")
		return 0
	}
	defer e.sweeping.Store(false)

	start := e.clock()
	now := start
	expired := func(cur *types.CacheEntry) bool {
		return cur.IsExpired(now)
	}

	removed := 0
	for _, key := range e.memory.Keys(ctx) {
		if ctx.Err() != nil {
			break
		}
		if e.memory.DeleteIf(ctx, key, expired) {
			removed++
		}
	}

	if e.persistent != nil {
		for _, key := range e.persistent.Keys(ctx) {
			if ctx.Err() != nil {
				break
			}
			if e.persistent.DeleteIf(ctx, key, expired) {
				removed++
			}
		}
	}

	e.expirations.Add(uint64(removed))
	e.recorder.RecordEvictions(metrics.ReasonExpired, removed)

	evicted := 0
	if ctx.Err() == nil {
		snapshot := e.memory.Snapshot(ctx)
		if over := len(snapshot) - e.cfg.Cache.MaxEntries; over > 0 {
			evicted = e.evictLRU(ctx, snapshot, over)
		}
	}

	e.ComputeStats(ctx)
	e.recorder.RecordOperation("sweep", e.clock().Sub(start), true)
	e.logger.Debug("sweep complete", zap.Int("expired", removed), zap.Int("evicted", evicted))
	return removed + evicted
}
