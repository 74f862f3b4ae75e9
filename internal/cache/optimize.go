package cache

import (
	"context"
	"math"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/transitbook/tiercache/internal/metrics"
	"github.com/transitbook/tiercache/pkg/types"
)

const (
	// adaptiveAccessFloor is the access count above which an entry's TTL is extended.
	adaptiveAccessFloor = 5
	// maxExtensionFactor caps the extension at twice the remaining lifetime.
	maxExtensionFactor = 2.0
)

// OptimizeReport summarizes an Optimize pass.
type OptimizeReport struct {
	Evicted    int           `json:"evicted"`
	Promoted   int           `json:"promoted"`
	Compressed int           `json:"compressed"`
	Extended   int           `json:"extended"`
	Shrunk     int           `json:"shrunk"`
	Duration   time.Duration `json:"duration"`
}

// Optimize evicts least-recently-accessed memory entries when at capacity, copies hot
// persistent entries into the room left under max_entries, compresses large memory entries and
// adapts memory TTLs to observed access. Concurrent calls are serialized.
func (e *Engine) Optimize(ctx context.Context) OptimizeReport {
	e.optimizeMu.Lock()
	defer e.optimizeMu.Unlock()

	ctx, span := e.tracer.Start(ctx, "cache.Optimize")
	defer span.End()
	start := e.clock()

	var report OptimizeReport

	snapshot := e.memory.Snapshot(ctx)
	if limit := e.cfg.Cache.MaxEntries; len(snapshot) >= limit {
		n := int(math.Ceil(float64(len(snapshot)) / 10))
		if over := len(snapshot) - limit; over > n {
			n = over
		}
		report.Evicted = e.evictLRU(ctx, snapshot, n)
	}

	report.Promoted = e.promoteHot(ctx)

	now := e.clock()
	for _, key := range e.memory.Keys(ctx) {
		if ctx.Err() != nil {
			break
		}
		if e.memory.Update(ctx, key, e.compressEntry) {
			report.Compressed++
		}

		var extended, shrunk bool
		e.memory.Update(ctx, key, func(entry *types.CacheEntry) bool {
			extended, shrunk = adaptTTL(entry, now)
			return extended || shrunk
		})
		if extended {
			report.Extended++
		}
		if shrunk {
			report.Shrunk++
		}
	}

	e.ComputeStats(ctx)
	report.Duration = e.clock().Sub(start)

	span.SetAttributes(
		attribute.Int("cache.optimize.evicted", report.Evicted),
		attribute.Int("cache.optimize.promoted", report.Promoted),
		attribute.Int("cache.optimize.compressed", report.Compressed),
		attribute.Int("cache.optimize.extended", report.Extended),
		attribute.Int("cache.optimize.shrunk", report.Shrunk))
	e.recorder.RecordOperation("optimize", report.Duration, true)
	e.logger.Debug("optimize complete",
		zap.Int("evicted", report.Evicted),
		zap.Int("promoted", report.Promoted),
		zap.Int("compressed", report.Compressed),
		zap.Int("extended", report.Extended),
		zap.Int("shrunk", report.Shrunk))
	return report
}

// evictLRU removes up to n entries of snapshot from memory, least recently accessed first.
// An entry read or rewritten since the snapshot is skipped.
func (e *Engine) evictLRU(ctx context.Context, snapshot []*types.CacheEntry, n int) int {
	if n <= 0 {
		return 0
	}

	sort.Slice(snapshot, func(i, j int) bool {
		a, b := snapshot[i], snapshot[j]
		if !a.LastAccessedAt.Equal(b.LastAccessedAt) {
			return a.LastAccessedAt.Before(b.LastAccessedAt)
		}
		return a.Key < b.Key
	})

	evicted := 0
	for _, victim := range snapshot {
		if evicted >= n {
			break
		}
		unchanged := func(cur *types.CacheEntry) bool {
			return victim.SameGeneration(cur) && cur.LastAccessedAt.Equal(victim.LastAccessedAt)
		}
		if e.memory.DeleteIf(ctx, victim.Key, unchanged) {
			evicted++
		}
	}

	e.evictions.Add(uint64(evicted))
	e.recorder.RecordEvictions(metrics.ReasonCapacity, evicted)
	return evicted
}

// promoteHot copies persistent entries read more than hot_access_threshold times into memory,
// hottest first, while memory has room under max_entries.
func (e *Engine) promoteHot(ctx context.Context) int {
	if e.persistent == nil {
		return 0
	}
	room := e.cfg.Cache.MaxEntries - e.memory.Stored()
	if room <= 0 {
		return 0
	}

	var hot []*types.CacheEntry
	for _, entry := range e.persistent.Snapshot(ctx) {
		if entry.AccessCount > e.cfg.Cache.HotAccessThreshold && !e.memory.Has(ctx, entry.Key) {
			hot = append(hot, entry)
		}
	}
	sort.Slice(hot, func(i, j int) bool {
		if hot[i].AccessCount != hot[j].AccessCount {
			return hot[i].AccessCount > hot[j].AccessCount
		}
		return hot[i].Key < hot[j].Key
	})

	promoted := 0
	for _, entry := range hot {
		if promoted >= room {
			break
		}
		if err := e.memory.Set(ctx, entry.Key, entry); err == nil {
			promoted++
		}
	}
	return promoted
}

// adaptTTL extends the TTL of frequently read entries once per access count and halves the TTL
// of entries never read past half their lifetime.
func adaptTTL(entry *types.CacheEntry, now time.Time) (extended, shrunk bool) {
	switch {
	case entry.AccessCount > adaptiveAccessFloor && entry.AdaptedAtCount != entry.AccessCount:
		factor := math.Min(float64(entry.AccessCount)/10, maxExtensionFactor)
		ext := time.Duration(float64(entry.Remaining(now)) * factor)
		entry.AdaptedAtCount = entry.AccessCount
		entry.SetTTL(entry.TTL + ext)
		return true, false

	case entry.AccessCount == 0 && now.Sub(entry.CreatedAt) > entry.TTL/2:
		ttl := entry.TTL / 2
		if ttl <= 0 {
			ttl = 1
		}
		entry.SetTTL(ttl)
		return false, true
	}
	return false, false
}
