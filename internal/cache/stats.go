package cache

import (
	"context"

	"github.com/transitbook/tiercache/internal/analytics"
	"github.com/transitbook/tiercache/pkg/types"
)

// Stats returns the statistics from the last recomputation with live request and eviction
// counters.
func (e *Engine) Stats() types.CacheStats {
	e.statsMu.RLock()
	s := e.stats
	e.statsMu.RUnlock()

	e.fillCounters(&s)
	return s
}

func (e *Engine) fillCounters(s *types.CacheStats) {
	s.Hits = e.hits.Load()
	s.Misses = e.misses.Load()
	s.HitRate = 0
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	s.Evictions = e.evictions.Load()
	s.Expirations = e.expirations.Load()
	s.PersistenceFailures = e.persistenceFailures.Load()
	s.LoaderFailures = e.loaderFailures.Load()
}

// ComputeStats recomputes entry statistics from a snapshot of every tier and publishes per-tier
// gauges.
func (e *Engine) ComputeStats(ctx context.Context) types.CacheStats {
	s, _ := e.computeStats(ctx)
	return s
}

func (e *Engine) computeStats(ctx context.Context) (types.CacheStats, map[types.Tier][]*types.CacheEntry) {
	byTier := e.snapshots(ctx)

	var s types.CacheStats
	for _, entry := range mergeEntries(byTier) {
		s.EntryCount++
		s.TotalSize += entry.Size
		if s.OldestEntry.IsZero() || entry.CreatedAt.Before(s.OldestEntry) {
			s.OldestEntry = entry.CreatedAt
		}
		if entry.CreatedAt.After(s.NewestEntry) {
			s.NewestEntry = entry.CreatedAt
		}
	}
	for _, t := range e.tiers() {
		var size int64
		for _, entry := range byTier[t] {
			size += entry.Size
		}
		e.recorder.UpdateTier(t, len(byTier[t]), size)
	}

	s.ComputedAt = e.clock()
	e.fillCounters(&s)

	e.statsMu.Lock()
	e.stats = s
	e.statsMu.Unlock()
	return s, byTier
}

// snapshots returns the live entries of each enabled tier.
func (e *Engine) snapshots(ctx context.Context) map[types.Tier][]*types.CacheEntry {
	out := make(map[types.Tier][]*types.CacheEntry, 2)
	for _, t := range e.tiers() {
		out[t] = e.provider(t).Snapshot(ctx)
	}
	return out
}

// mergeEntries returns one entry per key. Memory copies take precedence.
func mergeEntries(byTier map[types.Tier][]*types.CacheEntry) []*types.CacheEntry {
	mem := byTier[types.TierMemory]
	out := make([]*types.CacheEntry, 0, len(mem)+len(byTier[types.TierPersistent]))
	out = append(out, mem...)

	seen := make(map[string]struct{}, len(mem))
	for _, entry := range mem {
		seen[entry.Key] = struct{}{}
	}
	for _, entry := range byTier[types.TierPersistent] {
		if _, ok := seen[entry.Key]; !ok {
			out = append(out, entry)
		}
	}
	return out
}

// GetAnalytics reports usage, per-category and per-tier breakdowns and recommendations. Top
// entries and the category breakdown count each key once; the tier breakdown counts what each
// tier holds, so a key cached in both tiers appears under both.
func (e *Engine) GetAnalytics(ctx context.Context) analytics.Report {
	stats, byTier := e.computeStats(ctx)
	return analytics.Analyze(analytics.Input{
		Stats:              stats,
		Entries:            mergeEntries(byTier),
		Tiers:              byTier,
		TopN:               e.cfg.Cache.TopN,
		MaxEntries:         e.cfg.Cache.MaxEntries,
		CompressionEnabled: e.codec != nil,
		PersistenceEnabled: e.persistent != nil,
		Now:                e.clock(),
	})
}
