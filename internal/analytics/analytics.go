// Package analytics summarizes cache contents and suggests configuration changes.
package analytics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/transitbook/tiercache/pkg/types"
	"github.com/transitbook/tiercache/pkg/utils"
)

// DefaultTopN is used when Input.TopN is not positive.
const DefaultTopN = 10

// Thresholds for recommendations.
const (
	LowHitRate       = 0.7
	NearCapacityRate = 0.9
)

// Recommendation kinds.
const (
	KindLowHitRate        = "low_hit_rate"
	KindNearCapacity      = "near_capacity"
	KindEnableCompression = "enable_compression"
	KindEnablePersistence = "enable_persistence"
)

// Input is everything Analyze needs. Entries should hold one live entry per key.
// Tiers, when set, holds each tier's own live entries and drives the tier breakdown;
// otherwise Entries are grouped by their Tier field.
type Input struct {
	Stats              types.CacheStats
	Entries            []*types.CacheEntry
	Tiers              map[types.Tier][]*types.CacheEntry
	TopN               int
	MaxEntries         int
	CompressionEnabled bool
	PersistenceEnabled bool
	Now                time.Time
}

// EntrySummary describes one entry without its value.
type EntrySummary struct {
	Key            string         `json:"key"`
	AccessCount    int64          `json:"access_count"`
	LastAccessedAt time.Time      `json:"last_accessed_at"`
	Category       types.Category `json:"category,omitempty"`
	Tier           types.Tier     `json:"tier"`
	Size           int64          `json:"size"`
}

// Breakdown is an entry count and byte total.
type Breakdown struct {
	Count int   `json:"count"`
	Size  int64 `json:"size"`
}

func (b Breakdown) add(e *types.CacheEntry) Breakdown {
	b.Count++
	b.Size += e.Size
	return b
}

// Recommendation is a rule-based suggestion.
type Recommendation struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Report is the result of Analyze.
type Report struct {
	Stats             types.CacheStats             `json:"stats"`
	TopEntries        []EntrySummary               `json:"top_entries"`
	CategoryBreakdown map[types.Category]Breakdown `json:"category_breakdown"`
	TierBreakdown     map[types.Tier]Breakdown     `json:"tier_breakdown"`
	Recommendations   []Recommendation             `json:"recommendations"`
	GeneratedAt       time.Time                    `json:"generated_at"`
}

// Analyze builds a report from in.
func Analyze(in Input) Report {
	topN := in.TopN
	if topN <= 0 {
		topN = DefaultTopN
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	report := Report{
		Stats:             in.Stats,
		CategoryBreakdown: make(map[types.Category]Breakdown),
		TierBreakdown:     make(map[types.Tier]Breakdown),
		GeneratedAt:       now,
	}

	summaries := make([]EntrySummary, 0, len(in.Entries))
	for _, e := range in.Entries {
		if e == nil {
			continue
		}
		summaries = append(summaries, EntrySummary{
			Key:            e.Key,
			AccessCount:    e.AccessCount,
			LastAccessedAt: e.LastAccessedAt,
			Category:       e.Category,
			Tier:           e.Tier,
			Size:           e.Size,
		})

		cb := report.CategoryBreakdown[e.Category]
		cb.Count++
		cb.Size += e.Size
		report.CategoryBreakdown[e.Category] = cb

		if in.Tiers == nil {
			report.TierBreakdown[e.Tier] = report.TierBreakdown[e.Tier].add(e)
		}
	}
	for t, entries := range in.Tiers {
		for _, e := range entries {
			if e != nil {
				report.TierBreakdown[t] = report.TierBreakdown[t].add(e)
			}
		}
	}

	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].AccessCount != summaries[j].AccessCount {
			return summaries[i].AccessCount > summaries[j].AccessCount
		}
		return summaries[i].Key < summaries[j].Key
	})
	if len(summaries) > topN {
		summaries = summaries[:topN]
	}
	report.TopEntries = summaries

	report.Recommendations = recommend(in)
	return report
}

func recommend(in Input) []Recommendation {
	var recs []Recommendation

	if in.Stats.Requests() > 0 && in.Stats.HitRate < LowHitRate {
		recs = append(recs, Recommendation{
			Kind: KindLowHitRate,
			Message: fmt.Sprintf("hit rate is %.1f%%; consider longer TTLs or warming frequently requested keys",
				in.Stats.HitRate*100),
		})
	}

	if in.MaxEntries > 0 && float64(in.Stats.EntryCount) >= NearCapacityRate*float64(in.MaxEntries) {
		recs = append(recs, Recommendation{
			Kind: KindNearCapacity,
			Message: fmt.Sprintf("%d of %d entries in use; consider raising max_entries or enabling compression",
				in.Stats.EntryCount, in.MaxEntries),
		})
	}

	if !in.CompressionEnabled {
		recs = append(recs, Recommendation{
			Kind:    KindEnableCompression,
			Message: "compression is disabled; enabling it reduces memory use for large values",
		})
	}

	if !in.PersistenceEnabled {
		recs = append(recs, Recommendation{
			Kind:    KindEnablePersistence,
			Message: "persistence is disabled; enabling it keeps warm entries across restarts",
		})
	}

	return recs
}

// HasRecommendation reports whether the report contains a recommendation of kind.
func (r Report) HasRecommendation(kind string) bool {
	for _, rec := range r.Recommendations {
		if rec.Kind == kind {
			return true
		}
	}
	return false
}

// Summary renders the report as text for logs and debugging.
func (r Report) Summary() string {
	var b strings.Builder

	fmt.Fprintf(&b, "entries: %d (%s)\n", r.Stats.EntryCount, utils.FormatBytes(r.Stats.TotalSize))
	fmt.Fprintf(&b, "hits: %d misses: %d hit rate: %.1f%%\n", r.Stats.Hits, r.Stats.Misses, r.Stats.HitRate*100)

	categories := make([]string, 0, len(r.CategoryBreakdown))
	for c := range r.CategoryBreakdown {
		categories = append(categories, string(c))
	}
	sort.Strings(categories)
	for _, c := range categories {
		bd := r.CategoryBreakdown[types.Category(c)]
		name := c
		if name == "" {
			name = "uncategorized"
		}
		fmt.Fprintf(&b, "  %-16s %6d %10s\n", name, bd.Count, utils.FormatBytes(bd.Size))
	}

	for _, tier := range types.AllTiers {
		if bd, ok := r.TierBreakdown[tier]; ok {
			fmt.Fprintf(&b, "  tier %-11s %6d %10s\n", tier, bd.Count, utils.FormatBytes(bd.Size))
		}
	}

	for i, e := range r.TopEntries {
		fmt.Fprintf(&b, "  #%d %s (%d accesses)\n", i+1, e.Key, e.AccessCount)
	}

	for _, rec := range r.Recommendations {
		fmt.Fprintf(&b, "  - %s\n", rec.Message)
	}

	return b.String()
}
