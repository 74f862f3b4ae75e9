package cache

import (
	"context"
	"regexp"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/transitbook/tiercache/internal/metrics"
	"github.com/transitbook/tiercache/pkg/errors"
	"github.com/transitbook/tiercache/pkg/types"
)

// Criteria selects entries for invalidation. An entry matches if it satisfies any criterion.
// Empty criteria match nothing.
type Criteria struct {
	Keys     []string
	Tags     []string
	Category types.Category
	// Pattern is a regular expression matched against keys.
	Pattern string
	// OlderThan matches entries created more than this long ago.
	OlderThan time.Duration
}

func (c Criteria) empty() bool {
	return len(c.Keys) == 0 && len(c.Tags) == 0 && c.Category == "" && c.Pattern == "" && c.OlderThan <= 0
}

type matcher struct {
	keys      map[string]struct{}
	tags      map[string]struct{}
	category  types.Category
	pattern   *regexp.Regexp
	olderThan time.Duration
	now       time.Time
}

func newMatcher(c Criteria, now time.Time) (*matcher, error) {
	m := &matcher{
		keys:      make(map[string]struct{}, len(c.Keys)),
		tags:      make(map[string]struct{}, len(c.Tags)),
		category:  c.Category,
		olderThan: c.OlderThan,
		now:       now,
	}
	for _, k := range c.Keys {
		m.keys[k] = struct{}{}
	}
	for _, t := range c.Tags {
		m.tags[t] = struct{}{}
	}
	if c.Pattern != "" {
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeValidationFailed, "invalid invalidation pattern").
				WithComponent("cache").WithOperation("invalidate").WithDetail("pattern", c.Pattern)
		}
		m.pattern = re
	}
	return m, nil
}

func (m *matcher) match(e *types.CacheEntry) bool {
	if _, ok := m.keys[e.Key]; ok {
		return true
	}
	for _, t := range e.Tags {
		if _, ok := m.tags[t]; ok {
			return true
		}
	}
	if m.category != "" && e.Category == m.category {
		return true
	}
	if m.pattern != nil && m.pattern.MatchString(e.Key) {
		return true
	}
	return m.olderThan > 0 && m.now.Sub(e.CreatedAt) > m.olderThan
}

// Invalidate removes every live entry matching c from every tier and returns the number of
// distinct keys removed. Matching is evaluated against one snapshot; an entry rewritten after
// the snapshot is left alone.
func (e *Engine) Invalidate(ctx context.Context, c Criteria) (int, error) {
	ctx, span := e.tracer.Start(ctx, "cache.Invalidate")
	defer span.End()
	start := e.clock()

	m, err := newMatcher(c, start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid criteria")
		e.recorder.RecordOperation("invalidate", e.clock().Sub(start), false)
		return 0, err
	}
	if c.empty() {
		return 0, nil
	}

	type victim struct {
		tier  types.Tier
		entry *types.CacheEntry
	}
	var victims []victim
	for _, t := range e.tiers() {
		for _, entry := range e.provider(t).Snapshot(ctx) {
			if m.match(entry) {
				victims = append(victims, victim{tier: t, entry: entry})
			}
		}
	}

	removed := make(map[string]struct{})
	for _, v := range victims {
		d, ok := e.provider(v.tier).(types.ConditionalDeleter)
		if !ok {
			continue
		}
		if d.DeleteIf(ctx, v.entry.Key, v.entry.SameGeneration) {
			removed[v.entry.Key] = struct{}{}
		}
	}

	n := len(removed)
	e.evictions.Add(uint64(n))
	e.recorder.RecordEvictions(metrics.ReasonInvalidated, n)
	e.ComputeStats(ctx)

	span.SetAttributes(
		attribute.Int("cache.matched", len(victims)),
		attribute.Int("cache.removed", n))
	e.recorder.RecordOperation("invalidate", e.clock().Sub(start), true)
	e.logger.Debug("invalidation complete", zap.Int("matched", len(victims)), zap.Int("removed", n))
	return n, nil
}

// tiers lists the configured tiers holding real data.
func (e *Engine) tiers() []types.Tier {
	if e.persistent != nil {
		return []types.Tier{types.TierMemory, types.TierPersistent}
	}
	return []types.Tier{types.TierMemory}
}
