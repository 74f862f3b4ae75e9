package tier

import (
	"context"
	"sync"
	"time"

	"github.com/transitbook/tiercache/pkg/errors"
	"github.com/transitbook/tiercache/pkg/types"
)

const shardCount = 32

type shard struct {
	mu    sync.RWMutex
	items map[string]*types.CacheEntry
}

// Memory is the in-process tier. Each shard lock is held for exactly one entry operation, so
// readers of one key never wait on a scan of the whole tier.
type Memory struct {
	shards [shardCount]*shard
	clock  func() time.Time
}

var (
	_ types.TierProvider       = (*Memory)(nil)
	_ types.Toucher            = (*Memory)(nil)
	_ types.Updater            = (*Memory)(nil)
	_ types.ConditionalDeleter = (*Memory)(nil)
	_ types.KeyLister          = (*Memory)(nil)
)

// NewMemory creates an empty memory tier.
func NewMemory(opts ...Option) *Memory {
	o := buildOptions(opts)
	m := &Memory{clock: o.clock}
	for i := range m.shards {
		m.shards[i] = &shard{items: make(map[string]*types.CacheEntry)}
	}
	return m
}

func (m *Memory) shardFor(key string) *shard {
	return m.shards[stripe(key, shardCount)]
}

// Tier returns types.TierMemory.
func (m *Memory) Tier() types.Tier {
	return types.TierMemory
}

// Get returns a copy of the live entry for key. An expired entry is removed.
func (m *Memory) Get(ctx context.Context, key string) (*types.CacheEntry, bool) {
	s := m.shardFor(key)
	now := m.clock()

	s.mu.RLock()
	e, ok := s.items[key]
	if ok && !e.IsExpired(now) {
		c := e.Clone()
		s.mu.RUnlock()
		return c, true
	}
	s.mu.RUnlock()

	if ok {
		m.DeleteIf(ctx, key, func(cur *types.CacheEntry) bool {
			return cur.IsExpired(now)
		})
	}
	return nil, false
}

// Touch records an access on the live entry for key and returns a copy of the updated entry.
func (m *Memory) Touch(_ context.Context, key string, now time.Time) (*types.CacheEntry, bool) {
	s := m.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.items[key]
	if !ok {
		return nil, false
	}
	if e.IsExpired(m.clock()) {
		delete(s.items, key)
		return nil, false
	}

	e.Touch(now)
	return e.Clone(), true
}

// Set stores a copy of entry under key, replacing any previous entry.
func (m *Memory) Set(_ context.Context, key string, entry *types.CacheEntry) error {
	if entry == nil {
		return errors.NewError(errors.ErrCodeValidationFailed, "nil entry").WithKey(key)
	}

	c := entry.Clone()
	c.Key = key
	c.Tier = types.TierMemory

	s := m.shardFor(key)
	s.mu.Lock()
	s.items[key] = c
	s.mu.Unlock()
	return nil
}

// Has reports whether a live entry exists for key.
func (m *Memory) Has(_ context.Context, key string) bool {
	s := m.shardFor(key)

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.items[key]
	return ok && !e.IsExpired(m.clock())
}

// Delete removes key and reports whether an entry was present.
func (m *Memory) Delete(_ context.Context, key string) bool {
	s := m.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.items[key]
	delete(s.items, key)
	return ok
}

// DeleteIf removes key only if pred holds for the stored entry, expired or not.
func (m *Memory) DeleteIf(_ context.Context, key string, pred func(e *types.CacheEntry) bool) bool {
	s := m.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.items[key]
	if !ok || !pred(e.Clone()) {
		return false
	}
	delete(s.items, key)
	return true
}

// Update applies fn to a copy of the live entry and stores the copy if fn returns true.
func (m *Memory) Update(_ context.Context, key string, fn func(e *types.CacheEntry) bool) bool {
	s := m.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.items[key]
	if !ok || e.IsExpired(m.clock()) {
		return false
	}

	c := e.Clone()
	if !fn(c) {
		return false
	}
	c.Key = key
	c.Tier = types.TierMemory
	s.items[key] = c
	return true
}

// Keys returns every stored key, including expired entries not yet removed.
func (m *Memory) Keys(_ context.Context) []string {
	var keys []string
	for _, s := range m.shards {
		s.mu.RLock()
		for k := range s.items {
			keys = append(keys, k)
		}
		s.mu.RUnlock()
	}
	return keys
}

// Snapshot returns copies of all live entries. Shards are visited one at a time.
func (m *Memory) Snapshot(_ context.Context) []*types.CacheEntry {
	now := m.clock()
	var out []*types.CacheEntry
	for _, s := range m.shards {
		s.mu.RLock()
		for _, e := range s.items {
			if !e.IsExpired(now) {
				out = append(out, e.Clone())
			}
		}
		s.mu.RUnlock()
	}
	return out
}

// Len returns the number of live entries.
func (m *Memory) Len(_ context.Context) int {
	now := m.clock()
	n := 0
	for _, s := range m.shards {
		s.mu.RLock()
		for _, e := range s.items {
			if !e.IsExpired(now) {
				n++
			}
		}
		s.mu.RUnlock()
	}
	return n
}

// Stored returns the number of stored entries, including expired ones not yet removed.
func (m *Memory) Stored() int {
	n := 0
	for _, s := range m.shards {
		s.mu.RLock()
		n += len(s.items)
		s.mu.RUnlock()
	}
	return n
}

// Clear removes every entry.
func (m *Memory) Clear() {
	for _, s := range m.shards {
		s.mu.Lock()
		s.items = make(map[string]*types.CacheEntry)
		s.mu.Unlock()
	}
}
