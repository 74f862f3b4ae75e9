package domain

import (
	"context"
	"time"

	"github.com/transitbook/tiercache/internal/cache"
	"github.com/transitbook/tiercache/pkg/types"
)

// Cache is a typed view of an engine bound to one category and TTL.
type Cache[T any] struct {
	engine   *cache.Engine
	category types.Category
	ttl      time.Duration
}

// NewCache creates a typed cache. A non-positive ttl uses the engine's category TTL.
func NewCache[T any](engine *cache.Engine, category types.Category, ttl time.Duration) *Cache[T] {
	if ttl <= 0 {
		ttl = engine.Config().BaseTTL(category)
	}
	return &Cache[T]{engine: engine, category: category, ttl: ttl}
}

// TTL returns the TTL applied to writes.
func (c *Cache[T]) TTL() time.Duration {
	return c.ttl
}

// Get returns the value stored under key.
func (c *Cache[T]) Get(ctx context.Context, key string) (T, bool, error) {
	return cache.GetAs[T](ctx, c.engine, key)
}

// Set stores v under key. Extra options are applied after the category and TTL.
func (c *Cache[T]) Set(ctx context.Context, key string, v T, opts ...cache.SetOption) error {
	return c.engine.Set(ctx, key, v, c.setOptions(opts)...)
}

// GetOrLoad returns the cached value or loads and stores it. Concurrent loads of one key are
// collapsed.
func (c *Cache[T]) GetOrLoad(ctx context.Context, key string, loader func(ctx context.Context, key string) (T, error), opts ...cache.SetOption) (T, error) {
	return cache.GetOrLoad(ctx, c.engine, key, loader, c.setOptions(opts)...)
}

// Delete removes key.
func (c *Cache[T]) Delete(ctx context.Context, key string) bool {
	return c.engine.Delete(ctx, key)
}

// Clear removes every entry of the cache's category.
func (c *Cache[T]) Clear(ctx context.Context) (int, error) {
	return c.engine.Invalidate(ctx, cache.Criteria{Category: c.category})
}

func (c *Cache[T]) setOptions(extra []cache.SetOption) []cache.SetOption {
	opts := make([]cache.SetOption, 0, len(extra)+2)
	opts = append(opts, cache.WithCategory(c.category), cache.WithTTL(c.ttl))
	return append(opts, extra...)
}
