package domain

import (
	"context"
	"time"

	"github.com/transitbook/tiercache/internal/cache"
	"github.com/transitbook/tiercache/pkg/types"
)

// PricingTTL is how long a quote is served from cache.
const PricingTTL = 3 * time.Minute

// Quote is a price for one route and service level.
type Quote struct {
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	Service     string `json:"service"`
	// Amount is in minor currency units.
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// QuoteFunc computes a quote on a cache miss.
type QuoteFunc func(ctx context.Context, origin, destination, service string) (Quote, error)

// PricingCache caches quotes per route and service.
type PricingCache struct {
	cache *Cache[Quote]
}

// NewPricingCache creates a pricing cache over engine.
func NewPricingCache(engine *cache.Engine) *PricingCache {
	return &PricingCache{cache: NewCache[Quote](engine, types.CategoryPricingData, PricingTTL)}
}

// PriceKey returns the key for a route and service.
func PriceKey(origin, destination, service string) string {
	return "price_" + Hash(Normalize(origin), Normalize(destination), Normalize(service))
}

// RouteTag returns the tag shared by every quote of a route.
func RouteTag(origin, destination string) string {
	return "route:" + Normalize(origin) + ":" + Normalize(destination)
}

// Get returns the cached quote.
func (c *PricingCache) Get(ctx context.Context, origin, destination, service string) (Quote, bool, error) {
	return c.cache.Get(ctx, PriceKey(origin, destination, service))
}

// Set caches q under its route and service.
func (c *PricingCache) Set(ctx context.Context, q Quote) error {
	return c.cache.Set(ctx, PriceKey(q.Origin, q.Destination, q.Service), q,
		cache.WithTags(RouteTag(q.Origin, q.Destination)))
}

// Quote returns the cached quote or computes it with fn.
func (c *PricingCache) Quote(ctx context.Context, origin, destination, service string, fn QuoteFunc) (Quote, error) {
	key := PriceKey(origin, destination, service)
	return c.cache.GetOrLoad(ctx, key, func(ctx context.Context, _ string) (Quote, error) {
		return fn(ctx, origin, destination, service)
	}, cache.WithTags(RouteTag(origin, destination)))
}

// InvalidateRoute removes every quote of the route regardless of service level.
func (c *PricingCache) InvalidateRoute(ctx context.Context, origin, destination string) (int, error) {
	return c.cache.engine.Invalidate(ctx, cache.Criteria{Tags: []string{RouteTag(origin, destination)}})
}

// Clear removes every cached quote.
func (c *PricingCache) Clear(ctx context.Context) (int, error) {
	return c.cache.Clear(ctx)
}
