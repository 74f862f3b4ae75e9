package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/transitbook/tiercache/internal/cache"
	"github.com/transitbook/tiercache/pkg/types"
)

// LocationTTL is how long geocoding results are kept.
const LocationTTL = 10 * time.Minute

// Location is a geocoding result.
type Location struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address"`
	PlaceID string  `json:"place_id,omitempty"`
}

// GeocodeFunc and ReverseFunc resolve a query or coordinates on a cache miss.
type (
	GeocodeFunc func(ctx context.Context, query string) (Location, error)
	ReverseFunc func(ctx context.Context, lat, lng float64) (Location, error)
)

// LocationCache caches forward and reverse geocoding.
type LocationCache struct {
	cache *Cache[Location]
}

// NewLocationCache creates a location cache over engine.
func NewLocationCache(engine *cache.Engine) *LocationCache {
	return &LocationCache{cache: NewCache[Location](engine, types.CategoryLocationData, LocationTTL)}
}

// GeocodeKey returns the key for a forward geocoding query.
func GeocodeKey(query string) string {
	return "loc_" + Hash(Normalize(query))
}

// ReverseKey returns the key for coordinates rounded to four decimals (about 11 m).
func ReverseKey(lat, lng float64) string {
	return "loc_rev_" + Hash(fmt.Sprintf("%.4f,%.4f", lat, lng))
}

// Get returns the cached result for query.
func (c *LocationCache) Get(ctx context.Context, query string) (Location, bool, error) {
	return c.cache.Get(ctx, GeocodeKey(query))
}

// Set caches the result for query.
func (c *LocationCache) Set(ctx context.Context, query string, loc Location) error {
	return c.cache.Set(ctx, GeocodeKey(query), loc)
}

// Geocode returns the cached result for query or resolves it with fn.
func (c *LocationCache) Geocode(ctx context.Context, query string, fn GeocodeFunc) (Location, error) {
	return c.cache.GetOrLoad(ctx, GeocodeKey(query), func(ctx context.Context, _ string) (Location, error) {
		return fn(ctx, query)
	})
}

// GetReverse returns the cached result for the coordinates.
func (c *LocationCache) GetReverse(ctx context.Context, lat, lng float64) (Location, bool, error) {
	return c.cache.Get(ctx, ReverseKey(lat, lng))
}

// SetReverse caches the result for the coordinates.
func (c *LocationCache) SetReverse(ctx context.Context, lat, lng float64, loc Location) error {
	return c.cache.Set(ctx, ReverseKey(lat, lng), loc)
}

// Reverse returns the cached result for the coordinates or resolves it with fn.
func (c *LocationCache) Reverse(ctx context.Context, lat, lng float64, fn ReverseFunc) (Location, error) {
	return c.cache.GetOrLoad(ctx, ReverseKey(lat, lng), func(ctx context.Context, _ string) (Location, error) {
		return fn(ctx, lat, lng)
	})
}

// Clear removes every cached location.
func (c *LocationCache) Clear(ctx context.Context) (int, error) {
	return c.cache.Clear(ctx)
}
