package types

import (
	"context"
	"time"
)

// TierProvider is a storage backend for cache entries.
type TierProvider interface {
	Tier() Tier
	// Get returns a live entry. Expired entries are removed and reported absent.
	Get(ctx context.Context, key string) (*CacheEntry, bool)
	Set(ctx context.Context, key string, entry *CacheEntry) error
	Has(ctx context.Context, key string) bool
	Delete(ctx context.Context, key string) bool
	// Snapshot returns copies of all live entries.
	Snapshot(ctx context.Context) []*CacheEntry
	Len(ctx context.Context) int
}

// Toucher is implemented by tiers that can read and record the access atomically.
type Toucher interface {
	Touch(ctx context.Context, key string, now time.Time) (*CacheEntry, bool)
}

// Updater is implemented by tiers that support atomic read-modify-write of one entry.
// fn receives a copy of the live entry and returns false to leave it unchanged.
type Updater interface {
	Update(ctx context.Context, key string, fn func(e *CacheEntry) bool) bool
}

// ConditionalDeleter is implemented by tiers that can delete an entry only while pred holds.
type ConditionalDeleter interface {
	DeleteIf(ctx context.Context, key string, pred func(e *CacheEntry) bool) bool
}

// KeyLister is implemented by tiers that can enumerate keys without copying entries.
type KeyLister interface {
	Keys(ctx context.Context) []string
}

// Substrate is the key/value store backing the persistent tier.
type Substrate interface {
	// Get returns an error with code NOT_FOUND when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Loader produces the value for key on a cache miss.
type Loader func(ctx context.Context, key string) (interface{}, error)
