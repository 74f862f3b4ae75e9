package types

import (
	"fmt"
	"strings"
	"time"
)

// Tier identifies a storage backend.
type Tier int

const (
	TierMemory Tier = iota
	TierPersistent
	TierNetwork
)

// AllTiers lists tiers from fastest to slowest.
var AllTiers = []Tier{TierMemory, TierPersistent, TierNetwork}

// String returns the tier name.
func (t Tier) String() string {
	switch t {
	case TierMemory:
		return "memory"
	case TierPersistent:
		return "persistent"
	case TierNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// ParseTier parses a tier name.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "memory":
		return TierMemory, nil
	case "persistent":
		return TierPersistent, nil
	case "network":
		return TierNetwork, nil
	default:
		return TierMemory, fmt.Errorf("unknown tier: %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tier) UnmarshalText(b []byte) error {
	parsed, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Category is a coarse classification that drives default TTL policy.
type Category string

const (
	CategoryPricingData   Category = "pricing_data"
	CategoryLocationData  Category = "location_data"
	CategoryRouteData     Category = "route_data"
	CategoryBookingData   Category = "booking_data"
	CategoryDriverData    Category = "driver_data"
	CategoryUserData      Category = "user_data"
	CategoryStaticContent Category = "static_content"
	CategoryAPIResponse   Category = "api_response"
)

// Priority scales the TTL of warmed entries.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Multiplier returns the TTL multiplier for the priority. Unknown priorities count as medium.
func (p Priority) Multiplier() float64 {
	switch p {
	case PriorityLow:
		return 0.5
	case PriorityHigh:
		return 2
	default:
		return 1
	}
}

// CacheEntry is the record stored per key in a tier.
type CacheEntry struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`

	// Object holds a value that could not be JSON encoded. Such entries live in memory only.
	Object interface{} `json:"-"`

	CreatedAt      time.Time     `json:"created_at"`
	TTL            time.Duration `json:"ttl"`
	ExpiresAt      time.Time     `json:"expires_at"`
	AccessCount    int64         `json:"access_count"`
	LastAccessedAt time.Time     `json:"last_accessed_at"`
	AdaptedAtCount int64         `json:"adapted_at_count,omitempty"`

	Compressed bool   `json:"compressed"`
	Codec      string `json:"codec,omitempty"`
	Size       int64  `json:"size"`

	Tags     []string          `json:"tags,omitempty"`
	Category Category          `json:"category,omitempty"`
	Tier     Tier              `json:"tier"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NewEntry builds an entry created at now with the given ttl.
func NewEntry(key string, value []byte, ttl time.Duration, now time.Time) *CacheEntry {
	return &CacheEntry{
		Key:            key,
		Value:          value,
		CreatedAt:      now,
		TTL:            ttl,
		ExpiresAt:      now.Add(ttl),
		LastAccessedAt: now,
		Size:           int64(len(value)),
	}
}

// IsExpired reports whether now is past CreatedAt+TTL.
func (e *CacheEntry) IsExpired(now time.Time) bool {
	return now.After(e.CreatedAt.Add(e.TTL))
}

// Remaining returns the time left before expiry, never negative.
func (e *CacheEntry) Remaining(now time.Time) time.Duration {
	left := e.CreatedAt.Add(e.TTL).Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// SetTTL changes the TTL and keeps ExpiresAt in sync.
func (e *CacheEntry) SetTTL(ttl time.Duration) {
	e.TTL = ttl
	e.ExpiresAt = e.CreatedAt.Add(ttl)
}

// Touch records a read.
func (e *CacheEntry) Touch(now time.Time) {
	e.AccessCount++
	e.LastAccessedAt = now
}

// HasTag reports whether the entry carries tag.
func (e *CacheEntry) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// SameGeneration reports whether other was produced by the same Set as e.
func (e *CacheEntry) SameGeneration(other *CacheEntry) bool {
	return other != nil && e.Key == other.Key && e.CreatedAt.Equal(other.CreatedAt)
}

// Clone returns a deep copy. Object is shared because it is never mutated by the cache.
func (e *CacheEntry) Clone() *CacheEntry {
	if e == nil {
		return nil
	}
	c := *e
	if e.Value != nil {
		c.Value = append([]byte(nil), e.Value...)
	}
	if e.Tags != nil {
		c.Tags = append([]string(nil), e.Tags...)
	}
	if e.Metadata != nil {
		c.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// CacheStats is the aggregate view of the cache.
type CacheStats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`

	EntryCount int   `json:"entry_count"`
	TotalSize  int64 `json:"total_size"`

	OldestEntry time.Time `json:"oldest_entry,omitempty"`
	NewestEntry time.Time `json:"newest_entry,omitempty"`

	Evictions           uint64 `json:"evictions"`
	Expirations         uint64 `json:"expirations"`
	PersistenceFailures uint64 `json:"persistence_failures"`
	LoaderFailures      uint64 `json:"loader_failures"`

	ComputedAt time.Time `json:"computed_at"`
}

// Requests returns hits plus misses.
func (s CacheStats) Requests() uint64 {
	return s.Hits + s.Misses
}
