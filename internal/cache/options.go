package cache

import (
	"time"

	"go.uber.org/zap"

	"github.com/transitbook/tiercache/internal/compress"
	"github.com/transitbook/tiercache/internal/metrics"
	"github.com/transitbook/tiercache/pkg/types"
)

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	logger     *zap.Logger
	clock      func() time.Time
	recorder   metrics.Recorder
	substrate  types.Substrate
	compressor compress.Compressor
}

// WithLogger sets the logger. By default one is built from the global configuration.
func WithLogger(logger *zap.Logger) Option {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

// WithClock sets the time source used for expiry and access tracking.
func WithClock(clock func() time.Time) Option {
	return func(o *engineOptions) {
		o.clock = clock
	}
}

// WithRecorder replaces the metrics collector built from configuration.
func WithRecorder(recorder metrics.Recorder) Option {
	return func(o *engineOptions) {
		o.recorder = recorder
	}
}

// WithSubstrate backs the persistent tier with sub instead of the configured backend.
// The persistent tier is enabled even if the configuration disables it.
func WithSubstrate(sub types.Substrate) Option {
	return func(o *engineOptions) {
		o.substrate = sub
	}
}

// WithCompressor replaces the configured compression codec.
func WithCompressor(c compress.Compressor) Option {
	return func(o *engineOptions) {
		o.compressor = c
	}
}

// GetOption configures a single Get.
type GetOption func(*getOptions)

type getOptions struct {
	primary   types.Tier
	fallbacks []types.Tier
	touch     bool
}

// WithPrimaryTier sets the tier consulted first. Defaults to memory.
func WithPrimaryTier(t types.Tier) GetOption {
	return func(o *getOptions) {
		o.primary = t
	}
}

// WithFallbackTiers sets the tiers consulted, in order, after a primary miss.
// Calling it with no tiers disables fallback.
func WithFallbackTiers(tiers ...types.Tier) GetOption {
	return func(o *getOptions) {
		o.fallbacks = append([]types.Tier(nil), tiers...)
	}
}

// WithoutAccessUpdate leaves AccessCount and LastAccessedAt untouched.
func WithoutAccessUpdate() GetOption {
	return func(o *getOptions) {
		o.touch = false
	}
}

// SetOption configures a single Set.
type SetOption func(*setOptions)

type setOptions struct {
	ttl      time.Duration
	ttlSet   bool
	tier     types.Tier
	tags     []string
	category types.Category
	metadata map[string]string
}

// WithTTL sets the entry TTL. Without it the category base TTL applies.
func WithTTL(ttl time.Duration) SetOption {
	return func(o *setOptions) {
		o.ttl = ttl
		o.ttlSet = true
	}
}

// WithTier sets the tier the entry is written to. Defaults to memory.
func WithTier(t types.Tier) SetOption {
	return func(o *setOptions) {
		o.tier = t
	}
}

// WithTags attaches tags for bulk invalidation.
func WithTags(tags ...string) SetOption {
	return func(o *setOptions) {
		o.tags = append(o.tags, tags...)
	}
}

// WithCategory sets the category.
func WithCategory(c types.Category) SetOption {
	return func(o *setOptions) {
		o.category = c
	}
}

// WithMetadata attaches caller metadata.
func WithMetadata(md map[string]string) SetOption {
	return func(o *setOptions) {
		if o.metadata == nil {
			o.metadata = make(map[string]string, len(md))
		}
		for k, v := range md {
			o.metadata[k] = v
		}
	}
}
