// Package tier provides the storage tiers behind the cache engine.
package tier

import (
	"hash/fnv"
	"time"

	"go.uber.org/zap"
)

// Option configures a tier.
type Option func(*options)

type options struct {
	clock  func() time.Time
	logger *zap.Logger
}

// WithClock sets the time source used for lazy expiry.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{clock: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// stripe maps key onto one of n buckets with FNV-1a.
func stripe(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}
