package tier

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/transitbook/tiercache/internal/circuit"
	"github.com/transitbook/tiercache/pkg/errors"
	"github.com/transitbook/tiercache/pkg/retry"
	"github.com/transitbook/tiercache/pkg/types"
)

const lockStripes = 64

// PersistentConfig configures the persistent tier.
type PersistentConfig struct {
	// Namespace prefixes every substrate key.
	Namespace string
	Retry     retry.Config
	Breaker   circuit.Config
}

// Persistent stores JSON-encoded entries in a Substrate. Operations on one key are serialized by
// a striped lock; different keys proceed in parallel.
type Persistent struct {
	sub       types.Substrate
	namespace string
	locks     [lockStripes]sync.Mutex
	retryer   *retry.Retryer
	breaker   *circuit.Breaker
	clock     func() time.Time
	logger    *zap.Logger
}

var (
	_ types.TierProvider       = (*Persistent)(nil)
	_ types.Toucher            = (*Persistent)(nil)
	_ types.Updater            = (*Persistent)(nil)
	_ types.ConditionalDeleter = (*Persistent)(nil)
	_ types.KeyLister          = (*Persistent)(nil)
)

// NewPersistent creates a persistent tier over sub.
func NewPersistent(sub types.Substrate, config PersistentConfig, opts ...Option) *Persistent {
	o := buildOptions(opts)
	if config.Namespace == "" {
		config.Namespace = "tiercache:"
	}

	logger := o.logger.With(zap.String("component", "tier.persistent"))
	breakerCfg := config.Breaker
	breakerCfg.OnStateChange = func(name string, from, to circuit.State) {
		logger.Warn("persistence breaker changed state",
			zap.String("from", from.String()),
			zap.String("to", to.String()))
	}

	return &Persistent{
		sub:       sub,
		namespace: config.Namespace,
		retryer:   retry.New(config.Retry),
		breaker:   circuit.NewBreaker("persistent", breakerCfg),
		clock:     o.clock,
		logger:    logger,
	}
}

// Tier returns types.TierPersistent.
func (p *Persistent) Tier() types.Tier {
	return types.TierPersistent
}

// Breaker exposes the write breaker.
func (p *Persistent) Breaker() *circuit.Breaker {
	return p.breaker
}

func (p *Persistent) lock(key string) func() {
	mu := &p.locks[stripe(key, lockStripes)]
	mu.Lock()
	return mu.Unlock
}

// Get returns the live entry for key. Expired and undecodable records are deleted.
func (p *Persistent) Get(ctx context.Context, key string) (*types.CacheEntry, bool) {
	defer p.lock(key)()

	e, ok := p.load(ctx, key)
	if !ok {
		return nil, false
	}
	if e.IsExpired(p.clock()) {
		p.remove(ctx, key)
		return nil, false
	}
	return e, true
}

// Set writes entry under key. Failures are reported as STORAGE_FULL with the substrate error
// as cause; the entry is then simply absent from this tier.
func (p *Persistent) Set(ctx context.Context, key string, entry *types.CacheEntry) error {
	if entry == nil {
		return errors.NewError(errors.ErrCodeValidationFailed, "nil entry").WithKey(key)
	}
	if entry.Object != nil {
		return errors.NewError(errors.ErrCodeSerialization, "entry holds a value that cannot be persisted").
			WithComponent("tier.persistent").WithKey(key)
	}

	defer p.lock(key)()
	return p.store(ctx, key, entry)
}

// Has reports whether a live entry exists for key.
func (p *Persistent) Has(ctx context.Context, key string) bool {
	_, ok := p.Get(ctx, key)
	return ok
}

// Delete removes key and reports whether a record was present.
func (p *Persistent) Delete(ctx context.Context, key string) bool {
	defer p.lock(key)()

	if _, ok := p.load(ctx, key); !ok {
		return false
	}
	return p.remove(ctx, key)
}

// DeleteIf removes key only if pred holds for the stored entry.
func (p *Persistent) DeleteIf(ctx context.Context, key string, pred func(e *types.CacheEntry) bool) bool {
	defer p.lock(key)()

	e, ok := p.load(ctx, key)
	if !ok || !pred(e) {
		return false
	}
	return p.remove(ctx, key)
}

// Touch records an access and writes the entry back. A failed write-back still returns the entry.
func (p *Persistent) Touch(ctx context.Context, key string, now time.Time) (*types.CacheEntry, bool) {
	defer p.lock(key)()

	e, ok := p.load(ctx, key)
	if !ok {
		return nil, false
	}
	if e.IsExpired(p.clock()) {
		p.remove(ctx, key)
		return nil, false
	}

	e.Touch(now)
	if err := p.store(ctx, key, e); err != nil {
		p.logger.Debug("failed to record access", zap.String("key", key), zap.Error(err))
	}
	return e.Clone(), true
}

// Update applies fn to the live entry and writes it back if fn returns true.
func (p *Persistent) Update(ctx context.Context, key string, fn func(e *types.CacheEntry) bool) bool {
	defer p.lock(key)()

	e, ok := p.load(ctx, key)
	if !ok || e.IsExpired(p.clock()) {
		return false
	}
	if !fn(e) {
		return false
	}
	return p.store(ctx, key, e) == nil
}

// Keys returns the cache keys present in the substrate.
func (p *Persistent) Keys(ctx context.Context) []string {
	raw, err := p.sub.Keys(ctx, p.namespace)
	if err != nil {
		p.logger.Warn("failed to list keys", zap.Error(err))
		return nil
	}

	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		keys = append(keys, strings.TrimPrefix(k, p.namespace))
	}
	return keys
}

// Snapshot returns all live entries. Keys are read one at a time.
func (p *Persistent) Snapshot(ctx context.Context) []*types.CacheEntry {
	var out []*types.CacheEntry
	for _, key := range p.Keys(ctx) {
		if ctx.Err() != nil {
			break
		}
		if e, ok := p.Get(ctx, key); ok {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of live entries.
func (p *Persistent) Len(ctx context.Context) int {
	return len(p.Snapshot(ctx))
}

// Close closes the substrate.
func (p *Persistent) Close() error {
	return p.sub.Close()
}

// load must be called with the key's lock held. It returns expired entries too.
func (p *Persistent) load(ctx context.Context, key string) (*types.CacheEntry, bool) {
	data, err := p.sub.Get(ctx, p.namespace+key)
	if err != nil {
		if !errors.IsNotFound(err) {
			if errors.HasCode(err, errors.ErrCodeCorruption) {
				p.logger.Warn("corrupt persistent record removed", zap.String("key", key), zap.Error(err))
				p.remove(ctx, key)
			} else {
				p.logger.Warn("persistent read failed", zap.String("key", key), zap.Error(err))
			}
		}
		return nil, false
	}

	var e types.CacheEntry
	if err := json.Unmarshal(data, &e); err != nil || e.Key != key || e.TTL <= 0 {
		p.logger.Warn("corrupt persistent record removed",
			zap.String("key", key),
			zap.Error(errors.NewError(errors.ErrCodeCorruption, "record failed to decode").WithCause(err)))
		p.remove(ctx, key)
		return nil, false
	}

	e.Tier = types.TierPersistent
	return &e, true
}

// store must be called with the key's lock held.
func (p *Persistent) store(ctx context.Context, key string, entry *types.CacheEntry) error {
	rec := entry.Clone()
	rec.Key = key
	rec.Tier = types.TierPersistent

	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode entry").WithKey(key)
	}

	err = p.breaker.Execute(func() error {
		return p.retryer.DoWithContext(ctx, func(ctx context.Context) error {
			return p.sub.Set(ctx, p.namespace+key, data)
		})
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageFull, "persistent write failed").
			WithComponent("tier.persistent").
			WithKey(key)
	}
	return nil
}

// remove must be called with the key's lock held.
func (p *Persistent) remove(ctx context.Context, key string) bool {
	err := p.retryer.DoWithContext(ctx, func(ctx context.Context) error {
		return p.sub.Delete(ctx, p.namespace+key)
	})
	if err != nil {
		p.logger.Warn("persistent delete failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}
