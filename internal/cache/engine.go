package cache

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/transitbook/tiercache/internal/cleanup"
	"github.com/transitbook/tiercache/internal/compress"
	"github.com/transitbook/tiercache/internal/config"
	"github.com/transitbook/tiercache/internal/metrics"
	"github.com/transitbook/tiercache/internal/tier"
	"github.com/transitbook/tiercache/pkg/errors"
	"github.com/transitbook/tiercache/pkg/health"
	"github.com/transitbook/tiercache/pkg/types"
	"github.com/transitbook/tiercache/pkg/utils"
)

// Health components.
const (
	ComponentPersistence = "persistence"
	ComponentWarming     = "warming"
)

const tracerName = "github.com/transitbook/tiercache/internal/cache"

// Engine is a multi-tier cache. All methods are safe for concurrent use.
type Engine struct {
	cfg    *config.Configuration
	id     string
	logger *zap.Logger
	tracer trace.Tracer
	clock  func() time.Time

	recorder  metrics.Recorder
	collector *metrics.Collector
	health    *health.Tracker

	memory     *tier.Memory
	persistent *tier.Persistent
	network    tier.Network

	codec     compress.Compressor
	codecs    sync.Map // codec name -> compress.Compressor, for entries written with another codec
	threshold int64

	hits                atomic.Uint64
	misses              atomic.Uint64
	evictions           atomic.Uint64
	expirations         atomic.Uint64
	persistenceFailures atomic.Uint64
	loaderFailures      atomic.Uint64

	statsMu sync.RWMutex
	stats   types.CacheStats

	optimizeMu sync.Mutex
	sweeping   atomic.Bool
	loads      singleflight.Group
	scheduler  *cleanup.Scheduler
	closeOnce  sync.Once
	closeErr   error
}

// New builds an engine from cfg. A nil cfg uses config.NewDefault.
func New(cfg *config.Configuration, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.NewDefault()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o engineOptions
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		built, err := utils.NewLogger(cfg.Global.LogLevel, cfg.Global.LogFormat)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInvalidConfig, "failed to build logger").WithComponent("cache")
		}
		logger = built
	}
	clock := o.clock
	if clock == nil {
		clock = time.Now
	}

	id := uuid.NewString()
	e := &Engine{
		cfg:       cfg,
		id:        id,
		logger:    logger.With(zap.String("component", "cache"), zap.String("instance", id)),
		tracer:    otel.Tracer(tracerName),
		clock:     clock,
		network:   tier.NewNetwork(),
		threshold: cfg.CompressionThreshold(),
	}

	switch {
	case o.recorder != nil:
		e.recorder = o.recorder
	case cfg.Metrics.Enabled:
		collector, err := metrics.NewCollector(&metrics.Config{
			Enabled:   true,
			Namespace: cfg.Metrics.Namespace,
		})
		if err != nil {
			return nil, err
		}
		e.collector = collector
		e.recorder = collector
	default:
		e.recorder = metrics.Nop{}
	}

	if cfg.Compression.Enabled {
		e.codec = o.compressor
		if e.codec == nil {
			codec, err := compress.ByName(cfg.Compression.Algorithm)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeInvalidConfig, "invalid compression algorithm").
					WithComponent("cache")
			}
			e.codec = codec
		}
	}

	trackerCfg := health.DefaultConfig()
	trackerCfg.OnStateChange = func(component string, from, to health.HealthState, err error) {
		e.logger.Warn("component health changed",
			zap.String("health_component", component),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
			zap.Error(err))
	}
	e.health = health.NewTracker(trackerCfg)
	e.health.RegisterComponent(ComponentWarming)

	tierOpts := []tier.Option{tier.WithClock(clock), tier.WithLogger(logger)}
	e.memory = tier.NewMemory(tierOpts...)

	sub := o.substrate
	if sub == nil && cfg.Persistence.Enabled {
		opened, err := openSubstrate(context.Background(), cfg.Persistence, cfg.PersistenceMaxBytes())
		if err != nil {
			return nil, err
		}
		sub = opened
	}
	if sub != nil {
		e.persistent = tier.NewPersistent(sub, tier.PersistentConfig{
			Namespace: cfg.Persistence.Namespace,
			Retry:     cfg.Persistence.Retry,
			Breaker:   cfg.Persistence.Breaker,
		}, tierOpts...)
		e.health.RegisterComponent(ComponentPersistence)
	}

	e.scheduler = cleanup.NewScheduler(cleanup.SweepFunc(e.Sweep), cfg.Cache.CleanupInterval, e.logger)
	e.stats.ComputedAt = clock()

	e.logger.Debug("cache engine created",
		zap.Int("max_entries", cfg.Cache.MaxEntries),
		zap.Bool("persistence", e.persistent != nil),
		zap.Bool("compression", e.codec != nil))

	return e, nil
}

// ID returns the instance identifier attached to every log line.
func (e *Engine) ID() string {
	return e.id
}

// Config returns the engine configuration. It must not be modified.
func (e *Engine) Config() *config.Configuration {
	return e.cfg
}

// MetricsHandler serves the engine's Prometheus registry. It returns 404 when metrics are
// disabled or an external recorder was supplied.
func (e *Engine) MetricsHandler() http.Handler {
	if e.collector == nil {
		return http.NotFoundHandler()
	}
	return e.collector.Handler()
}

// HealthReport is the health of the engine's components.
type HealthReport struct {
	State      health.HealthState                 `json:"state"`
	Components map[string]*health.ComponentHealth `json:"components"`
}

// Health reports persistence and warming health. Persistence turns read-only after repeated
// refused writes and healthy again once writes succeed.
func (e *Engine) Health() HealthReport {
	return HealthReport{
		State:      e.health.GetOverallHealth(),
		Components: e.health.GetAllComponents(),
	}
}

// Start launches the background cleanup scheduler.
func (e *Engine) Start(ctx context.Context) error {
	return e.scheduler.Start(ctx)
}

// Close stops the scheduler and closes the persistence substrate.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.scheduler.Stop()
		if e.persistent != nil {
			e.closeErr = e.persistent.Close()
		}
		e.codecs.Range(func(_, c interface{}) bool {
			_ = compress.Release(c.(compress.Compressor))
			return true
		})
		if e.codec != nil {
			_ = compress.Release(e.codec)
		}
		_ = e.logger.Sync()
	})
	return e.closeErr
}

// provider returns the configured provider for t, or nil.
func (e *Engine) provider(t types.Tier) types.TierProvider {
	switch t {
	case types.TierMemory:
		return e.memory
	case types.TierPersistent:
		if e.persistent != nil {
			return e.persistent
		}
	case types.TierNetwork:
		return e.network
	}
	return nil
}

func (e *Engine) defaultGetOptions() getOptions {
	o := getOptions{primary: types.TierMemory, touch: true}
	if e.persistent != nil {
		o.fallbacks = []types.Tier{types.TierPersistent}
	}
	return o
}

// Get returns the live entry for key with its value decompressed. A fallback hit is promoted
// into the primary tier.
func (e *Engine) Get(ctx context.Context, key string, opts ...GetOption) (*types.CacheEntry, bool) {
	start := e.clock()
	o := e.defaultGetOptions()
	for _, opt := range opts {
		opt(&o)
	}

	entry, from, ok := e.lookup(ctx, key, o)
	if ok {
		e.hits.Add(1)
		e.recorder.RecordRequest(from, true)
	} else {
		e.misses.Add(1)
		e.recorder.RecordRequest(o.primary, false)
	}
	e.recorder.RecordOperation("get", e.clock().Sub(start), ok)
	return entry, ok
}

// lookup performs a read without touching the hit and miss counters.
func (e *Engine) lookup(ctx context.Context, key string, o getOptions) (*types.CacheEntry, types.Tier, bool) {
	if key == "" {
		return nil, o.primary, false
	}

	if entry, ok := e.read(ctx, o.primary, key, o.touch); ok {
		return entry, o.primary, true
	}

	for _, t := range o.fallbacks {
		if t == o.primary {
			continue
		}
		stored, ok := e.readRaw(ctx, t, key, o.touch)
		if !ok {
			continue
		}
		entry, ok := e.decode(ctx, t, stored)
		if !ok {
			continue
		}
		e.promote(ctx, o.primary, stored)
		return entry, t, true
	}

	return nil, o.primary, false
}

func (e *Engine) read(ctx context.Context, t types.Tier, key string, touch bool) (*types.CacheEntry, bool) {
	stored, ok := e.readRaw(ctx, t, key, touch)
	if !ok {
		return nil, false
	}
	return e.decode(ctx, t, stored)
}

func (e *Engine) readRaw(ctx context.Context, t types.Tier, key string, touch bool) (*types.CacheEntry, bool) {
	p := e.provider(t)
	if p == nil {
		return nil, false
	}
	if touch {
		if toucher, ok := p.(types.Toucher); ok {
			return toucher.Touch(ctx, key, e.clock())
		}
	}
	return p.Get(ctx, key)
}

// decode returns a copy of stored with its value decompressed. An entry that cannot be
// decompressed is removed from t and reported absent.
func (e *Engine) decode(ctx context.Context, t types.Tier, stored *types.CacheEntry) (*types.CacheEntry, bool) {
	out := stored.Clone()
	if !out.Compressed {
		return out, true
	}

	codec, err := e.codecFor(out.Codec)
	if err == nil {
		out.Value, err = codec.Decompress(stored.Value)
	}
	if err != nil {
		e.logger.Warn("failed to decompress entry",
			zap.String("key", stored.Key),
			zap.Stringer("tier", t),
			zap.Error(errors.Wrap(err, errors.ErrCodeCorruption, "decompression failed")))
		if d, ok := e.provider(t).(types.ConditionalDeleter); ok {
			d.DeleteIf(ctx, stored.Key, stored.SameGeneration)
		}
		return nil, false
	}

	out.Compressed = false
	out.Codec = ""
	return out, true
}

func (e *Engine) codecFor(name string) (compress.Compressor, error) {
	if e.codec != nil && e.codec.Name() == name {
		return e.codec, nil
	}
	if c, ok := e.codecs.Load(name); ok {
		return c.(compress.Compressor), nil
	}
	c, err := compress.ByName(name)
	if err != nil {
		return nil, err
	}
	actual, loaded := e.codecs.LoadOrStore(name, c)
	if loaded {
		_ = compress.Release(c)
	}
	return actual.(compress.Compressor), nil
}

// promote copies a stored entry into t, keeping its creation time and TTL.
func (e *Engine) promote(ctx context.Context, t types.Tier, stored *types.CacheEntry) {
	p := e.provider(t)
	if p == nil {
		return
	}
	if err := p.Set(ctx, stored.Key, stored); err != nil {
		e.logger.Debug("promotion failed", zap.String("key", stored.Key), zap.Stringer("tier", t), zap.Error(err))
		return
	}
	e.logger.Debug("entry promoted", zap.String("key", stored.Key), zap.Stringer("tier", t))
}

// Set stores value under key. Only invalid input is reported; persistence failures are logged
// and counted.
func (e *Engine) Set(ctx context.Context, key string, value interface{}, opts ...SetOption) error {
	start := e.clock()
	err := e.set(ctx, key, value, opts)
	e.recorder.RecordOperation("set", e.clock().Sub(start), err == nil)
	return err
}

func (e *Engine) set(ctx context.Context, key string, value interface{}, opts []SetOption) error {
	if key == "" {
		return errors.NewError(errors.ErrCodeValidationFailed, "key must not be empty").
			WithComponent("cache").WithOperation("set")
	}

	o := setOptions{tier: types.TierMemory}
	for _, opt := range opts {
		opt(&o)
	}

	ttl := o.ttl
	if !o.ttlSet {
		ttl = e.cfg.BaseTTL(o.category)
	}
	if ttl <= 0 {
		return errors.NewError(errors.ErrCodeValidationFailed, "ttl must be positive").
			WithComponent("cache").WithOperation("set").WithKey(key).WithDetail("ttl", ttl.String())
	}

	entry := types.NewEntry(key, nil, ttl, e.clock())
	entry.Tags = o.tags
	entry.Category = o.category
	entry.Metadata = o.metadata

	data, err := json.Marshal(value)
	if err != nil {
		e.logger.Warn("value is not serializable, keeping it in memory only",
			zap.String("key", key),
			zap.Error(errors.Wrap(err, errors.ErrCodeSerialization, "json encoding failed")))
		entry.Object = value
	} else {
		entry.Value = data
		entry.Size = int64(len(data))
		e.compressEntry(entry)
	}

	target := o.tier
	if target != types.TierMemory && (target != types.TierPersistent || e.persistent == nil || entry.Object != nil) {
		target = types.TierMemory
	}

	if target == types.TierPersistent {
		if err := e.persistent.Set(ctx, key, entry); err != nil {
			e.persistenceFailed(key, err)
			if err := e.memory.Set(ctx, key, entry); err != nil {
				return err
			}
			e.dropSuperseded(ctx, entry)
			return nil
		}
		e.health.RecordSuccess(ComponentPersistence)
		// A stale memory copy would shadow the new value.
		e.memory.Delete(ctx, key)
		return nil
	}

	if err := e.memory.Set(ctx, key, entry); err != nil {
		return err
	}
	if e.persistent == nil {
		return nil
	}
	if e.cfg.Persistence.WriteThrough && entry.Object == nil {
		err := e.persistent.Set(ctx, key, entry)
		if err == nil {
			e.health.RecordSuccess(ComponentPersistence)
			return nil
		}
		e.persistenceFailed(key, err)
	}
	e.dropSuperseded(ctx, entry)
	return nil
}

// dropSuperseded removes a persistent record older than entry, which now lives only in memory.
// Left in place it would be served again once the memory copy is evicted.
func (e *Engine) dropSuperseded(ctx context.Context, entry *types.CacheEntry) {
	older := func(cur *types.CacheEntry) bool {
		return !cur.CreatedAt.After(entry.CreatedAt)
	}
	if e.persistent.DeleteIf(ctx, entry.Key, older) {
		e.logger.Debug("dropped superseded persistent record", zap.String("key", entry.Key))
	}
}

// compressEntry compresses entry in place when its value exceeds the threshold. A codec failure
// leaves the value uncompressed.
func (e *Engine) compressEntry(entry *types.CacheEntry) bool {
	if e.codec == nil || entry.Compressed || entry.Object != nil || int64(len(entry.Value)) <= e.threshold {
		return false
	}

	out, err := e.codec.Compress(entry.Value)
	if err != nil {
		e.logger.Warn("compression failed, storing uncompressed",
			zap.String("key", entry.Key),
			zap.String("codec", e.codec.Name()),
			zap.Error(err))
		return false
	}

	entry.Value = out
	entry.Compressed = true
	entry.Codec = e.codec.Name()
	entry.Size = int64(len(out))
	return true
}

func (e *Engine) persistenceFailed(key string, err error) {
	e.persistenceFailures.Add(1)
	e.recorder.RecordPersistenceFailure(err)
	e.health.RecordError(ComponentPersistence, err)
	e.logger.Warn("persistent write failed", zap.String("key", key), zap.Error(err))
}

// Delete removes key from every tier and reports whether any tier held it.
func (e *Engine) Delete(ctx context.Context, key string) bool {
	removed := e.memory.Delete(ctx, key)
	if e.persistent != nil && e.persistent.Delete(ctx, key) {
		removed = true
	}
	return removed
}
