package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/transitbook/tiercache/internal/compress"
	"github.com/transitbook/tiercache/internal/config"
	"github.com/transitbook/tiercache/internal/storage/filestore"
	"github.com/transitbook/tiercache/pkg/errors"
	"github.com/transitbook/tiercache/pkg/health"
	"github.com/transitbook/tiercache/pkg/types"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testConfig() *config.Configuration {
	cfg := config.NewDefault()
	cfg.Metrics.Enabled = false
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Configuration, opts ...Option) (*Engine, *manualClock) {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	clock := newManualClock()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t)), WithClock(clock.Now)}, opts...)

	e, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e, clock
}

func newFileSubstrate(t *testing.T, dir string) *filestore.Store {
	t.Helper()
	s, err := filestore.New(filestore.Config{Directory: dir})
	require.NoError(t, err)
	return s
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.MaxEntries = 0

	_, err := New(cfg, WithLogger(zap.NewNop()))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidConfig))
}

func TestNew_ConfiguredBackends(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name   string
		mutate func(p *config.PersistenceConfig)
	}{
		{
			name: "file",
			mutate: func(p *config.PersistenceConfig) {
				p.Backend = config.BackendFile
				p.Directory = t.TempDir()
			},
		},
		{
			name: "sqlite",
			mutate: func(p *config.PersistenceConfig) {
				p.Backend = config.BackendSQLite
				p.DSN = ":memory:"
			},
		},
		{
			name: "redis",
			mutate: func(p *config.PersistenceConfig) {
				p.Backend = config.BackendRedis
				p.Addr = mr.Addr()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Persistence.Enabled = true
			tt.mutate(&cfg.Persistence)

			e, _ := newTestEngine(t, cfg)
			ctx := context.Background()

			require.NoError(t, e.Set(ctx, "booking_42", "confirmed"))
			require.True(t, e.persistent.Has(ctx, "booking_42"), "write-through reaches the substrate")

			e.memory.Clear()
			v, ok, err := GetAs[string](ctx, e, "booking_42")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "confirmed", v)
		})
	}
}

func TestEngine_MissCounting(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()

	_, ok := e.Get(ctx, "never_set")
	assert.False(t, ok)
	assert.Equal(t, uint64(1), e.Stats().Misses)
	assert.Equal(t, uint64(0), e.Stats().Hits)

	_, ok = e.Get(ctx, "")
	assert.False(t, ok)
	assert.Equal(t, uint64(2), e.Stats().Misses)
}

func TestEngine_SetGetAndLazyExpiry(t *testing.T) {
	e, clock := newTestEngine(t, nil)
	ctx := context.Background()

	require.NoError(t, e.Set(ctx, "driver_7", map[string]float64{"lat": 59.33, "lng": 18.06}, WithTTL(10*time.Second)))

	entry, ok := e.Get(ctx, "driver_7")
	require.True(t, ok)
	assert.JSONEq(t, `{"lat":59.33,"lng":18.06}`, string(entry.Value))
	assert.Equal(t, int64(1), entry.AccessCount)
	assert.Equal(t, uint64(1), e.Stats().Hits)

	clock.Advance(10 * time.Second)
	_, ok = e.Get(ctx, "driver_7")
	assert.True(t, ok, "entry is live exactly at its deadline")

	clock.Advance(time.Nanosecond)
	_, ok = e.Get(ctx, "driver_7")
	assert.False(t, ok)
	assert.Equal(t, 0, e.memory.Stored(), "expired entry removed on read without a sweep")
	assert.Equal(t, uint64(2), e.Stats().Hits)
	assert.Equal(t, uint64(1), e.Stats().Misses)
}

func TestEngine_HitThenExpiryProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		key := rapid.StringMatching(`[a-z_]{1,24}`).Draw(rt, "key")
		value := rapid.String().Draw(rt, "value")
		ttl := time.Duration(rapid.Int64Range(1, int64(time.Hour)).Draw(rt, "ttl"))

		clock := newManualClock()
		e, err := New(testConfig(), WithLogger(zap.NewNop()), WithClock(clock.Now))
		if err != nil {
			rt.Fatalf("New: %v", err)
		}
		ctx := context.Background()

		if err := e.Set(ctx, key, value, WithTTL(ttl)); err != nil {
			rt.Fatalf("Set: %v", err)
		}
		got, ok, err := GetAs[string](ctx, e, key)
		if err != nil || !ok || got != value {
			rt.Fatalf("GetAs = %q, %v, %v; want %q", got, ok, err, value)
		}
		if e.Stats().Hits != 1 {
			rt.Fatalf("hits = %d", e.Stats().Hits)
		}

		clock.Advance(ttl + time.Nanosecond)
		if _, ok := e.Get(ctx, key); ok {
			rt.Fatalf("entry %q still live after ttl %v", key, ttl)
		}
	})
}

func TestEngine_CompressionRoundTrip(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()

	type route struct {
		Origin      string `json:"origin"`
		Destination string `json:"destination"`
		Polyline    string `json:"polyline"`
	}
	value := route{Origin: "STHLM", Destination: "GBG", Polyline: strings.Repeat("a1b2c3", 1000)}
	encoded, err := json.Marshal(value)
	require.NoError(t, err)

	require.NoError(t, e.Set(ctx, "route_sthlm_gbg", value, WithCategory(types.CategoryRouteData)))

	stored, ok := e.memory.Get(ctx, "route_sthlm_gbg")
	require.True(t, ok)
	assert.True(t, stored.Compressed)
	assert.Equal(t, "gzip", stored.Codec)
	assert.Less(t, stored.Size, int64(len(encoded)))

	entry, ok := e.Get(ctx, "route_sthlm_gbg")
	require.True(t, ok)
	assert.False(t, entry.Compressed)
	assert.Equal(t, encoded, entry.Value)

	got, ok, err := GetAs[route](ctx, e, "route_sthlm_gbg")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, value, got)
}

func TestEngine_CompressionProperty(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()

	rapid.Check(t, func(rt *rapid.T) {
		value := rapid.SliceOfN(rapid.String(), 0, 400).Draw(rt, "value")

		if err := e.Set(ctx, "payload", value); err != nil {
			rt.Fatalf("Set: %v", err)
		}
		got, ok, err := GetAs[[]string](ctx, e, "payload")
		if err != nil || !ok {
			rt.Fatalf("GetAs: %v %v", ok, err)
		}
		if len(got) != len(value) {
			rt.Fatalf("got %d items, want %d", len(got), len(value))
		}
		for i := range value {
			if got[i] != value[i] {
				rt.Fatalf("item %d = %q, want %q", i, got[i], value[i])
			}
		}
	})
}

func TestEngine_CorruptCompressedEntryIsMiss(t *testing.T) {
	e, clock := newTestEngine(t, nil)
	ctx := context.Background()

	bad := types.NewEntry("api_weather", []byte("not gzip"), time.Minute, clock.Now())
	bad.Compressed = true
	bad.Codec = "gzip"
	require.NoError(t, e.memory.Set(ctx, "api_weather", bad))

	_, ok := e.Get(ctx, "api_weather")
	assert.False(t, ok)
	assert.False(t, e.memory.Has(ctx, "api_weather"))
}

func TestEngine_SetValidation(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		key  string
		opts []SetOption
	}{
		{name: "empty key", key: ""},
		{name: "zero ttl", key: "k", opts: []SetOption{WithTTL(0)}},
		{name: "negative ttl", key: "k", opts: []SetOption{WithTTL(-time.Second)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.Set(ctx, tt.key, 1, tt.opts...)
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, errors.ErrCodeValidationFailed))
		})
	}
}

func TestEngine_CategoryTTL(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()

	require.NoError(t, e.Set(ctx, "price_a", 1, WithCategory(types.CategoryPricingData)))
	require.NoError(t, e.Set(ctx, "misc", 1))

	entry, ok := e.Get(ctx, "price_a", WithoutAccessUpdate())
	require.True(t, ok)
	assert.Equal(t, 3*time.Minute, entry.TTL)
	assert.Equal(t, entry.CreatedAt.Add(3*time.Minute), entry.ExpiresAt)
	assert.Equal(t, int64(0), entry.AccessCount)

	entry, ok = e.Get(ctx, "misc")
	require.True(t, ok)
	assert.Equal(t, 5*time.Minute, entry.TTL)
}

func TestEngine_UnserializableValueStaysInMemory(t *testing.T) {
	e, _ := newTestEngine(t, nil, WithSubstrate(newFileSubstrate(t, t.TempDir())))
	ctx := context.Background()

	ch := make(chan int)
	require.NoError(t, e.Set(ctx, "notify_channel", ch))

	got, ok, err := GetAs[chan int](ctx, e, "notify_channel")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ch, got)
	assert.False(t, e.persistent.Has(ctx, "notify_channel"))

	_, _, err = GetAs[string](ctx, e, "notify_channel")
	assert.True(t, errors.HasCode(err, errors.ErrCodeSerialization))
}

// failingSubstrate accepts the first allow writes and refuses the rest with QUOTA_EXCEEDED.
type failingSubstrate struct {
	types.Substrate
	allow  int
	writes int
}

func (f *failingSubstrate) Set(ctx context.Context, key string, data []byte) error {
	f.writes++
	if f.writes <= f.allow {
		return f.Substrate.Set(ctx, key, data)
	}
	return errors.NewError(errors.ErrCodeQuotaExceeded, "quota exceeded")
}

func TestEngine_PersistenceFailureIsSwallowed(t *testing.T) {
	sub := &failingSubstrate{Substrate: newFileSubstrate(t, t.TempDir())}
	e, _ := newTestEngine(t, nil, WithSubstrate(sub))
	ctx := context.Background()

	require.NoError(t, e.Set(ctx, "user_1", "ana"))
	assert.Equal(t, 1, sub.writes)
	assert.Equal(t, uint64(1), e.Stats().PersistenceFailures)

	v, ok, err := GetAs[string](ctx, e, "user_1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ana", v)

	require.NoError(t, e.Set(ctx, "user_2", "bo", WithTier(types.TierPersistent)))
	assert.True(t, e.memory.Has(ctx, "user_2"), "failed persistent write falls back to memory")
}

func TestEngine_HealthTracksRefusedWrites(t *testing.T) {
	sub := &failingSubstrate{Substrate: newFileSubstrate(t, t.TempDir())}
	e, _ := newTestEngine(t, nil, WithSubstrate(sub))
	ctx := context.Background()

	assert.Equal(t, health.StateHealthy, e.Health().State)

	for i := 0; i < 3; i++ {
		require.NoError(t, e.Set(ctx, fmt.Sprintf("user_%d", i), i))
	}

	report := e.Health()
	assert.Equal(t, health.StateReadOnly, report.State)
	assert.Equal(t, health.StateReadOnly, report.Components[ComponentPersistence].State)
	assert.Equal(t, health.StateHealthy, report.Components[ComponentWarming].State)
}

func TestEngine_OverwriteNeverServesOldPersistentValue(t *testing.T) {
	tests := []struct {
		name       string
		sub        func(t *testing.T) types.Substrate
		mutate     func(cfg *config.Configuration)
		firstOpts  []SetOption
		second     interface{}
		secondOpts []SetOption
	}{
		{
			name: "write-through refused",
			sub: func(t *testing.T) types.Substrate {
				return &failingSubstrate{Substrate: newFileSubstrate(t, t.TempDir()), allow: 1}
			},
			second: "v2",
		},
		{
			name: "persistent write refused",
			sub: func(t *testing.T) types.Substrate {
				return &failingSubstrate{Substrate: newFileSubstrate(t, t.TempDir()), allow: 1}
			},
			firstOpts:  []SetOption{WithTier(types.TierPersistent)},
			second:     "v2",
			secondOpts: []SetOption{WithTier(types.TierPersistent)},
		},
		{
			name: "write-through disabled",
			sub: func(t *testing.T) types.Substrate {
				return newFileSubstrate(t, t.TempDir())
			},
			mutate:    func(cfg *config.Configuration) { cfg.Persistence.WriteThrough = false },
			firstOpts: []SetOption{WithTier(types.TierPersistent)},
			second:    "v2",
		},
		{
			name: "unserializable overwrite",
			sub: func(t *testing.T) types.Substrate {
				return newFileSubstrate(t, t.TempDir())
			},
			second: make(chan int),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Cache.MaxEntries = 1
			if tt.mutate != nil {
				tt.mutate(cfg)
			}
			e, clock := newTestEngine(t, cfg, WithSubstrate(tt.sub(t)))
			ctx := context.Background()

			require.NoError(t, e.Set(ctx, "price_1", "v1", tt.firstOpts...))
			require.True(t, e.persistent.Has(ctx, "price_1"))

			clock.Advance(time.Millisecond)
			require.NoError(t, e.Set(ctx, "price_1", tt.second, tt.secondOpts...))
			assert.False(t, e.persistent.Has(ctx, "price_1"), "superseded record removed")

			report := e.Optimize(ctx)
			require.Equal(t, 1, report.Evicted)

			_, ok := e.Get(ctx, "price_1")
			assert.False(t, ok, "overwritten value must not come back")
		})
	}
}

func TestEngine_DropSupersededKeepsNewerRecord(t *testing.T) {
	e, clock := newTestEngine(t, nil, WithSubstrate(newFileSubstrate(t, t.TempDir())))
	ctx := context.Background()

	older := types.NewEntry("price_1", []byte(`"v1"`), time.Minute, clock.Now())
	clock.Advance(time.Second)
	require.NoError(t, e.persistent.Set(ctx, "price_1", types.NewEntry("price_1", []byte(`"v2"`), time.Minute, clock.Now())))

	e.dropSuperseded(ctx, older)
	assert.True(t, e.persistent.Has(ctx, "price_1"))
}

func TestEngine_CachesForeignCodecs(t *testing.T) {
	e, clock := newTestEngine(t, nil)
	ctx := context.Background()

	zstd, err := compress.NewZstd()
	require.NoError(t, err)
	t.Cleanup(func() { _ = zstd.Close() })
	raw := []byte(`"` + strings.Repeat("stockholm", 200) + `"`)
	packed, err := zstd.Compress(raw)
	require.NoError(t, err)

	entry := types.NewEntry("route_1", packed, time.Minute, clock.Now())
	entry.Compressed = true
	entry.Codec = compress.NameZstd
	require.NoError(t, e.memory.Set(ctx, "route_1", entry))

	got, ok := e.Get(ctx, "route_1")
	require.True(t, ok)
	assert.Equal(t, raw, got.Value)

	first, ok := e.codecs.Load(compress.NameZstd)
	require.True(t, ok)

	_, ok = e.Get(ctx, "route_1")
	require.True(t, ok)
	second, _ := e.codecs.Load(compress.NameZstd)
	assert.Same(t, first, second)
}

func TestEngine_PromotionFromPersistent(t *testing.T) {
	e, _ := newTestEngine(t, nil, WithSubstrate(newFileSubstrate(t, t.TempDir())))
	ctx := context.Background()

	require.NoError(t, e.Set(ctx, "loc_abc", "Stockholm C", WithTier(types.TierPersistent)))
	require.False(t, e.memory.Has(ctx, "loc_abc"))
	require.True(t, e.persistent.Has(ctx, "loc_abc"))

	entry, ok := e.Get(ctx, "loc_abc",
		WithPrimaryTier(types.TierMemory),
		WithFallbackTiers(types.TierPersistent))
	require.True(t, ok)
	assert.JSONEq(t, `"Stockholm C"`, string(entry.Value))

	entry, ok = e.Get(ctx, "loc_abc", WithPrimaryTier(types.TierMemory), WithFallbackTiers())
	require.True(t, ok, "promoted into memory")
	assert.Equal(t, types.TierMemory, entry.Tier)
}

func TestEngine_PromotionKeepsDeadline(t *testing.T) {
	e, clock := newTestEngine(t, nil, WithSubstrate(newFileSubstrate(t, t.TempDir())))
	ctx := context.Background()

	require.NoError(t, e.Set(ctx, "booking_1", "pending", WithTTL(time.Minute), WithTier(types.TierPersistent)))
	clock.Advance(50 * time.Second)

	_, ok := e.Get(ctx, "booking_1")
	require.True(t, ok)

	clock.Advance(11 * time.Second)
	_, ok = e.Get(ctx, "booking_1", WithFallbackTiers())
	assert.False(t, ok, "promotion does not restart the TTL")
}

func TestEngine_SurvivesRestartWithFileBackend(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.Persistence.Enabled = true
	cfg.Persistence.Directory = dir
	ctx := context.Background()

	first, err := New(cfg, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	require.NoError(t, first.Set(ctx, "static_terms", "v3", WithCategory(types.CategoryStaticContent)))
	require.NoError(t, first.Close())

	second, err := New(cfg, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	defer second.Close()

	v, ok, err := GetAs[string](ctx, second, "static_terms")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v3", v)
}

func TestEngine_PersistentTierDisabledFallsBackToMemory(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()

	require.NoError(t, e.Set(ctx, "k", 1, WithTier(types.TierPersistent)))
	assert.True(t, e.memory.Has(ctx, "k"))

	require.NoError(t, e.Set(ctx, "n", 1, WithTier(types.TierNetwork)))
	assert.True(t, e.memory.Has(ctx, "n"))
}

func TestEngine_ConcurrentWritersLastWriterWins(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()

	type quote struct {
		Amount   int    `json:"amount"`
		Currency string `json:"currency"`
		Service  string `json:"service"`
	}
	v1 := quote{Amount: 450, Currency: "SEK", Service: "standard"}
	v2 := quote{Amount: 990, Currency: "EUR", Service: "premium"}

	var wg sync.WaitGroup
	for _, v := range []quote{v1, v2} {
		wg.Add(1)
		go func(v quote) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_ = e.Set(ctx, "price_contended", v)
			}
		}(v)
	}
	wg.Wait()

	got, ok, err := GetAs[quote](ctx, e, "price_contended")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got == v1 || got == v2, "got partially merged value %+v", got)
}

func TestEngine_Delete(t *testing.T) {
	e, _ := newTestEngine(t, nil, WithSubstrate(newFileSubstrate(t, t.TempDir())))
	ctx := context.Background()

	require.NoError(t, e.Set(ctx, "k", 1))
	assert.True(t, e.Delete(ctx, "k"))
	assert.False(t, e.Delete(ctx, "k"))

	_, ok := e.Get(ctx, "k")
	assert.False(t, ok)
}

func TestEngine_StartTwiceAndClose(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()

	require.NoError(t, e.Start(ctx))
	err := e.Start(ctx)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeAlreadyStarted))

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
}

func TestEngine_MetricsHandler(t *testing.T) {
	cfg := config.NewDefault()
	e, _ := newTestEngine(t, cfg)
	ctx := context.Background()

	require.NoError(t, e.Set(ctx, "k", 1))
	e.Get(ctx, "k")
	e.Get(ctx, "missing")

	rec := httptest.NewRecorder()
	e.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `tiercache_requests_total{result="hit",tier="memory"} 1`)
	assert.Contains(t, body, `tiercache_requests_total{result="miss",tier="none"} 1`)

	disabled, _ := newTestEngine(t, nil)
	rec = httptest.NewRecorder()
	disabled.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEngine_PricingScenario(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()

	require.NoError(t, e.Set(ctx, "price_STHLM_GBG_standard", 450,
		WithTTL(180*time.Second),
		WithCategory(types.CategoryPricingData)))

	price, ok, err := GetAs[int](ctx, e, "price_STHLM_GBG_standard")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 450, price)

	report := e.GetAnalytics(ctx)
	assert.Equal(t, 1, report.CategoryBreakdown[types.CategoryPricingData].Count)
	assert.Equal(t, 1, report.TierBreakdown[types.TierMemory].Count)
	require.Len(t, report.TopEntries, 1)
	assert.Equal(t, "price_STHLM_GBG_standard", report.TopEntries[0].Key)
}

func TestEngine_AnalyticsTierBreakdownCountsEachTier(t *testing.T) {
	e, _ := newTestEngine(t, nil, WithSubstrate(newFileSubstrate(t, t.TempDir())))
	ctx := context.Background()

	require.NoError(t, e.Set(ctx, "price_1", 450, WithCategory(types.CategoryPricingData)))
	require.NoError(t, e.Set(ctx, "loc_1", "GBG", WithTier(types.TierPersistent), WithCategory(types.CategoryLocationData)))

	report := e.GetAnalytics(ctx)
	assert.Equal(t, 1, report.TierBreakdown[types.TierMemory].Count)
	assert.Equal(t, 2, report.TierBreakdown[types.TierPersistent].Count, "write-through copy counted in persistent")
	assert.Equal(t, 1, report.CategoryBreakdown[types.CategoryPricingData].Count)
	assert.Equal(t, 2, report.Stats.EntryCount)
	assert.Len(t, report.TopEntries, 2)
}
