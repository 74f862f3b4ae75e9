package tier

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitbook/tiercache/pkg/types"
)

// manualClock is a settable time source shared by tier tests.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemory_SetGet(t *testing.T) {
	clock := newManualClock()
	m := NewMemory(WithClock(clock.Now))
	ctx := context.Background()

	e := types.NewEntry("k", []byte(`"v"`), time.Minute, clock.Now())
	e.Tags = []string{"a"}
	require.NoError(t, m.Set(ctx, "k", e))

	got, ok := m.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte(`"v"`), got.Value)
	assert.Equal(t, types.TierMemory, got.Tier)

	// Returned entries never alias stored state.
	got.Value[0] = 'X'
	got.Tags[0] = "mutated"
	again, _ := m.Get(ctx, "k")
	assert.Equal(t, []byte(`"v"`), again.Value)
	assert.Equal(t, []string{"a"}, again.Tags)

	// Nor does the caller's entry after Set.
	e.Value[0] = 'Y'
	again, _ = m.Get(ctx, "k")
	assert.Equal(t, []byte(`"v"`), again.Value)
}

func TestMemory_LazyExpiry(t *testing.T) {
	clock := newManualClock()
	m := NewMemory(WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", types.NewEntry("k", []byte("1"), time.Second, clock.Now())))

	clock.Advance(time.Second)
	assert.True(t, m.Has(ctx, "k"), "expiry is strictly after CreatedAt+TTL")

	clock.Advance(time.Nanosecond)
	assert.False(t, m.Has(ctx, "k"))
	assert.Equal(t, 1, m.Stored())

	_, ok := m.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, 0, m.Stored(), "Get removes the expired entry")
}

func TestMemory_Touch(t *testing.T) {
	clock := newManualClock()
	m := NewMemory(WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", types.NewEntry("k", []byte("1"), time.Minute, clock.Now())))

	clock.Advance(time.Second)
	e, ok := m.Touch(ctx, "k", clock.Now())
	require.True(t, ok)
	assert.Equal(t, int64(1), e.AccessCount)
	assert.Equal(t, clock.Now(), e.LastAccessedAt)

	_, ok = m.Touch(ctx, "missing", clock.Now())
	assert.False(t, ok)
}

func TestMemory_UpdateAndDeleteIf(t *testing.T) {
	clock := newManualClock()
	m := NewMemory(WithClock(clock.Now))
	ctx := context.Background()

	orig := types.NewEntry("k", []byte("1"), time.Minute, clock.Now())
	require.NoError(t, m.Set(ctx, "k", orig))

	changed := m.Update(ctx, "k", func(e *types.CacheEntry) bool {
		e.SetTTL(2 * time.Minute)
		return true
	})
	require.True(t, changed)
	got, _ := m.Get(ctx, "k")
	assert.Equal(t, 2*time.Minute, got.TTL)
	assert.Equal(t, got.CreatedAt.Add(2*time.Minute), got.ExpiresAt)

	assert.False(t, m.Update(ctx, "k", func(*types.CacheEntry) bool { return false }))

	// A newer generation is not removed by a delete conditioned on the old one.
	clock.Advance(time.Second)
	require.NoError(t, m.Set(ctx, "k", types.NewEntry("k", []byte("2"), time.Minute, clock.Now())))
	assert.False(t, m.DeleteIf(ctx, "k", orig.SameGeneration))
	assert.True(t, m.Has(ctx, "k"))

	assert.True(t, m.DeleteIf(ctx, "k", func(*types.CacheEntry) bool { return true }))
	assert.False(t, m.Delete(ctx, "k"))
}

func TestMemory_SnapshotAndLen(t *testing.T) {
	clock := newManualClock()
	m := NewMemory(WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		ttl := time.Minute
		if i%2 == 0 {
			ttl = time.Second
		}
		key := fmt.Sprintf("k%d", i)
		require.NoError(t, m.Set(ctx, key, types.NewEntry(key, []byte("v"), ttl, clock.Now())))
	}

	assert.Equal(t, 100, m.Len(ctx))
	clock.Advance(2 * time.Second)
	assert.Equal(t, 50, m.Len(ctx))
	assert.Len(t, m.Snapshot(ctx), 50)
	assert.Len(t, m.Keys(ctx), 100)

	m.Clear()
	assert.Equal(t, 0, m.Stored())
}

func TestMemory_ConcurrentWritersLastWriterWins(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				v := []byte(fmt.Sprintf(`{"writer":%d,"seq":%d}`, w, i))
				_ = m.Set(ctx, "shared", types.NewEntry("shared", v, time.Minute, time.Now()))
				_, _ = m.Touch(ctx, "shared", time.Now())
			}
		}(w)
	}
	wg.Wait()

	e, ok := m.Get(ctx, "shared")
	require.True(t, ok)
	assert.Regexp(t, `^\{"writer":\d+,"seq":199\}$`, string(e.Value))
}

func TestNetwork_AlwaysMisses(t *testing.T) {
	n := NewNetwork()
	ctx := context.Background()

	assert.Equal(t, types.TierNetwork, n.Tier())
	assert.NoError(t, n.Set(ctx, "k", types.NewEntry("k", nil, time.Minute, time.Now())))
	_, ok := n.Get(ctx, "k")
	assert.False(t, ok)
	assert.False(t, n.Has(ctx, "k"))
	assert.False(t, n.Delete(ctx, "k"))
	assert.Zero(t, n.Len(ctx))
}
