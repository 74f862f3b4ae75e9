package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitbook/tiercache/pkg/errors"
)

func newTestStore(t *testing.T, maxSize int64) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := New(Config{Directory: dir, MaxSize: maxSize})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, dir
}

func TestStore_SetGetDelete(t *testing.T) {
	s, _ := newTestStore(t, 0)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "tiercache:price_a", []byte("450")))

	got, err := s.Get(ctx, "tiercache:price_a")
	require.NoError(t, err)
	assert.Equal(t, []byte("450"), got)
	assert.Equal(t, int64(3), s.Size())

	require.NoError(t, s.Set(ctx, "tiercache:price_a", []byte("5000")))
	assert.Equal(t, int64(4), s.Size())

	require.NoError(t, s.Delete(ctx, "tiercache:price_a"))
	_, err = s.Get(ctx, "tiercache:price_a")
	assert.True(t, errors.IsNotFound(err))
	assert.Equal(t, int64(0), s.Size())

	assert.NoError(t, s.Delete(ctx, "tiercache:missing"))
}

func TestStore_Keys(t *testing.T) {
	s, _ := newTestStore(t, 0)
	ctx := context.Background()

	for _, k := range []string{"tiercache:b", "tiercache:a", "other:c"} {
		require.NoError(t, s.Set(ctx, k, []byte("x")))
	}

	keys, err := s.Keys(ctx, "tiercache:")
	require.NoError(t, err)
	assert.Equal(t, []string{"tiercache:a", "tiercache:b"}, keys)
}

func TestStore_QuotaExceeded(t *testing.T) {
	s, _ := newTestStore(t, 10)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "a", []byte("12345678")))

	err := s.Set(ctx, "b", []byte("123"))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeQuotaExceeded))
	assert.True(t, errors.IsStorageFull(err))

	// Replacing an existing record only counts the difference.
	require.NoError(t, s.Set(ctx, "a", []byte("1234567890")))
}

func TestStore_CorruptFile(t *testing.T) {
	s, dir := newTestStore(t, 0)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte(`{"v":1}`)))
	require.NoError(t, os.WriteFile(filepath.Join(dir, fileName("k")), []byte("garbage"), 0600))

	_, err := s.Get(ctx, "k")
	assert.True(t, errors.HasCode(err, errors.ErrCodeCorruption))
}

func TestStore_MissingFileIsNotFound(t *testing.T) {
	s, dir := newTestStore(t, 0)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v")))
	require.NoError(t, os.Remove(filepath.Join(dir, fileName("k"))))

	_, err := s.Get(ctx, "k")
	assert.True(t, errors.IsNotFound(err))
	assert.Equal(t, int64(0), s.Size())
}

func TestStore_IndexSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := New(Config{Directory: dir})
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "tiercache:loc_1", []byte("stockholm")))
	require.NoError(t, s.Close())

	reopened, err := New(Config{Directory: dir})
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, "tiercache:loc_1")
	require.NoError(t, err)
	assert.Equal(t, []byte("stockholm"), got)
	assert.Equal(t, int64(len("stockholm")), reopened.Size())
}

func TestStore_ClosedAndCanceled(t *testing.T) {
	s, _ := newTestStore(t, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Set(ctx, "k", []byte("v"))
	assert.True(t, errors.HasCode(err, errors.ErrCodeOperationCanceled))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	err = s.Set(context.Background(), "k", []byte("v"))
	assert.True(t, errors.HasCode(err, errors.ErrCodeComponentStopped))
}

func TestNew_RequiresDirectory(t *testing.T) {
	_, err := New(Config{})
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidConfig))
}
