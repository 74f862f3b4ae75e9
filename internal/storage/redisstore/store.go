// Package redisstore is a persistence substrate backed by a node-local Redis instance.
package redisstore

import (
	"context"
	stderrors "errors"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/transitbook/tiercache/pkg/errors"
)

const component = "redisstore"

// Config configures a Store.
type Config struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	// ScanCount is the COUNT hint passed to SCAN.
	ScanCount int64 `yaml:"scan_count"`
}

// Store implements types.Substrate on Redis strings.
type Store struct {
	client    redis.UniversalClient
	scanCount int64
}

// Open connects to config.Addr and verifies the connection.
func Open(ctx context.Context, config Config) (*Store, error) {
	if config.Addr == "" {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "addr is required").WithComponent(component)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, classify(err, errors.ErrCodeStorageRead, "failed to connect to redis")
	}

	return New(client, config.ScanCount), nil
}

// New wraps an existing client.
func New(client redis.UniversalClient, scanCount int64) *Store {
	if scanCount <= 0 {
		scanCount = 100
	}
	return &Store{client: client, scanCount: scanCount}
}

// Get returns the stored bytes for key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if stderrors.Is(err, redis.Nil) {
			return nil, errors.NewError(errors.ErrCodeNotFound, "key not found").
				WithComponent(component).WithKey(key)
		}
		return nil, classify(err, errors.ErrCodeStorageRead, "failed to read record").WithKey(key)
	}
	return data, nil
}

// Set stores data without a Redis expiry; entry TTLs are enforced by the cache.
func (s *Store) Set(ctx context.Context, key string, data []byte) error {
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return classify(err, errors.ErrCodeStorageFull, "failed to write record").WithKey(key)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return classify(err, errors.ErrCodeStorageBusy, "failed to delete record").WithKey(key)
	}
	return nil
}

// Keys returns the sorted keys starting with prefix, using SCAN so the server is never blocked.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, escapeGlob(prefix)+"*", s.scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, classify(err, errors.ErrCodeStorageRead, "failed to scan keys")
	}

	sort.Strings(keys)
	return dedupe(keys), nil
}

// Ping checks if the server is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

// classify maps Redis errors onto cache error codes. OOM replies mean the server hit maxmemory.
func classify(err error, fallback errors.ErrorCode, message string) *errors.CacheError {
	code := fallback
	var netErr net.Error
	switch {
	case stderrors.Is(err, context.Canceled):
		code = errors.ErrCodeOperationCanceled
	case stderrors.Is(err, context.DeadlineExceeded):
		code = errors.ErrCodeOperationTimeout
	case strings.HasPrefix(err.Error(), "OOM"):
		code = errors.ErrCodeQuotaExceeded
	case strings.HasPrefix(err.Error(), "BUSY"), strings.HasPrefix(err.Error(), "LOADING"):
		code = errors.ErrCodeStorageBusy
	case stderrors.As(err, &netErr) && netErr.Timeout():
		code = errors.ErrCodeOperationTimeout
	}
	return errors.Wrap(err, code, message).WithComponent(component)
}

// dedupe removes adjacent duplicates; SCAN may return a key more than once.
func dedupe(sorted []string) []string {
	if len(sorted) < 2 {
		return sorted
	}
	out := sorted[:1]
	for _, k := range sorted[1:] {
		if k != out[len(out)-1] {
			out = append(out, k)
		}
	}
	return out
}

func escapeGlob(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}
