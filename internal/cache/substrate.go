package cache

import (
	"context"

	"github.com/transitbook/tiercache/internal/config"
	"github.com/transitbook/tiercache/internal/storage/filestore"
	"github.com/transitbook/tiercache/internal/storage/redisstore"
	"github.com/transitbook/tiercache/internal/storage/sqlstore"
	"github.com/transitbook/tiercache/pkg/errors"
	"github.com/transitbook/tiercache/pkg/types"
)

// openSubstrate opens the persistence backend named in cfg.
func openSubstrate(ctx context.Context, cfg config.PersistenceConfig, maxBytes int64) (types.Substrate, error) {
	switch cfg.Backend {
	case config.BackendFile, "":
		s, err := filestore.New(filestore.Config{
			Directory: cfg.Directory,
			MaxSize:   maxBytes,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendSQLite:
		s, err := sqlstore.Open(sqlstore.Config{
			DSN:      cfg.DSN,
			MaxBytes: maxBytes,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendRedis:
		s, err := redisstore.Open(ctx, redisstore.Config{
			Addr: cfg.Addr,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidConfig, "unknown persistence backend: %s", cfg.Backend).
			WithComponent("cache")
	}
}
