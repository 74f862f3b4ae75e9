// Package sqlstore is a persistence substrate backed by SQLite through GORM.
package sqlstore

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/transitbook/tiercache/pkg/errors"
)

const component = "sqlstore"

// Config configures a Store.
type Config struct {
	// DSN is a SQLite data source, e.g. a file path or "file::memory:".
	DSN string `yaml:"dsn"`
	// MaxBytes is the quota over all stored values. Zero means unlimited.
	MaxBytes int64 `yaml:"max_bytes"`
}

// cacheRecord is the row type of the cache_records table.
type cacheRecord struct {
	CacheKey  string `gorm:"primaryKey;size:512"`
	Data      []byte
	Size      int64 `gorm:"not null;default:0"`
	UpdatedAt time.Time
}

// TableName sets the table name.
func (cacheRecord) TableName() string {
	return "cache_records"
}

// Store implements types.Substrate on a SQL table.
type Store struct {
	db       *gorm.DB
	maxBytes int64
}

// Open opens the database named by config.DSN and migrates the schema.
func Open(config Config) (*Store, error) {
	if config.DSN == "" {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "dsn is required").WithComponent(component)
	}

	db, err := gorm.Open(sqlite.Open(config.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "failed to open database").WithComponent(component)
	}

	return New(db, config.MaxBytes)
}

// New wraps an existing connection. The pool is limited to one connection so that in-memory
// databases are shared and SQLite never reports a busy writer to itself.
func New(db *gorm.DB, maxBytes int64) (*Store, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to access connection pool").
			WithComponent(component)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&cacheRecord{}); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to auto migrate").
			WithComponent(component)
	}

	return &Store{db: db, maxBytes: maxBytes}, nil
}

// Get returns the stored bytes for key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var rec cacheRecord
	err := s.db.WithContext(ctx).Where("cache_key = ?", key).Take(&rec).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NewError(errors.ErrCodeNotFound, "key not found").
				WithComponent(component).WithKey(key)
		}
		return nil, classify(err, errors.ErrCodeStorageRead, "failed to read record").WithKey(key)
	}
	return rec.Data, nil
}

// Set upserts key. Writes that would exceed MaxBytes fail with QUOTA_EXCEEDED.
func (s *Store) Set(ctx context.Context, key string, data []byte) error {
	rec := cacheRecord{
		CacheKey:  key,
		Data:      data,
		Size:      int64(len(data)),
		UpdatedAt: time.Now(),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if s.maxBytes > 0 {
			var used int64
			if err := tx.Model(&cacheRecord{}).
				Where("cache_key <> ?", key).
				Select("COALESCE(SUM(size), 0)").
				Scan(&used).Error; err != nil {
				return err
			}
			if used+rec.Size > s.maxBytes {
				return errors.NewError(errors.ErrCodeQuotaExceeded, "persistent quota exceeded").
					WithDetail("used", used).
					WithDetail("limit", s.maxBytes)
			}
		}

		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "cache_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"data", "size", "updated_at"}),
		}).Create(&rec).Error
	})
	if err != nil {
		var ce *errors.CacheError
		if stderrors.As(err, &ce) {
			return ce.WithComponent(component).WithKey(key)
		}
		return classify(err, errors.ErrCodeStorageFull, "failed to write record").WithKey(key)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.db.WithContext(ctx).Where("cache_key = ?", key).Delete(&cacheRecord{}).Error
	if err != nil {
		return classify(err, errors.ErrCodeStorageBusy, "failed to delete record").WithKey(key)
	}
	return nil
}

// Keys returns the sorted keys starting with prefix.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.db.WithContext(ctx).
		Model(&cacheRecord{}).
		Where("cache_key LIKE ? ESCAPE '\\'", escapeLike(prefix)+"%").
		Order("cache_key").
		Pluck("cache_key", &keys).Error
	if err != nil {
		return nil, classify(err, errors.ErrCodeStorageRead, "failed to list keys")
	}
	return keys, nil
}

// Size returns the total bytes stored.
func (s *Store) Size(ctx context.Context) (int64, error) {
	var used int64
	err := s.db.WithContext(ctx).Model(&cacheRecord{}).Select("COALESCE(SUM(size), 0)").Scan(&used).Error
	if err != nil {
		return 0, classify(err, errors.ErrCodeStorageRead, "failed to compute size")
	}
	return used, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// classify maps driver errors onto cache error codes. SQLite lock contention is retryable.
func classify(err error, fallback errors.ErrorCode, message string) *errors.CacheError {
	code := fallback
	switch {
	case stderrors.Is(err, context.Canceled):
		code = errors.ErrCodeOperationCanceled
	case stderrors.Is(err, context.DeadlineExceeded):
		code = errors.ErrCodeOperationTimeout
	default:
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "database is locked"), strings.Contains(msg, "busy"):
			code = errors.ErrCodeStorageBusy
		case strings.Contains(msg, "database or disk is full"):
			code = errors.ErrCodeQuotaExceeded
		}
	}
	return errors.Wrap(err, code, message).WithComponent(component)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
