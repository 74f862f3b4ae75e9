package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/transitbook/tiercache/internal/circuit"
	"github.com/transitbook/tiercache/pkg/errors"
	"github.com/transitbook/tiercache/pkg/retry"
	"github.com/transitbook/tiercache/pkg/types"
	"github.com/transitbook/tiercache/pkg/utils"
)

// Persistence backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Configuration represents the complete cache configuration
type Configuration struct {
	Global      GlobalConfig      `yaml:"global"`
	Cache       CacheConfig       `yaml:"cache"`
	Compression CompressionConfig `yaml:"compression"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Warming     WarmingConfig     `yaml:"warming"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// GlobalConfig represents logging settings
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// CacheConfig represents engine limits and TTL policy
type CacheConfig struct {
	MaxEntries         int                              `yaml:"max_entries"`
	DefaultTTL         time.Duration                    `yaml:"default_ttl"`
	HotAccessThreshold int64                            `yaml:"hot_access_threshold"`
	TopN               int                              `yaml:"top_n"`
	CleanupInterval    time.Duration                    `yaml:"cleanup_interval"`
	CategoryTTLs       map[types.Category]time.Duration `yaml:"category_ttls"`
}

// CompressionConfig represents compression settings
type CompressionConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Threshold string `yaml:"threshold"`
	Algorithm string `yaml:"algorithm"`
}

// PersistenceConfig represents persistent tier settings
type PersistenceConfig struct {
	Enabled      bool           `yaml:"enabled"`
	Backend      string         `yaml:"backend"`
	Directory    string         `yaml:"directory"`
	DSN          string         `yaml:"dsn"`
	Addr         string         `yaml:"addr"`
	Namespace    string         `yaml:"namespace"`
	MaxSize      string         `yaml:"max_size"`
	WriteThrough bool           `yaml:"write_through"`
	Retry        retry.Config   `yaml:"retry"`
	Breaker      circuit.Config `yaml:"breaker"`
}

// WarmingConfig represents cache warming limits
type WarmingConfig struct {
	Concurrency   int           `yaml:"concurrency"`
	LoaderTimeout time.Duration `yaml:"loader_timeout"`
	Budget        time.Duration `yaml:"budget"`
	RatePerSecond float64       `yaml:"rate_per_second"`
}

// MetricsConfig represents metrics settings
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// DefaultCategoryTTLs returns the base TTL for each category.
func DefaultCategoryTTLs() map[types.Category]time.Duration {
	return map[types.Category]time.Duration{
		types.CategoryPricingData:   3 * time.Minute,
		types.CategoryLocationData:  10 * time.Minute,
		types.CategoryRouteData:     15 * time.Minute,
		types.CategoryBookingData:   1 * time.Minute,
		types.CategoryDriverData:    30 * time.Second,
		types.CategoryUserData:      30 * time.Minute,
		types.CategoryStaticContent: 24 * time.Hour,
		types.CategoryAPIResponse:   5 * time.Minute,
	}
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:  "INFO",
			LogFormat: "json",
		},
		Cache: CacheConfig{
			MaxEntries:         10000,
			DefaultTTL:         5 * time.Minute,
			HotAccessThreshold: 10,
			TopN:               10,
			CleanupInterval:    60 * time.Second,
			CategoryTTLs:       DefaultCategoryTTLs(),
		},
		Compression: CompressionConfig{
			Enabled:   true,
			Threshold: "1KB",
			Algorithm: "gzip",
		},
		Persistence: PersistenceConfig{
			Enabled:      false,
			Backend:      BackendFile,
			Directory:    filepath.Join(os.TempDir(), "tiercache"),
			Namespace:    "tiercache:",
			MaxSize:      "64MB",
			WriteThrough: true,
			Retry:        retry.DefaultConfig(),
			Breaker: circuit.Config{
				FailureThreshold: 5,
				Timeout:          30 * time.Second,
				MaxRequests:      1,
			},
		},
		Warming: WarmingConfig{
			Concurrency:   8,
			LoaderTimeout: 5 * time.Second,
			Budget:        30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "tiercache",
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigLoad, "failed to read config file").
			WithDetail("file", filename)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigLoad, "failed to parse config file").
			WithDetail("file", filename)
	}

	return nil
}

// LoadFromEnv loads configuration from TIERCACHE_* environment variables. Malformed values are
// reported rather than ignored.
func (c *Configuration) LoadFromEnv() error {
	var errs []string
	str := func(name string, dst *string) {
		if val := os.Getenv(name); val != "" {
			*dst = val
		}
	}
	boolean := func(name string, dst *bool) {
		if val := os.Getenv(name); val != "" {
			b, err := strconv.ParseBool(val)
			if err != nil {
				errs = append(errs, name)
				return
			}
			*dst = b
		}
	}
	integer := func(name string, dst *int) {
		if val := os.Getenv(name); val != "" {
			n, err := strconv.Atoi(val)
			if err != nil {
				errs = append(errs, name)
				return
			}
			*dst = n
		}
	}
	duration := func(name string, dst *time.Duration) {
		if val := os.Getenv(name); val != "" {
			d, err := time.ParseDuration(val)
			if err != nil {
				errs = append(errs, name)
				return
			}
			*dst = d
		}
	}

	// Global settings
	str("TIERCACHE_LOG_LEVEL", &c.Global.LogLevel)
	str("TIERCACHE_LOG_FORMAT", &c.Global.LogFormat)

	// Cache settings
	integer("TIERCACHE_MAX_ENTRIES", &c.Cache.MaxEntries)
	duration("TIERCACHE_DEFAULT_TTL", &c.Cache.DefaultTTL)
	duration("TIERCACHE_CLEANUP_INTERVAL", &c.Cache.CleanupInterval)
	if val := os.Getenv("TIERCACHE_HOT_ACCESS_THRESHOLD"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			c.Cache.HotAccessThreshold = n
		} else {
			errs = append(errs, "TIERCACHE_HOT_ACCESS_THRESHOLD")
		}
	}

	// Compression settings
	boolean("TIERCACHE_COMPRESSION_ENABLED", &c.Compression.Enabled)
	str("TIERCACHE_COMPRESSION_THRESHOLD", &c.Compression.Threshold)
	str("TIERCACHE_COMPRESSION_ALGORITHM", &c.Compression.Algorithm)

	// Persistence settings
	boolean("TIERCACHE_PERSISTENCE_ENABLED", &c.Persistence.Enabled)
	str("TIERCACHE_PERSISTENCE_BACKEND", &c.Persistence.Backend)
	str("TIERCACHE_PERSISTENCE_DIRECTORY", &c.Persistence.Directory)
	str("TIERCACHE_PERSISTENCE_DSN", &c.Persistence.DSN)
	str("TIERCACHE_PERSISTENCE_ADDR", &c.Persistence.Addr)
	str("TIERCACHE_PERSISTENCE_MAX_SIZE", &c.Persistence.MaxSize)
	boolean("TIERCACHE_PERSISTENCE_WRITE_THROUGH", &c.Persistence.WriteThrough)

	// Warming settings
	integer("TIERCACHE_WARMING_CONCURRENCY", &c.Warming.Concurrency)
	duration("TIERCACHE_WARMING_LOADER_TIMEOUT", &c.Warming.LoaderTimeout)
	duration("TIERCACHE_WARMING_BUDGET", &c.Warming.Budget)

	boolean("TIERCACHE_METRICS_ENABLED", &c.Metrics.Enabled)

	if len(errs) > 0 {
		return errors.NewError(errors.ErrCodeConfigLoad, "invalid environment values").
			WithDetail("variables", strings.Join(errs, ","))
	}
	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return errors.Newf(errors.ErrCodeInvalidConfig, format, args...).WithComponent("config")
	}

	if _, err := utils.ParseLogLevel(c.Global.LogLevel); err != nil {
		return invalid("invalid log_level: %s (must be one of: DEBUG, INFO, WARN, ERROR)", c.Global.LogLevel)
	}
	switch strings.ToLower(c.Global.LogFormat) {
	case "", "json", "text", "console":
	default:
		return invalid("invalid log_format: %s", c.Global.LogFormat)
	}

	if c.Cache.MaxEntries <= 0 {
		return invalid("max_entries must be greater than 0")
	}
	if c.Cache.DefaultTTL <= 0 {
		return invalid("default_ttl must be greater than 0")
	}
	if c.Cache.CleanupInterval <= 0 {
		return invalid("cleanup_interval must be greater than 0")
	}
	if c.Cache.HotAccessThreshold < 0 {
		return invalid("hot_access_threshold cannot be negative")
	}
	for category, ttl := range c.Cache.CategoryTTLs {
		if ttl <= 0 {
			return invalid("category_ttls[%s] must be greater than 0", category)
		}
	}

	if c.Compression.Enabled {
		if _, err := utils.ParseBytes(c.Compression.Threshold); err != nil {
			return invalid("invalid compression threshold: %v", err)
		}
	}

	if c.Persistence.Enabled {
		switch c.Persistence.Backend {
		case BackendFile:
			if c.Persistence.Directory == "" {
				return invalid("persistence directory is required for the file backend")
			}
		case BackendSQLite:
			if c.Persistence.DSN == "" {
				return invalid("persistence dsn is required for the sqlite backend")
			}
		case BackendRedis:
			if c.Persistence.Addr == "" {
				return invalid("persistence addr is required for the redis backend")
			}
		default:
			return invalid("unknown persistence backend: %s", c.Persistence.Backend)
		}
		if c.Persistence.MaxSize != "" {
			if _, err := utils.ParseBytes(c.Persistence.MaxSize); err != nil {
				return invalid("invalid persistence max_size: %v", err)
			}
		}
	}

	if c.Warming.Concurrency <= 0 {
		return invalid("warming concurrency must be greater than 0")
	}
	if c.Warming.LoaderTimeout <= 0 {
		return invalid("warming loader_timeout must be greater than 0")
	}
	if c.Warming.RatePerSecond < 0 {
		return invalid("warming rate_per_second cannot be negative")
	}

	return nil
}

// BaseTTL returns the configured TTL for category, falling back to DefaultTTL.
func (c *Configuration) BaseTTL(category types.Category) time.Duration {
	if ttl, ok := c.Cache.CategoryTTLs[category]; ok && ttl > 0 {
		return ttl
	}
	return c.Cache.DefaultTTL
}

// CompressionThreshold returns the parsed threshold in bytes.
func (c *Configuration) CompressionThreshold() int64 {
	n, err := utils.ParseBytes(c.Compression.Threshold)
	if err != nil {
		return 1024
	}
	return n
}

// PersistenceMaxBytes returns the parsed persistence quota, 0 meaning unlimited.
func (c *Configuration) PersistenceMaxBytes() int64 {
	if c.Persistence.MaxSize == "" {
		return 0
	}
	n, err := utils.ParseBytes(c.Persistence.MaxSize)
	if err != nil {
		return 0
	}
	return n
}
