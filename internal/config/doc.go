/*
Package config provides configuration management for tiercache.

Sources are applied in order of increasing precedence:

	defaults (NewDefault) -> YAML file (LoadFromFile) -> environment (LoadFromEnv, TIERCACHE_*)

Call Validate after loading; the engine refuses a configuration that does not validate.

# Example

	global:
	  log_level: INFO
	  log_format: json
	cache:
	  max_entries: 10000
	  default_ttl: 5m
	  hot_access_threshold: 10
	  cleanup_interval: 60s
	  category_ttls:
	    pricing_data: 3m
	    location_data: 10m
	compression:
	  enabled: true
	  threshold: 1KB
	  algorithm: gzip
	persistence:
	  enabled: true
	  backend: sqlite
	  dsn: /var/lib/app/cache.db
	  max_size: 64MB
	  write_through: true
	warming:
	  concurrency: 8
	  loader_timeout: 5s
	  budget: 30s
	metrics:
	  enabled: true
	  namespace: tiercache

Durations use Go syntax (30s, 5m). Sizes accept B, KB, MB, GB suffixes.

# Environment

	TIERCACHE_LOG_LEVEL, TIERCACHE_LOG_FORMAT
	TIERCACHE_MAX_ENTRIES, TIERCACHE_DEFAULT_TTL, TIERCACHE_CLEANUP_INTERVAL, TIERCACHE_HOT_ACCESS_THRESHOLD
	TIERCACHE_COMPRESSION_ENABLED, TIERCACHE_COMPRESSION_THRESHOLD, TIERCACHE_COMPRESSION_ALGORITHM
	TIERCACHE_PERSISTENCE_ENABLED, TIERCACHE_PERSISTENCE_BACKEND, TIERCACHE_PERSISTENCE_DIRECTORY,
	TIERCACHE_PERSISTENCE_DSN, TIERCACHE_PERSISTENCE_ADDR, TIERCACHE_PERSISTENCE_MAX_SIZE,
	TIERCACHE_PERSISTENCE_WRITE_THROUGH
	TIERCACHE_WARMING_CONCURRENCY, TIERCACHE_WARMING_LOADER_TIMEOUT, TIERCACHE_WARMING_BUDGET
	TIERCACHE_METRICS_ENABLED
*/
package config
