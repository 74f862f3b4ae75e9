package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/transitbook/tiercache/pkg/errors"
	"github.com/transitbook/tiercache/pkg/types"
)

// Recorder receives cache events. The engine depends on this interface only.
type Recorder interface {
	RecordRequest(tier types.Tier, hit bool)
	RecordEvictions(reason string, n int)
	RecordPersistenceFailure(err error)
	RecordLoaderFailure(category types.Category)
	RecordOperation(operation string, duration time.Duration, success bool)
	UpdateTier(tier types.Tier, entries int, bytes int64)
}

// Eviction reasons.
const (
	ReasonExpired     = "expired"
	ReasonCapacity    = "capacity"
	ReasonInvalidated = "invalidated"
)

// Nop discards every event.
type Nop struct{}

func (Nop) RecordRequest(types.Tier, bool)              {}
func (Nop) RecordEvictions(string, int)                 {}
func (Nop) RecordPersistenceFailure(error)              {}
func (Nop) RecordLoaderFailure(types.Category)          {}
func (Nop) RecordOperation(string, time.Duration, bool) {}
func (Nop) UpdateTier(types.Tier, int, int64)           {}

// Collector implements Recorder on a private Prometheus registry
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry

	// Prometheus metrics
	requests            *prometheus.CounterVec
	evictions           *prometheus.CounterVec
	entries             *prometheus.GaugeVec
	sizeBytes           *prometheus.GaugeVec
	persistenceFailures *prometheus.CounterVec
	loaderFailures      *prometheus.CounterVec
	operationDuration   *prometheus.HistogramVec

	// Internal tracking
	operations map[string]*OperationMetrics
	lastReset  time.Time
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool              `yaml:"enabled"`
	Namespace string            `yaml:"namespace"`
	Subsystem string            `yaml:"subsystem"`
	Labels    map[string]string `yaml:"labels"`
}

// OperationMetrics tracks metrics for a specific operation type
type OperationMetrics struct {
	Count         int64         `json:"count"`
	TotalDuration time.Duration `json:"total_duration"`
	Errors        int64         `json:"errors"`
	LastOperation time.Time     `json:"last_operation"`
	AvgDuration   time.Duration `json:"avg_duration"`
}

var _ Recorder = (*Collector)(nil)

// NewCollector creates a new metrics collector
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = &Config{
			Enabled:   true,
			Namespace: "tiercache",
		}
	}

	if !config.Enabled {
		return &Collector{config: config}, nil
	}

	collector := &Collector{
		config:     config,
		registry:   prometheus.NewRegistry(),
		operations: make(map[string]*OperationMetrics),
		lastReset:  time.Now(),
	}

	collector.initMetrics()

	if err := collector.registerMetrics(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to register metrics").
			WithComponent("metrics")
	}

	return collector, nil
}

// Enabled reports whether events are recorded.
func (c *Collector) Enabled() bool {
	return c.config.Enabled
}

// Registry returns the private registry, or nil when disabled.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format. The host application mounts it.
func (c *Collector) Handler() http.Handler {
	if !c.config.Enabled {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// RecordRequest records a hit served from tier, or a miss.
func (c *Collector) RecordRequest(tier types.Tier, hit bool) {
	if !c.config.Enabled {
		return
	}

	result, source := "miss", "none"
	if hit {
		result, source = "hit", tier.String()
	}
	c.requests.With(prometheus.Labels{"result": result, "tier": source}).Inc()
}

// RecordEvictions records n entries removed for reason.
func (c *Collector) RecordEvictions(reason string, n int) {
	if !c.config.Enabled || n <= 0 {
		return
	}
	c.evictions.With(prometheus.Labels{"reason": reason}).Add(float64(n))
}

// RecordPersistenceFailure records a swallowed persistent write failure, labeled by error code.
func (c *Collector) RecordPersistenceFailure(err error) {
	if !c.config.Enabled {
		return
	}
	c.persistenceFailures.With(prometheus.Labels{"kind": classifyError(err)}).Inc()
}

// RecordLoaderFailure records a failed warm load.
func (c *Collector) RecordLoaderFailure(category types.Category) {
	if !c.config.Enabled {
		return
	}
	c.loaderFailures.With(prometheus.Labels{"category": string(category)}).Inc()
}

// RecordOperation records a batch operation with its duration
func (c *Collector) RecordOperation(operation string, duration time.Duration, success bool) {
	if !c.config.Enabled {
		return
	}

	c.mu.Lock()
	metrics, exists := c.operations[operation]
	if !exists {
		metrics = &OperationMetrics{}
		c.operations[operation] = metrics
	}
	metrics.Count++
	metrics.TotalDuration += duration
	if !success {
		metrics.Errors++
	}
	metrics.LastOperation = time.Now()
	metrics.AvgDuration = time.Duration(int64(metrics.TotalDuration) / metrics.Count)
	c.mu.Unlock()

	c.operationDuration.With(prometheus.Labels{"operation": operation}).Observe(duration.Seconds())
}

// UpdateTier sets the entry count and byte size gauges for tier.
func (c *Collector) UpdateTier(tier types.Tier, entries int, bytes int64) {
	if !c.config.Enabled {
		return
	}
	labels := prometheus.Labels{"tier": tier.String()}
	c.entries.With(labels).Set(float64(entries))
	c.sizeBytes.With(labels).Set(float64(bytes))
}

// GetOperations returns a copy of the per-operation tracking.
func (c *Collector) GetOperations() map[string]OperationMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]OperationMetrics, len(c.operations))
	for k, v := range c.operations {
		out[k] = *v
	}
	return out
}

// ResetOperations clears the per-operation tracking. Prometheus series are unaffected.
func (c *Collector) ResetOperations() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.operations = make(map[string]*OperationMetrics)
	c.lastReset = time.Now()
}

// Helper methods

func (c *Collector) initMetrics() {
	ns, sub, labels := c.config.Namespace, c.config.Subsystem, prometheus.Labels(c.config.Labels)

	c.requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "requests_total",
			Help:        "Cache lookups by result and serving tier",
			ConstLabels: labels,
		},
		[]string{"result", "tier"},
	)

	c.evictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "evictions_total",
			Help:        "Entries removed by reason",
			ConstLabels: labels,
		},
		[]string{"reason"},
	)

	c.entries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "entries",
			Help:        "Live entries per tier",
			ConstLabels: labels,
		},
		[]string{"tier"},
	)

	c.sizeBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "size_bytes",
			Help:        "Stored value bytes per tier",
			ConstLabels: labels,
		},
		[]string{"tier"},
	)

	c.persistenceFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "persistence_failures_total",
			Help:        "Persistent writes that failed and were skipped",
			ConstLabels: labels,
		},
		[]string{"kind"},
	)

	c.loaderFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "loader_failures_total",
			Help:        "Warm loader failures by category",
			ConstLabels: labels,
		},
		[]string{"category"},
	)

	c.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "operation_duration_seconds",
			Help:        "Duration of batch operations in seconds",
			Buckets:     prometheus.ExponentialBuckets(0.0005, 2, 15),
			ConstLabels: labels,
		},
		[]string{"operation"},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.requests,
		c.evictions,
		c.entries,
		c.sizeBytes,
		c.persistenceFailures,
		c.loaderFailures,
		c.operationDuration,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

// classifyError labels err by the most specific cache error code in its chain.
func classifyError(err error) string {
	for _, code := range []errors.ErrorCode{
		errors.ErrCodeQuotaExceeded,
		errors.ErrCodeCircuitOpen,
		errors.ErrCodeStorageBusy,
		errors.ErrCodeSerialization,
		errors.ErrCodeOperationTimeout,
		errors.ErrCodeStorageFull,
	} {
		if errors.HasCode(err, code) {
			return string(code)
		}
	}
	return "other"
}
