package middleware

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vango-dev/tablesync/pkg/reducer"
	"github.com/vango-dev/tablesync/pkg/state"
)

// MetricsConfig configures the Prometheus metrics middleware.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "tablesync").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for apply duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus metrics middleware.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "tablesync",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

type metrics struct {
	actionsTotal     *prometheus.CounterVec
	actionDuration   *prometheus.HistogramVec
	actionErrors     *prometheus.CounterVec
	stateFramesSent  *prometheus.CounterVec
	activeSessions   prometheus.Gauge
	duplicateUpdates prometheus.Counter
	wsErrors         *prometheus.CounterVec
	persistsTotal    *prometheus.CounterVec
}

// globalMetrics is the singleton metrics instance, created on the first
// call to Prometheus().
var (
	globalMetrics   *metrics
	globalMetricsMu sync.Mutex
)

func initMetrics(config MetricsConfig) *metrics {
	factory := promauto.With(config.Registry)

	return &metrics{
		actionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "actions_total",
			Help:        "Total number of actions applied to the canonical state",
			ConstLabels: config.ConstLabels,
		}, []string{"type", "status"}),

		actionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "action_duration_seconds",
			Help:        "Action apply duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"type"}),

		actionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "action_errors_total",
			Help:        "Total number of actions that failed to apply",
			ConstLabels: config.ConstLabels,
		}, []string{"type", "error_type"}),

		stateFramesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "state_frames_sent_total",
			Help:        "Total number of state frames sent to clients",
			ConstLabels: config.ConstLabels,
		}, []string{"kind"}),

		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "active_sessions",
			Help:        "Number of connected sessions",
			ConstLabels: config.ConstLabels,
		}),

		duplicateUpdates: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "duplicate_updates_total",
			Help:        "Total number of resent optimistic updates that were already applied",
			ConstLabels: config.ConstLabels,
		}),

		wsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "websocket_errors_total",
			Help:        "Total WebSocket errors by type",
			ConstLabels: config.ConstLabels,
		}, []string{"type"}),

		persistsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "persists_total",
			Help:        "Total number of snapshot saves by status",
			ConstLabels: config.ConstLabels,
		}, []string{"status"}),
	}
}

// Prometheus creates middleware that collects Prometheus metrics for every
// applied action. Metrics are registered once; later calls share them.
func Prometheus(opts ...MetricsOption) Middleware {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}

	globalMetricsMu.Lock()
	if globalMetrics == nil {
		globalMetrics = initMetrics(config)
	}
	m := globalMetrics
	globalMetricsMu.Unlock()

	return MiddlewareFunc(func(ctx context.Context, a Apply, next Next) error {
		typ := typeLabel(a.Action.Type)

		start := time.Now()
		err := next(ctx)
		m.actionDuration.WithLabelValues(typ).Observe(time.Since(start).Seconds())

		status := "success"
		if err != nil {
			status = "error"
			m.actionErrors.WithLabelValues(typ, categorizeError(err)).Inc()
		}
		m.actionsTotal.WithLabelValues(typ, status).Inc()
		return err
	})
}

// categorizeError returns a low-cardinality category for an apply error.
func categorizeError(err error) string {
	switch {
	case stderrors.Is(err, reducer.ErrUnknownMap):
		return "unknown_map"
	case stderrors.Is(err, state.ErrInvalidState):
		return "invalid_state"
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "panic:"):
		return "panic"
	case strings.Contains(msg, "payload"):
		return "payload"
	case strings.Contains(msg, "not found"):
		return "not_found"
	default:
		return "internal"
	}
}

// =============================================================================
// Metrics Recording Functions
// =============================================================================

// RecordStateFrame records a state frame sent to a client. kind is "set" or
// "patch".
func RecordStateFrame(kind string) {
	if globalMetrics != nil {
		globalMetrics.stateFramesSent.WithLabelValues(kind).Inc()
	}
}

// RecordSessionCreate records a new session.
func RecordSessionCreate() {
	if globalMetrics != nil {
		globalMetrics.activeSessions.Inc()
	}
}

// RecordSessionDestroy records a closed session.
func RecordSessionDestroy() {
	if globalMetrics != nil {
		globalMetrics.activeSessions.Dec()
	}
}

// RecordDuplicateUpdate records a resent update that was skipped.
func RecordDuplicateUpdate() {
	if globalMetrics != nil {
		globalMetrics.duplicateUpdates.Inc()
	}
}

// RecordWebSocketError records a WebSocket error.
func RecordWebSocketError(errorType string) {
	if globalMetrics != nil {
		globalMetrics.wsErrors.WithLabelValues(errorType).Inc()
	}
}

// RecordPersist records a snapshot save.
func RecordPersist(err error) {
	if globalMetrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	globalMetrics.persistsTotal.WithLabelValues(status).Inc()
}

// =============================================================================
// Metrics Collector
// =============================================================================

// Collector exposes the metrics for use in custom registrations and tests.
type Collector struct {
	ActionsTotal     *prometheus.CounterVec
	ActionDuration   *prometheus.HistogramVec
	ActionErrors     *prometheus.CounterVec
	StateFramesSent  *prometheus.CounterVec
	ActiveSessions   prometheus.Gauge
	DuplicateUpdates prometheus.Counter
	WebSocketErrors  *prometheus.CounterVec
	PersistsTotal    *prometheus.CounterVec
}

// GetMetrics returns the global metrics collector.
// Returns nil if Prometheus middleware has not been initialized.
func GetMetrics() *Collector {
	globalMetricsMu.Lock()
	defer globalMetricsMu.Unlock()
	if globalMetrics == nil {
		return nil
	}
	return &Collector{
		ActionsTotal:     globalMetrics.actionsTotal,
		ActionDuration:   globalMetrics.actionDuration,
		ActionErrors:     globalMetrics.actionErrors,
		StateFramesSent:  globalMetrics.stateFramesSent,
		ActiveSessions:   globalMetrics.activeSessions,
		DuplicateUpdates: globalMetrics.duplicateUpdates,
		WebSocketErrors:  globalMetrics.wsErrors,
		PersistsTotal:    globalMetrics.persistsTotal,
	}
}
