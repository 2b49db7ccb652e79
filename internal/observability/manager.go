// Package observability bundles the proxy's health probes, prometheus
// metrics, and optional OTLP tracing behind a single manager.
package observability

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Config enables and tunes the observability surfaces.
type Config struct {
	Health  HealthConfig  `json:"health"`
	Metrics MetricsConfig `json:"metrics"`
	Tracing TracingConfig `json:"tracing"`
}

// HealthConfig tunes the /healthz and /readyz probes.
type HealthConfig struct {
	Enabled bool          `json:"enabled"`
	Timeout time.Duration `json:"timeout"`
}

// MetricsConfig enables the prometheus registry.
type MetricsConfig struct {
	Enabled bool `json:"enabled"`
}

// DefaultConfig enables the local surfaces and leaves tracing off.
func DefaultConfig(serviceName, serviceVersion string) Config {
	return Config{
		Health:  HealthConfig{Enabled: true, Timeout: 5 * time.Second},
		Metrics: MetricsConfig{Enabled: true},
		Tracing: TracingConfig{
			ServiceName:    serviceName,
			ServiceVersion: serviceVersion,
			OTLPEndpoint:   "localhost:4318",
			SampleRate:     0.1,
		},
	}
}

// Manager wires health, metrics, and tracing together for the server.
// Health and metrics are nil when disabled; tracing is always present
// and inert unless enabled, so span call sites never branch.
type Manager struct {
	logger    *zap.SugaredLogger
	health    *HealthManager
	metrics   *MetricsManager
	tracing   *TracingManager
	startTime time.Time
}

// NewManager builds the managers selected by cfg.
func NewManager(logger *zap.SugaredLogger, cfg Config) (*Manager, error) {
	tracing, err := NewTracingManager(logger, cfg.Tracing)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		logger:    logger,
		tracing:   tracing,
		startTime: time.Now(),
	}
	if cfg.Health.Enabled {
		m.health = NewHealthManager(logger, cfg.Health.Timeout)
	}
	if cfg.Metrics.Enabled {
		m.metrics = NewMetricsManager(logger)
	}
	return m, nil
}

// Health returns the health manager, nil when disabled.
func (m *Manager) Health() *HealthManager { return m.health }

// Metrics returns the metrics manager, nil when disabled.
func (m *Manager) Metrics() *MetricsManager { return m.metrics }

// Tracing returns the tracing manager, never nil.
func (m *Manager) Tracing() *TracingManager { return m.tracing }

// RegisterHealthChecker adds a liveness probe.
func (m *Manager) RegisterHealthChecker(c HealthChecker) {
	if m.health != nil {
		m.health.AddHealthChecker(c)
	}
}

// RegisterReadinessChecker adds a readiness probe.
func (m *Manager) RegisterReadinessChecker(c ReadinessChecker) {
	if m.health != nil {
		m.health.AddReadinessChecker(c)
	}
}

// HTTPMiddleware instruments the local endpoints with request metrics
// and tracing.
func (m *Manager) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		next = m.tracing.HTTPMiddleware()(next)
		if m.metrics != nil {
			next = m.metrics.HTTPMiddleware()(next)
		}
		return next
	}
}

// UpdateMetrics refreshes the gauges owned by the manager.
func (m *Manager) UpdateMetrics() {
	if m.metrics != nil {
		m.metrics.SetUptime(m.startTime)
	}
}

// Close flushes and stops the tracing provider.
func (m *Manager) Close(ctx context.Context) error {
	if err := m.tracing.Close(ctx); err != nil {
		m.logger.Errorw("Failed to close tracing manager", "error", err)
		return err
	}
	return nil
}

// IsHealthy reports whether every liveness probe passes. Disabled
// health checking counts as healthy.
func (m *Manager) IsHealthy() bool {
	return m.health == nil || m.health.IsHealthy()
}

// IsReady reports whether every readiness probe passes.
func (m *Manager) IsReady() bool {
	return m.health == nil || m.health.IsReady()
}

// RecordConnect counts one CONNECT dispatch.
func (m *Manager) RecordConnect(route string) {
	if m.metrics != nil {
		m.metrics.RecordConnect(route)
	}
}

// RecordInspection folds one classified request into metrics and marks
// the active span on error.
func (m *Manager) RecordInspection(ctx context.Context, tool, action, bucket string, duration time.Duration, err error) {
	if m.metrics != nil {
		m.metrics.RecordInspection(tool, action)
		m.metrics.ObserveInspectionDuration(bucket, duration)
		if err != nil {
			m.metrics.RecordInspectionError()
		}
	}
	m.tracing.SetSpanError(ctx, err)
}

// SpanConnect opens a span covering one CONNECT from dispatch to
// teardown.
func (m *Manager) SpanConnect(ctx context.Context, host, route string) (context.Context, trace.Span) {
	return m.tracing.TraceConnect(ctx, host, route)
}

// SpanInspection opens a span covering classification and policy
// evaluation for one request body.
func (m *Manager) SpanInspection(ctx context.Context, host, tool string, bodySize int) (context.Context, trace.Span) {
	return m.tracing.TraceInspection(ctx, host, tool, bodySize)
}

// SpanForward opens a span covering the upstream round trip.
func (m *Manager) SpanForward(ctx context.Context, host, method, path string) (context.Context, trace.Span) {
	return m.tracing.TraceForward(ctx, host, method, path)
}
