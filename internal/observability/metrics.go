package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MetricsManager owns the prometheus registry and every proxy metric.
type MetricsManager struct {
	logger   *zap.SugaredLogger
	registry *prometheus.Registry

	uptime       prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	connects          *prometheus.CounterVec
	activeConnections prometheus.Gauge
	tunnelBytes       *prometheus.CounterVec

	inspectedRequests  *prometheus.CounterVec
	inspectionDuration *prometheus.HistogramVec
	inspectionErrors   prometheus.Counter
	sizeLimitHits      *prometheus.CounterVec

	leafCacheSize     prometheus.Gauge
	pinningDetections *prometheus.CounterVec

	settingsPolls *prometheus.CounterVec
	eventPosts    *prometheus.CounterVec
}

// NewMetricsManager builds a dedicated registry with the proxy metrics
// plus the Go runtime and process collectors.
func NewMetricsManager(logger *zap.SugaredLogger) *MetricsManager {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	f := promauto.With(registry)
	return &MetricsManager{
		logger:   logger,
		registry: registry,

		uptime: f.NewGauge(prometheus.GaugeOpts{
			Name: "complyze_uptime_seconds",
			Help: "Time since the proxy started",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "complyze_http_requests_total",
			Help: "Total number of local endpoint requests",
		}, []string{"method", "path", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "complyze_http_request_duration_seconds",
			Help:    "Local endpoint request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),

		// route: plain, metadata, inspect
		connects: f.NewCounterVec(prometheus.CounterOpts{
			Name: "complyze_connects_total",
			Help: "Total number of CONNECT requests by route",
		}, []string{"route"}),
		activeConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "complyze_active_connections",
			Help: "Number of client connections currently open",
		}),
		// direction: up, down
		tunnelBytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "complyze_tunnel_bytes_total",
			Help: "Bytes relayed through tunnels by direction",
		}, []string{"direction"}),

		// action: none, monitor, warn, redact, block, error
		inspectedRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "complyze_inspected_requests_total",
			Help: "Total number of deep-inspected requests",
		}, []string{"tool", "action"}),
		// bucket: text, attachment
		inspectionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "complyze_inspection_duration_seconds",
			Help:    "Classification latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.3, 0.5, 1, 3},
		}, []string{"bucket"}),
		inspectionErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "complyze_inspection_errors_total",
			Help: "Total number of classifier errors and timeouts",
		}),
		// kind: body_too_large, attachment_size_limit
		sizeLimitHits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "complyze_size_limit_hits_total",
			Help: "Requests over a size cap by kind",
		}, []string{"kind"}),

		leafCacheSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "complyze_leaf_cache_size",
			Help: "Number of minted leaf certificates in the cache",
		}),
		pinningDetections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "complyze_pinning_detections_total",
			Help: "Certificate-pinning detections by host",
		}, []string{"host"}),

		// result: ok, failed
		settingsPolls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "complyze_settings_polls_total",
			Help: "Settings poll attempts by result",
		}, []string{"result"}),
		// result: ok, failed
		eventPosts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "complyze_event_posts_total",
			Help: "Control-plane event posts by result",
		}, []string{"result"}),
	}
}

// Handler serves the registry in the prometheus exposition format.
func (mm *MetricsManager) Handler() http.Handler {
	return promhttp.HandlerFor(mm.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry exposes the underlying registry.
func (mm *MetricsManager) Registry() *prometheus.Registry {
	return mm.registry
}

// SetUptime refreshes the uptime gauge.
func (mm *MetricsManager) SetUptime(startTime time.Time) {
	mm.uptime.Set(time.Since(startTime).Seconds())
}

// RecordHTTPRequest counts one local endpoint request.
func (mm *MetricsManager) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	mm.httpRequests.WithLabelValues(method, path, status).Inc()
	mm.httpDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordConnect counts one CONNECT dispatch.
func (mm *MetricsManager) RecordConnect(route string) {
	mm.connects.WithLabelValues(route).Inc()
}

// ConnectionOpened bumps the active connection gauge.
func (mm *MetricsManager) ConnectionOpened() {
	mm.activeConnections.Inc()
}

// ConnectionClosed drops the active connection gauge.
func (mm *MetricsManager) ConnectionClosed() {
	mm.activeConnections.Dec()
}

// AddTunnelBytes accumulates relayed tunnel bytes.
func (mm *MetricsManager) AddTunnelBytes(up, down int64) {
	if up > 0 {
		mm.tunnelBytes.WithLabelValues("up").Add(float64(up))
	}
	if down > 0 {
		mm.tunnelBytes.WithLabelValues("down").Add(float64(down))
	}
}

// RecordInspection counts one deep-inspected request.
func (mm *MetricsManager) RecordInspection(tool, action string) {
	mm.inspectedRequests.WithLabelValues(tool, action).Inc()
}

// ObserveInspectionDuration records classification latency.
func (mm *MetricsManager) ObserveInspectionDuration(bucket string, duration time.Duration) {
	mm.inspectionDuration.WithLabelValues(bucket).Observe(duration.Seconds())
}

// RecordInspectionError counts a classifier error or timeout.
func (mm *MetricsManager) RecordInspectionError() {
	mm.inspectionErrors.Inc()
}

// RecordSizeLimitHit counts a request over a size cap.
func (mm *MetricsManager) RecordSizeLimitHit(kind string) {
	mm.sizeLimitHits.WithLabelValues(kind).Inc()
}

// SetLeafCacheSize refreshes the minted-certificate cache gauge.
func (mm *MetricsManager) SetLeafCacheSize(size int) {
	mm.leafCacheSize.Set(float64(size))
}

// RecordPinningDetection counts a pinning demotion.
func (mm *MetricsManager) RecordPinningDetection(host string) {
	mm.pinningDetections.WithLabelValues(host).Inc()
}

// RecordSettingsPoll counts a settings poll attempt.
func (mm *MetricsManager) RecordSettingsPoll(result string) {
	mm.settingsPolls.WithLabelValues(result).Inc()
}

// RecordEventPost counts a control-plane event post.
func (mm *MetricsManager) RecordEventPost(result string) {
	mm.eventPosts.WithLabelValues(result).Inc()
}

// HTTPMiddleware records request counts and latency for the local
// endpoints.
func (mm *MetricsManager) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			mm.RecordHTTPRequest(r.Method, r.URL.Path, http.StatusText(sw.status), time.Since(start))
		})
	}
}
