package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefaultObservabilityConfig(t *testing.T) {
	cfg := DefaultConfig("complyze-proxy", "v0.1.0")

	assert.True(t, cfg.Health.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Health.Timeout)
	assert.True(t, cfg.Metrics.Enabled)

	// Tracing is opt-in.
	assert.False(t, cfg.Tracing.Enabled)
	assert.Equal(t, "complyze-proxy", cfg.Tracing.ServiceName)
	assert.Equal(t, "localhost:4318", cfg.Tracing.OTLPEndpoint)
	assert.Equal(t, 0.1, cfg.Tracing.SampleRate)
}

func TestManagerServesObservabilityEndpoints(t *testing.T) {
	m, err := NewManager(zap.NewNop().Sugar(), DefaultConfig("complyze-proxy", "test"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close(context.Background()) })

	m.RegisterHealthChecker(&stubChecker{name: "storage"})
	m.RegisterReadinessChecker(&stubChecker{name: "control_plane"})
	m.UpdateMetrics()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", m.Health().HealthzHandler())
	mux.HandleFunc("/readyz", m.Health().ReadyzHandler())
	mux.Handle("/metrics", m.Metrics().Handler())
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err, path)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		_ = resp.Body.Close()
	}

	assert.True(t, m.IsHealthy())
	assert.True(t, m.IsReady())
}

func TestManagerWithEverythingDisabled(t *testing.T) {
	m, err := NewManager(zap.NewNop().Sugar(), Config{})
	require.NoError(t, err)

	assert.Nil(t, m.Health())
	assert.Nil(t, m.Metrics())
	require.NotNil(t, m.Tracing())
	assert.False(t, m.Tracing().IsEnabled())
	assert.True(t, m.IsHealthy())
	assert.True(t, m.IsReady())

	// No-ops, not panics.
	m.UpdateMetrics()
	m.RecordConnect("inspect")
	m.RecordInspection(context.Background(), "OpenAI API", "error", "text", time.Millisecond, errors.New("deadline"))
	require.NoError(t, m.Close(context.Background()))

	// Middleware degrades to a passthrough.
	handler := m.HTTPMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
}

func TestManagerSpanWrappersWithTracingOff(t *testing.T) {
	m, err := NewManager(zap.NewNop().Sugar(), Config{})
	require.NoError(t, err)

	ctx := context.Background()

	spanCtx, span := m.SpanConnect(ctx, "api.openai.com", "inspect")
	assert.Equal(t, ctx, spanCtx)
	span.End()

	_, span = m.SpanInspection(ctx, "api.anthropic.com", "Claude API", 256)
	span.End()

	_, span = m.SpanForward(ctx, "api.anthropic.com", http.MethodPost, "/v1/messages")
	span.End()
}

func TestManagerRecordInspection(t *testing.T) {
	m, err := NewManager(zap.NewNop().Sugar(), Config{Metrics: MetricsConfig{Enabled: true}})
	require.NoError(t, err)

	m.RecordInspection(context.Background(), "Claude API", "none", "text", 3*time.Millisecond, nil)
	m.RecordInspection(context.Background(), "Claude API", "error", "text", time.Second, errors.New("deadline"))

	mm := m.Metrics()
	assert.Equal(t, float64(1), testutil.ToFloat64(mm.inspectedRequests.WithLabelValues("Claude API", "none")))
	assert.Equal(t, float64(1), testutil.ToFloat64(mm.inspectedRequests.WithLabelValues("Claude API", "error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(mm.inspectionErrors))
}
