package observability

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// TracingConfig holds the OTLP tracing settings.
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
}

// TracingManager owns the tracer provider. A disabled manager hands out
// no-op spans so callers never have to branch on configuration.
type TracingManager struct {
	logger   *zap.SugaredLogger
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
	enabled  bool
}

// NewTracingManager builds the OTLP export pipeline, or an inert
// manager when tracing is off.
func NewTracingManager(logger *zap.SugaredLogger, cfg TracingConfig) (*TracingManager, error) {
	if !cfg.Enabled {
		return &TracingManager{logger: logger}, nil
	}

	exporter, err := otlptracehttp.New(context.Background(),
		otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to describe service resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRate)),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	logger.Infow("OTLP tracing enabled",
		"service_name", cfg.ServiceName,
		"otlp_endpoint", cfg.OTLPEndpoint,
		"sample_rate", cfg.SampleRate)

	return &TracingManager{
		logger:   logger,
		tracer:   provider.Tracer(cfg.ServiceName),
		provider: provider,
		enabled:  true,
	}, nil
}

// IsEnabled reports whether spans are recorded.
func (tm *TracingManager) IsEnabled() bool {
	return tm.enabled
}

// Close flushes pending spans and stops the provider.
func (tm *TracingManager) Close(ctx context.Context) error {
	if tm.provider == nil {
		return nil
	}
	tm.logger.Debug("Shutting down tracing provider")
	return tm.provider.Shutdown(ctx)
}

// StartSpan opens a span. When tracing is disabled the context comes
// back untouched with whatever span it already carried.
func (tm *TracingManager) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if !tm.enabled {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tm.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// TraceConnect spans one CONNECT dispatch.
func (tm *TracingManager) TraceConnect(ctx context.Context, host, route string) (context.Context, trace.Span) {
	return tm.StartSpan(ctx, "proxy.connect",
		attribute.String("proxy.host", host),
		attribute.String("proxy.route", route),
	)
}

// TraceInspection spans classification and policy evaluation of one
// request body.
func (tm *TracingManager) TraceInspection(ctx context.Context, host, tool string, bodySize int) (context.Context, trace.Span) {
	return tm.StartSpan(ctx, "dlp.inspect",
		attribute.String("proxy.host", host),
		attribute.String("proxy.tool", tool),
		attribute.Int("dlp.body_size", bodySize),
	)
}

// TraceForward spans the upstream round trip.
func (tm *TracingManager) TraceForward(ctx context.Context, host, method, path string) (context.Context, trace.Span) {
	return tm.StartSpan(ctx, "proxy.forward",
		attribute.String("proxy.host", host),
		attribute.String("http.method", method),
		attribute.String("http.target", path),
	)
}

// AddSpanAttributes annotates the span already on ctx.
func (tm *TracingManager) AddSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	if tm.enabled {
		trace.SpanFromContext(ctx).SetAttributes(attrs...)
	}
}

// SetSpanError marks the span already on ctx as failed.
func (tm *TracingManager) SetSpanError(ctx context.Context, err error) {
	if !tm.enabled || err == nil {
		return
	}
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("error", "true"),
		attribute.String("error.message", err.Error()),
	)
}

// HTTPMiddleware traces requests to the local control endpoints and
// propagates any incoming trace context.
func (tm *TracingManager) HTTPMiddleware() func(http.Handler) http.Handler {
	if !tm.enabled {
		return func(next http.Handler) http.Handler { return next }
	}

	propagator := otel.GetTextMapPropagator()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tm.tracer.Start(ctx, r.Method+" "+r.URL.Path,
				trace.WithAttributes(
					semconv.HTTPMethodKey.String(r.Method),
					semconv.HTTPHostKey.String(r.Host),
					semconv.HTTPTargetKey.String(r.URL.Path),
					semconv.HTTPUserAgentKey.String(r.UserAgent()),
				),
			)
			defer span.End()

			propagator.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r.WithContext(ctx))

			span.SetAttributes(semconv.HTTPStatusCodeKey.Int(sw.status))
			if sw.status >= 400 {
				span.SetAttributes(attribute.String("error", "true"))
			}
		})
	}
}

// statusWriter captures the response status for the middlewares.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}
