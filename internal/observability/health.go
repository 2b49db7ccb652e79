package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthChecker reports whether a component is alive.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
	Name() string
}

// ReadinessChecker reports whether a component can serve traffic.
type ReadinessChecker interface {
	ReadinessCheck(ctx context.Context) error
	Name() string
}

// ComponentStatus is one probed component inside a report.
type ComponentStatus struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// HealthReport is the body served on /healthz and /readyz.
type HealthReport struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components []ComponentStatus `json:"components"`
}

// HealthManager runs component probes behind the liveness and readiness
// endpoints. All probes of one request share a single deadline.
type HealthManager struct {
	logger  *zap.SugaredLogger
	timeout time.Duration

	mu        sync.RWMutex
	health    []HealthChecker
	readiness []ReadinessChecker
}

// NewHealthManager creates a manager whose probes share the given
// timeout per request.
func NewHealthManager(logger *zap.SugaredLogger, timeout time.Duration) *HealthManager {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthManager{logger: logger, timeout: timeout}
}

// AddHealthChecker registers a liveness probe.
func (hm *HealthManager) AddHealthChecker(c HealthChecker) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.health = append(hm.health, c)
}

// AddReadinessChecker registers a readiness probe.
func (hm *HealthManager) AddReadinessChecker(c ReadinessChecker) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.readiness = append(hm.readiness, c)
}

// probe is one named check folded into a report.
type probe struct {
	name  string
	check func(context.Context) error
}

// Healthz runs every liveness probe and aggregates the results.
func (hm *HealthManager) Healthz(ctx context.Context) HealthReport {
	hm.mu.RLock()
	probes := make([]probe, 0, len(hm.health))
	for _, c := range hm.health {
		probes = append(probes, probe{name: c.Name(), check: c.HealthCheck})
	}
	hm.mu.RUnlock()
	return hm.run(ctx, probes, "healthy", "unhealthy")
}

// Readyz runs every readiness probe and aggregates the results.
func (hm *HealthManager) Readyz(ctx context.Context) HealthReport {
	hm.mu.RLock()
	probes := make([]probe, 0, len(hm.readiness))
	for _, c := range hm.readiness {
		probes = append(probes, probe{name: c.Name(), check: c.ReadinessCheck})
	}
	hm.mu.RUnlock()
	return hm.run(ctx, probes, "ready", "not_ready")
}

func (hm *HealthManager) run(ctx context.Context, probes []probe, ok, bad string) HealthReport {
	report := HealthReport{
		Status:     ok,
		Timestamp:  time.Now(),
		Components: make([]ComponentStatus, 0, len(probes)),
	}

	for _, p := range probes {
		start := time.Now()
		status := ComponentStatus{Name: p.name, Status: ok}
		if err := p.check(ctx); err != nil {
			status.Status = bad
			status.Error = err.Error()
			report.Status = bad
			hm.logger.Warnw("Probe failed", "component", p.name, "error", err)
		}
		status.Latency = time.Since(start).String()
		report.Components = append(report.Components, status)
	}

	return report
}

// HealthzHandler serves the liveness report.
func (hm *HealthManager) HealthzHandler() http.HandlerFunc {
	return hm.serveReport(hm.Healthz, "healthy")
}

// ReadyzHandler serves the readiness report.
func (hm *HealthManager) ReadyzHandler() http.HandlerFunc {
	return hm.serveReport(hm.Readyz, "ready")
}

func (hm *HealthManager) serveReport(report func(context.Context) HealthReport, ok string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), hm.timeout)
		defer cancel()

		rep := report(ctx)
		code := http.StatusOK
		if rep.Status != ok {
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if err := json.NewEncoder(w).Encode(rep); err != nil {
			hm.logger.Errorw("Failed to encode probe report", "error", err)
		}
	}
}

// IsHealthy reports whether every liveness probe passes.
func (hm *HealthManager) IsHealthy() bool {
	ctx, cancel := context.WithTimeout(context.Background(), hm.timeout)
	defer cancel()
	return hm.Healthz(ctx).Status == "healthy"
}

// IsReady reports whether every readiness probe passes.
func (hm *HealthManager) IsReady() bool {
	ctx, cancel := context.WithTimeout(context.Background(), hm.timeout)
	defer cancel()
	return hm.Readyz(ctx).Status == "ready"
}
