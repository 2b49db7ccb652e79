package proxy

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/complyze/complyze-proxy/internal/pac"
)

// buildEndpoints mounts the local read-only endpoints served on the same
// listener as CONNECT: the PAC script, the telemetry snapshot, health and
// prometheus exposition.
func (s *Server) buildEndpoints() http.Handler {
	router := chi.NewRouter()

	router.Use(s.obs.HTTPMiddleware())
	router.Use(middleware.Recoverer)
	router.Use(middleware.RequestID)

	router.Get("/proxy.pac", s.handlePAC)
	router.Get("/proxy/metrics", s.handleTelemetrySnapshot)
	router.Get("/healthz", s.obs.Health().HealthzHandler())
	router.Get("/readyz", s.obs.Health().ReadyzHandler())
	router.Handle("/metrics", s.obs.Metrics().Handler())

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Not Found", http.StatusNotFound)
	})

	return router
}

// handlePAC serves the auto-configuration script. The proxy address in the
// script points back at this listener, substituting a loopback host when
// the proxy is bound to all interfaces.
func (s *Server) handlePAC(w http.ResponseWriter, r *http.Request) {
	addr := s.Addr()
	if host, port, err := net.SplitHostPort(addr); err == nil {
		if host == "" || host == "::" || host == "0.0.0.0" {
			addr = net.JoinHostPort("127.0.0.1", port)
		}
	}

	w.Header().Set("Content-Type", pac.ContentType)
	w.WriteHeader(http.StatusOK)
	w.Write(pac.Script(s.table, addr))
}

// handleTelemetrySnapshot returns the same aggregate the 30s monitor
// writes, computed on demand.
func (s *Server) handleTelemetrySnapshot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(s.telemetry.Snapshot()); err != nil {
		s.logger.Debugw("Snapshot encode failed", "error", err)
	}
}
