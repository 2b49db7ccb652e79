// Package proxy implements the interception proxy itself: the CONNECT
// listener, route dispatch, TLS termination, the inspection pipeline and
// the upstream forwarder. Everything else in this repository exists to
// serve this package.
package proxy

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/complyze/complyze-proxy/internal/attachments"
	"github.com/complyze/complyze-proxy/internal/certs"
	"github.com/complyze/complyze-proxy/internal/classify"
	"github.com/complyze/complyze-proxy/internal/config"
	"github.com/complyze/complyze-proxy/internal/controlplane"
	"github.com/complyze/complyze-proxy/internal/domains"
	"github.com/complyze/complyze-proxy/internal/notify"
	"github.com/complyze/complyze-proxy/internal/observability"
	"github.com/complyze/complyze-proxy/internal/pinning"
	"github.com/complyze/complyze-proxy/internal/storage"
	"github.com/complyze/complyze-proxy/internal/telemetry"
	"github.com/complyze/complyze-proxy/internal/tokens"
)

const (
	dialTimeout       = 10 * time.Second
	handshakeTimeout  = 10 * time.Second
	tunnelIdleTimeout = 30 * time.Second
	shutdownGrace     = 5 * time.Second
)

// Server is the proxy process. It owns the CONNECT listener plus every
// long-lived component: certificate authority, pinning tracker, control
// plane loops, classifier, telemetry and observability.
type Server struct {
	cfg     *config.Config
	logger  *zap.SugaredLogger
	version string

	table  *domains.Table
	ca     *certs.CA
	minter *certs.Minter

	db      *storage.BoltDB
	device  *storage.DeviceRecord
	tracker *pinning.Tracker

	cpClient  *controlplane.Client
	poller    *controlplane.SettingsPoller
	reporter  *controlplane.Reporter
	heartbeat *controlplane.HeartbeatLoop

	classifier *classify.Classifier
	inspector  *attachments.Inspector
	counter    *tokens.Counter

	telemetry *telemetry.Telemetry
	obs       *observability.Manager
	notifier  *notify.Notifier

	// transport is shared by every MITM session so upstream connections
	// are pooled across requests. dialUpstream opens raw tunnel sockets.
	transport    *http.Transport
	dialUpstream func(network, addr string) (net.Conn, error)

	endpoints  http.Handler
	httpServer *http.Server
	listener   net.Listener
	listening  atomic.Bool

	loopCancel context.CancelFunc
	loopsDone  chan struct{}
}

// New assembles a Server from configuration. It touches disk (CA material,
// bolt database, telemetry log) but does not listen yet.
func New(cfg *config.Config, version string, logger *zap.SugaredLogger) (*Server, error) {
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		version: version,
	}

	s.table = domains.NewTable()
	if cfg.DomainsFile != "" {
		if err := domains.LoadOverrides(s.table, cfg.DomainsFile); err != nil {
			return nil, fmt.Errorf("failed to load domain overrides: %w", err)
		}
	}

	ca, err := certs.LoadOrCreate(cfg.CertsDir(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load CA: %w", err)
	}
	s.ca = ca

	minter, err := certs.NewMinter(ca)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate minter: %w", err)
	}
	s.minter = minter

	db, err := storage.NewBoltDB(cfg.BoltPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	s.db = db

	device, err := db.DeviceIdentity()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to resolve device identity: %w", err)
	}
	s.device = device

	tracker, err := pinning.NewTracker(db, cfg.StrictPinMode, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load pinning state: %w", err)
	}
	s.tracker = tracker

	cpClient, err := controlplane.NewClient(cfg.ControlPlaneURL, cfg.WorkspaceID, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create control plane client: %w", err)
	}
	s.cpClient = cpClient
	s.poller = controlplane.NewSettingsPoller(cpClient, cfg.BootstrapEnforcementMode(), logger)
	s.reporter = controlplane.NewReporter(cpClient, device, logger)
	s.heartbeat = controlplane.NewHeartbeatLoop(cpClient, device, version, s.healthSignals, logger)

	s.classifier = classify.New(logger)
	s.inspector = attachments.NewInspector(s.classifier, logger)

	counter, err := tokens.NewCounter("", logger, cfg.PreciseTokenCount)
	if err != nil {
		logger.Warnw("Precise token counting unavailable, events keep the chars/4 estimate", "error", err)
		counter, _ = tokens.NewCounter("", logger, false)
	}
	s.counter = counter

	s.telemetry = telemetry.New(telemetry.Options{
		Path:      cfg.TelemetryPath(),
		RemoteURL: cfg.TelemetryURL,
	}, logger)

	obsConfig := observability.DefaultConfig("complyze-proxy", version)
	obsConfig.Tracing.Enabled = cfg.TracingEnabled
	if cfg.OTLPEndpoint != "" {
		obsConfig.Tracing.OTLPEndpoint = cfg.OTLPEndpoint
	}
	obs, err := observability.NewManager(logger, obsConfig)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create observability manager: %w", err)
	}
	s.obs = obs
	s.registerHealthCheckers()
	if mm := obs.Metrics(); mm != nil {
		s.poller.SetObserver(mm.RecordSettingsPoll)
		s.reporter.SetObserver(mm.RecordEventPost)
	}

	s.notifier = notify.New(cfg.NotifyOnBlock, logger)

	// A non-nil TLSClientConfig keeps the transport on HTTP/1.1, which is
	// what resp.Write emits back to the client. Compression stays off so
	// Content-Encoding and Content-Length pass through untouched.
	s.transport = &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		TLSHandshakeTimeout:   handshakeTimeout,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		DisableCompression:    true,
		ExpectContinueTimeout: time.Second,
	}

	s.dialUpstream = func(network, addr string) (net.Conn, error) {
		return net.DialTimeout(network, addr, dialTimeout)
	}

	s.endpoints = s.buildEndpoints()

	return s, nil
}

// Start binds the listener and launches the background loops. It returns
// once the proxy is accepting connections.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Listen, err)
	}
	s.listener = listener

	loopCtx, cancel := context.WithCancel(ctx)
	s.loopCancel = cancel
	s.loopsDone = make(chan struct{})
	go s.runLoops(loopCtx)

	s.httpServer = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: handshakeTimeout,
		ErrorLog:          zap.NewStdLog(s.logger.Desugar()),
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Errorw("Proxy listener stopped", "error", err)
		}
	}()

	s.listening.Store(true)
	s.telemetry.ProxyStart(s.Port(), string(s.cfg.BootstrapEnforcementMode()), s.cfg.FailOpen)
	s.logger.Infow("Proxy listening",
		"addr", listener.Addr().String(),
		"workspace", s.cfg.WorkspaceID,
		"fail_open", s.cfg.FailOpen,
		"strict_pin_mode", s.cfg.StrictPinMode)

	return nil
}

// Run starts the proxy and blocks until ctx is cancelled, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Shutdown(context.Background())
}

// Shutdown stops accepting connections, drains in-flight event posts and
// closes every component. Hijacked tunnels are not waited on; they end
// when their peers hang up.
func (s *Server) Shutdown(ctx context.Context) error {
	s.listening.Store(false)

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownGrace)
	defer cancel()
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Debugw("HTTP server shutdown", "error", err)
		}
	}

	if s.loopCancel != nil {
		s.loopCancel()
		<-s.loopsDone
	}

	s.reporter.Drain()
	s.telemetry.WriteSnapshot()
	if err := s.telemetry.Close(); err != nil {
		s.logger.Debugw("Telemetry close", "error", err)
	}
	if err := s.obs.Close(shutdownCtx); err != nil {
		s.logger.Debugw("Observability close", "error", err)
	}
	if err := s.db.Close(); err != nil {
		s.logger.Debugw("Storage close", "error", err)
	}

	s.logger.Info("Proxy stopped")
	return nil
}

// Addr returns the bound listener address, useful when Listen was ":0".
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.Listen
	}
	return s.listener.Addr().String()
}

// Port returns the bound listener port.
func (s *Server) Port() int {
	_, portStr, err := net.SplitHostPort(s.Addr())
	if err != nil {
		return 0
	}
	port, _ := strconv.Atoi(portStr)
	return port
}

// CA returns the interception root, exposed for the cert CLI commands.
func (s *Server) CA() *certs.CA {
	return s.ca
}

// ServeHTTP dispatches CONNECT requests into the interception path and
// everything else to the local endpoints (PAC file, metrics, health).
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		s.handleConnect(w, r)
		return
	}
	s.endpoints.ServeHTTP(w, r)
}

// runLoops owns every background goroutine: settings polling, heartbeats,
// the telemetry monitor and the periodic gauge refresh.
func (s *Server) runLoops(ctx context.Context) {
	defer close(s.loopsDone)

	done := make(chan struct{}, 3)

	go func() {
		s.poller.Start(ctx)
		done <- struct{}{}
	}()
	go func() {
		s.heartbeat.Start(ctx)
		done <- struct{}{}
	}()
	go func() {
		s.telemetry.Run(ctx, int64(s.cfg.MemoryLimitBytes()))
		done <- struct{}{}
	}()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			for i := 0; i < 3; i++ {
				<-done
			}
			return
		case <-ticker.C:
			s.obs.UpdateMetrics()
			s.obs.Metrics().SetLeafCacheSize(s.minter.CacheLen())
		}
	}
}

// healthSignals feeds the heartbeat payload: control plane reachability,
// whether the listener is up, and whether interception material exists.
func (s *Server) healthSignals() (serviceConnectivity, trafficRouting, osIntegration bool) {
	return s.poller.Synced(), s.listening.Load(), s.ca != nil && s.ca.Fingerprint() != ""
}

func (s *Server) registerHealthCheckers() {
	s.obs.RegisterHealthChecker(observability.NewDatabaseHealthChecker("storage", s.db.DB()))
	s.obs.RegisterReadinessChecker(observability.NewDatabaseHealthChecker("storage", s.db.DB()))

	certChecker := observability.NewCertificateHealthChecker("certificates",
		s.ca.Fingerprint,
		func(ctx context.Context, host string) error {
			_, err := s.minter.CertificateFor(host)
			return err
		})
	s.obs.RegisterHealthChecker(certChecker)
	s.obs.RegisterReadinessChecker(certChecker)

	cpChecker := observability.NewControlPlaneHealthChecker("control_plane", func() (bool, error) {
		if !s.poller.Synced() {
			return false, fmt.Errorf("no successful settings poll yet")
		}
		return true, nil
	})
	s.obs.RegisterHealthChecker(cpChecker)
	s.obs.RegisterReadinessChecker(cpChecker)

	s.obs.RegisterReadinessChecker(observability.NewProbeFunc("listener", func() error {
		if !s.listening.Load() {
			return fmt.Errorf("listener is not accepting connections")
		}
		return nil
	}))
}

// settingsSnapshot is taken once per CONNECT (and once per MITM request)
// so a mid-flight poll cannot change behavior halfway through.
func (s *Server) settingsSnapshot() *config.Settings {
	return s.poller.Snapshot()
}
