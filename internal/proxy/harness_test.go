package proxy

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/complyze/complyze-proxy/internal/config"
)

// fakeControlPlane stands in for the dashboard API: it serves settings and
// records heartbeats and intercept posts.
type fakeControlPlane struct {
	mu         sync.Mutex
	settings   *config.Settings
	intercepts []map[string]any
	heartbeats int

	srv *httptest.Server
}

func newFakeControlPlane(t *testing.T) *fakeControlPlane {
	t.Helper()
	f := &fakeControlPlane{settings: config.DefaultSettings(config.ModeMonitor)}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/proxy/settings", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(f.settings)
	})
	mux.HandleFunc("POST /api/agent/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.heartbeats++
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /api/proxy/intercept", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.intercepts = append(f.intercepts, payload)
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeControlPlane) setSettings(s *config.Settings) {
	f.mu.Lock()
	f.settings = s
	f.mu.Unlock()
}

func (f *fakeControlPlane) interceptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.intercepts)
}

func (f *fakeControlPlane) intercept(i int) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.intercepts[i]
}

// upstreamRecorder is the fake AI API behind the proxy. It records every
// request it receives and answers 200 unless a handler override is set.
type upstreamRecorder struct {
	mu       sync.Mutex
	requests []recordedRequest
	handler  http.HandlerFunc

	srv *httptest.Server
}

type recordedRequest struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

func newUpstreamRecorder(t *testing.T) *upstreamRecorder {
	t.Helper()
	u := &upstreamRecorder{}
	u.srv = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		u.mu.Lock()
		u.requests = append(u.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Header: r.Header.Clone(),
			Body:   body,
		})
		h := u.handler
		u.mu.Unlock()

		if h != nil {
			h(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(u.srv.Close)
	return u
}

func (u *upstreamRecorder) requestCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.requests)
}

func (u *upstreamRecorder) request(i int) recordedRequest {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.requests[i]
}

func (u *upstreamRecorder) setHandler(h http.HandlerFunc) {
	u.mu.Lock()
	u.handler = h
	u.mu.Unlock()
}

// newTestProxy builds and starts a full Server against the fakes. All
// upstream dials are redirected to the recorder regardless of the
// requested host, so any CONNECT authority exercises the real pipeline.
func newTestProxy(t *testing.T, cp *fakeControlPlane, upstream *upstreamRecorder, mutate func(*config.Config)) *Server {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Listen = "127.0.0.1:0"
	cfg.DataDir = t.TempDir()
	cfg.ControlPlaneURL = cp.srv.URL
	cfg.WorkspaceID = "test-workspace"
	if mutate != nil {
		mutate(cfg)
	}

	srv, err := New(cfg, "test", zap.NewNop().Sugar())
	require.NoError(t, err)

	if upstream != nil {
		addr := upstream.srv.Listener.Addr().String()
		srv.transport.DialContext = func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		}
		srv.transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, srv.Start(ctx))
	t.Cleanup(func() {
		cancel()
		srv.Shutdown(context.Background())
	})

	require.Eventually(t, srv.poller.Synced, 2*time.Second, 10*time.Millisecond,
		"settings poller never synced against the fake control plane")
	return srv
}

// proxyHTTPClient returns a client that routes through the proxy and
// trusts its interception CA, i.e. a browser with the CA installed.
func proxyHTTPClient(t *testing.T, srv *Server) *http.Client {
	t.Helper()

	pool := x509.NewCertPool()
	require.True(t, pool.AppendCertsFromPEM(srv.CA().CertPEM()))

	return &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			Proxy:              http.ProxyURL(&url.URL{Scheme: "http", Host: srv.Addr()}),
			TLSClientConfig:    &tls.Config{RootCAs: pool},
			DisableCompression: true,
		},
	}
}

// dialConnect opens a raw CONNECT through the proxy and asserts the 200.
func dialConnect(t *testing.T, proxyAddr, authority string) net.Conn {
	t.Helper()

	conn, err := net.Dial("tcp", proxyAddr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	fmt.Fprintf(conn, "CONNECT %s HTTP/1.1\r\nHost: %s\r\n\r\n", authority, authority)
	resp, err := http.ReadResponse(bufio.NewReader(conn), &http.Request{Method: http.MethodConnect})
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return conn
}

// tlsThroughProxy upgrades a CONNECT conn to TLS against the minted leaf.
func tlsThroughProxy(t *testing.T, srv *Server, conn net.Conn, serverName string) *tls.Conn {
	t.Helper()

	pool := x509.NewCertPool()
	require.True(t, pool.AppendCertsFromPEM(srv.CA().CertPEM()))

	tlsConn := tls.Client(conn, &tls.Config{ServerName: serverName, RootCAs: pool})
	require.NoError(t, tlsConn.Handshake())
	t.Cleanup(func() { tlsConn.Close() })
	return tlsConn
}

// newEchoServer accepts TCP connections and echoes bytes back, standing in
// for a tunneled destination.
func newEchoServer(t *testing.T) net.Listener {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				io.Copy(c, c)
			}(c)
		}
	}()
	return ln
}
