package proxy

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTunnel_PlainIsTransparent(t *testing.T) {
	echo := newEchoServer(t)
	cp := newFakeControlPlane(t)
	srv := newTestProxy(t, cp, nil, nil)

	// Loopback authorities always take the plain tunnel, so this CONNECT
	// reaches the echo server through the real dial path.
	conn := dialConnect(t, srv.Addr(), echo.Addr().String())

	msg := []byte("raw bytes, not HTTP at all\x00\x01\x02")
	_, err := conn.Write(msg)
	require.NoError(t, err)

	got := make([]byte, len(msg))
	_, err = io.ReadFull(conn, got)
	require.NoError(t, err)
	assert.Equal(t, msg, got)

	conn.Close()

	require.Eventually(t, func() bool {
		return srv.telemetry.Counters().TunnelsPlain.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, cp.interceptCount(), "plain tunnels must not emit activity events")
}

func TestTunnel_MetadataEmitsSingleEvent(t *testing.T) {
	echo := newEchoServer(t)
	cp := newFakeControlPlane(t)
	srv := newTestProxy(t, cp, nil, nil)
	srv.dialUpstream = func(network, _ string) (net.Conn, error) {
		return net.Dial(network, echo.Addr().String())
	}

	conn := dialConnect(t, srv.Addr(), "chatgpt.com:443")

	msg := []byte("opaque tls bytes the proxy never sees")
	_, err := conn.Write(msg)
	require.NoError(t, err)

	got := make([]byte, len(msg))
	_, err = io.ReadFull(conn, got)
	require.NoError(t, err)
	assert.Equal(t, msg, got)

	conn.Close()

	require.Eventually(t, func() bool { return cp.interceptCount() == 1 }, 2*time.Second, 10*time.Millisecond,
		"metadata tunnel should post exactly one event at close")

	payload := cp.intercept(0)
	assert.Equal(t, "https://chatgpt.com", payload["target_url"])
	assert.Equal(t, http.MethodConnect, payload["method"])
	assert.Equal(t, "[metadata-only: chatgpt.com]", payload["body"])
	assert.Equal(t, true, payload["log_only"])
	assert.Equal(t, "test-workspace", payload["workspace_id"])

	dlp, ok := payload["dlp"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ChatGPT", dlp["tool"])
	assert.Equal(t, float64(len(msg)), dlp["upstream_bytes"])
	assert.Equal(t, float64(len(msg)), dlp["downstream_bytes"])
	assert.Equal(t, float64(0), dlp["sensitivity_score"])

	assert.Zero(t, srv.telemetry.Counters().TunnelsPlain.Load())
	assert.Equal(t, uint64(1), srv.telemetry.Counters().TunnelsMetadata.Load())
}

func TestTunnel_UnknownHostNeverReported(t *testing.T) {
	echo := newEchoServer(t)
	cp := newFakeControlPlane(t)
	srv := newTestProxy(t, cp, nil, nil)
	srv.dialUpstream = func(network, _ string) (net.Conn, error) {
		return net.Dial(network, echo.Addr().String())
	}

	conn := dialConnect(t, srv.Addr(), "example.com:443")
	_, err := conn.Write([]byte("ping"))
	require.NoError(t, err)
	conn.Close()

	require.Eventually(t, func() bool {
		return srv.telemetry.Counters().TunnelsPlain.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, cp.interceptCount())
}

func TestTunnel_DialFailureAnswers502(t *testing.T) {
	cp := newFakeControlPlane(t)
	srv := newTestProxy(t, cp, nil, nil)
	srv.dialUpstream = func(network, addr string) (net.Conn, error) {
		return nil, errors.New("connection refused")
	}

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer conn.Close()

	fmt.Fprintf(conn, "CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n")
	resp, err := http.ReadResponse(bufio.NewReader(conn), &http.Request{Method: http.MethodConnect})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestTunnel_PipelinedClientBytesReachUpstream(t *testing.T) {
	echo := newEchoServer(t)
	cp := newFakeControlPlane(t)
	srv := newTestProxy(t, cp, nil, nil)
	srv.dialUpstream = func(network, _ string) (net.Conn, error) {
		return net.Dial(network, echo.Addr().String())
	}

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer conn.Close()

	// Send the first payload bytes in the same segment as the CONNECT, the
	// way a client racing the handshake would.
	early := "hello-before-established"
	fmt.Fprintf(conn, "CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n%s", early)

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, &http.Request{Method: http.MethodConnect})
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := make([]byte, len(early))
	_, err = io.ReadFull(br, got)
	require.NoError(t, err)
	assert.Equal(t, early, string(got))
}
