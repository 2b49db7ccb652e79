package proxy

import (
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complyze/complyze-proxy/internal/pac"
)

func TestEndpoints_PACScript(t *testing.T) {
	cp := newFakeControlPlane(t)
	srv := newTestProxy(t, cp, nil, nil)

	resp, err := http.Get("http://" + srv.Addr() + "/proxy.pac")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, pac.ContentType, resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	script := string(body)
	assert.Contains(t, script, "function FindProxyForURL")
	assert.Contains(t, script, `"api.openai.com"`)
	assert.Contains(t, script, `"chatgpt.com"`)
	assert.Contains(t, script, "PROXY "+srv.Addr())
	assert.Contains(t, script, `return "DIRECT"`)
}

func TestEndpoints_TelemetrySnapshot(t *testing.T) {
	cp := newFakeControlPlane(t)
	srv := newTestProxy(t, cp, nil, nil)
	srv.telemetry.Counters().ConnectsTotal.Add(2)

	resp, err := http.Get("http://" + srv.Addr() + "/proxy/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var snap struct {
		UptimeSeconds float64 `json:"uptime_seconds"`
		Goroutines    int     `json:"goroutines"`
		Counters      struct {
			ConnectsTotal uint64 `json:"connects_total"`
		} `json:"counters"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.GreaterOrEqual(t, snap.UptimeSeconds, float64(0))
	assert.Positive(t, snap.Goroutines)
	assert.Equal(t, uint64(2), snap.Counters.ConnectsTotal)
}

func TestEndpoints_HealthAndReadiness(t *testing.T) {
	cp := newFakeControlPlane(t)
	srv := newTestProxy(t, cp, nil, nil)

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health struct {
		Status     string `json:"status"`
		Components []struct {
			Name   string `json:"name"`
			Status string `json:"status"`
		} `json:"components"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)

	names := make([]string, 0, len(health.Components))
	for _, c := range health.Components {
		names = append(names, c.Name)
	}
	assert.ElementsMatch(t, []string{"storage", "certificates", "control_plane"}, names)

	ready, err := http.Get("http://" + srv.Addr() + "/readyz")
	require.NoError(t, err)
	defer ready.Body.Close()
	assert.Equal(t, http.StatusOK, ready.StatusCode)
}

func TestEndpoints_PrometheusExposition(t *testing.T) {
	cp := newFakeControlPlane(t)
	srv := newTestProxy(t, cp, nil, nil)

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "complyze_uptime_seconds")
}

func TestEndpoints_UnknownPathIs404(t *testing.T) {
	cp := newFakeControlPlane(t)
	srv := newTestProxy(t, cp, nil, nil)

	resp, err := http.Get("http://" + srv.Addr() + "/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
