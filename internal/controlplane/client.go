// Package controlplane talks to the local Complyze control plane: it pulls
// policy settings, reports agent heartbeats, and posts per-request activity
// events. Every call is best-effort; traffic forwarding never blocks on the
// control plane being reachable.
package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/complyze/complyze-proxy/internal/config"
)

const (
	// httpTimeout bounds every control-plane call.
	httpTimeout = 5 * time.Second

	settingsPath  = "/api/proxy/settings"
	heartbeatPath = "/api/agent/heartbeat"
	interceptPath = "/api/proxy/intercept"
)

// strippedHeaders are credentials that must never leave the device in an
// activity event. Lowercased names.
var strippedHeaders = map[string]struct{}{
	"authorization":       {},
	"proxy-authorization": {},
	"cookie":              {},
	"set-cookie":          {},
	"x-api-key":           {},
	"api-key":             {},
	"x-goog-api-key":      {},
}

// Client is the HTTP client for the control-plane API. One instance is
// shared by the settings poller, the heartbeat loop, and the event reporter.
type Client struct {
	baseURL     string
	workspaceID string
	httpClient  *http.Client
	breaker     *gobreaker.CircuitBreaker
	logger      *zap.SugaredLogger
}

// NewClient derives the API base from the configured control-plane URL
// (which historically points at the intercept endpoint) and sets up the
// circuit breaker shared by posts.
func NewClient(controlPlaneURL, workspaceID string, logger *zap.SugaredLogger) (*Client, error) {
	u, err := url.Parse(controlPlaneURL)
	if err != nil {
		return nil, fmt.Errorf("parsing control-plane url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("control-plane url %q is missing scheme or host", controlPlaneURL)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "control-plane",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Infow("Control-plane circuit state changed",
				"name", name,
				"from", from.String(),
				"to", to.String())
		},
	})

	return &Client{
		baseURL:     u.Scheme + "://" + u.Host,
		workspaceID: workspaceID,
		httpClient:  &http.Client{Timeout: httpTimeout},
		breaker:     breaker,
		logger:      logger,
	}, nil
}

// WorkspaceID returns the configured workspace id.
func (c *Client) WorkspaceID() string {
	return c.workspaceID
}

// endpoint builds the full URL for an API path, attaching the workspace id
// as a query parameter when requested.
func (c *Client) endpoint(path string, withWorkspace bool) string {
	if !withWorkspace || c.workspaceID == "" {
		return c.baseURL + path
	}
	return c.baseURL + path + "?workspaceId=" + url.QueryEscape(c.workspaceID)
}

// FetchSettings pulls the current policy settings. It does not go through
// the circuit breaker: the poller keeps its own 10 s schedule and a tripped
// breaker must not delay settings recovery.
func (c *Client) FetchSettings(ctx context.Context) (*config.Settings, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(settingsPath, true), nil)
	if err != nil {
		return nil, fmt.Errorf("building settings request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching settings: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("control plane returned status %d for settings", resp.StatusCode)
	}

	var settings config.Settings
	if err := json.NewDecoder(resp.Body).Decode(&settings); err != nil {
		return nil, fmt.Errorf("decoding settings: %w", err)
	}
	return &settings, nil
}

// postJSON sends a JSON payload through the circuit breaker. A dead control
// plane costs one state check per call instead of a dial.
func (c *Client) postJSON(ctx context.Context, url string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	_, err = c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("building request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("posting to control plane: %w", err)
		}
		defer resp.Body.Close()

		// Drain so the transport can reuse the connection.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

		if resp.StatusCode >= http.StatusMultipleChoices {
			return nil, fmt.Errorf("control plane returned status %d", resp.StatusCode)
		}
		return nil, nil
	})
	return err
}

// StripAuthHeaders copies headers for transmission, dropping credentials and
// lowercasing names. Multi-valued headers keep their first value; the
// dashboard only needs request shape, not fidelity.
func StripAuthHeaders(headers http.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for name, values := range headers {
		lower := strings.ToLower(name)
		if _, drop := strippedHeaders[lower]; drop {
			continue
		}
		if len(values) > 0 {
			out[lower] = values[0]
		}
	}
	return out
}
