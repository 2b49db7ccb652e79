package controlplane

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/complyze/complyze-proxy/internal/storage"
)

// DefaultHeartbeatInterval is how often the agent reports liveness.
const DefaultHeartbeatInterval = 15 * time.Second

// Heartbeat identifies the running proxy to the dashboard.
type Heartbeat struct {
	DeviceID            string `json:"device_id"`
	Hostname            string `json:"hostname"`
	OS                  string `json:"os"`
	Version             string `json:"version"`
	Status              string `json:"status"`
	WorkspaceID         string `json:"workspace_id"`
	ServiceConnectivity bool   `json:"service_connectivity"`
	TrafficRouting      bool   `json:"traffic_routing"`
	OSIntegration       bool   `json:"os_integration"`
}

// HealthFunc supplies the live agent state folded into each heartbeat:
// whether the last settings pull succeeded, whether the listener is
// accepting, and whether the CA material is in place.
type HealthFunc func() (serviceConnectivity, trafficRouting, osIntegration bool)

// HeartbeatLoop posts one Heartbeat per interval.
type HeartbeatLoop struct {
	client   *Client
	device   *storage.DeviceRecord
	version  string
	health   HealthFunc
	interval time.Duration
	logger   *zap.SugaredLogger
}

// NewHeartbeatLoop wires the loop to the shared client and the persisted
// device identity.
func NewHeartbeatLoop(client *Client, device *storage.DeviceRecord, version string, health HealthFunc, logger *zap.SugaredLogger) *HeartbeatLoop {
	return &HeartbeatLoop{
		client:   client,
		device:   device,
		version:  version,
		health:   health,
		interval: DefaultHeartbeatInterval,
		logger:   logger,
	}
}

// Start beats until ctx is done. The first beat fires immediately so the
// dashboard sees the agent as soon as it is up.
func (h *HeartbeatLoop) Start(ctx context.Context) {
	h.beat(ctx)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Infow("Heartbeat loop stopped")
			return
		case <-ticker.C:
			h.beat(ctx)
		}
	}
}

func (h *HeartbeatLoop) beat(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, httpTimeout)
	defer cancel()

	service, routing, osIntegration := h.health()
	hb := Heartbeat{
		DeviceID:            h.device.ID,
		Hostname:            h.device.Hostname,
		OS:                  h.device.OS,
		Version:             h.version,
		Status:              "Healthy",
		WorkspaceID:         h.client.workspaceID,
		ServiceConnectivity: service,
		TrafficRouting:      routing,
		OSIntegration:       osIntegration,
	}

	if err := h.client.postJSON(ctx, h.client.endpoint(heartbeatPath, false), hb); err != nil {
		h.logger.Debugw("Heartbeat failed", "error", err)
	}
}

// SetInterval adjusts the beat cadence. Primarily for testing.
func (h *HeartbeatLoop) SetInterval(interval time.Duration) {
	h.interval = interval
}
