package controlplane

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/complyze/complyze-proxy/internal/config"
)

// DefaultPollInterval is how often settings are pulled.
const DefaultPollInterval = 10 * time.Second

// SettingsPoller keeps one atomic settings snapshot current. Readers take a
// snapshot per request and never block; the poller swaps the whole struct.
// Until the first successful pull the snapshot is the bootstrap default,
// which keeps attachment inspection off.
type SettingsPoller struct {
	logger   *zap.SugaredLogger
	interval time.Duration

	snapshot atomic.Pointer[config.Settings]
	synced   atomic.Bool

	// Outcome hook, "ok" or "failed" per pull. Nil until SetObserver.
	observe func(result string)

	// For testing: allows injection of a custom fetch function.
	fetchFunc func(ctx context.Context) (*config.Settings, error)
}

// NewSettingsPoller seeds the snapshot with the bootstrap defaults and wires
// the fetch to the control-plane client.
func NewSettingsPoller(client *Client, bootstrap config.EnforcementMode, logger *zap.SugaredLogger) *SettingsPoller {
	p := &SettingsPoller{
		logger:    logger,
		interval:  DefaultPollInterval,
		fetchFunc: client.FetchSettings,
	}
	p.snapshot.Store(config.DefaultSettings(bootstrap))
	return p
}

// Start polls until ctx is done. One fetch runs immediately so the proxy
// does not spend its first ten seconds on bootstrap defaults when the
// control plane is up.
func (p *SettingsPoller) Start(ctx context.Context) {
	p.poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Infow("Settings poller stopped")
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *SettingsPoller) poll(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, httpTimeout)
	defer cancel()

	settings, err := p.fetchFunc(ctx)
	if err != nil {
		// Keep the previous snapshot. A flapping control plane must not
		// flap enforcement.
		p.logger.Debugw("Settings pull failed, keeping previous snapshot", "error", err)
		p.observed("failed")
		return
	}

	p.snapshot.Store(settings)
	p.observed("ok")
	if p.synced.CompareAndSwap(false, true) {
		p.logger.Infow("Settings synced from control plane",
			"proxy_enabled", settings.ProxyEnabled,
			"enforcement_mode", settings.ResolveEnforcementMode(),
			"inspect_attachments", settings.InspectAttachments)
	}
}

// Snapshot returns the current settings. Never nil.
func (p *SettingsPoller) Snapshot() *config.Settings {
	return p.snapshot.Load()
}

// Synced reports whether at least one pull has succeeded.
func (p *SettingsPoller) Synced() bool {
	return p.synced.Load()
}

func (p *SettingsPoller) observed(result string) {
	if p.observe != nil {
		p.observe(result)
	}
}

// SetObserver registers a hook called with "ok" or "failed" after every
// pull. Must be set before Start.
func (p *SettingsPoller) SetObserver(fn func(result string)) {
	p.observe = fn
}

// SetInterval adjusts the poll cadence. Primarily for testing.
func (p *SettingsPoller) SetInterval(interval time.Duration) {
	p.interval = interval
}

// SetFetchFunc replaces the fetch function. Primarily for testing.
func (p *SettingsPoller) SetFetchFunc(fn func(ctx context.Context) (*config.Settings, error)) {
	p.fetchFunc = fn
}
