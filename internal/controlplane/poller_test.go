package controlplane

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/complyze/complyze-proxy/internal/config"
)

func TestPollerServesBootstrapDefaultsBeforeFirstPull(t *testing.T) {
	fake := newFakeControlPlane(t)
	p := NewSettingsPoller(fake.client(t, "ws"), config.ModeBlock, zap.NewNop().Sugar())

	assert.False(t, p.Synced())

	snap := p.Snapshot()
	require.NotNil(t, snap)
	assert.True(t, snap.ProxyEnabled)
	assert.Equal(t, config.ModeBlock, snap.ResolveEnforcementMode())

	// Attachment inspection stays off until the control plane confirms it.
	assert.False(t, snap.InspectAttachments)
}

func TestPollerKeepsSnapshotWhenPullFails(t *testing.T) {
	fake := newFakeControlPlane(t)
	fake.setSettings(&config.Settings{
		ProxyEnabled:       true,
		EnforcementMode:    "redact",
		InspectAttachments: true,
	})
	p := NewSettingsPoller(fake.client(t, "ws"), config.ModeMonitor, zap.NewNop().Sugar())

	p.poll(context.Background())
	require.True(t, p.Synced())
	assert.Equal(t, config.ModeRedact, p.Snapshot().ResolveEnforcementMode())

	// A flapping control plane must not flap enforcement.
	fake.setFailSettings(true)
	p.poll(context.Background())

	assert.True(t, p.Synced())
	assert.Equal(t, config.ModeRedact, p.Snapshot().ResolveEnforcementMode())
	assert.True(t, p.Snapshot().InspectAttachments)
}

func TestPollerReportsPullOutcomes(t *testing.T) {
	fake := newFakeControlPlane(t)
	p := NewSettingsPoller(fake.client(t, "ws"), config.ModeMonitor, zap.NewNop().Sugar())

	var results []string
	p.SetObserver(func(result string) {
		results = append(results, result)
	})

	p.poll(context.Background())
	fake.setFailSettings(true)
	p.poll(context.Background())

	assert.Equal(t, []string{"ok", "failed"}, results)
}

func TestPollerFetchErrorKeepsBootstrapDefaults(t *testing.T) {
	fake := newFakeControlPlane(t)
	p := NewSettingsPoller(fake.client(t, "ws"), config.ModeWarn, zap.NewNop().Sugar())
	p.SetFetchFunc(func(ctx context.Context) (*config.Settings, error) {
		return nil, errors.New("connection refused")
	})

	p.poll(context.Background())

	assert.False(t, p.Synced())
	assert.Equal(t, config.ModeWarn, p.Snapshot().ResolveEnforcementMode())
}

func TestPollerStartLoopTracksSettingsChanges(t *testing.T) {
	fake := newFakeControlPlane(t)
	p := NewSettingsPoller(fake.client(t, "ws"), config.ModeMonitor, zap.NewNop().Sugar())
	p.SetInterval(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	require.Eventually(t, p.Synced, time.Second, 5*time.Millisecond)
	assert.True(t, p.Snapshot().ProxyEnabled)

	fake.setSettings(&config.Settings{ProxyEnabled: false, EnforcementMode: "block"})
	require.Eventually(t, func() bool {
		return !p.Snapshot().ProxyEnabled
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, config.ModeBlock, p.Snapshot().ResolveEnforcementMode())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop after context cancellation")
	}
}
