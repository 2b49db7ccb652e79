package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(v bool) *bool { return &v }

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "127.0.0.1:8080", cfg.Listen)
	assert.Equal(t, "http://localhost:3737/api/proxy/intercept", cfg.ControlPlaneURL)
	assert.Equal(t, "default", cfg.WorkspaceID)
	assert.Equal(t, "observe", cfg.MonitorMode)
	assert.Empty(t, cfg.EnforcementMode)

	// Size and timing caps.
	assert.Equal(t, 15, cfg.MaxInspectionSizeMB)
	assert.Equal(t, 50, cfg.MaxBodySizeMB)
	assert.Equal(t, 3000, cfg.InspectionTimeoutMS)
	assert.Equal(t, 512, cfg.MaxMemoryMB)

	// Availability beats enforcement by default.
	assert.True(t, cfg.FailOpen)
	assert.False(t, cfg.StrictPinMode)

	require.NotNil(t, cfg.Logging)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Logging.EnableFile)
	assert.True(t, cfg.Logging.EnableConsole)
}

func TestCapHelpers(t *testing.T) {
	cfg := &Config{
		MaxInspectionSizeMB: 15,
		MaxBodySizeMB:       50,
		InspectionTimeoutMS: 3000,
		MaxMemoryMB:         512,
	}

	assert.Equal(t, int64(15<<20), cfg.InspectionCapBytes())
	assert.Equal(t, int64(50<<20), cfg.BodyCapBytes())
	assert.Equal(t, 3*time.Second, cfg.InspectionTimeout())
	assert.Equal(t, uint64(512<<20), cfg.MemoryLimitBytes())
}

func TestParseEnforcementMode(t *testing.T) {
	tests := []struct {
		input string
		mode  EnforcementMode
		ok    bool
	}{
		{"monitor", ModeMonitor, true},
		{"warn", ModeWarn, true},
		{"redact", ModeRedact, true},
		{"block", ModeBlock, true},
		{"BLOCK", ModeBlock, true},
		{"  Warn  ", ModeWarn, true},
		{"", ModeMonitor, false},
		{"enforce", ModeMonitor, false},
		{"deny", ModeMonitor, false},
	}

	for _, tt := range tests {
		t.Run("input_"+tt.input, func(t *testing.T) {
			mode, ok := ParseEnforcementMode(tt.input)
			assert.Equal(t, tt.mode, mode)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestBootstrapEnforcementMode(t *testing.T) {
	tests := []struct {
		name            string
		enforcementMode string
		monitorMode     string
		expected        EnforcementMode
	}{
		{
			name:            "canonical mode wins",
			enforcementMode: "redact",
			monitorMode:     "enforce",
			expected:        ModeRedact,
		},
		{
			name:        "legacy enforce maps to block",
			monitorMode: "enforce",
			expected:    ModeBlock,
		},
		{
			name:        "legacy enforce is case-insensitive",
			monitorMode: "ENFORCE",
			expected:    ModeBlock,
		},
		{
			name:        "observe monitors",
			monitorMode: "observe",
			expected:    ModeMonitor,
		},
		{
			name:     "nothing set monitors",
			expected: ModeMonitor,
		},
		{
			name:            "invalid canonical falls through to legacy",
			enforcementMode: "strict",
			monitorMode:     "enforce",
			expected:        ModeBlock,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				EnforcementMode: tt.enforcementMode,
				MonitorMode:     tt.monitorMode,
			}
			assert.Equal(t, tt.expected, cfg.BootstrapEnforcementMode())
		})
	}
}

func TestResolveEnforcementMode(t *testing.T) {
	tests := []struct {
		name     string
		settings Settings
		expected EnforcementMode
	}{
		{
			name:     "canonical mode wins over legacy booleans",
			settings: Settings{EnforcementMode: "warn", BlockHighRisk: boolPtr(true)},
			expected: ModeWarn,
		},
		{
			name:     "invalid canonical falls through to block_high_risk",
			settings: Settings{EnforcementMode: "strict", BlockHighRisk: boolPtr(true)},
			expected: ModeBlock,
		},
		{
			name:     "block_high_risk beats redact_sensitive",
			settings: Settings{BlockHighRisk: boolPtr(true), RedactSensitive: boolPtr(true)},
			expected: ModeBlock,
		},
		{
			name:     "block_high_risk false falls through",
			settings: Settings{BlockHighRisk: boolPtr(false), RedactSensitive: boolPtr(true)},
			expected: ModeRedact,
		},
		{
			name:     "redact_sensitive alone redacts",
			settings: Settings{RedactSensitive: boolPtr(true)},
			expected: ModeRedact,
		},
		{
			name:     "nothing set monitors",
			settings: Settings{},
			expected: ModeMonitor,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.settings.ResolveEnforcementMode())
		})
	}
}

func TestDefaultSettingsKeepAttachmentInspectionOff(t *testing.T) {
	s := DefaultSettings(ModeBlock)

	assert.True(t, s.ProxyEnabled)
	assert.Equal(t, "block", s.EnforcementMode)
	assert.False(t, s.InspectAttachments)
	assert.False(t, s.DesktopBypass)
	assert.False(t, s.FullAuditMode)
}

func TestSettingsCloneIsIndependent(t *testing.T) {
	original := &Settings{
		ProxyEnabled:    true,
		EnforcementMode: "block",
		BlockHighRisk:   boolPtr(true),
		RedactSensitive: boolPtr(false),
	}

	clone := original.Clone()
	require.NotSame(t, original, clone)
	require.NotSame(t, original.BlockHighRisk, clone.BlockHighRisk)
	require.NotSame(t, original.RedactSensitive, clone.RedactSensitive)

	*clone.BlockHighRisk = false
	clone.EnforcementMode = "monitor"

	assert.True(t, *original.BlockHighRisk)
	assert.Equal(t, "block", original.EnforcementMode)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.DataDir = t.TempDir()
		return cfg
	}

	t.Run("default config passes", func(t *testing.T) {
		require.NoError(t, Validate(valid()))
	})

	t.Run("listen without port fails", func(t *testing.T) {
		cfg := valid()
		cfg.Listen = "127.0.0.1"
		assert.Error(t, Validate(cfg))
	})

	t.Run("listen without host fails", func(t *testing.T) {
		cfg := valid()
		cfg.Listen = ":8080"
		assert.Error(t, Validate(cfg))
	})

	t.Run("inspection cap above body cap fails", func(t *testing.T) {
		cfg := valid()
		cfg.MaxInspectionSizeMB = 100
		cfg.MaxBodySizeMB = 50
		assert.Error(t, Validate(cfg))
	})

	t.Run("unknown monitor mode fails", func(t *testing.T) {
		cfg := valid()
		cfg.MonitorMode = "aggressive"
		assert.Error(t, Validate(cfg))
	})

	t.Run("unknown enforcement mode fails", func(t *testing.T) {
		cfg := valid()
		cfg.EnforcementMode = "strict"
		assert.Error(t, Validate(cfg))
	})

	t.Run("control plane url must parse", func(t *testing.T) {
		cfg := valid()
		cfg.ControlPlaneURL = "not a url"
		assert.Error(t, Validate(cfg))
	})

	t.Run("zero inspection timeout fails", func(t *testing.T) {
		cfg := valid()
		cfg.InspectionTimeoutMS = 0
		assert.Error(t, Validate(cfg))
	})
}

func TestValidateSettings(t *testing.T) {
	assert.Error(t, ValidateSettings(nil))

	assert.Error(t, ValidateSettings(&Settings{RetentionDays: -1}))

	// Unknown enforcement modes are resolved, not rejected.
	assert.NoError(t, ValidateSettings(&Settings{EnforcementMode: "strict"}))

	assert.NoError(t, ValidateSettings(&Settings{
		ProxyEnabled:    true,
		EnforcementMode: "block",
		RetentionDays:   30,
	}))
}

func TestResolveWorkspacePrecedence(t *testing.T) {
	t.Run("workspace env wins", func(t *testing.T) {
		t.Setenv(envWorkspace, "ws-from-env")
		t.Setenv(envFirebaseUID, "uid-123")
		assert.Equal(t, "ws-from-env", resolveWorkspace())
	})

	t.Run("firebase uid is the fallback", func(t *testing.T) {
		t.Setenv(envWorkspace, "")
		t.Setenv(envFirebaseUID, "uid-123")
		assert.Equal(t, "uid-123", resolveWorkspace())
	})

	t.Run("default when neither is set", func(t *testing.T) {
		t.Setenv(envWorkspace, "")
		t.Setenv(envFirebaseUID, "")
		assert.Equal(t, "default", resolveWorkspace())
	})
}

func TestLoadAppliesEnvironment(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("COMPLYZE_DATA_DIR", dir)
	t.Setenv("COMPLYZE_LISTEN", "127.0.0.1:9191")
	t.Setenv(envControlPlaneURL, "http://127.0.0.1:3737/api/proxy/intercept")
	t.Setenv("ENFORCEMENT_MODE", "warn")
	t.Setenv(envWorkspace, "ws-load-test")
	t.Setenv(envFirebaseUID, "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, "127.0.0.1:9191", cfg.Listen)
	assert.Equal(t, "ws-load-test", cfg.WorkspaceID)
	assert.Equal(t, ModeWarn, cfg.BootstrapEnforcementMode())

	// Derived paths all live under the data directory.
	assert.Equal(t, filepath.Join(dir, "certs"), cfg.CertsDir())
	assert.Equal(t, filepath.Join(dir, "proxy-telemetry.jsonl"), cfg.TelemetryPath())
	assert.Equal(t, filepath.Join(dir, "complyze.db"), cfg.BoltPath())
}
