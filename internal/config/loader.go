package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

const (
	// DefaultDataDir is the directory under the user home that holds the
	// bolt store, certs and telemetry when no override is given.
	DefaultDataDir = ".complyze-proxy"

	envControlPlaneURL = "COMPLYZE_API"
	envWorkspace       = "COMPLYZE_WORKSPACE"
	envFirebaseUID     = "FIREBASE_UID"
)

// Load resolves the bootstrap configuration from defaults and environment
// variables, prepares the data directory, and validates the result.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	bindEnv(v)

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.WorkspaceID = resolveWorkspace()

	if cfg.DataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(homeDir, DefaultDataDir)
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", cfg.DataDir, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := DefaultConfig()
	v.SetDefault("listen", def.Listen)
	v.SetDefault("data_dir", "")
	v.SetDefault("control_plane_url", def.ControlPlaneURL)
	v.SetDefault("monitor_mode", def.MonitorMode)
	v.SetDefault("enforcement_mode", "")
	v.SetDefault("max_inspection_size_mb", def.MaxInspectionSizeMB)
	v.SetDefault("max_body_size_mb", def.MaxBodySizeMB)
	v.SetDefault("inspection_timeout_ms", def.InspectionTimeoutMS)
	v.SetDefault("max_memory_mb", def.MaxMemoryMB)
	v.SetDefault("fail_open", true)
	v.SetDefault("strict_pin_mode", false)
	v.SetDefault("trace_mode", false)
	v.SetDefault("notify_on_block", false)
	v.SetDefault("precise_token_count", false)
	v.SetDefault("telemetry_url", "")
	v.SetDefault("domains_file", "")
	v.SetDefault("tracing_enabled", false)
	v.SetDefault("otlp_endpoint", "localhost:4318")
}

// bindEnv wires the recognized environment variables. The names are part of
// the deployment contract, so each is bound explicitly instead of relying on
// a single prefix.
func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("listen", "COMPLYZE_LISTEN")
	_ = v.BindEnv("data_dir", "COMPLYZE_DATA_DIR")
	_ = v.BindEnv("control_plane_url", envControlPlaneURL)
	_ = v.BindEnv("monitor_mode", "MONITOR_MODE")
	_ = v.BindEnv("enforcement_mode", "ENFORCEMENT_MODE")
	_ = v.BindEnv("max_inspection_size_mb", "MAX_INSPECTION_SIZE_MB")
	_ = v.BindEnv("max_body_size_mb", "MAX_BODY_SIZE_MB")
	_ = v.BindEnv("inspection_timeout_ms", "INSPECTION_TIMEOUT_MS")
	_ = v.BindEnv("max_memory_mb", "MAX_MEMORY_MB")
	_ = v.BindEnv("fail_open", "FAIL_OPEN")
	_ = v.BindEnv("strict_pin_mode", "STRICT_PIN_MODE")
	_ = v.BindEnv("trace_mode", "TRACE_MODE")
	_ = v.BindEnv("notify_on_block", "COMPLYZE_NOTIFY_ON_BLOCK")
	_ = v.BindEnv("precise_token_count", "COMPLYZE_PRECISE_TOKENS")
	_ = v.BindEnv("telemetry_url", "COMPLYZE_TELEMETRY_URL")
	_ = v.BindEnv("domains_file", "COMPLYZE_DOMAINS_FILE")
	_ = v.BindEnv("tracing_enabled", "COMPLYZE_TRACING")
	_ = v.BindEnv("otlp_endpoint", "COMPLYZE_OTLP_ENDPOINT")
}

// resolveWorkspace applies the workspace id precedence: COMPLYZE_WORKSPACE
// wins over FIREBASE_UID; an empty value falls through to the next source.
func resolveWorkspace() string {
	if ws := os.Getenv(envWorkspace); ws != "" {
		return ws
	}
	if uid := os.Getenv(envFirebaseUID); uid != "" {
		return uid
	}
	return "default"
}

// CertsDir returns the directory holding the CA key and certificate.
func (c *Config) CertsDir() string {
	return filepath.Join(c.DataDir, "certs")
}

// TelemetryPath returns the rolling telemetry log location.
func (c *Config) TelemetryPath() string {
	return filepath.Join(c.DataDir, "proxy-telemetry.jsonl")
}

// BoltPath returns the location of the bolt store.
func (c *Config) BoltPath() string {
	return filepath.Join(c.DataDir, "complyze.db")
}
