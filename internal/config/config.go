package config

import (
	"strings"
	"time"
)

// EnforcementMode governs the action applied to a sensitive request.
type EnforcementMode string

const (
	ModeMonitor EnforcementMode = "monitor"
	ModeWarn    EnforcementMode = "warn"
	ModeRedact  EnforcementMode = "redact"
	ModeBlock   EnforcementMode = "block"
)

// ParseEnforcementMode returns the mode and whether the input named a valid one.
func ParseEnforcementMode(s string) (EnforcementMode, bool) {
	switch EnforcementMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeMonitor:
		return ModeMonitor, true
	case ModeWarn:
		return ModeWarn, true
	case ModeRedact:
		return ModeRedact, true
	case ModeBlock:
		return ModeBlock, true
	default:
		return ModeMonitor, false
	}
}

// Config is the bootstrap configuration resolved from environment variables
// and CLI flags at process start. Runtime behavior is further steered by
// Settings pulled from the control plane.
type Config struct {
	Listen  string `json:"listen" mapstructure:"listen" validate:"required"`
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	ControlPlaneURL string `json:"control_plane_url" mapstructure:"control_plane_url" validate:"required,url"`
	WorkspaceID     string `json:"workspace_id" mapstructure:"workspace_id" validate:"required"`

	// Legacy bootstrap hints; the settings pull overrides both.
	MonitorMode     string `json:"monitor_mode" mapstructure:"monitor_mode" validate:"omitempty,oneof=observe enforce"`
	EnforcementMode string `json:"enforcement_mode" mapstructure:"enforcement_mode" validate:"omitempty,oneof=monitor warn redact block"`

	MaxInspectionSizeMB int `json:"max_inspection_size_mb" mapstructure:"max_inspection_size_mb" validate:"gt=0"`
	MaxBodySizeMB       int `json:"max_body_size_mb" mapstructure:"max_body_size_mb" validate:"gt=0"`
	InspectionTimeoutMS int `json:"inspection_timeout_ms" mapstructure:"inspection_timeout_ms" validate:"gt=0"`
	MaxMemoryMB         int `json:"max_memory_mb" mapstructure:"max_memory_mb" validate:"gt=0"`

	FailOpen      bool `json:"fail_open" mapstructure:"fail_open"`
	StrictPinMode bool `json:"strict_pin_mode" mapstructure:"strict_pin_mode"`
	TraceMode     bool `json:"trace_mode" mapstructure:"trace_mode"`

	NotifyOnBlock     bool   `json:"notify_on_block" mapstructure:"notify_on_block"`
	PreciseTokenCount bool   `json:"precise_token_count" mapstructure:"precise_token_count"`
	TelemetryURL      string `json:"telemetry_url" mapstructure:"telemetry_url" validate:"omitempty,url"`
	DomainsFile       string `json:"domains_file" mapstructure:"domains_file"`

	TracingEnabled bool   `json:"tracing_enabled" mapstructure:"tracing_enabled"`
	OTLPEndpoint   string `json:"otlp_endpoint" mapstructure:"otlp_endpoint"`

	Logging *LogConfig `json:"logging" mapstructure:"logging"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level         string `json:"level" mapstructure:"level"`
	EnableFile    bool   `json:"enable_file" mapstructure:"enable_file"`
	EnableConsole bool   `json:"enable_console" mapstructure:"enable_console"`
	Filename      string `json:"filename" mapstructure:"filename"`
	LogDir        string `json:"log_dir" mapstructure:"log_dir"`
	MaxSize       int    `json:"max_size" mapstructure:"max_size"`       // megabytes
	MaxBackups    int    `json:"max_backups" mapstructure:"max_backups"` // files
	MaxAge        int    `json:"max_age" mapstructure:"max_age"`         // days
	Compress      bool   `json:"compress" mapstructure:"compress"`
	JSONFormat    bool   `json:"json_format" mapstructure:"json_format"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		Listen:              "127.0.0.1:8080",
		ControlPlaneURL:     "http://localhost:3737/api/proxy/intercept",
		WorkspaceID:         "default",
		MonitorMode:         "observe",
		MaxInspectionSizeMB: 15,
		MaxBodySizeMB:       50,
		InspectionTimeoutMS: 3000,
		MaxMemoryMB:         512,
		FailOpen:            true,
		Logging: &LogConfig{
			Level:         "info",
			EnableFile:    true,
			EnableConsole: true,
			Filename:      "main.log",
			MaxSize:       10,
			MaxBackups:    5,
			MaxAge:        30,
			Compress:      true,
		},
	}
}

// InspectionCapBytes returns the attachment inspection cap in bytes.
func (c *Config) InspectionCapBytes() int64 {
	return int64(c.MaxInspectionSizeMB) << 20
}

// BodyCapBytes returns the hard body cap in bytes.
func (c *Config) BodyCapBytes() int64 {
	return int64(c.MaxBodySizeMB) << 20
}

// InspectionTimeout returns the classifier wall-clock deadline.
func (c *Config) InspectionTimeout() time.Duration {
	return time.Duration(c.InspectionTimeoutMS) * time.Millisecond
}

// MemoryLimitBytes returns the heap warning threshold in bytes.
func (c *Config) MemoryLimitBytes() uint64 {
	return uint64(c.MaxMemoryMB) << 20
}

// BootstrapEnforcementMode resolves the enforcement mode hint used before the
// first successful settings pull. ENFORCEMENT_MODE wins; MONITOR_MODE=enforce
// maps to block for backward compatibility; everything else monitors.
func (c *Config) BootstrapEnforcementMode() EnforcementMode {
	if mode, ok := ParseEnforcementMode(c.EnforcementMode); ok {
		return mode
	}
	if strings.EqualFold(c.MonitorMode, "enforce") {
		return ModeBlock
	}
	return ModeMonitor
}

// Settings is the runtime policy snapshot pulled from the control plane.
// Readers take one snapshot per request; the poller swaps the whole struct.
// An invalid enforcement_mode is not rejected here: the resolution chain
// treats it as absent and falls through to the legacy booleans.
type Settings struct {
	ProxyEnabled       bool   `json:"proxy_enabled"`
	EnforcementMode    string `json:"enforcement_mode"`
	InspectAttachments bool   `json:"inspect_attachments"`
	DesktopBypass      bool   `json:"desktop_bypass"`
	FullAuditMode      bool   `json:"full_audit_mode"`

	// Legacy booleans, honored only when the canonical mode is absent/invalid.
	BlockHighRisk   *bool `json:"block_high_risk,omitempty"`
	RedactSensitive *bool `json:"redact_sensitive,omitempty"`

	// Opaque fields echoed back to the control plane.
	RetentionDays int    `json:"retention_days,omitempty"`
	ProxyEndpoint string `json:"proxy_endpoint,omitempty"`
}

// DefaultSettings returns the snapshot used until the first successful pull.
// Attachment inspection stays off until the control plane confirms it.
func DefaultSettings(bootstrap EnforcementMode) *Settings {
	return &Settings{
		ProxyEnabled:       true,
		EnforcementMode:    string(bootstrap),
		InspectAttachments: false,
		DesktopBypass:      false,
		FullAuditMode:      false,
	}
}

// ResolveEnforcementMode applies the documented priority: the canonical field
// when present and valid, then block_high_risk, then redact_sensitive, then
// monitor.
func (s *Settings) ResolveEnforcementMode() EnforcementMode {
	if mode, ok := ParseEnforcementMode(s.EnforcementMode); ok {
		return mode
	}
	if s.BlockHighRisk != nil && *s.BlockHighRisk {
		return ModeBlock
	}
	if s.RedactSensitive != nil && *s.RedactSensitive {
		return ModeRedact
	}
	return ModeMonitor
}

// Clone returns a copy safe to mutate without racing snapshot readers.
func (s *Settings) Clone() *Settings {
	out := *s
	if s.BlockHighRisk != nil {
		v := *s.BlockHighRisk
		out.BlockHighRisk = &v
	}
	if s.RedactSensitive != nil {
		v := *s.RedactSensitive
		out.RedactSensitive = &v
	}
	return &out
}
