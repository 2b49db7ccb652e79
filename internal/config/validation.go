package config

import (
	"fmt"
	"net"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the bootstrap configuration for values the proxy cannot
// run with. Struct tags cover ranges and enums; listen address syntax is
// checked here because validator has no host:port tag.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	host, _, err := net.SplitHostPort(cfg.Listen)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", cfg.Listen, err)
	}
	if host == "" {
		return fmt.Errorf("listen address %q must name a host", cfg.Listen)
	}

	if cfg.MaxInspectionSizeMB > cfg.MaxBodySizeMB {
		return fmt.Errorf("max_inspection_size_mb (%d) exceeds max_body_size_mb (%d)",
			cfg.MaxInspectionSizeMB, cfg.MaxBodySizeMB)
	}
	return nil
}

// ValidateSettings checks a control-plane settings payload before it is
// swapped into the live snapshot. Unknown enforcement modes are not an
// error: the resolution chain treats them as absent.
func ValidateSettings(s *Settings) error {
	if s == nil {
		return fmt.Errorf("settings payload is empty")
	}
	if s.RetentionDays < 0 {
		return fmt.Errorf("retention_days must not be negative, got %d", s.RetentionDays)
	}
	return nil
}
