package observability

import (
	"context"
	"fmt"

	"go.etcd.io/bbolt"
)

// DatabaseHealthChecker probes the bbolt store with an empty read
// transaction.
type DatabaseHealthChecker struct {
	name string
	db   *bbolt.DB
}

func NewDatabaseHealthChecker(name string, db *bbolt.DB) *DatabaseHealthChecker {
	return &DatabaseHealthChecker{name: name, db: db}
}

func (c *DatabaseHealthChecker) Name() string { return c.name }

func (c *DatabaseHealthChecker) HealthCheck(context.Context) error {
	if c.db == nil {
		return fmt.Errorf("database is not open")
	}
	return c.db.View(func(*bbolt.Tx) error { return nil })
}

func (c *DatabaseHealthChecker) ReadinessCheck(ctx context.Context) error {
	return c.HealthCheck(ctx)
}

// CertificateHealthChecker verifies the CA material is loaded and, for
// readiness, that the minter can produce a leaf certificate.
type CertificateHealthChecker struct {
	name        string
	fingerprint func() string
	mint        func(ctx context.Context, host string) error
}

// NewCertificateHealthChecker wires the CA fingerprint accessor and an
// optional leaf mint probe.
func NewCertificateHealthChecker(name string, fingerprint func() string, mint func(ctx context.Context, host string) error) *CertificateHealthChecker {
	return &CertificateHealthChecker{name: name, fingerprint: fingerprint, mint: mint}
}

func (c *CertificateHealthChecker) Name() string { return c.name }

func (c *CertificateHealthChecker) HealthCheck(context.Context) error {
	if c.fingerprint == nil || c.fingerprint() == "" {
		return fmt.Errorf("CA not loaded")
	}
	return nil
}

func (c *CertificateHealthChecker) ReadinessCheck(ctx context.Context) error {
	if err := c.HealthCheck(ctx); err != nil {
		return err
	}
	if c.mint == nil {
		return nil
	}
	if err := c.mint(ctx, "readyz.invalid"); err != nil {
		return fmt.Errorf("leaf mint failed: %w", err)
	}
	return nil
}

// ControlPlaneHealthChecker reports control-plane reachability. Health
// never fails on an unreachable control plane (the proxy fails open and
// keeps serving); readiness reflects the last poll outcome.
type ControlPlaneHealthChecker struct {
	name     string
	lastPoll func() (ok bool, err error)
}

func NewControlPlaneHealthChecker(name string, lastPoll func() (bool, error)) *ControlPlaneHealthChecker {
	return &ControlPlaneHealthChecker{name: name, lastPoll: lastPoll}
}

func (c *ControlPlaneHealthChecker) Name() string { return c.name }

func (c *ControlPlaneHealthChecker) HealthCheck(context.Context) error {
	return nil
}

func (c *ControlPlaneHealthChecker) ReadinessCheck(context.Context) error {
	if c.lastPoll == nil {
		return fmt.Errorf("poll state unavailable")
	}
	ok, err := c.lastPoll()
	if ok {
		return nil
	}
	if err != nil {
		return fmt.Errorf("control plane unreachable: %w", err)
	}
	return fmt.Errorf("control plane unreachable")
}

// ProbeFunc adapts a plain function into a named probe serving both the
// health and readiness checks.
type ProbeFunc struct {
	name  string
	probe func() error
}

func NewProbeFunc(name string, probe func() error) *ProbeFunc {
	return &ProbeFunc{name: name, probe: probe}
}

func (p *ProbeFunc) Name() string { return p.name }

func (p *ProbeFunc) HealthCheck(context.Context) error { return p.probe() }

func (p *ProbeFunc) ReadinessCheck(context.Context) error { return p.probe() }

var (
	_ HealthChecker    = (*DatabaseHealthChecker)(nil)
	_ ReadinessChecker = (*DatabaseHealthChecker)(nil)
	_ HealthChecker    = (*CertificateHealthChecker)(nil)
	_ ReadinessChecker = (*CertificateHealthChecker)(nil)
	_ HealthChecker    = (*ControlPlaneHealthChecker)(nil)
	_ ReadinessChecker = (*ControlPlaneHealthChecker)(nil)
	_ HealthChecker    = (*ProbeFunc)(nil)
	_ ReadinessChecker = (*ProbeFunc)(nil)
)
