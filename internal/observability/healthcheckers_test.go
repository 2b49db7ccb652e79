package observability

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func TestDatabaseHealthChecker(t *testing.T) {
	t.Run("nil database is unhealthy", func(t *testing.T) {
		checker := NewDatabaseHealthChecker("storage", nil)
		assert.Equal(t, "storage", checker.Name())
		assert.Error(t, checker.HealthCheck(context.Background()))
	})

	t.Run("open database is healthy", func(t *testing.T) {
		db, err := bbolt.Open(filepath.Join(t.TempDir(), "health.db"), 0600, nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })

		checker := NewDatabaseHealthChecker("storage", db)
		assert.NoError(t, checker.HealthCheck(context.Background()))
		assert.NoError(t, checker.ReadinessCheck(context.Background()))
	})
}

func TestCertificateHealthChecker(t *testing.T) {
	t.Run("missing CA is unhealthy", func(t *testing.T) {
		checker := NewCertificateHealthChecker("certificates", func() string { return "" }, nil)
		assert.Error(t, checker.HealthCheck(context.Background()))
	})

	t.Run("loaded CA is healthy", func(t *testing.T) {
		checker := NewCertificateHealthChecker("certificates", func() string { return "AA:BB:CC" }, nil)
		assert.NoError(t, checker.HealthCheck(context.Background()))
		assert.NoError(t, checker.ReadinessCheck(context.Background()))
	})

	t.Run("readiness probes the minter", func(t *testing.T) {
		var probed string
		checker := NewCertificateHealthChecker("certificates",
			func() string { return "AA:BB:CC" },
			func(_ context.Context, host string) error {
				probed = host
				return nil
			})

		require.NoError(t, checker.ReadinessCheck(context.Background()))
		assert.Equal(t, "readyz.invalid", probed)
	})

	t.Run("mint failure fails readiness only", func(t *testing.T) {
		checker := NewCertificateHealthChecker("certificates",
			func() string { return "AA:BB:CC" },
			func(context.Context, string) error { return errors.New("key unavailable") })

		assert.NoError(t, checker.HealthCheck(context.Background()))
		err := checker.ReadinessCheck(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "leaf mint failed")
	})
}

func TestControlPlaneHealthChecker(t *testing.T) {
	t.Run("health never fails on an unreachable control plane", func(t *testing.T) {
		checker := NewControlPlaneHealthChecker("control_plane", func() (bool, error) {
			return false, errors.New("connection refused")
		})
		assert.NoError(t, checker.HealthCheck(context.Background()))
	})

	t.Run("readiness reflects the last poll", func(t *testing.T) {
		ok := false
		checker := NewControlPlaneHealthChecker("control_plane", func() (bool, error) {
			if ok {
				return true, nil
			}
			return false, errors.New("connection refused")
		})

		err := checker.ReadinessCheck(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "control plane unreachable")

		ok = true
		assert.NoError(t, checker.ReadinessCheck(context.Background()))
	})
}

func TestProbeFunc(t *testing.T) {
	listening := false
	checker := NewProbeFunc("listener", func() error {
		if !listening {
			return errors.New("listener is not accepting connections")
		}
		return nil
	})

	assert.Equal(t, "listener", checker.Name())
	assert.Error(t, checker.HealthCheck(context.Background()))
	assert.Error(t, checker.ReadinessCheck(context.Background()))

	listening = true
	assert.NoError(t, checker.HealthCheck(context.Background()))
	assert.NoError(t, checker.ReadinessCheck(context.Background()))
}
