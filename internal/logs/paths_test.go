package logs

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogDir(t *testing.T) {
	logDir := LogDir()
	require.NotEmpty(t, logDir)

	assert.Contains(t, logDir, appDir)
	assert.True(t, filepath.IsAbs(logDir))
}

func TestLogDirOnLinux(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skipf("Skipping Linux log dir test on %s", runtime.GOOS)
	}

	if os.Getuid() == 0 {
		assert.Equal(t, filepath.Join("/var/log", appDir), LogDir())
		return
	}

	stateDir := filepath.Join(t.TempDir(), "state")
	t.Setenv("XDG_STATE_HOME", stateDir)

	assert.Equal(t, filepath.Join(stateDir, appDir, "logs"), LogDir())
}

func TestLogFilePath(t *testing.T) {
	t.Run("custom directory", func(t *testing.T) {
		logDir := filepath.Join(t.TempDir(), "logs")

		path, err := LogFilePath(logDir, "main.log")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(logDir, "main.log"), path)

		// The directory is created on demand.
		info, err := os.Stat(logDir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("tilde expands to the home directory", func(t *testing.T) {
		homeDir, err := os.UserHomeDir()
		require.NoError(t, err)

		path, err := LogFilePath("~/.complyze-proxy-test-logs", "main.log")
		require.NoError(t, err)
		t.Cleanup(func() { _ = os.RemoveAll(filepath.Join(homeDir, ".complyze-proxy-test-logs")) })

		assert.Equal(t, filepath.Join(homeDir, ".complyze-proxy-test-logs", "main.log"), path)
	})
}
