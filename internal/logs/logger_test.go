package logs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/complyze/complyze-proxy/internal/config"
)

func TestSetupLoggerWritesMaskedFileOutput(t *testing.T) {
	logDir := t.TempDir()
	logger, err := SetupLogger(&config.LogConfig{
		Level:      "debug",
		EnableFile: true,
		Filename:   "main.log",
		LogDir:     logDir,
		MaxSize:    1,
		MaxBackups: 1,
		MaxAge:     1,
		JSONFormat: true,
	})
	require.NoError(t, err)

	logger.Info("upstream auth failed", zap.String("authorization", "Bearer abcdef123456"))
	_ = logger.Sync()

	data, err := os.ReadFile(filepath.Join(logDir, "main.log"))
	require.NoError(t, err)

	content := string(data)
	assert.Contains(t, content, "upstream auth failed")
	assert.Contains(t, content, "Bearer abcd***56")
	assert.NotContains(t, content, "abcdef123456")
}

func TestSetupLoggerRequiresAnOutput(t *testing.T) {
	_, err := SetupLogger(&config.LogConfig{
		Level:         "info",
		EnableFile:    false,
		EnableConsole: false,
	})
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zap.DebugLevel, parseLevel(LogLevelTrace))
	assert.Equal(t, zap.DebugLevel, parseLevel(LogLevelDebug))
	assert.Equal(t, zap.InfoLevel, parseLevel(LogLevelInfo))
	assert.Equal(t, zap.WarnLevel, parseLevel(LogLevelWarn))
	assert.Equal(t, zap.ErrorLevel, parseLevel(LogLevelError))

	// Unknown levels fall back to info.
	assert.Equal(t, zap.InfoLevel, parseLevel("verbose"))
}
