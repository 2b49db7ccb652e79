package logs

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const appDir = "complyze-proxy"

// LogDir picks the conventional log directory for the platform:
// %LOCALAPPDATA% on Windows, ~/Library/Logs on macOS, and the XDG state
// directory on Linux, with /var/log when running as root.
func LogDir() string {
	switch runtime.GOOS {
	case "windows":
		if base := os.Getenv("LOCALAPPDATA"); base != "" {
			return filepath.Join(base, appDir, "logs")
		}
		if profile := os.Getenv("USERPROFILE"); profile != "" {
			return filepath.Join(profile, "AppData", "Local", appDir, "logs")
		}
	case "darwin":
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, "Library", "Logs", appDir)
		}
	case "linux":
		if os.Getuid() == 0 {
			return filepath.Join("/var/log", appDir)
		}
		if state := os.Getenv("XDG_STATE_HOME"); state != "" {
			return filepath.Join(state, appDir, "logs")
		}
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, ".local", "state", appDir, "logs")
		}
	}
	return fallbackLogDir()
}

func fallbackLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), appDir, "logs")
	}
	return filepath.Join(home, "."+appDir, "logs")
}

// LogFilePath resolves filename inside dir and creates the directory.
// An empty dir falls back to the platform default, and a leading ~/ is
// expanded to the user's home.
func LogFilePath(dir, filename string) (string, error) {
	if dir == "" {
		dir = LogDir()
	} else if strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, dir[2:])
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, filename), nil
}
