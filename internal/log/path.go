package log

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

const appName = "netrule"

var (
	logDir     string
	logDirOnce sync.Once
)

// GetLogDir returns the directory for log and statistics files, creating it
// if needed: /var/log/netrule on Linux when writable, ~/.netrule otherwise,
// and the temp directory as a last resort.
func GetLogDir() string {
	logDirOnce.Do(func() {
		logDir = determineLogDir()
		if err := os.MkdirAll(logDir, 0755); err != nil {
			logDir = filepath.Join(os.TempDir(), appName)
			_ = os.MkdirAll(logDir, 0755)
		}
	})
	return logDir
}

func determineLogDir() string {
	if runtime.GOOS == "linux" {
		dir := filepath.Join("/var/log", appName)
		if writable(dir) {
			return dir
		}
	}
	return getUserLogDir()
}

func writable(dir string) bool {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false
	}
	f, err := os.CreateTemp(dir, ".write_test")
	if err != nil {
		return false
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
	return true
}

func getUserLogDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		dir := filepath.Join(home, "."+appName)
		if err := os.MkdirAll(dir, 0755); err == nil {
			return dir
		}
	}
	return filepath.Join(os.TempDir(), appName)
}

func GetLogFilePath() string {
	return filepath.Join(GetLogDir(), appName+".log")
}

// GetStatsFilePath returns the path of a statistics dump file.
func GetStatsFilePath(name string) string {
	return filepath.Join(GetLogDir(), name)
}
