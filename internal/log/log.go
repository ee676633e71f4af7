package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sunbk201/netrule/internal/config"
)

// DisableFile as the log file path keeps logs on stdout only.
const DisableFile = "-"

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewHandler returns the text handler used for every log destination, with
// timestamps in the local zone.
func NewHandler(w io.Writer, level slog.Level) slog.Handler {
	loc := LoadLocalLocation()
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				t := a.Value.Time().In(loc)
				return slog.String(slog.TimeKey, t.Format("2006-01-02 15:04:05"))
			}
			return a
		},
	})
}

// SetLogConf installs the default logger writing to stdout, a rotated log
// file and lb when it is not nil. The returned closer releases the file.
func SetLogConf(level, logFile string, lb *Broadcaster) io.Closer {
	writers := []io.Writer{os.Stdout}
	var closer io.Closer = nopCloser{}

	if logFile != DisableFile {
		if logFile == "" {
			logFile = GetLogFilePath()
		}
		rotator := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    5, // megabytes
			MaxBackups: 5,
			MaxAge:     7, // days
			LocalTime:  true,
			Compress:   true,
		}
		writers = append(writers, rotator)
		closer = rotator
	}
	if lb != nil {
		writers = append(writers, lb)
	}

	slog.SetDefault(slog.New(NewHandler(io.MultiWriter(writers...), ParseLevel(level))))
	return closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func LogHeader(version string, cfg *config.Config) {
	slog.Info("netrule started", slog.String("version", version), slog.Any("config", cfg))
	slog.Info("System", GetOSInfo()...)
}

// LoadLocalLocation detects the system zone from /etc/localtime or /etc/TZ,
// which covers OpenWrt as well as regular Linux.
func LoadLocalLocation() *time.Location {
	if _, err := os.Stat("/etc/localtime"); err == nil {
		if loc, _ := time.LoadLocation("Local"); loc != nil {
			return loc
		}
	}
	if data, err := os.ReadFile("/etc/TZ"); err == nil {
		tz := strings.TrimSpace(string(data))
		switch {
		case strings.HasPrefix(tz, "CST-8"):
			return time.FixedZone("CST", 8*3600)
		case strings.HasPrefix(tz, "UTC"):
			return time.UTC
		}
	}
	return time.UTC
}
