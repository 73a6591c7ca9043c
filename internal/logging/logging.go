// Package logging wires log/slog for the daemon: level from configuration,
// text output to stderr in foreground mode, to <data-dir>/muxd.log when
// detached (a daemonized process has no useful stderr).
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ParseLevel maps a config log level to slog. "trace" maps to debug; slog
// has no finer level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "trace", "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup installs the default logger. When toFile is true the sink is
// <dataDir>/muxd.log (appended); the returned closer is non-nil in that case
// and must be closed on shutdown.
func Setup(level, dataDir string, toFile bool) (io.Closer, error) {
	var sink io.Writer = os.Stderr
	var closer io.Closer
	if toFile {
		path := filepath.Join(dataDir, "muxd.log")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("logging: open %s: %w", path, err)
		}
		sink = f
		closer = f
	}
	handler := slog.NewTextHandler(sink, &slog.HandlerOptions{Level: ParseLevel(level)})
	slog.SetDefault(slog.New(handler))
	return closer, nil
}
