// Package config resolves muxd's runtime configuration. Priority, high to
// low: command-line flags (applied by the CLI after Load), environment
// variables, a .env file in the working directory, <data-dir>/config.yaml,
// compiled-in defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.yaml.in/yaml/v3"
)

const (
	// DefaultPort is the WebSocket listen port.
	DefaultPort = 7890

	// maxValidPort is the highest TCP port number.
	maxValidPort = 65535

	// maxConfigFileBytes caps config.yaml reads.
	maxConfigFileBytes = 1 << 20
)

// Config is muxd's runtime configuration.
type Config struct {
	// Port is the WebSocket/HTTP listen port.
	Port int `yaml:"port"`
	// DataDir holds the PID file, persisted state, history and logs.
	// Resolved before the yaml file is read; a value in the file is ignored.
	DataDir string `yaml:"-"`
	// LogLevel is one of trace, debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	MaxSessions        int `yaml:"max_sessions"`
	MaxPanesPerSession int `yaml:"max_panes_per_session"`
	// OutputBufferSize bounds each pane's raw replay ring, in bytes.
	OutputBufferSize int `yaml:"output_buffer_size"`
	// ScrollbackLines bounds each pane's committed-line ring.
	ScrollbackLines int `yaml:"scrollback_lines"`
	// OutboundQueueSize bounds each connection's send queue, in frames.
	OutboundQueueSize int `yaml:"outbound_queue_size"`

	AuthEnabled bool   `yaml:"auth_enabled"`
	AuthToken   string `yaml:"auth_token"`
}

// Default returns the compiled-in defaults.
func Default() Config {
	return Config{
		Port:               DefaultPort,
		LogLevel:           "info",
		MaxSessions:        100,
		MaxPanesPerSession: 50,
		OutputBufferSize:   64 * 1024,
		ScrollbackLines:    10000,
		OutboundQueueSize:  256,
	}
}

// DefaultDataDir is ~/.muxd, falling back to a muxd dir under the OS temp
// directory when the home directory cannot be resolved.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "muxd")
	}
	return filepath.Join(home, ".muxd")
}

// Load resolves the configuration. dataDirFlag, when non-empty, wins over
// MUXD_DATA_DIR and the default.
func Load(dataDirFlag string) (Config, error) {
	// .env overlays the process environment before any lookups; absence is
	// not an error.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Debug("[config] no .env loaded", "error", err)
	}

	dataDir := dataDirFlag
	if dataDir == "" {
		dataDir = os.Getenv("MUXD_DATA_DIR")
	}
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}

	cfg := Default()
	if err := loadYAML(filepath.Join(dataDir, "config.yaml"), &cfg); err != nil {
		return Config{}, err
	}
	cfg.DataDir = dataDir
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadYAML(path string, cfg *Config) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: stat %s: %w", path, err)
	}
	if info.Size() > maxConfigFileBytes {
		return fmt.Errorf("config: %s exceeds %d bytes", path, maxConfigFileBytes)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("MUXD_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		} else {
			slog.Warn("[config] ignoring invalid MUXD_PORT", "value", v)
		}
	}
	if v := os.Getenv("MUXD_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MUXD_MAX_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxSessions = n
		}
	}
	if v := os.Getenv("MUXD_MAX_PANES_PER_SESSION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxPanesPerSession = n
		}
	}
	if v := os.Getenv("MUXD_OUTPUT_BUFFER_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.OutputBufferSize = n
		}
	}
	if v := os.Getenv("MUXD_AUTH_ENABLED"); v != "" {
		cfg.AuthEnabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("MUXD_AUTH_TOKEN"); v != "" {
		cfg.AuthToken = v
	}
}

// Validate checks ranges and the auth pairing.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > maxValidPort {
		return fmt.Errorf("config: port %d out of range 1..%d", c.Port, maxValidPort)
	}
	if c.MaxSessions < 1 {
		return fmt.Errorf("config: max_sessions must be >= 1")
	}
	if c.MaxPanesPerSession < 1 {
		return fmt.Errorf("config: max_panes_per_session must be >= 1")
	}
	if c.OutputBufferSize < 0 || c.ScrollbackLines < 0 || c.OutboundQueueSize < 1 {
		return fmt.Errorf("config: buffer sizes must be positive")
	}
	switch strings.ToLower(c.LogLevel) {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}
	if c.AuthEnabled && c.AuthToken == "" {
		return fmt.Errorf("config: auth_enabled requires auth_token")
	}
	return nil
}
