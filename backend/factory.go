package backend

import (
	"log/slog"
	"os"
)

// Environment variables steering backend selection.
const (
	// EnvBackend selects the variant: "muxd", "tmux" or "mock".
	EnvBackend = "ORCH_MUX_BACKEND"
	// EnvMuxdURL overrides the daemon URL for the muxd variant.
	EnvMuxdURL = "MUXD_URL"

	// DefaultMuxdURL is used when EnvMuxdURL is unset.
	DefaultMuxdURL = "ws://localhost:7890/ws"
)

// New creates a backend from the environment. tmux is the documented
// default; unknown variants fall back to it with a warning. Construction
// never fails: a variant whose tool or daemon is unavailable surfaces the
// failure on its first operation instead.
func New() Backend {
	variant := os.Getenv(EnvBackend)
	if variant == "" {
		slog.Info("[backend] " + EnvBackend + " not set, defaulting to tmux")
		variant = "tmux"
	}

	switch variant {
	case "muxd":
		url := os.Getenv(EnvMuxdURL)
		if url == "" {
			slog.Info("[backend] "+EnvMuxdURL+" not set, using default", "url", DefaultMuxdURL)
			url = DefaultMuxdURL
		}
		slog.Info("[backend] using muxd backend", "url", url)
		return NewMuxdBackend(url)
	case "mock":
		slog.Info("[backend] using mock backend")
		return NewMockBackend()
	case "tmux":
		slog.Info("[backend] using tmux backend")
		return NewTmuxBackend()
	default:
		slog.Warn("[backend] unknown backend variant, falling back to tmux", "variant", variant)
		return NewTmuxBackend()
	}
}
