package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// TmuxBackend drives an external tmux binary through its CLI. Sessions are
// addressed by name (tmux's own identifier); panes by their %id.
type TmuxBackend struct {
	bin string
}

// NewTmuxBackend uses "tmux" from PATH. A missing binary surfaces as a
// backend error on the first operation, not at construction.
func NewTmuxBackend() *TmuxBackend {
	return &TmuxBackend{bin: "tmux"}
}

// run executes one tmux command and returns trimmed stdout.
func (b *TmuxBackend) run(ctx context.Context, op string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, b.bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		reason := strings.TrimSpace(stderr.String())
		if reason == "" {
			reason = err.Error()
		}
		return "", muxErrf(op, "tmux %s: %s", args[0], reason)
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (b *TmuxBackend) CreateSession(ctx context.Context, name string) (string, error) {
	out, err := b.run(ctx, "create_session",
		"new-session", "-d", "-s", name, "-P", "-F", "#{session_name}")
	if err != nil {
		return "", err
	}
	return out, nil
}

func (b *TmuxBackend) KillSession(ctx context.Context, sessionID string) error {
	_, err := b.run(ctx, "kill_session", "kill-session", "-t", sessionID)
	return err
}

func (b *TmuxBackend) ListSessions(ctx context.Context) ([]Session, error) {
	out, err := b.run(ctx, "list_sessions",
		"list-sessions", "-F", "#{session_name}|#{session_created}|#{session_windows}")
	if err != nil {
		// "no server running" means zero sessions, not a failure.
		var muxErr *MuxError
		if errors.As(err, &muxErr) && strings.Contains(muxErr.Reason, "no server running") {
			return nil, nil
		}
		return nil, err
	}
	return parseSessionList(out)
}

// parseSessionList decodes "name|created|windows" lines.
func parseSessionList(out string) ([]Session, error) {
	var sessions []Session
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "|", 3)
		if len(parts) != 3 {
			return nil, muxErrf("list_sessions", "unexpected tmux line %q", line)
		}
		created, _ := strconv.ParseInt(parts[1], 10, 64)
		windows, _ := strconv.Atoi(parts[2])
		sessions = append(sessions, Session{
			ID:      parts[0],
			Name:    parts[0],
			Created: time.Unix(created, 0),
			Panes:   windows,
		})
	}
	return sessions, nil
}

// AttachSession verifies the session exists; a CLI-driven backend has no
// terminal of its own to attach, so existence is the contract.
func (b *TmuxBackend) AttachSession(ctx context.Context, sessionID string) error {
	_, err := b.run(ctx, "attach_session", "has-session", "-t", sessionID)
	return err
}

func (b *TmuxBackend) DetachSession(ctx context.Context, sessionID string) error {
	_, err := b.run(ctx, "detach_session", "detach-client", "-s", sessionID)
	return err
}

func (b *TmuxBackend) CreatePane(ctx context.Context, sessionID string, split SplitType) (string, error) {
	var args []string
	switch split {
	case SplitHorizontal:
		args = []string{"split-window", "-h", "-t", sessionID, "-P", "-F", "#{pane_id}"}
	case SplitVertical:
		args = []string{"split-window", "-v", "-t", sessionID, "-P", "-F", "#{pane_id}"}
	default:
		args = []string{"new-window", "-t", sessionID, "-P", "-F", "#{pane_id}"}
	}
	return b.run(ctx, "create_pane", args...)
}

func (b *TmuxBackend) KillPane(ctx context.Context, paneID string) error {
	_, err := b.run(ctx, "kill_pane", "kill-pane", "-t", paneID)
	return err
}

func (b *TmuxBackend) ListPanes(ctx context.Context, sessionID string) ([]Pane, error) {
	out, err := b.run(ctx, "list_panes",
		"list-panes", "-s", "-t", sessionID,
		"-F", "#{pane_id}|#{pane_active}|#{pane_height}|#{pane_width}|#{pane_title}")
	if err != nil {
		return nil, err
	}
	return parsePaneList(out, sessionID)
}

// parsePaneList decodes "id|active|height|width|title" lines.
func parsePaneList(out, sessionID string) ([]Pane, error) {
	var panes []Pane
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "|", 5)
		if len(parts) != 5 {
			return nil, muxErrf("list_panes", "unexpected tmux line %q", line)
		}
		rows, _ := strconv.Atoi(parts[2])
		cols, _ := strconv.Atoi(parts[3])
		panes = append(panes, Pane{
			ID:        parts[0],
			SessionID: sessionID,
			Active:    parts[1] == "1",
			Rows:      uint16(rows),
			Cols:      uint16(cols),
			Title:     parts[4],
		})
	}
	return panes, nil
}

// SendKeys passes keys literally; callers append "Enter" semantics via \n
// at the daemon backend, so translate a trailing newline here.
func (b *TmuxBackend) SendKeys(ctx context.Context, paneID, keys string) error {
	if strings.HasSuffix(keys, "\n") {
		if body := strings.TrimSuffix(keys, "\n"); body != "" {
			if _, err := b.run(ctx, "send_keys", "send-keys", "-t", paneID, "-l", body); err != nil {
				return err
			}
		}
		_, err := b.run(ctx, "send_keys", "send-keys", "-t", paneID, "Enter")
		return err
	}
	_, err := b.run(ctx, "send_keys", "send-keys", "-t", paneID, "-l", keys)
	return err
}

func (b *TmuxBackend) CapturePane(ctx context.Context, paneID string) (string, error) {
	return b.run(ctx, "capture_pane", "capture-pane", "-p", "-t", paneID)
}

func (b *TmuxBackend) ResizePane(ctx context.Context, paneID string, size PaneSize) error {
	_, err := b.run(ctx, "resize_pane", "resize-pane", "-t", paneID,
		"-x", fmt.Sprintf("%d", size.Cols), "-y", fmt.Sprintf("%d", size.Rows))
	return err
}

func (b *TmuxBackend) SelectPane(ctx context.Context, paneID string) error {
	_, err := b.run(ctx, "select_pane", "select-pane", "-t", paneID)
	return err
}

// Close has nothing to release; the tmux server is external.
func (b *TmuxBackend) Close() error { return nil }
