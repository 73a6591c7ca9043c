// Package daemon supervises the muxd process: the PID-file single-instance
// token, foreground/detached launch, stop/status probes and the run loop
// that wires every component together.
package daemon

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// PIDFileName is the single-instance token under the data directory.
const PIDFileName = "muxd.pid"

// stopGrace is how long stop waits after the graceful signal before
// escalating to a forceful kill.
const stopGrace = 500 * time.Millisecond

// ErrNotRunning is returned by Stop when no live daemon owns the PID file.
var ErrNotRunning = errors.New("daemon: not running")

// Daemon manages the PID file for one data directory.
type Daemon struct {
	pidFile  string
	wrotePID bool
}

// New ensures the data directory exists and returns a manager for its PID
// file.
func New(dataDir string) (*Daemon, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("daemon: create data dir: %w", err)
	}
	return &Daemon{pidFile: filepath.Join(dataDir, PIDFileName)}, nil
}

// PIDFile returns the PID file path.
func (d *Daemon) PIDFile() string { return d.pidFile }

// ReadPID returns the recorded PID.
func (d *Daemon) ReadPID() (int, error) {
	raw, err := os.ReadFile(d.pidFile)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("daemon: invalid pid file %s: %w", d.pidFile, err)
	}
	return pid, nil
}

// IsRunning reports whether the PID file names a live process. A stale file
// is cleaned up on the way.
func (d *Daemon) IsRunning() bool {
	pid, err := d.ReadPID()
	if err != nil {
		return false
	}
	if processAlive(pid) {
		return true
	}
	if err := os.Remove(d.pidFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("[daemon] stale pid file cleanup failed", "error", err)
	}
	return false
}

// LivePID returns the running daemon's PID, or 0.
func (d *Daemon) LivePID() int {
	if !d.IsRunning() {
		return 0
	}
	pid, _ := d.ReadPID()
	return pid
}

// WritePID records the current process as the instance owner.
func (d *Daemon) WritePID() error {
	pid := os.Getpid()
	if err := os.WriteFile(d.pidFile, []byte(strconv.Itoa(pid)), 0o600); err != nil {
		return fmt.Errorf("daemon: write pid file: %w", err)
	}
	d.wrotePID = true
	slog.Info("[daemon] pid file written", "pid", pid, "path", d.pidFile)
	return nil
}

// RemovePIDFile removes the token, but only when this process authored it
// or the recorded PID is our own (the detach child inherits authorship).
func (d *Daemon) RemovePIDFile() error {
	if !d.wrotePID {
		pid, err := d.ReadPID()
		if err != nil || pid != os.Getpid() {
			return nil
		}
	}
	if err := os.Remove(d.pidFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("daemon: remove pid file: %w", err)
	}
	return nil
}

// Stop terminates the running daemon: graceful signal, a short grace, then
// a forceful kill, and cleans up the PID file. Returns ErrNotRunning when
// there is nothing to stop. On platforms without signal delivery the caller
// falls back to server_shutdown over RPC.
func (d *Daemon) Stop() error {
	pid := d.LivePID()
	if pid == 0 {
		return ErrNotRunning
	}
	if err := signalGraceful(pid); err != nil {
		return fmt.Errorf("daemon: signal pid %d: %w", pid, err)
	}
	deadline := time.Now().Add(stopGrace)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if processAlive(pid) {
		if err := signalKill(pid); err != nil {
			return fmt.Errorf("daemon: kill pid %d: %w", pid, err)
		}
		slog.Info("[daemon] escalated to forceful kill", "pid", pid)
	}
	if err := os.Remove(d.pidFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("daemon: remove pid file: %w", err)
	}
	return nil
}
