//go:build !windows

package daemon

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/unix"
)

// processAlive probes with signal 0. EPERM means the process exists but
// belongs to someone else, which still counts as alive.
func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

func signalGraceful(pid int) error {
	return unix.Kill(pid, unix.SIGTERM)
}

func signalKill(pid int) error {
	return unix.Kill(pid, unix.SIGKILL)
}

// Detach re-executes the binary in its own session with stdio pointed at
// the daemon log. The child runs the same start verb in foreground mode and
// authors the PID file itself; the parent returns its PID.
func Detach(args []string, dataDir string) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("daemon: resolve executable: %w", err)
	}
	logPath := filepath.Join(dataDir, "muxd.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return 0, fmt.Errorf("daemon: open log %s: %w", logPath, err)
	}
	defer logFile.Close()

	devNull, err := os.OpenFile(os.DevNull, os.O_RDONLY, 0)
	if err != nil {
		return 0, fmt.Errorf("daemon: open %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	cmd := exec.Command(exe, args...)
	cmd.Stdin = devNull
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Dir = "/"
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("daemon: start detached child: %w", err)
	}
	pid := cmd.Process.Pid
	// The child belongs to its own session now; release the handle so the
	// parent can exit without reaping it.
	if err := cmd.Process.Release(); err != nil {
		return pid, fmt.Errorf("daemon: release child: %w", err)
	}
	return pid, nil
}

// SupportsSignals reports whether stop can use signal delivery.
func SupportsSignals() bool { return true }
