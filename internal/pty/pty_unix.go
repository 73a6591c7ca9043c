//go:build !windows

package pty

import (
	"io"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

func (p *PTY) open() error {
	ptmx, tty, err := pty.Open()
	if err != nil {
		return err
	}
	if err := pty.Setsize(ptmx, &pty.Winsize{Rows: p.rows, Cols: p.cols}); err != nil {
		ptmx.Close()
		tty.Close()
		return err
	}
	p.ptmx = ptmx
	p.tty = tty
	return nil
}

func (p *PTY) spawnLocked(shell, workingDir string, env []string) (uint32, error) {
	cmd := exec.Command(shell)
	cmd.Dir = workingDir
	cmd.Env = env
	cmd.Stdin = p.tty
	cmd.Stdout = p.tty
	cmd.Stderr = p.tty
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true, Setctty: true}
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	// The slave stays open in the child; the daemon's copy is no longer
	// needed and holding it would mask EOF on the master.
	p.tty.Close()
	p.tty = nil
	p.cmd = cmd
	return uint32(cmd.Process.Pid), nil
}

func (p *PTY) writeLocked(data []byte) (int, error) {
	if p.ptmx == nil {
		return 0, ErrNotStarted
	}
	return p.ptmx.Write(data)
}

func (p *PTY) resizeLocked(rows, cols uint16) error {
	if p.ptmx == nil {
		return ErrNotStarted
	}
	return pty.Setsize(p.ptmx, &pty.Winsize{Rows: rows, Cols: cols})
}

func (p *PTY) readerLocked() io.Reader {
	return p.ptmx
}

func (p *PTY) pidLocked() uint32 {
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return uint32(p.cmd.Process.Pid)
}

func (p *PTY) waitChild() int {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()
	if cmd == nil {
		return -1
	}
	err := cmd.Wait()
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}

func (p *PTY) signalTerm() error {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return ErrNotStarted
	}
	return cmd.Process.Signal(syscall.SIGTERM)
}

func (p *PTY) forceKill() {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

// alive probes the child with signal 0.
func (p *PTY) alive() bool {
	p.mu.Lock()
	cmd := p.cmd
	exited := p.exited
	p.mu.Unlock()
	if cmd == nil || cmd.Process == nil || exited {
		return false
	}
	return unix.Kill(cmd.Process.Pid, 0) == nil
}

func (p *PTY) closeFiles() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	if p.ptmx != nil {
		if err := p.ptmx.Close(); err != nil {
			firstErr = err
		}
		p.ptmx = nil
	}
	if p.tty != nil {
		if err := p.tty.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		p.tty = nil
	}
	return firstErr
}
