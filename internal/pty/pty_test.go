//go:build !windows

package pty

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSpawnWriteReadExit(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	pid, err := p.Spawn("/bin/sh", t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if pid == 0 {
		t.Fatal("Spawn returned pid 0")
	}
	if p.PID() != pid {
		t.Fatalf("PID = %d, want %d", p.PID(), pid)
	}

	reader, err := p.TakeReader()
	if err != nil {
		t.Fatalf("TakeReader: %v", err)
	}
	if _, err := p.TakeReader(); !errors.Is(err, ErrReaderTaken) {
		t.Fatalf("second TakeReader err = %v, want ErrReaderTaken", err)
	}

	if _, err := p.Write([]byte("echo hello-pty\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got := make(chan string, 1)
	go func() {
		buf := make([]byte, 4096)
		var all []byte
		for {
			n, readErr := reader.Read(buf)
			if n > 0 {
				all = append(all, buf[:n]...)
			}
			if readErr != nil {
				got <- string(all)
				return
			}
		}
	}()

	if _, err := p.Write([]byte("exit\n")); err != nil {
		t.Fatalf("Write exit: %v", err)
	}

	select {
	case out := <-got:
		if !strings.Contains(out, "hello-pty") {
			t.Fatalf("output %q does not contain hello-pty", out)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for shell output")
	}

	if code := p.Wait(); code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if p.PID() != 0 {
		t.Fatalf("PID after exit = %d, want 0", p.PID())
	}
}

func TestSpawnTwiceFails(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()
	if _, err := p.Spawn("/bin/sh", "", nil); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if _, err := p.Spawn("/bin/sh", "", nil); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Spawn err = %v, want ErrAlreadyStarted", err)
	}
}

func TestWriteBeforeSpawnFails(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()
	if _, err := p.Write([]byte("x")); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("Write err = %v, want ErrNotStarted", err)
	}
}

func TestResizeLastWriteWins(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()
	if _, err := p.Spawn("/bin/sh", "", nil); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := p.Resize(40, 120); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if err := p.Resize(50, 132); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	rows, cols := p.Size()
	if rows != 50 || cols != 132 {
		t.Fatalf("Size = %dx%d, want 50x132", rows, cols)
	}
}

func TestBuildEnvTermDefaultAndOverride(t *testing.T) {
	countTerm := func(env []string) (n int, last string) {
		for _, kv := range env {
			if strings.HasPrefix(kv, "TERM=") {
				n++
				last = kv
			}
		}
		return n, last
	}

	n, last := countTerm(buildEnv(nil))
	if n != 1 || last != "TERM=xterm-256color" {
		t.Fatalf("default env TERM entries = %d (%q), want one xterm-256color", n, last)
	}

	n, last = countTerm(buildEnv(map[string]string{"TERM": "vt100"}))
	if n != 1 || last != "TERM=vt100" {
		t.Fatalf("override env TERM entries = %d (%q), want one vt100", n, last)
	}
}

func TestKillIsIdempotent(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()
	if _, err := p.Spawn("/bin/sh", "", nil); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := p.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if err := p.Kill(); err != nil {
		t.Fatalf("second Kill: %v", err)
	}
}
