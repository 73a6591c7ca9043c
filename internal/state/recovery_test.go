//go:build !windows

package state

import (
	"errors"
	"testing"
	"time"

	"orchmux/internal/mux"
)

// Restart recovery: a daemon writes its state, goes away, and a fresh
// manager restores the session with its pane in a detached state.
func TestRestartRecovery(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	// First life: create a session and a live pane, then shut down.
	saver := NewSaver(store, time.Hour)
	saver.Start()
	m1 := mux.NewManager(mux.Limits{ScrollbackLines: 100}, nil, saver)
	s, err := m1.CreateSession("recovered", "", nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	p, _, err := m1.CreatePane(s.ID(), "", "/bin/sh", "", nil, nil)
	if err != nil {
		t.Fatalf("CreatePane: %v", err)
	}
	m1.CloseAll()
	saver.Close()

	// Second life: restore from disk.
	store2, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	sessions, err := store2.LoadSessions()
	if err != nil {
		t.Fatalf("LoadSessions: %v", err)
	}
	panes, err := store2.LoadPanes()
	if err != nil {
		t.Fatalf("LoadPanes: %v", err)
	}
	m2 := mux.NewManager(mux.Limits{ScrollbackLines: 100}, nil, nil)
	m2.Restore(sessions, panes)

	infos := m2.ListSessions()
	if len(infos) != 1 || infos[0].SessionID != s.ID() || infos[0].Name != "recovered" {
		t.Fatalf("restored sessions = %+v", infos)
	}
	restored, err := m2.ListPanes(s.ID())
	if err != nil {
		t.Fatalf("ListPanes: %v", err)
	}
	if len(restored) != 1 || restored[0].PaneID != p.ID() || !restored[0].Detached {
		t.Fatalf("restored panes = %+v, want one detached pane %s", restored, p.ID())
	}

	// Detached panes reject writes until re-materialized.
	rp, err := m2.GetPane(p.ID())
	if err != nil {
		t.Fatalf("GetPane: %v", err)
	}
	var stateErr *mux.InvalidStateError
	if err := rp.Write([]byte("x")); !errors.As(err, &stateErr) {
		t.Fatalf("detached Write err = %v, want InvalidStateError", err)
	}

	// Re-materializing brings it back to life with the stored command.
	pid, err := m2.RestartPane(p.ID())
	if err != nil {
		t.Fatalf("RestartPane: %v", err)
	}
	if pid == 0 {
		t.Fatal("restart returned pid 0")
	}
	if err := rp.Write([]byte("exit\n")); err != nil {
		t.Fatalf("write after restart: %v", err)
	}
	m2.CloseAll()
}
