package backend

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestFactorySelectsMock(t *testing.T) {
	t.Setenv(EnvBackend, "mock")
	b := New()
	defer b.Close()
	if _, ok := b.(*MockBackend); !ok {
		t.Fatalf("backend = %T, want *MockBackend", b)
	}
}

func TestFactorySelectsMuxd(t *testing.T) {
	t.Setenv(EnvBackend, "muxd")
	t.Setenv(EnvMuxdURL, "ws://127.0.0.1:1/ws")
	b := New()
	defer b.Close()
	if _, ok := b.(*MuxdBackend); !ok {
		t.Fatalf("backend = %T, want *MuxdBackend", b)
	}
}

func TestFactoryUnknownFallsBackToTmux(t *testing.T) {
	t.Setenv(EnvBackend, "zellij")
	b := New()
	defer b.Close()
	if _, ok := b.(*TmuxBackend); !ok {
		t.Fatalf("backend = %T, want *TmuxBackend fallback", b)
	}
}

func TestFactoryDefaultIsTmux(t *testing.T) {
	t.Setenv(EnvBackend, "")
	b := New()
	defer b.Close()
	if _, ok := b.(*TmuxBackend); !ok {
		t.Fatalf("backend = %T, want *TmuxBackend default", b)
	}
}

// An unreachable daemon must surface a backend error with a reason, never
// panic, and construction itself must succeed.
func TestMuxdBackendUnreachableReturnsBackendError(t *testing.T) {
	b := NewMuxdBackend("ws://127.0.0.1:1/ws")
	defer b.Close()
	_, err := b.CreateSession(context.Background(), "s")
	var muxErr *MuxError
	if !errors.As(err, &muxErr) {
		t.Fatalf("err = %v, want *MuxError", err)
	}
	if muxErr.Reason == "" {
		t.Fatal("backend error carries no reason")
	}
}

func TestMockBackendLifecycle(t *testing.T) {
	b := NewMockBackend()
	ctx := context.Background()

	sid, err := b.CreateSession(ctx, "work")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	pid1, err := b.CreatePane(ctx, sid, SplitNone)
	if err != nil {
		t.Fatalf("CreatePane: %v", err)
	}
	pid2, err := b.CreatePane(ctx, sid, SplitVertical)
	if err != nil {
		t.Fatalf("CreatePane: %v", err)
	}

	panes, err := b.ListPanes(ctx, sid)
	if err != nil || len(panes) != 2 {
		t.Fatalf("ListPanes = %v, err %v", panes, err)
	}
	if !panes[0].Active || panes[1].Active {
		t.Fatalf("first pane should be active: %+v", panes)
	}

	if err := b.SelectPane(ctx, pid2); err != nil {
		t.Fatalf("SelectPane: %v", err)
	}
	panes, _ = b.ListPanes(ctx, sid)
	if !panes[1].Active {
		t.Fatalf("SelectPane did not move the marker: %+v", panes)
	}

	if err := b.SendKeys(ctx, pid1, "echo hi\n"); err != nil {
		t.Fatalf("SendKeys: %v", err)
	}
	text, err := b.CapturePane(ctx, pid1)
	if err != nil || !strings.Contains(text, "echo hi") {
		t.Fatalf("CapturePane = %q err=%v", text, err)
	}

	if err := b.ResizePane(ctx, pid1, PaneSize{Rows: 40, Cols: 120}); err != nil {
		t.Fatalf("ResizePane: %v", err)
	}
	if err := b.ResizePane(ctx, pid1, PaneSize{}); err == nil {
		t.Fatal("zero resize accepted")
	}

	if err := b.KillPane(ctx, pid1); err != nil {
		t.Fatalf("KillPane: %v", err)
	}
	if err := b.KillPane(ctx, pid1); err == nil {
		t.Fatal("double KillPane succeeded")
	}
	if err := b.KillSession(ctx, sid); err != nil {
		t.Fatalf("KillSession: %v", err)
	}
	sessions, _ := b.ListSessions(ctx)
	if len(sessions) != 0 {
		t.Fatalf("sessions after kill = %v", sessions)
	}
}

func TestParseSessionList(t *testing.T) {
	out := "main|1700000000|2\nscratch|1700000100|1\n"
	sessions, err := parseSessionList(out)
	if err != nil {
		t.Fatalf("parseSessionList: %v", err)
	}
	if len(sessions) != 2 || sessions[0].Name != "main" || sessions[1].Panes != 1 {
		t.Fatalf("sessions = %+v", sessions)
	}
	if _, err := parseSessionList("onefield"); err == nil {
		t.Fatal("malformed line accepted")
	}
}

func TestParsePaneList(t *testing.T) {
	out := "%0|1|40|120|shell\n%1|0|40|120|logs\n"
	panes, err := parsePaneList(out, "main")
	if err != nil {
		t.Fatalf("parsePaneList: %v", err)
	}
	if len(panes) != 2 || !panes[0].Active || panes[0].Rows != 40 ||
		panes[1].Title != "logs" || panes[1].SessionID != "main" {
		t.Fatalf("panes = %+v", panes)
	}
}
