package backend

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockBackend is an in-memory Backend for tests and for embedders that need
// a multiplexer-shaped null object.
type MockBackend struct {
	mu       sync.Mutex
	seq      int
	sessions map[string]*mockSession
	panes    map[string]*mockPane
	keys     map[string][]string // paneID -> sent keys
}

type mockSession struct {
	id      string
	name    string
	created time.Time
	panes   []string
	active  string
}

type mockPane struct {
	id        string
	sessionID string
	rows      uint16
	cols      uint16
	captured  []string
}

// NewMockBackend creates an empty mock.
func NewMockBackend() *MockBackend {
	return &MockBackend{
		sessions: make(map[string]*mockSession),
		panes:    make(map[string]*mockPane),
		keys:     make(map[string][]string),
	}
}

func (b *MockBackend) CreateSession(_ context.Context, name string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	id := fmt.Sprintf("mock-sess-%d", b.seq)
	b.sessions[id] = &mockSession{id: id, name: name, created: time.Now()}
	return id, nil
}

func (b *MockBackend) KillSession(_ context.Context, sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[sessionID]
	if !ok {
		return muxErrf("kill_session", "session %s not found", sessionID)
	}
	for _, paneID := range s.panes {
		delete(b.panes, paneID)
		delete(b.keys, paneID)
	}
	delete(b.sessions, sessionID)
	return nil
}

func (b *MockBackend) ListSessions(_ context.Context) ([]Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		out = append(out, Session{ID: s.id, Name: s.name, Created: s.created, Panes: len(s.panes)})
	}
	return out, nil
}

func (b *MockBackend) AttachSession(_ context.Context, sessionID string) error {
	return b.requireSession("attach_session", sessionID)
}

func (b *MockBackend) DetachSession(_ context.Context, sessionID string) error {
	return b.requireSession("detach_session", sessionID)
}

func (b *MockBackend) requireSession(op, sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.sessions[sessionID]; !ok {
		return muxErrf(op, "session %s not found", sessionID)
	}
	return nil
}

func (b *MockBackend) CreatePane(_ context.Context, sessionID string, _ SplitType) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[sessionID]
	if !ok {
		return "", muxErrf("create_pane", "session %s not found", sessionID)
	}
	b.seq++
	id := fmt.Sprintf("mock-pane-%d", b.seq)
	b.panes[id] = &mockPane{id: id, sessionID: sessionID, rows: 24, cols: 80}
	s.panes = append(s.panes, id)
	if s.active == "" {
		s.active = id
	}
	return id, nil
}

func (b *MockBackend) KillPane(_ context.Context, paneID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.panes[paneID]
	if !ok {
		return muxErrf("kill_pane", "pane %s not found", paneID)
	}
	if s := b.sessions[p.sessionID]; s != nil {
		for i, id := range s.panes {
			if id == paneID {
				s.panes = append(s.panes[:i], s.panes[i+1:]...)
				break
			}
		}
		if s.active == paneID {
			s.active = ""
			if len(s.panes) > 0 {
				s.active = s.panes[0]
			}
		}
	}
	delete(b.panes, paneID)
	delete(b.keys, paneID)
	return nil
}

func (b *MockBackend) ListPanes(_ context.Context, sessionID string) ([]Pane, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[sessionID]
	if !ok {
		return nil, muxErrf("list_panes", "session %s not found", sessionID)
	}
	out := make([]Pane, 0, len(s.panes))
	for _, id := range s.panes {
		p := b.panes[id]
		out = append(out, Pane{
			ID: p.id, SessionID: p.sessionID,
			Active: s.active == p.id, Rows: p.rows, Cols: p.cols,
		})
	}
	return out, nil
}

// SendKeys records the keys and echoes them into the captured text, so
// capture-based assertions behave like a real terminal's loopback.
func (b *MockBackend) SendKeys(_ context.Context, paneID, keys string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.panes[paneID]
	if !ok {
		return muxErrf("send_keys", "pane %s not found", paneID)
	}
	b.keys[paneID] = append(b.keys[paneID], keys)
	p.captured = append(p.captured, keys)
	return nil
}

// SentKeys returns everything sent to a pane, for tests.
func (b *MockBackend) SentKeys(paneID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.keys[paneID]))
	copy(out, b.keys[paneID])
	return out
}

func (b *MockBackend) CapturePane(_ context.Context, paneID string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.panes[paneID]
	if !ok {
		return "", muxErrf("capture_pane", "pane %s not found", paneID)
	}
	var text string
	for _, chunk := range p.captured {
		text += chunk
	}
	return text, nil
}

func (b *MockBackend) ResizePane(_ context.Context, paneID string, size PaneSize) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.panes[paneID]
	if !ok {
		return muxErrf("resize_pane", "pane %s not found", paneID)
	}
	if size.Rows < 1 || size.Cols < 1 {
		return muxErrf("resize_pane", "rows and cols must be >= 1")
	}
	p.rows, p.cols = size.Rows, size.Cols
	return nil
}

func (b *MockBackend) SelectPane(_ context.Context, paneID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.panes[paneID]
	if !ok {
		return muxErrf("select_pane", "pane %s not found", paneID)
	}
	if s := b.sessions[p.sessionID]; s != nil {
		s.active = paneID
	}
	return nil
}

// Close is a no-op for the mock.
func (b *MockBackend) Close() error { return nil }
