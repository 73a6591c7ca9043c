package mux

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Session is a named collection of panes with an optional active-pane
// pointer. The manager owns the session<->pane index; the session itself
// only tracks ordering, the active pointer and metadata. Names are not
// required to be unique; identity is the generated id.
type Session struct {
	id        string
	createdAt time.Time

	mu           sync.Mutex
	name         string
	lastActivity time.Time
	paneIDs      []string // insertion order
	activePane   string
	workingDir   string
	env          map[string]string
	layout       json.RawMessage
	metadata     map[string]string
}

func newSession(id, name, workingDir string, env map[string]string, now time.Time) *Session {
	return &Session{
		id:           id,
		name:         name,
		createdAt:    now,
		lastActivity: now,
		workingDir:   workingDir,
		env:          env,
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Name returns the human name.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Rename updates the human name.
func (s *Session) Rename(name string, now time.Time) {
	s.mu.Lock()
	s.name = name
	s.lastActivity = now
	s.mu.Unlock()
}

// addPane appends a pane to the owned set. The first pane becomes active.
func (s *Session) addPane(paneID string, now time.Time) {
	s.mu.Lock()
	s.paneIDs = append(s.paneIDs, paneID)
	if s.activePane == "" {
		s.activePane = paneID
	}
	s.lastActivity = now
	s.mu.Unlock()
}

// removePane drops a pane from the owned set. When the removed pane was
// active, the next pane in insertion order becomes active (else none).
// Returns the new active pane and whether the active pointer changed.
func (s *Session) removePane(paneID string, now time.Time) (newActive string, activeChanged bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := -1
	for i, id := range s.paneIDs {
		if id == paneID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return s.activePane, false
	}
	s.paneIDs = append(s.paneIDs[:idx], s.paneIDs[idx+1:]...)
	s.lastActivity = now
	if s.activePane != paneID {
		return s.activePane, false
	}
	// The next pane in insertion order takes over; removing the tail pane
	// leaves no active pane.
	if idx < len(s.paneIDs) {
		s.activePane = s.paneIDs[idx]
	} else {
		s.activePane = ""
	}
	return s.activePane, true
}

// setActivePane points the active marker at an owned pane.
func (s *Session) setActivePane(paneID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.paneIDs {
		if id == paneID {
			s.activePane = paneID
			s.lastActivity = now
			return nil
		}
	}
	return &ValidationError{Reason: fmt.Sprintf("pane %s is not owned by session %s", paneID, s.id)}
}

// ActivePane returns the active pane id, or empty.
func (s *Session) ActivePane() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activePane
}

// PaneIDs returns the owned pane ids in insertion order.
func (s *Session) PaneIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.paneIDs))
	copy(out, s.paneIDs)
	return out
}

// PaneCount returns the owned pane count.
func (s *Session) PaneCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.paneIDs)
}

// SetLayout stores the opaque layout tree.
func (s *Session) SetLayout(layout json.RawMessage, now time.Time) {
	s.mu.Lock()
	s.layout = layout
	s.lastActivity = now
	s.mu.Unlock()
}

// SetMetadata stores one metadata key.
func (s *Session) SetMetadata(key, value string) {
	s.mu.Lock()
	if s.metadata == nil {
		s.metadata = make(map[string]string)
	}
	s.metadata[key] = value
	s.mu.Unlock()
}

// Record snapshots the session for persistence.
func (s *Session) Record() SessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := SessionRecord{
		SchemaVersion: SchemaVersion,
		SessionID:     s.id,
		Name:          s.name,
		CreatedAt:     s.createdAt,
		UpdatedAt:     s.lastActivity,
		ActivePane:    s.activePane,
		WorkingDir:    s.workingDir,
		Env:           s.env,
		Layout:        s.layout,
		Metadata:      s.metadata,
	}
	rec.PaneIDs = make([]string, len(s.paneIDs))
	copy(rec.PaneIDs, s.paneIDs)
	return rec
}

func sessionFromRecord(rec SessionRecord) *Session {
	s := newSession(rec.SessionID, rec.Name, rec.WorkingDir, rec.Env, rec.CreatedAt)
	s.lastActivity = rec.UpdatedAt
	s.layout = rec.Layout
	s.metadata = rec.Metadata
	// Pane membership is re-derived from the pane records at restore so the
	// index and the owned set cannot disagree.
	return s
}
