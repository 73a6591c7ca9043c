package mux

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"orchmux/internal/protocol"
)

// Manager is the process-wide session registry and the sole authority for
// session/pane mutation. One inner lock guards the maps; per-session and
// per-pane state sits behind their own locks. Lookups hold the manager lock
// only long enough to obtain the handle.
// Lock ordering: Manager.mu -> Session.mu -> Pane.mu. Never reverse.
type Manager struct {
	limits  Limits
	emit    EventSink
	persist Persister
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	panes    map[string]*Pane
}

// NewManager creates the registry. A nil sink or persister is replaced by a
// no-op so tests can construct a bare manager.
func NewManager(limits Limits, emit EventSink, persist Persister) *Manager {
	if limits.MaxSessions <= 0 {
		limits.MaxSessions = 100
	}
	if limits.MaxPanesPerSession <= 0 {
		limits.MaxPanesPerSession = 50
	}
	if emit == nil {
		emit = nopSink
	}
	if persist == nil {
		persist = nopPersister{}
	}
	return &Manager{
		limits:   limits,
		emit:     emit,
		persist:  persist,
		now:      time.Now,
		sessions: make(map[string]*Session),
		panes:    make(map[string]*Pane),
	}
}

// CreateSession allocates a fresh session. Fails with ResourceLimitError
// when the global cap is reached.
func (m *Manager) CreateSession(name, workingDir string, env map[string]string) (*Session, error) {
	m.mu.Lock()
	if len(m.sessions) >= m.limits.MaxSessions {
		m.mu.Unlock()
		return nil, &ResourceLimitError{Resource: "sessions", Limit: m.limits.MaxSessions}
	}
	s := newSession(NewSessionID(), name, workingDir, env, m.now())
	m.sessions[s.id] = s
	m.mu.Unlock()

	m.persist.SaveSession(s.Record())
	slog.Info("[mux] session created", "sessionId", s.id, "name", name)
	return s, nil
}

// GetSession returns a session handle.
func (m *Manager) GetSession(id string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, &NotFoundError{Kind: "session", ID: id}
	}
	return s, nil
}

// ListSessions snapshots every session, ordered by creation time.
func (m *Manager) ListSessions() []protocol.SessionInfo {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].createdAt.Equal(sessions[j].createdAt) {
			return sessions[i].id < sessions[j].id
		}
		return sessions[i].createdAt.Before(sessions[j].createdAt)
	})
	out := make([]protocol.SessionInfo, len(sessions))
	for i, s := range sessions {
		rec := s.Record()
		out[i] = protocol.SessionInfo{
			SessionID:  rec.SessionID,
			Name:       rec.Name,
			PaneCount:  len(rec.PaneIDs),
			ActivePane: rec.ActivePane,
			CreatedAt:  rec.CreatedAt,
			UpdatedAt:  rec.UpdatedAt,
		}
	}
	return out
}

// DeleteSession closes every owned pane in insertion order, removes the
// registry entry and announces the deletion.
func (m *Manager) DeleteSession(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return &NotFoundError{Kind: "session", ID: id}
	}
	paneIDs := s.PaneIDs()
	panes := make([]*Pane, 0, len(paneIDs))
	for _, pid := range paneIDs {
		if p, found := m.panes[pid]; found {
			panes = append(panes, p)
			delete(m.panes, pid)
		}
	}
	delete(m.sessions, id)
	m.mu.Unlock()

	for _, p := range panes {
		p.Close()
		m.persist.DeletePane(p.ID())
	}
	m.persist.DeleteSession(id)
	m.emit(Event{
		Method:    protocol.EventSessionDeleted,
		Lifecycle: true,
		Params:    protocol.SessionDeletedParams{SessionID: id, Timestamp: m.now()},
	})
	slog.Info("[mux] session deleted", "sessionId", id, "panes", len(panes))
	return nil
}

// RenameSession updates the session's human name.
func (m *Manager) RenameSession(id, name string) error {
	s, err := m.GetSession(id)
	if err != nil {
		return err
	}
	s.Rename(name, m.now())
	m.persist.SaveSession(s.Record())
	m.emit(Event{
		Method: protocol.EventSessionChanged,
		Params: protocol.SessionChangedParams{SessionID: id, Name: name},
	})
	return nil
}

// SetActivePane points a session's active marker at one of its panes.
func (m *Manager) SetActivePane(sessionID, paneID string) error {
	s, err := m.GetSession(sessionID)
	if err != nil {
		return err
	}
	if err := s.setActivePane(paneID, m.now()); err != nil {
		return err
	}
	m.persist.SaveSession(s.Record())
	m.emit(Event{
		Method: protocol.EventSessionChanged,
		Params: protocol.SessionChangedParams{SessionID: sessionID, ActivePane: paneID},
	})
	return nil
}

// GetActivePane returns the session's active pane id, or empty.
func (m *Manager) GetActivePane(sessionID string) (string, error) {
	s, err := m.GetSession(sessionID)
	if err != nil {
		return "", err
	}
	return s.ActivePane(), nil
}

// SetLayout validates that the layout references only panes owned by the
// session, then stores the raw tree opaquely.
func (m *Manager) SetLayout(sessionID string, node *protocol.LayoutNode, raw []byte) error {
	s, err := m.GetSession(sessionID)
	if err != nil {
		return err
	}
	owned := make(map[string]bool)
	for _, id := range s.PaneIDs() {
		owned[id] = true
	}
	for _, id := range node.PaneIDs() {
		if !owned[id] {
			return &ValidationError{Reason: "layout references pane " + id + " not owned by session " + sessionID}
		}
	}
	s.SetLayout(raw, m.now())
	m.persist.SaveSession(s.Record())
	return nil
}

// Counts returns the session and total pane counts for server_status.
func (m *Manager) Counts() (sessions, panes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions), len(m.panes)
}

// CloseAll shuts down every pane and writes final records. Used on daemon
// shutdown; the registry stays intact so persistence reflects it.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	panes := make([]*Pane, 0, len(m.panes))
	for _, p := range m.panes {
		panes = append(panes, p)
	}
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, p := range panes {
		p.Close()
		m.persist.SavePane(p.Record())
	}
	for _, s := range sessions {
		m.persist.SaveSession(s.Record())
	}
}
