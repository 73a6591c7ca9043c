package mux

import (
	"log/slog"

	"orchmux/internal/protocol"
)

// CreatePane allocates a pane in the given session, spawns its PTY and
// starts the reader task. Returns the pane and the child PID.
func (m *Manager) CreatePane(sessionID, paneType, command, workingDir string, env map[string]string, size *protocol.PaneSize) (*Pane, uint32, error) {
	if paneType == "" {
		paneType = PaneTypeTerminal
	}

	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil, 0, &NotFoundError{Kind: "session", ID: sessionID}
	}
	if s.PaneCount() >= m.limits.MaxPanesPerSession {
		m.mu.Unlock()
		return nil, 0, &ResourceLimitError{Resource: "panes", Limit: m.limits.MaxPanesPerSession}
	}
	p := newPane(NewPaneID(), sessionID, paneType, m.limits, m.emit, m.now)
	p.persist = m.persist.SavePane
	m.panes[p.id] = p
	s.addPane(p.id, m.now())
	m.mu.Unlock()

	pid, err := p.Start(command, workingDir, env, size)
	if err != nil {
		// Roll the registration back; a pane that never spawned is not kept
		// in a detached state.
		m.mu.Lock()
		delete(m.panes, p.id)
		s.removePane(p.id, m.now())
		m.mu.Unlock()
		return nil, 0, err
	}

	m.persist.SavePane(p.Record())
	m.persist.SaveSession(s.Record())
	slog.Info("[mux] pane created", "paneId", p.id, "sessionId", sessionID, "pid", pid)
	return p, pid, nil
}

// GetPane returns a pane handle.
func (m *Manager) GetPane(id string) (*Pane, error) {
	m.mu.Lock()
	p, ok := m.panes[id]
	m.mu.Unlock()
	if !ok {
		return nil, &NotFoundError{Kind: "pane", ID: id}
	}
	return p, nil
}

// ListPanes snapshots a session's panes in insertion order.
func (m *Manager) ListPanes(sessionID string) ([]protocol.PaneInfo, error) {
	s, err := m.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	ids := s.PaneIDs()
	out := make([]protocol.PaneInfo, 0, len(ids))
	m.mu.Lock()
	panes := make([]*Pane, 0, len(ids))
	for _, id := range ids {
		if p, ok := m.panes[id]; ok {
			panes = append(panes, p)
		}
	}
	m.mu.Unlock()
	for _, p := range panes {
		out = append(out, p.Info())
	}
	return out, nil
}

// KillPane closes a pane and removes it from its session and the registry.
// The reader task emits pane.exit as the PTY tears down.
func (m *Manager) KillPane(id string) error {
	m.mu.Lock()
	p, ok := m.panes[id]
	if !ok {
		m.mu.Unlock()
		return &NotFoundError{Kind: "pane", ID: id}
	}
	delete(m.panes, id)
	s := m.sessions[p.sessionID]
	m.mu.Unlock()

	p.Close()

	var newActive string
	var activeChanged bool
	if s != nil {
		newActive, activeChanged = s.removePane(id, m.now())
		m.persist.SaveSession(s.Record())
	}
	m.persist.DeletePane(id)
	if activeChanged && newActive != "" {
		m.emit(Event{
			Method: protocol.EventSessionChanged,
			Params: protocol.SessionChangedParams{SessionID: p.sessionID, ActivePane: newActive},
		})
	}
	slog.Info("[mux] pane killed", "paneId", id, "sessionId", p.sessionID)
	return nil
}

// RestartPane re-materializes a detached pane with its stored command,
// working directory and env. Fails invalid_state when the pane is live.
func (m *Manager) RestartPane(id string) (uint32, error) {
	p, err := m.GetPane(id)
	if err != nil {
		return 0, err
	}
	pid, err := p.Start("", "", nil, nil)
	if err != nil {
		return 0, err
	}
	m.persist.SavePane(p.Record())
	slog.Info("[mux] pane restarted", "paneId", id, "pid", pid)
	return pid, nil
}

// Restore rebuilds sessions and detached panes from persisted records.
// Pane membership comes from the pane records; the session record's pane
// order decides insertion order where both exist.
func (m *Manager) Restore(sessions []SessionRecord, panes []PaneRecord) {
	byID := make(map[string]PaneRecord, len(panes))
	bySession := make(map[string][]string)
	for _, rec := range panes {
		byID[rec.PaneID] = rec
		bySession[rec.SessionID] = append(bySession[rec.SessionID], rec.PaneID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range sessions {
		if rec.SessionID == "" {
			continue
		}
		s := sessionFromRecord(rec)
		m.sessions[s.id] = s

		// Recorded order first, then any pane records the session snapshot
		// missed (e.g. a crash between the two debounced writes).
		seen := make(map[string]bool)
		ordered := make([]string, 0, len(rec.PaneIDs))
		for _, pid := range rec.PaneIDs {
			if _, ok := byID[pid]; ok && byID[pid].SessionID == s.id {
				ordered = append(ordered, pid)
				seen[pid] = true
			}
		}
		for _, pid := range bySession[s.id] {
			if !seen[pid] {
				ordered = append(ordered, pid)
			}
		}
		for _, pid := range ordered {
			p := newDetachedPane(byID[pid], m.limits, m.emit, m.now)
			p.persist = m.persist.SavePane
			m.panes[p.id] = p
			s.addPane(p.id, rec.UpdatedAt)
		}
		if rec.ActivePane != "" {
			if err := s.setActivePane(rec.ActivePane, rec.UpdatedAt); err != nil {
				slog.Warn("[mux] restored active pane missing", "sessionId", s.id, "paneId", rec.ActivePane)
			}
		}
	}

	orphans := 0
	for _, rec := range panes {
		if _, ok := m.sessions[rec.SessionID]; !ok {
			orphans++
		}
	}
	if orphans > 0 {
		slog.Warn("[mux] skipped orphaned pane records", "count", orphans)
	}
	slog.Info("[mux] state restored", "sessions", len(m.sessions), "panes", len(m.panes))
}
