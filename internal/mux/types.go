package mux

import (
	"encoding/json"
	"time"
)

// SchemaVersion tags persisted records so older snapshots can be rejected
// at load time.
const SchemaVersion = 1

// PaneTypeTerminal is the default pane type tag.
const PaneTypeTerminal = "terminal"

// Limits configures the manager's quotas.
type Limits struct {
	MaxSessions        int
	MaxPanesPerSession int
	// ScrollbackLines bounds each pane's committed-line ring.
	ScrollbackLines int
	// OutputBufferSize bounds each pane's raw replay ring, in bytes.
	OutputBufferSize int
}

// SessionRecord is the durable image of a session. Live PTY state is never
// persisted.
type SessionRecord struct {
	SchemaVersion int               `json:"schema_version"`
	SessionID     string            `json:"session_id"`
	Name          string            `json:"name"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	PaneIDs       []string          `json:"pane_ids,omitempty"`
	ActivePane    string            `json:"active_pane,omitempty"`
	WorkingDir    string            `json:"working_dir,omitempty"`
	Env           map[string]string `json:"env,omitempty"`
	Layout        json.RawMessage   `json:"layout,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// PaneRecord is the durable image of a pane. Restored panes are detached:
// the PTY must be re-materialized explicitly via pane.restart.
type PaneRecord struct {
	SchemaVersion  int               `json:"schema_version"`
	PaneID         string            `json:"pane_id"`
	SessionID      string            `json:"session_id"`
	PaneType       string            `json:"pane_type"`
	Rows           uint16            `json:"rows"`
	Cols           uint16            `json:"cols"`
	Title          string            `json:"title,omitempty"`
	WorkingDir     string            `json:"working_dir,omitempty"`
	Command        string            `json:"command,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	ScrollbackTail []string          `json:"scrollback_tail,omitempty"`
}

// persistedTailLines bounds the scrollback tail stored in a PaneRecord.
const persistedTailLines = 100

// Persister receives durable-state updates from the manager. The state
// layer debounces and serializes the actual disk writes.
type Persister interface {
	SaveSession(rec SessionRecord)
	DeleteSession(id string)
	SavePane(rec PaneRecord)
	DeletePane(id string)
}

// nopPersister keeps the manager usable without a state layer (tests).
type nopPersister struct{}

func (nopPersister) SaveSession(SessionRecord) {}
func (nopPersister) DeleteSession(string)      {}
func (nopPersister) SavePane(PaneRecord)       {}
func (nopPersister) DeletePane(string)         {}
