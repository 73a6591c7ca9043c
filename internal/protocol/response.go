package protocol

import "time"

// CreateSessionResponse is the result of session.create.
type CreateSessionResponse struct {
	SessionID string    `json:"session_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionInfo describes one session in session.list.
type SessionInfo struct {
	SessionID  string    `json:"session_id"`
	Name       string    `json:"name"`
	PaneCount  int       `json:"pane_count"`
	ActivePane string    `json:"active_pane,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ListSessionsResponse is the result of session.list.
type ListSessionsResponse struct {
	Sessions []SessionInfo `json:"sessions"`
}

// CreatePaneResponse is the result of pane.create and pane.restart.
type CreatePaneResponse struct {
	PaneID    string `json:"pane_id"`
	SessionID string `json:"session_id"`
	PaneType  string `json:"pane_type"`
	PID       uint32 `json:"pid,omitempty"`
}

// ReadPaneResponse is the result of pane.read. Data joins the selected
// scrollback lines with newlines. Cursor is present for from:"cursor".
type ReadPaneResponse struct {
	Data   string          `json:"data"`
	Lines  int             `json:"lines"`
	Cursor *CursorPosition `json:"cursor,omitempty"`
}

// SearchMatch is one scrollback search hit.
type SearchMatch struct {
	LineIndex int    `json:"line_index"`
	Line      string `json:"line"`
}

// SearchPaneResponse is the result of pane.search.
type SearchPaneResponse struct {
	Matches []SearchMatch `json:"matches"`
}

// PaneInfo describes one pane in pane.list / pane.info.
type PaneInfo struct {
	PaneID     string `json:"pane_id"`
	SessionID  string `json:"session_id"`
	PaneType   string `json:"pane_type"`
	Rows       uint16 `json:"rows"`
	Cols       uint16 `json:"cols"`
	PID        uint32 `json:"pid,omitempty"`
	Title      string `json:"title,omitempty"`
	WorkingDir string `json:"working_dir,omitempty"`
	Command    string `json:"command,omitempty"`
	Detached   bool   `json:"detached"`
}

// ListPanesResponse is the result of pane.list.
type ListPanesResponse struct {
	Panes []PaneInfo `json:"panes"`
}

// GetPaneInfoResponse is the result of pane.info.
type GetPaneInfoResponse struct {
	Pane PaneInfo `json:"pane"`
}

// SuccessResponse is the generic acknowledgement result.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// OK is the canonical success acknowledgement.
func OK() SuccessResponse { return SuccessResponse{Success: true} }

// StatusResponse is the result of server_status.
type StatusResponse struct {
	Running         bool   `json:"running"`
	Version         string `json:"version"`
	ProtocolVersion string `json:"protocol_version"`
	PID             int    `json:"pid"`
	Sessions        int    `json:"sessions"`
	TotalPanes      int    `json:"total_panes"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
}

// SubscribeResponse is the result of subscribe/unsubscribe: the connection's
// subscription set after the change, sorted.
type SubscribeResponse struct {
	Events []string `json:"events"`
}

// HistoryEntry is one persisted command-history record.
type HistoryEntry struct {
	PaneID  string    `json:"pane_id"`
	Command string    `json:"command"`
	At      time.Time `json:"at"`
}

// HistoryRecentResponse is the result of history.recent.
type HistoryRecentResponse struct {
	Entries []HistoryEntry `json:"entries"`
}
