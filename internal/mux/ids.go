package mux

import (
	"strings"

	"github.com/google/uuid"
)

// NewSessionID mints a fresh session id: "sess_" + 32 hex chars.
func NewSessionID() string {
	return "sess_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewPaneID mints a fresh pane id: "pane_" + 32 hex chars.
func NewPaneID() string {
	return "pane_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
