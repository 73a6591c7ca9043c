package mux

import (
	"errors"
	"fmt"
	"syscall"

	"orchmux/internal/protocol"
)

// Cursor tracking. Without a full terminal emulator the daemon tracks the
// position it was last told about: cursor.set moves both the tracked state
// and the real cursor (CUP), save/restore mirror DECSC/DECRC, and
// cursor.query asks the terminal to report via DSR — the report arrives in
// the pane output stream for the client to parse.

func isHangup(err error) bool {
	return errors.Is(err, syscall.EIO)
}

// CursorGet returns the tracked position, the saved position if any, and
// whether the tracked position lies inside the pane.
func (p *Pane) CursorGet() protocol.GetCursorResponse {
	p.mu.Lock()
	defer p.mu.Unlock()
	resp := protocol.GetCursorResponse{
		Position: p.cursor,
		InBounds: p.cursor.Row >= 1 && p.cursor.Row <= p.rows &&
			p.cursor.Col >= 1 && p.cursor.Col <= p.cols,
	}
	if p.saved != nil {
		saved := *p.saved
		resp.SavedPosition = &saved
	}
	return resp
}

// CursorSet moves the cursor with a CUP sequence and updates tracking.
func (p *Pane) CursorSet(pos protocol.CursorPosition) error {
	if pos.Row < 1 || pos.Col < 1 {
		return &ValidationError{Reason: "cursor row and col must be >= 1"}
	}
	if err := p.Write([]byte(fmt.Sprintf("\x1b[%d;%dH", pos.Row, pos.Col))); err != nil {
		return err
	}
	p.mu.Lock()
	p.cursor = pos
	p.mu.Unlock()
	return nil
}

// CursorQuery writes a DSR request; the terminal's report travels through
// the ordinary output stream.
func (p *Pane) CursorQuery() error {
	return p.Write([]byte("\x1b[6n"))
}

// CursorSave stores the tracked position and emits DECSC.
func (p *Pane) CursorSave() error {
	if err := p.Write([]byte("\x1b7")); err != nil {
		return err
	}
	p.mu.Lock()
	saved := p.cursor
	p.saved = &saved
	p.mu.Unlock()
	return nil
}

// CursorRestore re-applies the saved position and emits DECRC. Fails when
// nothing was saved.
func (p *Pane) CursorRestore() error {
	p.mu.Lock()
	saved := p.saved
	p.mu.Unlock()
	if saved == nil {
		return &InvalidStateError{Reason: fmt.Sprintf("pane %s has no saved cursor position", p.id)}
	}
	if err := p.Write([]byte("\x1b8")); err != nil {
		return err
	}
	p.mu.Lock()
	p.cursor = *saved
	p.mu.Unlock()
	return nil
}

// CursorReset homes the cursor and clears the saved position.
func (p *Pane) CursorReset() error {
	if err := p.Write([]byte("\x1b[H")); err != nil {
		return err
	}
	p.mu.Lock()
	p.cursor = protocol.CursorPosition{Row: 1, Col: 1}
	p.saved = nil
	p.mu.Unlock()
	return nil
}

// CursorPosition returns the tracked position.
func (p *Pane) CursorPosition() protocol.CursorPosition {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}
