package mux

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"orchmux/internal/protocol"
	"orchmux/internal/pty"
	"orchmux/internal/scrollback"
)

// readChunkSize is the PTY read granularity. Chunks are not line-aligned;
// line framing happens in the scrollback buffer.
const readChunkSize = 4096

// Pane pairs one PTY with its metadata, scrollback and reader task. A pane
// is owned exclusively by its session; the manager is the only mutator of
// the session<->pane index.
type Pane struct {
	id        string
	sessionID string
	paneType  string
	createdAt time.Time

	mu         sync.Mutex
	title      string
	metadata   map[string]string
	workingDir string
	command    string
	env        map[string]string
	rows       uint16
	cols       uint16
	term       *pty.PTY
	started    bool
	alive      bool
	closed     bool
	cursor     protocol.CursorPosition
	saved      *protocol.CursorPosition

	scroll  *scrollback.Buffer
	emit    EventSink
	persist func(PaneRecord)
	now     func() time.Time
}

func newPane(id, sessionID, paneType string, limits Limits, emit EventSink, now func() time.Time) *Pane {
	if emit == nil {
		emit = nopSink
	}
	if now == nil {
		now = time.Now
	}
	return &Pane{
		id:        id,
		sessionID: sessionID,
		paneType:  paneType,
		createdAt: now(),
		rows:      protocol.DefaultPaneSize.Rows,
		cols:      protocol.DefaultPaneSize.Cols,
		cursor:    protocol.CursorPosition{Row: 1, Col: 1},
		scroll:    scrollback.New(limits.ScrollbackLines, limits.OutputBufferSize),
		emit:      emit,
		persist:   func(PaneRecord) {},
		now:       now,
	}
}

// newDetachedPane rebuilds a pane from its persisted record. The PTY is not
// respawned; the pane stays detached until Start re-materializes it.
func newDetachedPane(rec PaneRecord, limits Limits, emit EventSink, now func() time.Time) *Pane {
	p := newPane(rec.PaneID, rec.SessionID, rec.PaneType, limits, emit, now)
	p.createdAt = rec.CreatedAt
	p.title = rec.Title
	p.workingDir = rec.WorkingDir
	p.command = rec.Command
	p.env = rec.Env
	if rec.Rows > 0 && rec.Cols > 0 {
		p.rows, p.cols = rec.Rows, rec.Cols
	}
	for _, line := range rec.ScrollbackTail {
		p.scroll.Append([]byte(line + "\n"))
	}
	return p
}

// ID returns the pane id.
func (p *Pane) ID() string { return p.id }

// SessionID returns the owning session id.
func (p *Pane) SessionID() string { return p.sessionID }

// Start creates and spawns the PTY and launches the reader task. Command,
// working directory and env default to the values stored from a previous
// start (restart path) when empty.
func (p *Pane) Start(command, workingDir string, env map[string]string, size *protocol.PaneSize) (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, &InvalidStateError{Reason: fmt.Sprintf("pane %s is closed", p.id)}
	}
	if p.alive {
		return 0, &InvalidStateError{Reason: fmt.Sprintf("pane %s already started", p.id)}
	}
	if command != "" {
		p.command = command
	}
	if workingDir != "" {
		p.workingDir = workingDir
	}
	if env != nil {
		p.env = env
	}
	if size != nil {
		if size.Rows < 1 || size.Cols < 1 {
			return 0, &ValidationError{Reason: "pane size rows and cols must be >= 1"}
		}
		p.rows, p.cols = size.Rows, size.Cols
	}

	term, err := pty.New()
	if err != nil {
		return 0, err
	}
	if err := term.Resize(p.rows, p.cols); err != nil {
		term.Close()
		return 0, err
	}
	pid, err := term.Spawn(p.command, p.workingDir, p.env)
	if err != nil {
		term.Close()
		return 0, err
	}
	reader, err := term.TakeReader()
	if err != nil {
		term.Close()
		return 0, err
	}

	p.term = term
	p.started = true
	p.alive = true
	go p.readLoop(term, reader)
	return pid, nil
}

// readLoop is the pane's single reader task: it forwards each chunk to the
// scrollback buffer and the event sink, and reports child exit. Closing the
// pane tears down the PTY, which unblocks the pending read.
func (p *Pane) readLoop(term *pty.PTY, reader io.Reader) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("[pane] read loop panicked",
				"paneId", p.id, "panic", rec, "stack", string(debug.Stack()))
		}
	}()

	buf := make([]byte, readChunkSize)
	var readErr error
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			p.scroll.Append(chunk)
			p.emit(Event{
				Method: protocol.EventPaneOutput,
				PaneID: p.id,
				Params: protocol.PaneOutputParams{
					PaneID:    p.id,
					Data:      string(chunk),
					Timestamp: p.now(),
				},
			})
		}
		if err != nil {
			readErr = err
			break
		}
	}

	exitCode := term.Wait()
	// Release the master endpoint; a later restart builds a fresh PTY.
	if err := term.Close(); err != nil {
		slog.Debug("[pane] pty close after exit", "paneId", p.id, "error", err)
	}

	p.mu.Lock()
	p.alive = false
	wasClosed := p.closed
	p.mu.Unlock()

	// EOF and EIO are the normal master-side endings once the child is gone;
	// anything else is worth carrying in the notification.
	reason := ""
	if readErr != nil && !errors.Is(readErr, io.EOF) && !isHangup(readErr) {
		reason = readErr.Error()
	}
	// A natural exit persists the detached pane and its scrollback. An
	// explicit Close (kill, session delete) must not: the manager deletes
	// the record, and a late save here would resurrect the pane on restart.
	if !wasClosed {
		p.persist(p.Record())
	}
	p.emit(Event{
		Method:    protocol.EventPaneExit,
		PaneID:    p.id,
		Lifecycle: true,
		Params: protocol.PaneExitParams{
			PaneID:    p.id,
			ExitCode:  exitCode,
			Reason:    reason,
			Timestamp: p.now(),
		},
	})
	slog.Debug("[pane] reader exited", "paneId", p.id, "exitCode", exitCode)
}

// Write delegates to the PTY writer.
func (p *Pane) Write(data []byte) error {
	p.mu.Lock()
	term := p.term
	live := p.alive
	p.mu.Unlock()
	if !live || term == nil {
		return p.detachedErr("write")
	}
	_, err := term.Write(data)
	return err
}

// Resize updates the stored size and the PTY window, and announces the new
// size to subscribers.
func (p *Pane) Resize(rows, cols uint16) error {
	if rows < 1 || cols < 1 {
		return &ValidationError{Reason: "pane size rows and cols must be >= 1"}
	}
	p.mu.Lock()
	term := p.term
	live := p.alive
	if !live || term == nil {
		p.mu.Unlock()
		return p.detachedErr("resize")
	}
	p.rows, p.cols = rows, cols
	p.mu.Unlock()
	if err := term.Resize(rows, cols); err != nil {
		return err
	}
	p.emit(Event{
		Method: protocol.EventPaneResized,
		PaneID: p.id,
		Params: protocol.PaneResizedParams{
			PaneID: p.id, Rows: rows, Cols: cols, Timestamp: p.now(),
		},
	})
	return nil
}

// ReadOutput returns a scrollback window. Never fails: a detached pane
// serves whatever tail was restored from persistence.
func (p *Pane) ReadOutput(from protocol.ReadPosition, lines int) []string {
	if lines <= 0 {
		lines = protocol.DefaultReadLines
	}
	switch from {
	case protocol.ReadFromStart:
		return p.scroll.GetLines(0, lines)
	default:
		// "end" and "cursor" both serve the tail; the cursor position rides
		// in the response separately.
		return p.scroll.Tail(lines)
	}
}

// Search runs a scrollback search over the committed lines.
func (p *Pane) Search(pattern string, caseInsensitive bool) []protocol.SearchMatch {
	hits := p.scroll.Search(pattern, caseInsensitive)
	out := make([]protocol.SearchMatch, len(hits))
	for i, h := range hits {
		out[i] = protocol.SearchMatch{LineIndex: h.LineIndex, Line: h.Line}
	}
	return out
}

// IsAlive reflects the last known child state.
func (p *Pane) IsAlive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive
}

// Close kills the PTY and marks the pane not-alive. Idempotent; the reader
// task observes the teardown and emits pane.exit.
func (p *Pane) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	term := p.term
	p.mu.Unlock()
	if term != nil {
		if err := term.Close(); err != nil {
			slog.Warn("[pane] close failed", "paneId", p.id, "error", err)
		}
	}
}

// SetTitle updates the pane title.
func (p *Pane) SetTitle(title string) {
	p.mu.Lock()
	p.title = title
	p.mu.Unlock()
}

// Title returns the pane title.
func (p *Pane) Title() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.title
}

// SetMetadata stores one metadata key.
func (p *Pane) SetMetadata(key, value string) {
	p.mu.Lock()
	if p.metadata == nil {
		p.metadata = make(map[string]string)
	}
	p.metadata[key] = value
	p.mu.Unlock()
}

// Metadata returns one metadata value.
func (p *Pane) Metadata(key string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.metadata[key]
	return v, ok
}

// Info snapshots the pane for the wire.
func (p *Pane) Info() protocol.PaneInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	info := protocol.PaneInfo{
		PaneID:     p.id,
		SessionID:  p.sessionID,
		PaneType:   p.paneType,
		Rows:       p.rows,
		Cols:       p.cols,
		Title:      p.title,
		WorkingDir: p.workingDir,
		Command:    p.command,
		Detached:   !p.alive,
	}
	if p.term != nil && p.alive {
		info.PID = p.term.PID()
	}
	return info
}

// Record snapshots the pane for persistence.
func (p *Pane) Record() PaneRecord {
	p.mu.Lock()
	rec := PaneRecord{
		SchemaVersion: SchemaVersion,
		PaneID:        p.id,
		SessionID:     p.sessionID,
		PaneType:      p.paneType,
		Rows:          p.rows,
		Cols:          p.cols,
		Title:         p.title,
		WorkingDir:    p.workingDir,
		Command:       p.command,
		Env:           p.env,
		CreatedAt:     p.createdAt,
	}
	p.mu.Unlock()
	rec.ScrollbackTail = p.scroll.Tail(persistedTailLines)
	return rec
}

func (p *Pane) detachedErr(op string) error {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if started {
		return &InvalidStateError{Reason: fmt.Sprintf("cannot %s pane %s: pane is detached", op, p.id)}
	}
	return &InvalidStateError{Reason: fmt.Sprintf("cannot %s pane %s: pane not started", op, p.id)}
}
