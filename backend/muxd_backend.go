package backend

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"orchmux/client"
	"orchmux/internal/protocol"
)

// MuxdBackend drives a muxd daemon over JSON-RPC/WebSocket. The connection
// is dialed lazily on first use so constructing the backend cannot fail.
type MuxdBackend struct {
	url string

	mu sync.Mutex
	c  *client.Client
}

// NewMuxdBackend targets the daemon at url (DefaultMuxdURL when empty).
func NewMuxdBackend(url string) *MuxdBackend {
	if url == "" {
		url = DefaultMuxdURL
	}
	return &MuxdBackend{url: url}
}

func (b *MuxdBackend) conn() (*client.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.c != nil {
		return b.c, nil
	}
	c, err := client.Dial(b.url, client.DefaultDialTimeout)
	if err != nil {
		return nil, err
	}
	b.c = c
	return c, nil
}

// call performs one RPC, decoding the result into out when non-nil. A dead
// connection is dropped so the next call redials.
func (b *MuxdBackend) call(ctx context.Context, op, method string, params, out any) error {
	c, err := b.conn()
	if err != nil {
		return muxErrf(op, "connect %s: %v", b.url, err)
	}
	raw, err := c.Call(ctx, method, params)
	if err != nil {
		if strings.Contains(err.Error(), "closed") {
			b.mu.Lock()
			if b.c == c {
				b.c = nil
			}
			b.mu.Unlock()
		}
		return muxErrf(op, "%s: %v", method, err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return muxErrf(op, "decode %s result: %v", method, err)
	}
	return nil
}

func (b *MuxdBackend) CreateSession(ctx context.Context, name string) (string, error) {
	var resp protocol.CreateSessionResponse
	err := b.call(ctx, "create_session", protocol.MethodSessionCreate,
		protocol.CreateSessionRequest{Name: name}, &resp)
	if err != nil {
		return "", err
	}
	return resp.SessionID, nil
}

func (b *MuxdBackend) KillSession(ctx context.Context, sessionID string) error {
	return b.call(ctx, "kill_session", protocol.MethodSessionDelete,
		protocol.DeleteSessionRequest{SessionID: sessionID}, nil)
}

func (b *MuxdBackend) ListSessions(ctx context.Context) ([]Session, error) {
	var resp protocol.ListSessionsResponse
	if err := b.call(ctx, "list_sessions", protocol.MethodSessionList, struct{}{}, &resp); err != nil {
		return nil, err
	}
	out := make([]Session, len(resp.Sessions))
	for i, s := range resp.Sessions {
		out[i] = Session{ID: s.SessionID, Name: s.Name, Created: s.CreatedAt, Panes: s.PaneCount}
	}
	return out, nil
}

// AttachSession subscribes to the daemon's pane event stream; muxd has no
// notion of an exclusive attach.
func (b *MuxdBackend) AttachSession(ctx context.Context, sessionID string) error {
	return b.call(ctx, "attach_session", protocol.MethodSubscribe,
		protocol.SubscribeRequest{Events: []string{
			protocol.EventPaneOutput, protocol.EventPaneExit, protocol.EventSessionChanged,
		}}, nil)
}

func (b *MuxdBackend) DetachSession(ctx context.Context, sessionID string) error {
	return b.call(ctx, "detach_session", protocol.MethodUnsubscribe,
		protocol.SubscribeRequest{Events: []string{
			protocol.EventPaneOutput, protocol.EventPaneExit, protocol.EventSessionChanged,
		}}, nil)
}

// CreatePane creates a terminal pane; muxd layouts are client-side, so the
// split hint is not sent to the daemon and placement is left to the embedder.
func (b *MuxdBackend) CreatePane(ctx context.Context, sessionID string, split SplitType) (string, error) {
	var resp protocol.CreatePaneResponse
	err := b.call(ctx, "create_pane", protocol.MethodPaneCreate,
		protocol.CreatePaneRequest{SessionID: sessionID, PaneType: "terminal"}, &resp)
	if err != nil {
		return "", err
	}
	return resp.PaneID, nil
}

func (b *MuxdBackend) KillPane(ctx context.Context, paneID string) error {
	return b.call(ctx, "kill_pane", protocol.MethodPaneKill,
		protocol.KillPaneRequest{PaneID: paneID}, nil)
}

func (b *MuxdBackend) ListPanes(ctx context.Context, sessionID string) ([]Pane, error) {
	var resp protocol.ListPanesResponse
	if err := b.call(ctx, "list_panes", protocol.MethodPaneList,
		protocol.ListPanesRequest{SessionID: sessionID}, &resp); err != nil {
		return nil, err
	}
	active := ""
	var sessions protocol.ListSessionsResponse
	if err := b.call(ctx, "list_panes", protocol.MethodSessionList, struct{}{}, &sessions); err == nil {
		for _, s := range sessions.Sessions {
			if s.SessionID == sessionID {
				active = s.ActivePane
			}
		}
	}
	out := make([]Pane, len(resp.Panes))
	for i, p := range resp.Panes {
		out[i] = Pane{
			ID:        p.PaneID,
			SessionID: p.SessionID,
			Active:    p.PaneID == active,
			Rows:      p.Rows,
			Cols:      p.Cols,
			Title:     p.Title,
		}
	}
	return out, nil
}

func (b *MuxdBackend) SendKeys(ctx context.Context, paneID, keys string) error {
	return b.call(ctx, "send_keys", protocol.MethodPaneWrite,
		protocol.WritePaneRequest{PaneID: paneID, Data: keys}, nil)
}

// CapturePane returns the scrollback tail as the pane's visible text.
func (b *MuxdBackend) CapturePane(ctx context.Context, paneID string) (string, error) {
	var resp protocol.ReadPaneResponse
	err := b.call(ctx, "capture_pane", protocol.MethodPaneRead,
		protocol.ReadPaneRequest{PaneID: paneID, Lines: 200, From: protocol.ReadFromEnd}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Data, nil
}

func (b *MuxdBackend) ResizePane(ctx context.Context, paneID string, size PaneSize) error {
	return b.call(ctx, "resize_pane", protocol.MethodPaneResize,
		protocol.ResizePaneRequest{PaneID: paneID, Size: protocol.PaneSize{Rows: size.Rows, Cols: size.Cols}}, nil)
}

// SelectPane resolves the pane's session and moves its active marker.
func (b *MuxdBackend) SelectPane(ctx context.Context, paneID string) error {
	var info protocol.GetPaneInfoResponse
	if err := b.call(ctx, "select_pane", protocol.MethodPaneInfo,
		protocol.PaneInfoRequest{PaneID: paneID}, &info); err != nil {
		return err
	}
	return b.call(ctx, "select_pane", protocol.MethodSessionSetActive,
		protocol.SetActivePaneRequest{SessionID: info.Pane.SessionID, PaneID: paneID}, nil)
}

// Close drops the connection.
func (b *MuxdBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.c == nil {
		return nil
	}
	err := b.c.Close()
	b.c = nil
	return err
}

// WaitReady polls server_status until the daemon answers or the deadline
// passes. Used by embedders that start the daemon themselves.
func (b *MuxdBackend) WaitReady(ctx context.Context, deadline time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	for {
		c, err := b.conn()
		if err == nil {
			if _, statusErr := c.Status(ctx); statusErr == nil {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return muxErrf("wait_ready", "daemon not reachable at %s", b.url)
		case <-time.After(100 * time.Millisecond):
		}
	}
}
