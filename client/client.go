// Package client is a JSON-RPC/WebSocket client for muxd. The CLI uses it
// for stop/status probes and the daemon-backed mux backend drives every
// operation through it.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"orchmux/internal/protocol"
)

// DefaultURL is where a locally started daemon listens.
const DefaultURL = "ws://localhost:7890/ws"

// DefaultDialTimeout bounds the connection handshake.
const DefaultDialTimeout = 5 * time.Second

// ErrClosed is returned for calls after Close or a fatal read error.
var ErrClosed = errors.New("client: connection closed")

// Client is one WebSocket connection with correlated request/response and a
// notification stream.
type Client struct {
	ws *websocket.Conn

	writeMu sync.Mutex // gorilla/websocket: one writer at a time

	mu      sync.Mutex
	pending map[string]chan *protocol.Response

	notifications chan protocol.Notification
	nextID        atomic.Int64
	closeOnce     sync.Once
	closed        chan struct{}
}

// Dial connects to a muxd URL (ws://host:port/ws). An empty url selects
// DefaultURL; a non-positive timeout selects DefaultDialTimeout.
func Dial(url string, timeout time.Duration) (*Client, error) {
	if url == "" {
		url = DefaultURL
	}
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	ws, _, err := dialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("client: connect %s: %w", url, err)
	}
	c := &Client{
		ws:            ws,
		pending:       make(map[string]chan *protocol.Response),
		notifications: make(chan protocol.Notification, 256),
		closed:        make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Notifications streams server-push frames. The channel is buffered; when a
// consumer lags, further notifications are dropped.
func (c *Client) Notifications() <-chan protocol.Notification {
	return c.notifications
}

// Call sends one request and waits for its response. A JSON-RPC error
// response is returned as a *protocol.RPCError.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	select {
	case <-c.closed:
		return nil, ErrClosed
	default:
	}
	id := protocol.NumberID(c.nextID.Add(1))
	ch := make(chan *protocol.Response, 1)

	c.mu.Lock()
	c.pending[id.String()] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id.String())
		c.mu.Unlock()
	}()

	frame := struct {
		JSONRPC string             `json:"jsonrpc"`
		ID      protocol.RequestID `json:"id"`
		Method  string             `json:"method"`
		Params  any                `json:"params,omitempty"`
	}{protocol.Version, id, method, params}

	c.writeMu.Lock()
	err := c.ws.WriteJSON(frame)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("client: send %s: %w", method, err)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, ErrClosed
	}
}

func (c *Client) readLoop() {
	defer func() {
		c.closeOnce.Do(func() { close(c.closed) })
		close(c.notifications)
	}()
	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var msg struct {
			ID     protocol.RequestID `json:"id"`
			Method string             `json:"method"`
		}
		if err := json.Unmarshal(frame, &msg); err != nil {
			slog.Debug("[client] undecodable frame dropped", "error", err)
			continue
		}
		if msg.ID.IsZero() && msg.Method != "" {
			var n protocol.Notification
			if err := json.Unmarshal(frame, &n); err != nil {
				continue
			}
			select {
			case c.notifications <- n:
			default:
				// Consumer is lagging; dropping here keeps the read loop
				// (and response correlation) alive.
			}
			continue
		}
		var resp protocol.Response
		if err := json.Unmarshal(frame, &resp); err != nil {
			slog.Debug("[client] undecodable response dropped", "error", err)
			continue
		}
		c.mu.Lock()
		ch := c.pending[resp.ID.String()]
		c.mu.Unlock()
		if ch != nil {
			ch <- &resp
		}
	}
}

// Status fetches server_status.
func (c *Client) Status(ctx context.Context) (protocol.StatusResponse, error) {
	raw, err := c.Call(ctx, protocol.MethodServerStatus, struct{}{})
	if err != nil {
		return protocol.StatusResponse{}, err
	}
	var status protocol.StatusResponse
	if err := json.Unmarshal(raw, &status); err != nil {
		return protocol.StatusResponse{}, fmt.Errorf("client: decode status: %w", err)
	}
	return status, nil
}

// Shutdown asks the daemon to terminate gracefully.
func (c *Client) Shutdown(ctx context.Context) error {
	_, err := c.Call(ctx, protocol.MethodServerShutdown, struct{}{})
	return err
}

// Close closes the socket.
func (c *Client) Close() error {
	err := c.ws.Close()
	c.closeOnce.Do(func() { close(c.closed) })
	return err
}
