package server

import (
	"encoding/json"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"orchmux/internal/mux"
	"orchmux/internal/protocol"
)

// Write/read deadlines and keepalive cadence. The read deadline allows for
// roughly three missed pings before the connection is considered dead.
const (
	writeDeadline      = 5 * time.Second
	readDeadline       = 90 * time.Second
	pingInterval       = 30 * time.Second
	maxReadMessageSize = 1 << 20

	// drainTimeout bounds Closing -> Closed: how long the writer may keep
	// flushing the queue after close begins.
	drainTimeout = 2 * time.Second
)

// queueItem is one outbound frame plus the metadata the backpressure policy
// needs: pane-output frames are droppable, everything else is not.
type queueItem struct {
	frame      []byte
	paneOutput bool
	truncated  bool // placeholder for an output.truncated notification
}

// Conn is one client WebSocket: a reader pump (run by the HTTP handler
// goroutine), a writer pump goroutine draining the bounded outbound queue,
// and the subscription set consulted by the broker.
//
// Lifecycle: Connecting -> Open on upgrade, Open -> Closing on client
// close/fatal error/shutdown broadcast, Closing -> Closed once the queue
// drains or the drain timeout fires.
type Conn struct {
	id     string
	ws     *websocket.Conn
	server *Server

	mu      sync.Mutex
	subs    map[string]bool
	queue   []queueItem
	dropped int // pane-output frames dropped since the last truncation notice

	wake      chan struct{}
	closeOnce sync.Once
	closing   chan struct{}
	writerEnd chan struct{}
}

func newConn(id string, ws *websocket.Conn, server *Server) *Conn {
	return &Conn{
		id:        id,
		ws:        ws,
		server:    server,
		subs:      make(map[string]bool),
		wake:      make(chan struct{}, 1),
		closing:   make(chan struct{}),
		writerEnd: make(chan struct{}),
	}
}

// ID implements rpc.Caller.
func (c *Conn) ID() string { return c.id }

// Subscribe implements rpc.Caller.
func (c *Conn) Subscribe(events []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range events {
		if e != "" {
			c.subs[e] = true
		}
	}
	return c.subsSnapshotLocked()
}

// Unsubscribe implements rpc.Caller.
func (c *Conn) Unsubscribe(events []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range events {
		delete(c.subs, e)
	}
	return c.subsSnapshotLocked()
}

func (c *Conn) subsSnapshotLocked() []string {
	out := make([]string, 0, len(c.subs))
	for e := range c.subs {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

func (c *Conn) subscribedTo(method string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs["*"] || c.subs[method]
}

// enqueueResponse queues an RPC response. Responses are never dropped.
func (c *Conn) enqueueResponse(resp *protocol.Response) {
	frame, err := json.Marshal(resp)
	if err != nil {
		slog.Error("[server] response marshal failed", "connId", c.id, "error", err)
		return
	}
	c.push(queueItem{frame: frame})
}

// enqueueNotification queues a server-push frame, applying the backpressure
// policy: when the queue is full the oldest pane-output entry is dropped and
// a single output.truncated notification is appended to the queue. Lifecycle
// events are never dropped.
func (c *Conn) enqueueNotification(n *protocol.Notification, e mux.Event) {
	frame, err := json.Marshal(n)
	if err != nil {
		slog.Warn("[server] notification marshal failed", "connId", c.id, "error", err)
		return
	}
	c.push(queueItem{frame: frame, paneOutput: e.Method == protocol.EventPaneOutput && !e.Lifecycle})
}

func (c *Conn) push(item queueItem) {
	c.mu.Lock()
	capacity := c.server.outboundQueueSize
	if len(c.queue) >= capacity {
		if idx := c.oldestDroppableLocked(); idx >= 0 {
			c.queue = append(c.queue[:idx], c.queue[idx+1:]...)
			c.noteDropLocked()
		} else if item.paneOutput {
			// Nothing droppable buffered and the newcomer is droppable:
			// drop the newcomer instead.
			c.noteDropLocked()
			c.mu.Unlock()
			c.signalWake()
			return
		}
		// Non-droppable frames may push the queue past its cap; lifecycle
		// events and responses are contractual.
	}
	c.queue = append(c.queue, item)
	c.mu.Unlock()
	c.signalWake()
}

// oldestDroppableLocked finds the head-most pane-output entry.
func (c *Conn) oldestDroppableLocked() int {
	for i, item := range c.queue {
		if item.paneOutput {
			return i
		}
	}
	return -1
}

// noteDropLocked counts a dropped pane-output frame and queues the single
// truncation notice on the first drop of a burst.
func (c *Conn) noteDropLocked() {
	c.dropped++
	if c.dropped == 1 {
		c.queue = append(c.queue, queueItem{truncated: true})
	}
}

func (c *Conn) signalWake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// beginClose moves the connection to Closing: the writer drains what it can
// within drainTimeout, then the socket closes.
func (c *Conn) beginClose(reason string) {
	c.closeOnce.Do(func() {
		slog.Debug("[server] connection closing", "connId", c.id, "reason", reason)
		close(c.closing)
		c.signalWake()
	})
}

// writePump drains the outbound queue to the socket and owns all writes,
// including pings (gorilla/websocket does not allow concurrent writers).
func (c *Conn) writePump() {
	defer close(c.writerEnd)
	// Closing the socket here unblocks a reader parked in ReadMessage, so
	// Closing -> Closed does not wait out the server's shutdown deadline.
	defer c.ws.Close()
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("[server] write pump panicked",
				"connId", c.id, "panic", rec, "stack", string(debug.Stack()))
		}
	}()

	pings := time.NewTicker(pingInterval)
	defer pings.Stop()

	for {
		select {
		case <-c.wake:
			if !c.flush() {
				return
			}
		case <-pings.C:
			if !c.writeFrame(websocket.PingMessage, nil) {
				return
			}
		case <-c.closing:
			// Closing: drain within the timeout, then stop.
			deadline := time.NewTimer(drainTimeout)
			defer deadline.Stop()
			done := make(chan struct{})
			go func() {
				c.flush()
				close(done)
			}()
			select {
			case <-done:
			case <-deadline.C:
			}
			return
		}
	}
}

// flush writes every queued frame. Returns false on a fatal write error.
func (c *Conn) flush() bool {
	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.mu.Unlock()
			return true
		}
		item := c.queue[0]
		c.queue = c.queue[1:]
		var droppedNow int
		if item.truncated {
			droppedNow = c.dropped
			c.dropped = 0
		}
		c.mu.Unlock()

		frame := item.frame
		if item.truncated {
			n, err := protocol.NewNotification(protocol.EventOutputTruncated, protocol.OutputTruncatedParams{
				Dropped:   droppedNow,
				Timestamp: time.Now(),
			})
			if err != nil {
				continue
			}
			frame, err = json.Marshal(n)
			if err != nil {
				continue
			}
		}
		if !c.writeFrame(websocket.TextMessage, frame) {
			return false
		}
	}
}

// writeFrame performs one deadline-guarded write. A failure tears the
// connection down (write failure policy: the client must reconnect).
func (c *Conn) writeFrame(messageType int, frame []byte) bool {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		c.teardown("SetWriteDeadline failed", err)
		return false
	}
	if err := c.ws.WriteMessage(messageType, frame); err != nil {
		c.teardown("write failed", err)
		return false
	}
	if err := c.ws.SetWriteDeadline(time.Time{}); err != nil {
		slog.Debug("[server] clear write deadline failed", "connId", c.id, "error", err)
	}
	return true
}

func (c *Conn) teardown(reason string, err error) {
	slog.Warn("[server] "+reason, "connId", c.id, "error", err)
	c.beginClose(reason)
}

// readPump processes inbound frames until the client goes away. Runs on the
// HTTP handler goroutine.
func (c *Conn) readPump() {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("[server] read pump panicked",
				"connId", c.id, "panic", rec, "stack", string(debug.Stack()))
		}
		c.beginClose("read pump exit")
		<-c.writerEnd
		c.ws.Close()
		c.server.broker.unregister(c)
		slog.Info("[server] client disconnected", "connId", c.id)
	}()

	c.ws.SetReadLimit(maxReadMessageSize)
	if err := c.ws.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
		return
	}
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(readDeadline))
	})

	for {
		select {
		case <-c.closing:
			return
		default:
		}

		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("[server] read error", "connId", c.id, "error", err)
			}
			return
		}
		if err := c.ws.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			n, nerr := protocol.NewNotification(protocol.EventError, protocol.ErrorParams{
				Code:      protocol.CodeInvalidRequest,
				Message:   "binary frames are not supported",
				Timestamp: time.Now(),
			})
			if nerr == nil {
				c.enqueueNotification(n, mux.Event{Method: protocol.EventError})
			}
			continue
		}

		resp, requestShutdown := c.server.dispatcher.Dispatch(c, data)
		if resp != nil {
			c.enqueueResponse(resp)
		}
		if requestShutdown {
			c.server.requestShutdown()
		}
	}
}
