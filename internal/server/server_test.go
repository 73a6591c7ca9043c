package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"orchmux/internal/mux"
	"orchmux/internal/protocol"
	"orchmux/internal/rpc"
)

func startTestServer(t *testing.T, limits mux.Limits) (*Server, *Broker, *mux.Manager, chan struct{}) {
	t.Helper()
	broker := NewBroker()
	manager := mux.NewManager(limits, broker.Publish, nil)
	dispatcher := rpc.NewDispatcher(rpc.Options{Manager: manager, Version: "test"})
	shutdownRequested := make(chan struct{}, 1)
	srv := New(Options{Addr: "127.0.0.1:0", OutboundQueueSize: 64}, dispatcher, broker, func() {
		shutdownRequested <- struct{}{}
	})
	ctx, cancel := context.WithCancel(context.Background())
	if err := srv.Start(ctx); err != nil {
		cancel()
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		cancel()
	})
	return srv, broker, manager, shutdownRequested
}

func dialTestServer(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(srv.URL(), nil)
	if err != nil {
		t.Fatalf("dial %s: %v", srv.URL(), err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func call(t *testing.T, ws *websocket.Conn, id int, method string, params any) *protocol.Response {
	t.Helper()
	req := map[string]any{"jsonrpc": "2.0", "id": id, "method": method}
	if params != nil {
		req["params"] = params
	}
	if err := ws.WriteJSON(req); err != nil {
		t.Fatalf("write %s: %v", method, err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		ws.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, frame, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("read reply to %s: %v", method, err)
		}
		var resp protocol.Response
		if err := json.Unmarshal(frame, &resp); err != nil {
			t.Fatalf("decode reply: %v", err)
		}
		if resp.ID.IsZero() {
			// Interleaved notification; keep waiting for the response.
			continue
		}
		return &resp
	}
	t.Fatalf("no reply to %s", method)
	return nil
}

func TestHTTPRoutes(t *testing.T) {
	srv, _, _, _ := startTestServer(t, mux.Limits{})
	base := fmt.Sprintf("http://127.0.0.1:%d", srv.Port())

	resp, err := http.Get(base + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "OK" {
		t.Fatalf("/health = %q, want OK", body)
	}

	resp, err = http.Get(base + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "muxd") {
		t.Fatalf("banner = %q", body)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("CORS header = %q, want *", got)
	}
}

func TestConnectionRegistryTracksLifecycle(t *testing.T) {
	srv, broker, _, _ := startTestServer(t, mux.Limits{})
	ws := dialTestServer(t, srv)

	deadline := time.Now().Add(2 * time.Second)
	for broker.connCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if broker.connCount() != 1 {
		t.Fatalf("connCount = %d, want 1", broker.connCount())
	}

	ws.Close()
	deadline = time.Now().Add(2 * time.Second)
	for broker.connCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if broker.connCount() != 0 {
		t.Fatalf("connCount after close = %d, want 0", broker.connCount())
	}
}

func TestServerStatusRoundTrip(t *testing.T) {
	srv, _, _, _ := startTestServer(t, mux.Limits{})
	ws := dialTestServer(t, srv)

	resp := call(t, ws, 1, "server_status", nil)
	if resp.Error != nil {
		t.Fatalf("server_status error: %+v", resp.Error)
	}
	var status protocol.StatusResponse
	if err := json.Unmarshal(resp.Result, &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !status.Running || status.ProtocolVersion != protocol.ProtocolVersion {
		t.Fatalf("status = %+v", status)
	}
}

func TestSubscribedConnectionReceivesEvents(t *testing.T) {
	srv, broker, _, _ := startTestServer(t, mux.Limits{})
	ws := dialTestServer(t, srv)

	resp := call(t, ws, 1, "subscribe", map[string]any{"events": []string{"*"}})
	if resp.Error != nil {
		t.Fatalf("subscribe: %+v", resp.Error)
	}

	broker.Publish(mux.Event{
		Method: protocol.EventPaneOutput,
		PaneID: "pane_x",
		Params: protocol.PaneOutputParams{PaneID: "pane_x", Data: "first", Timestamp: time.Now()},
	})
	broker.Publish(mux.Event{
		Method: protocol.EventPaneOutput,
		PaneID: "pane_x",
		Params: protocol.PaneOutputParams{PaneID: "pane_x", Data: "second", Timestamp: time.Now()},
	})

	var datas []string
	deadline := time.Now().Add(5 * time.Second)
	for len(datas) < 2 && time.Now().Before(deadline) {
		ws.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, frame, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var n protocol.Notification
		if err := json.Unmarshal(frame, &n); err != nil || n.Method != protocol.EventPaneOutput {
			continue
		}
		var params protocol.PaneOutputParams
		if err := json.Unmarshal(n.Params, &params); err != nil {
			t.Fatalf("decode params: %v", err)
		}
		datas = append(datas, params.Data)
	}
	if len(datas) != 2 || datas[0] != "first" || datas[1] != "second" {
		t.Fatalf("received = %v, want [first second] in order", datas)
	}
}

func TestUnsubscribedConnectionGetsNothing(t *testing.T) {
	srv, broker, _, _ := startTestServer(t, mux.Limits{})
	ws := dialTestServer(t, srv)

	// No subscription: the event must not arrive.
	broker.Publish(mux.Event{
		Method: protocol.EventPaneOutput,
		PaneID: "pane_x",
		Params: protocol.PaneOutputParams{PaneID: "pane_x", Data: "secret", Timestamp: time.Now()},
	})
	// A status call afterwards must be the very next frame: no notification
	// may have been queued ahead of it.
	if err := ws.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": 1, "method": "server_status"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, frame, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var resp protocol.Response
	if err := json.Unmarshal(frame, &resp); err != nil || resp.ID.IsZero() {
		t.Fatalf("first frame was not the response: %s", frame)
	}
}

func TestBinaryFramesRejected(t *testing.T) {
	srv, _, _, _ := startTestServer(t, mux.Limits{})
	ws := dialTestServer(t, srv)

	if err := ws.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}); err != nil {
		t.Fatalf("write binary: %v", err)
	}
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, frame, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var n protocol.Notification
	if err := json.Unmarshal(frame, &n); err != nil || n.Method != protocol.EventError {
		t.Fatalf("frame after binary = %s", frame)
	}
}

func TestServerShutdownTriggersSupervisorHook(t *testing.T) {
	srv, _, _, shutdownRequested := startTestServer(t, mux.Limits{})
	ws := dialTestServer(t, srv)

	resp := call(t, ws, 1, "server_shutdown", nil)
	if resp.Error != nil {
		t.Fatalf("server_shutdown: %+v", resp.Error)
	}
	var ok protocol.SuccessResponse
	if err := json.Unmarshal(resp.Result, &ok); err != nil || !ok.Success {
		t.Fatalf("shutdown result = %s", resp.Result)
	}
	select {
	case <-shutdownRequested:
	case <-time.After(3 * time.Second):
		t.Fatal("supervisor hook never ran")
	}
}

// Backpressure policy, tested on the queue directly.
func TestOutboundQueueDropsOldestPaneOutput(t *testing.T) {
	srv := New(Options{Addr: "127.0.0.1:0", OutboundQueueSize: 2}, nil, NewBroker(), nil)
	c := newConn("conn-q", nil, srv)

	paneEvent := func(data string) (*protocol.Notification, mux.Event) {
		e := mux.Event{Method: protocol.EventPaneOutput, PaneID: "p"}
		n, err := protocol.NewNotification(protocol.EventPaneOutput, protocol.PaneOutputParams{PaneID: "p", Data: data})
		if err != nil {
			t.Fatalf("notification: %v", err)
		}
		return n, e
	}

	for _, data := range []string{"a", "b", "c"} {
		n, e := paneEvent(data)
		c.enqueueNotification(n, e)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Queue was capped at 2: "a" dropped, truncation notice queued.
	if c.dropped != 1 {
		t.Fatalf("dropped = %d, want 1", c.dropped)
	}
	var sawTruncated bool
	for _, item := range c.queue {
		if item.truncated {
			sawTruncated = true
		}
		if item.frame != nil && strings.Contains(string(item.frame), `"data":"a"`) {
			t.Fatal("oldest pane-output entry not dropped")
		}
	}
	if !sawTruncated {
		t.Fatal("no truncation notice queued")
	}
}

// Lifecycle events survive a full queue.
func TestLifecycleEventsNeverDropped(t *testing.T) {
	srv := New(Options{Addr: "127.0.0.1:0", OutboundQueueSize: 1}, nil, NewBroker(), nil)
	c := newConn("conn-q", nil, srv)

	exitNote, err := protocol.NewNotification(protocol.EventPaneExit, protocol.PaneExitParams{PaneID: "p", ExitCode: 0})
	if err != nil {
		t.Fatalf("notification: %v", err)
	}
	for i := 0; i < 3; i++ {
		c.enqueueNotification(exitNote, mux.Event{Method: protocol.EventPaneExit, PaneID: "p", Lifecycle: true})
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) != 3 || c.dropped != 0 {
		t.Fatalf("queue = %d items, dropped = %d; lifecycle events must all survive", len(c.queue), c.dropped)
	}
}
