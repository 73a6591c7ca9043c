//go:build !windows

package rpc

import (
	"encoding/json"
	"sort"
	"testing"
	"time"

	"orchmux/internal/mux"
	"orchmux/internal/protocol"
)

// fakeCaller implements Caller with an in-memory subscription set.
type fakeCaller struct {
	id     string
	events map[string]bool
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{id: "conn-test", events: make(map[string]bool)}
}

func (c *fakeCaller) ID() string { return c.id }

func (c *fakeCaller) Subscribe(events []string) []string {
	for _, e := range events {
		c.events[e] = true
	}
	return c.snapshot()
}

func (c *fakeCaller) Unsubscribe(events []string) []string {
	for _, e := range events {
		delete(c.events, e)
	}
	return c.snapshot()
}

func (c *fakeCaller) snapshot() []string {
	out := make([]string, 0, len(c.events))
	for e := range c.events {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

func testDispatcher(t *testing.T, limits mux.Limits, opts Options) (*Dispatcher, *mux.Manager) {
	t.Helper()
	m := mux.NewManager(limits, nil, nil)
	opts.Manager = m
	if opts.Version == "" {
		opts.Version = "test"
	}
	return NewDispatcher(opts), m
}

func dispatch(t *testing.T, d *Dispatcher, frame string) *protocol.Response {
	t.Helper()
	resp, _ := d.Dispatch(newFakeCaller(), []byte(frame))
	return resp
}

func errCode(t *testing.T, resp *protocol.Response) int {
	t.Helper()
	if resp == nil || resp.Error == nil {
		t.Fatalf("expected error response, got %+v", resp)
	}
	return resp.Error.Code
}

func TestDispatchParseError(t *testing.T) {
	d, _ := testDispatcher(t, mux.Limits{}, Options{})
	if code := errCode(t, dispatch(t, d, `{not json`)); code != protocol.CodeParseError {
		t.Fatalf("code = %d, want %d", code, protocol.CodeParseError)
	}
}

func TestDispatchInvalidEnvelope(t *testing.T) {
	d, _ := testDispatcher(t, mux.Limits{}, Options{})
	cases := []string{
		`{"jsonrpc":"1.0","id":1,"method":"server_status"}`,
		`{"jsonrpc":"2.0","id":1}`,
	}
	for _, frame := range cases {
		if code := errCode(t, dispatch(t, d, frame)); code != protocol.CodeInvalidRequest {
			t.Fatalf("frame %s: code = %d, want %d", frame, code, protocol.CodeInvalidRequest)
		}
	}
}

func TestDispatchUnknownMethod(t *testing.T) {
	d, _ := testDispatcher(t, mux.Limits{}, Options{})
	resp := dispatch(t, d, `{"jsonrpc":"2.0","id":1,"method":"nope.nothing"}`)
	if code := errCode(t, resp); code != protocol.CodeMethodNotFound {
		t.Fatalf("code = %d, want %d", code, protocol.CodeMethodNotFound)
	}
}

func TestNotificationGetsNoReply(t *testing.T) {
	d, _ := testDispatcher(t, mux.Limits{}, Options{})
	resp, shutdown := d.Dispatch(newFakeCaller(), []byte(`{"jsonrpc":"2.0","method":"server_status"}`))
	if resp != nil || shutdown {
		t.Fatalf("notification answered: resp=%+v shutdown=%v", resp, shutdown)
	}
}

func TestSessionCreateAndQuota(t *testing.T) {
	d, _ := testDispatcher(t, mux.Limits{MaxSessions: 1}, Options{})
	resp := dispatch(t, d, `{"jsonrpc":"2.0","id":1,"method":"session.create","params":{"name":"s1"}}`)
	if resp.Error != nil {
		t.Fatalf("first create failed: %+v", resp.Error)
	}
	var created protocol.CreateSessionResponse
	if err := json.Unmarshal(resp.Result, &created); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if created.Name != "s1" || created.SessionID == "" {
		t.Fatalf("create result = %+v", created)
	}

	resp = dispatch(t, d, `{"jsonrpc":"2.0","id":2,"method":"session.create","params":{"name":"s2"}}`)
	if code := errCode(t, resp); code != protocol.CodeResourceLimit {
		t.Fatalf("quota code = %d, want %d", code, protocol.CodeResourceLimit)
	}
	var data struct {
		Resource string `json:"resource"`
		Limit    int    `json:"limit"`
	}
	if err := json.Unmarshal(resp.Error.Data, &data); err != nil {
		t.Fatalf("decode error data: %v", err)
	}
	if data.Resource != "sessions" || data.Limit != 1 {
		t.Fatalf("error data = %+v", data)
	}
}

func TestSessionCreateValidatesName(t *testing.T) {
	d, _ := testDispatcher(t, mux.Limits{}, Options{})
	resp := dispatch(t, d, `{"jsonrpc":"2.0","id":1,"method":"session.create","params":{}}`)
	if code := errCode(t, resp); code != protocol.CodeInvalidParams {
		t.Fatalf("code = %d, want %d", code, protocol.CodeInvalidParams)
	}
}

func TestPaneNotFoundCode(t *testing.T) {
	d, _ := testDispatcher(t, mux.Limits{}, Options{})
	resp := dispatch(t, d, `{"jsonrpc":"2.0","id":1,"method":"pane.info","params":{"pane_id":"pane_missing"}}`)
	if code := errCode(t, resp); code != protocol.CodePaneNotFound {
		t.Fatalf("code = %d, want %d", code, protocol.CodePaneNotFound)
	}
}

func TestSessionNotFoundCode(t *testing.T) {
	d, _ := testDispatcher(t, mux.Limits{}, Options{})
	resp := dispatch(t, d, `{"jsonrpc":"2.0","id":1,"method":"session.delete","params":{"session_id":"sess_missing"}}`)
	if code := errCode(t, resp); code != protocol.CodeSessionNotFound {
		t.Fatalf("code = %d, want %d", code, protocol.CodeSessionNotFound)
	}
}

func restoreDetachedPane(m *mux.Manager) {
	now := time.Now().UTC()
	m.Restore(
		[]mux.SessionRecord{{
			SchemaVersion: mux.SchemaVersion, SessionID: "sess_d", Name: "d",
			CreatedAt: now, UpdatedAt: now, PaneIDs: []string{"pane_d"},
		}},
		[]mux.PaneRecord{{
			SchemaVersion: mux.SchemaVersion, PaneID: "pane_d", SessionID: "sess_d",
			PaneType: "terminal", Rows: 24, Cols: 80, CreatedAt: now,
			ScrollbackTail: []string{"restored line"},
		}},
	)
}

func TestDetachedPaneWriteReturnsInvalidState(t *testing.T) {
	d, m := testDispatcher(t, mux.Limits{}, Options{})
	restoreDetachedPane(m)
	resp := dispatch(t, d, `{"jsonrpc":"2.0","id":1,"method":"pane.write","params":{"pane_id":"pane_d","data":"x"}}`)
	if code := errCode(t, resp); code != protocol.CodeInvalidState {
		t.Fatalf("code = %d, want %d", code, protocol.CodeInvalidState)
	}
}

func TestDetachedPaneReadServesTail(t *testing.T) {
	d, m := testDispatcher(t, mux.Limits{}, Options{})
	restoreDetachedPane(m)
	resp := dispatch(t, d, `{"jsonrpc":"2.0","id":1,"method":"pane.read","params":{"pane_id":"pane_d","lines":5,"from":"end"}}`)
	if resp.Error != nil {
		t.Fatalf("pane.read failed: %+v", resp.Error)
	}
	var read protocol.ReadPaneResponse
	if err := json.Unmarshal(resp.Result, &read); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if read.Data != "restored line" {
		t.Fatalf("read data = %q", read.Data)
	}
}

func TestPaneReadRejectsBadFrom(t *testing.T) {
	d, m := testDispatcher(t, mux.Limits{}, Options{})
	restoreDetachedPane(m)
	resp := dispatch(t, d, `{"jsonrpc":"2.0","id":1,"method":"pane.read","params":{"pane_id":"pane_d","from":"middle"}}`)
	if code := errCode(t, resp); code != protocol.CodeInvalidParams {
		t.Fatalf("code = %d, want %d", code, protocol.CodeInvalidParams)
	}
}

func TestSubscribeUnsubscribeRoundTrip(t *testing.T) {
	d, _ := testDispatcher(t, mux.Limits{}, Options{})
	c := newFakeCaller()

	resp, _ := d.Dispatch(c, []byte(`{"jsonrpc":"2.0","id":1,"method":"subscribe","params":{"events":["pane.output","*"]}}`))
	if resp.Error != nil {
		t.Fatalf("subscribe failed: %+v", resp.Error)
	}
	var sub protocol.SubscribeResponse
	if err := json.Unmarshal(resp.Result, &sub); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(sub.Events) != 2 {
		t.Fatalf("events after subscribe = %v", sub.Events)
	}

	resp, _ = d.Dispatch(c, []byte(`{"jsonrpc":"2.0","id":2,"method":"unsubscribe","params":{"events":["pane.output","*"]}}`))
	if resp.Error != nil {
		t.Fatalf("unsubscribe failed: %+v", resp.Error)
	}
	if err := json.Unmarshal(resp.Result, &sub); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(sub.Events) != 0 {
		t.Fatalf("events after unsubscribe = %v", sub.Events)
	}
}

func TestServerShutdownAcknowledgesFirst(t *testing.T) {
	d, _ := testDispatcher(t, mux.Limits{}, Options{})
	resp, shutdown := d.Dispatch(newFakeCaller(), []byte(`{"jsonrpc":"2.0","id":9,"method":"server_shutdown"}`))
	if !shutdown {
		t.Fatal("shutdown not requested")
	}
	if resp == nil || resp.Error != nil {
		t.Fatalf("shutdown response = %+v", resp)
	}
	var ok protocol.SuccessResponse
	if err := json.Unmarshal(resp.Result, &ok); err != nil || !ok.Success {
		t.Fatalf("shutdown result = %s err=%v", resp.Result, err)
	}
}

func TestAuthPlaceholder(t *testing.T) {
	d, _ := testDispatcher(t, mux.Limits{}, Options{AuthEnabled: true, AuthToken: "secret"})

	// server_status stays reachable without a token.
	resp := dispatch(t, d, `{"jsonrpc":"2.0","id":1,"method":"server_status"}`)
	if resp.Error != nil {
		t.Fatalf("server_status with auth on: %+v", resp.Error)
	}

	resp = dispatch(t, d, `{"jsonrpc":"2.0","id":2,"method":"session.list"}`)
	if code := errCode(t, resp); code != protocol.CodeAuthError {
		t.Fatalf("code = %d, want %d", code, protocol.CodeAuthError)
	}

	resp = dispatch(t, d, `{"jsonrpc":"2.0","id":3,"method":"session.list","params":{"auth_token":"secret"}}`)
	if resp.Error != nil {
		t.Fatalf("authorized session.list failed: %+v", resp.Error)
	}
}

func TestCursorOpsOnDetachedPane(t *testing.T) {
	d, m := testDispatcher(t, mux.Limits{}, Options{})
	restoreDetachedPane(m)

	// get works (pure state), set needs a live PTY.
	resp := dispatch(t, d, `{"jsonrpc":"2.0","id":1,"method":"cursor.get","params":{"pane_id":"pane_d"}}`)
	if resp.Error != nil {
		t.Fatalf("cursor.get failed: %+v", resp.Error)
	}
	var cur protocol.GetCursorResponse
	if err := json.Unmarshal(resp.Result, &cur); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cur.Position.Row != 1 || cur.Position.Col != 1 || !cur.InBounds {
		t.Fatalf("cursor = %+v", cur)
	}

	resp = dispatch(t, d, `{"jsonrpc":"2.0","id":2,"method":"cursor.set","params":{"pane_id":"pane_d","position":{"row":2,"col":3}}}`)
	if code := errCode(t, resp); code != protocol.CodeInvalidState {
		t.Fatalf("cursor.set on detached = %d, want %d", code, protocol.CodeInvalidState)
	}
}

func TestCursorBatchReportsPerOpResults(t *testing.T) {
	d, m := testDispatcher(t, mux.Limits{}, Options{})
	restoreDetachedPane(m)
	frame := `{"jsonrpc":"2.0","id":1,"method":"cursor.batch","params":{"operations":[
		{"op":"get","pane_id":"pane_d"},
		{"op":"set","pane_id":"pane_d","position":{"row":1,"col":1}},
		{"op":"get","pane_id":"pane_missing"}
	]}}`
	resp := dispatch(t, d, frame)
	if resp.Error != nil {
		t.Fatalf("cursor.batch failed: %+v", resp.Error)
	}
	var batch protocol.CursorBatchResponse
	if err := json.Unmarshal(resp.Result, &batch); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(batch.Results) != 3 {
		t.Fatalf("results = %+v", batch.Results)
	}
	if !batch.Results[0].Success || len(batch.Results[0].Result) == 0 {
		t.Fatalf("get result = %+v", batch.Results[0])
	}
	if batch.Results[1].Success {
		t.Fatalf("set on detached pane succeeded: %+v", batch.Results[1])
	}
	if batch.Results[2].Success || batch.Results[2].Error == "" {
		t.Fatalf("missing-pane result = %+v", batch.Results[2])
	}
}
