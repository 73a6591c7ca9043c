package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestRequestIDRoundTripsNumberAndString(t *testing.T) {
	for _, raw := range []string{`42`, `"req-7"`} {
		var msg Message
		if err := json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":`+raw+`,"method":"server_status"}`), &msg); err != nil {
			t.Fatalf("unmarshal id %s: %v", raw, err)
		}
		if msg.IsNotification() {
			t.Fatalf("id %s parsed as notification", raw)
		}
		resp, err := NewResult(msg.ID, OK())
		if err != nil {
			t.Fatalf("NewResult: %v", err)
		}
		out, err := json.Marshal(resp)
		if err != nil {
			t.Fatalf("marshal response: %v", err)
		}
		if !strings.Contains(string(out), `"id":`+raw) {
			t.Fatalf("response %s does not echo id %s", out, raw)
		}
	}
}

func TestRequestIDRejectsNonScalar(t *testing.T) {
	var msg Message
	err := json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":{"bad":1},"method":"x"}`), &msg)
	if err == nil {
		t.Fatal("object id accepted, want error")
	}
}

func TestMissingIDIsNotification(t *testing.T) {
	var msg Message
	if err := json.Unmarshal([]byte(`{"jsonrpc":"2.0","method":"pane.output","params":{}}`), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !msg.IsNotification() {
		t.Fatal("message without id should be a notification")
	}
}

func TestErrorWithDataCarriesFields(t *testing.T) {
	rpcErr := ErrorWithData(CodeResourceLimit, "resource limit exceeded", map[string]any{
		"resource": "sessions",
		"limit":    1,
	})
	out, err := json.Marshal(NewError(NumberID(1), rpcErr))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, want := range []string{`"code":-32003`, `"resource":"sessions"`, `"limit":1`} {
		if !strings.Contains(string(out), want) {
			t.Fatalf("error frame %s missing %s", out, want)
		}
	}
}

func TestValidateLayoutAcceptsNestedSplit(t *testing.T) {
	raw := json.RawMessage(`{
		"type":"split","direction":"horizontal","ratio":0.5,
		"children":[
			{"type":"pane","pane_id":"pane_a"},
			{"type":"split","direction":"vertical","ratio":0.3,
			 "children":[{"type":"pane","pane_id":"pane_b"}]}
		]}`)
	node, err := ValidateLayout(raw)
	if err != nil {
		t.Fatalf("ValidateLayout: %v", err)
	}
	ids := node.PaneIDs()
	if len(ids) != 2 || ids[0] != "pane_a" || ids[1] != "pane_b" {
		t.Fatalf("PaneIDs = %v, want [pane_a pane_b]", ids)
	}
}

func TestValidateLayoutRejectsBadShapes(t *testing.T) {
	cases := []string{
		`{"type":"pane"}`,
		`{"type":"split","direction":"diagonal","ratio":0.5,"children":[{"type":"pane","pane_id":"p"}]}`,
		`{"type":"split","direction":"vertical","ratio":0,"children":[{"type":"pane","pane_id":"p"}]}`,
		`{"type":"split","direction":"vertical","ratio":0.5,"children":[]}`,
		`{"type":"window"}`,
	}
	for _, raw := range cases {
		if _, err := ValidateLayout(json.RawMessage(raw)); err == nil {
			t.Fatalf("layout %s accepted, want error", raw)
		}
	}
}
