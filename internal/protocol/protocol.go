// Package protocol defines the JSON-RPC 2.0 wire types spoken between muxd
// and its clients.
//
// Every WebSocket text frame carries exactly one message: a request (has id
// and method), a response (has id and result or error), or a notification
// (method without id). Request ids are either JSON numbers or strings and are
// echoed back verbatim in the response.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Version is the JSON-RPC protocol version constant.
const Version = "2.0"

// ProtocolVersion identifies the muxd method catalog revision reported by
// server_status.
const ProtocolVersion = "1.0"

// RequestID is a JSON-RPC request id: a JSON number or string, kept as raw
// JSON so it round-trips byte-exactly into the response.
type RequestID struct {
	raw json.RawMessage
}

// NumberID builds a numeric request id.
func NumberID(n int64) RequestID {
	return RequestID{raw: json.RawMessage(fmt.Sprintf("%d", n))}
}

// StringID builds a string request id.
func StringID(s string) RequestID {
	b, _ := json.Marshal(s)
	return RequestID{raw: b}
}

// IsZero reports whether the id is absent.
func (id RequestID) IsZero() bool { return len(id.raw) == 0 }

// Equal reports whether two ids are byte-identical.
func (id RequestID) Equal(other RequestID) bool { return bytes.Equal(id.raw, other.raw) }

// String returns the raw JSON text of the id, for logging and map keys.
func (id RequestID) String() string {
	if id.IsZero() {
		return "<none>"
	}
	return string(id.raw)
}

func (id RequestID) MarshalJSON() ([]byte, error) {
	if id.IsZero() {
		return []byte("null"), nil
	}
	return id.raw, nil
}

func (id *RequestID) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		id.raw = nil
		return nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return err
		}
	default:
		return fmt.Errorf("protocol: request id must be a number or string, got %s", trimmed)
	}
	id.raw = append(json.RawMessage(nil), trimmed...)
	return nil
}

// Message is the decoded form of one inbound frame before it is classified
// as request or notification.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      RequestID       `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the message carries no id and therefore
// expects no reply.
func (m *Message) IsNotification() bool { return m.ID.IsZero() }

// Response is an outbound JSON-RPC response frame.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      RequestID       `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// Notification is an outbound server-push frame.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// NewResult builds a success response, marshaling result into the frame.
func NewResult(id RequestID, result any) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal result: %w", err)
	}
	return &Response{JSONRPC: Version, ID: id, Result: raw}, nil
}

// NewError builds an error response.
func NewError(id RequestID, rpcErr *RPCError) *Response {
	return &Response{JSONRPC: Version, ID: id, Error: rpcErr}
}

// NewNotification builds a notification frame, marshaling params.
func NewNotification(method string, params any) (*Notification, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal notification params: %w", err)
	}
	return &Notification{JSONRPC: Version, Method: method, Params: raw}, nil
}
