// Package rpc routes JSON-RPC 2.0 messages to the session layer. The
// dispatcher holds no mutable state of its own: each message is validated,
// routed through the closed method table and answered; long-running work
// happens on the target component.
package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"orchmux/internal/history"
	"orchmux/internal/mux"
	"orchmux/internal/protocol"
	"orchmux/internal/pty"
)

// Caller is the per-connection surface handlers may touch: identity and the
// subscription set. Implemented by the server's connection type.
type Caller interface {
	ID() string
	// Subscribe adds event patterns and returns the resulting set, sorted.
	Subscribe(events []string) []string
	// Unsubscribe removes event patterns and returns the resulting set.
	Unsubscribe(events []string) []string
}

type handlerFunc func(c Caller, params json.RawMessage) (any, *protocol.RPCError)

// Dispatcher validates, routes and answers JSON-RPC messages.
type Dispatcher struct {
	manager   *mux.Manager
	history   *history.Store // nil disables history capture
	version   string
	startedAt time.Time

	authEnabled bool
	authToken   string

	handlers map[string]handlerFunc
}

// Options configures a Dispatcher.
type Options struct {
	Manager     *mux.Manager
	History     *history.Store
	Version     string
	AuthEnabled bool
	AuthToken   string
}

// NewDispatcher builds the method table. The catalog is closed at build
// time; there is no dynamic registration.
func NewDispatcher(opts Options) *Dispatcher {
	d := &Dispatcher{
		manager:     opts.Manager,
		history:     opts.History,
		version:     opts.Version,
		startedAt:   time.Now(),
		authEnabled: opts.AuthEnabled,
		authToken:   opts.AuthToken,
	}
	d.handlers = map[string]handlerFunc{
		protocol.MethodServerStatus: d.handleServerStatus,

		protocol.MethodSessionCreate:    d.handleSessionCreate,
		protocol.MethodSessionList:      d.handleSessionList,
		protocol.MethodSessionDelete:    d.handleSessionDelete,
		protocol.MethodSessionRename:    d.handleSessionRename,
		protocol.MethodSessionSetActive: d.handleSessionSetActive,

		protocol.MethodPaneCreate:  d.handlePaneCreate,
		protocol.MethodPaneWrite:   d.handlePaneWrite,
		protocol.MethodPaneResize:  d.handlePaneResize,
		protocol.MethodPaneRead:    d.handlePaneRead,
		protocol.MethodPaneSearch:  d.handlePaneSearch,
		protocol.MethodPaneKill:    d.handlePaneKill,
		protocol.MethodPaneList:    d.handlePaneList,
		protocol.MethodPaneInfo:    d.handlePaneInfo,
		protocol.MethodPaneRestart: d.handlePaneRestart,

		protocol.MethodLayoutSet: d.handleLayoutSet,

		protocol.MethodSubscribe:   d.handleSubscribe,
		protocol.MethodUnsubscribe: d.handleUnsubscribe,

		protocol.MethodHistoryRecent: d.handleHistoryRecent,

		protocol.MethodCursorGet:     d.handleCursorGet,
		protocol.MethodCursorSet:     d.handleCursorSet,
		protocol.MethodCursorQuery:   d.handleCursorQuery,
		protocol.MethodCursorSave:    d.handleCursorSave,
		protocol.MethodCursorRestore: d.handleCursorRestore,
		protocol.MethodCursorReset:   d.handleCursorReset,
		protocol.MethodCursorBatch:   d.handleCursorBatch,
	}
	return d
}

// Dispatch handles one inbound frame. The returned response is nil for
// notifications and for undecodable frames with no recoverable id the
// caller should still send the parse-error response when non-nil.
// requestShutdown reports that the frame was a server_shutdown request; the
// caller must queue the response first, then begin graceful shutdown.
func (d *Dispatcher) Dispatch(c Caller, raw []byte) (resp *protocol.Response, requestShutdown bool) {
	var msg protocol.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		slog.Debug("[rpc] parse error", "connId", c.ID(), "error", err)
		return protocol.NewError(protocol.RequestID{},
			protocol.Errorf(protocol.CodeParseError, "parse error")), false
	}
	if msg.JSONRPC != protocol.Version {
		return protocol.NewError(msg.ID,
			protocol.Errorf(protocol.CodeInvalidRequest, `jsonrpc must be "2.0"`)), false
	}
	if msg.Method == "" {
		return protocol.NewError(msg.ID,
			protocol.Errorf(protocol.CodeInvalidRequest, "method is required")), false
	}
	if msg.IsNotification() {
		// The daemon defines no client-to-server notifications; drop with a
		// single log line.
		slog.Debug("[rpc] unexpected notification dropped", "method", msg.Method)
		return nil, false
	}

	if rpcErr := d.checkAuth(msg.Method, msg.Params); rpcErr != nil {
		return protocol.NewError(msg.ID, rpcErr), false
	}

	if msg.Method == protocol.MethodServerShutdown {
		result, _ := protocol.NewResult(msg.ID, protocol.OK())
		slog.Info("[rpc] shutdown requested", "connId", c.ID())
		return result, true
	}

	handler, ok := d.handlers[msg.Method]
	if !ok {
		return protocol.NewError(msg.ID,
			protocol.Errorf(protocol.CodeMethodNotFound, fmt.Sprintf("method not found: %s", msg.Method))), false
	}

	result, rpcErr := handler(c, msg.Params)
	if rpcErr != nil {
		return protocol.NewError(msg.ID, rpcErr), false
	}
	out, err := protocol.NewResult(msg.ID, result)
	if err != nil {
		slog.Error("[rpc] result marshal failed", "method", msg.Method, "error", err)
		return protocol.NewError(msg.ID,
			protocol.Errorf(protocol.CodeInternalError, "internal error")), false
	}
	return out, false
}

// checkAuth enforces the placeholder token. server_status stays reachable so
// probes work without credentials.
func (d *Dispatcher) checkAuth(method string, params json.RawMessage) *protocol.RPCError {
	if !d.authEnabled || method == protocol.MethodServerStatus {
		return nil
	}
	var probe struct {
		AuthToken string `json:"auth_token"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &probe); err != nil {
			return protocol.Errorf(protocol.CodeAuthError, "auth token missing")
		}
	}
	if probe.AuthToken != d.authToken {
		return protocol.Errorf(protocol.CodeAuthError, "auth token invalid")
	}
	return nil
}

// decodeParams unmarshals params into out; absent params decode as the zero
// value so methods with all-optional params accept an omitted object.
func decodeParams(params json.RawMessage, out any) *protocol.RPCError {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, out); err != nil {
		return protocol.Errorf(protocol.CodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
	}
	return nil
}

// mapError converts component errors to wire errors with structured data.
func mapError(err error) *protocol.RPCError {
	var notFound *mux.NotFoundError
	if errors.As(err, &notFound) {
		code := protocol.CodeSessionNotFound
		field := "session_id"
		if notFound.Kind == "pane" {
			code = protocol.CodePaneNotFound
			field = "pane_id"
		}
		return protocol.ErrorWithData(code, err.Error(), map[string]string{field: notFound.ID})
	}
	var limit *mux.ResourceLimitError
	if errors.As(err, &limit) {
		return protocol.ErrorWithData(protocol.CodeResourceLimit, err.Error(), map[string]any{
			"resource": limit.Resource,
			"limit":    limit.Limit,
		})
	}
	var validation *mux.ValidationError
	if errors.As(err, &validation) {
		return protocol.Errorf(protocol.CodeInvalidParams, err.Error())
	}
	var state *mux.InvalidStateError
	if errors.As(err, &state) {
		return protocol.Errorf(protocol.CodeInvalidState, err.Error())
	}
	if errors.Is(err, pty.ErrAlreadyStarted) || errors.Is(err, pty.ErrReaderTaken) ||
		errors.Is(err, pty.ErrNotStarted) || errors.Is(err, pty.ErrClosed) {
		return protocol.Errorf(protocol.CodeInvalidState, err.Error())
	}
	return protocol.Errorf(protocol.CodeInternalError, err.Error())
}
