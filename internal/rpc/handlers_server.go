package rpc

import (
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"orchmux/internal/protocol"
)

func (d *Dispatcher) handleServerStatus(_ Caller, _ json.RawMessage) (any, *protocol.RPCError) {
	sessions, panes := d.manager.Counts()
	return protocol.StatusResponse{
		Running:         true,
		Version:         d.version,
		ProtocolVersion: protocol.ProtocolVersion,
		PID:             os.Getpid(),
		Sessions:        sessions,
		TotalPanes:      panes,
		UptimeSeconds:   int64(time.Since(d.startedAt).Seconds()),
	}, nil
}

func (d *Dispatcher) handleSubscribe(c Caller, params json.RawMessage) (any, *protocol.RPCError) {
	var req protocol.SubscribeRequest
	if rpcErr := decodeParams(params, &req); rpcErr != nil {
		return nil, rpcErr
	}
	if len(req.Events) == 0 {
		return nil, protocol.Errorf(protocol.CodeInvalidParams, "events is required")
	}
	return protocol.SubscribeResponse{Events: c.Subscribe(req.Events)}, nil
}

func (d *Dispatcher) handleUnsubscribe(c Caller, params json.RawMessage) (any, *protocol.RPCError) {
	var req protocol.SubscribeRequest
	if rpcErr := decodeParams(params, &req); rpcErr != nil {
		return nil, rpcErr
	}
	if len(req.Events) == 0 {
		return nil, protocol.Errorf(protocol.CodeInvalidParams, "events is required")
	}
	return protocol.SubscribeResponse{Events: c.Unsubscribe(req.Events)}, nil
}

func (d *Dispatcher) handleHistoryRecent(_ Caller, params json.RawMessage) (any, *protocol.RPCError) {
	var req protocol.HistoryRecentRequest
	if rpcErr := decodeParams(params, &req); rpcErr != nil {
		return nil, rpcErr
	}
	resp := protocol.HistoryRecentResponse{Entries: []protocol.HistoryEntry{}}
	if d.history == nil {
		return resp, nil
	}
	entries, err := d.history.Recent(req.Limit)
	if err != nil {
		return nil, protocol.Errorf(protocol.CodeInternalError, err.Error())
	}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, protocol.HistoryEntry{
			PaneID: e.PaneID, Command: e.Command, At: e.At,
		})
	}
	return resp, nil
}

// recordHistory captures completed command lines flowing through pane.write.
// Only writes terminated by a newline count as commands.
func (d *Dispatcher) recordHistory(paneID, data string) {
	if d.history == nil || len(data) == 0 || data[len(data)-1] != '\n' {
		return
	}
	command := trimCommand(data)
	if command == "" {
		return
	}
	if err := d.history.Append(paneID, command, time.Now()); err != nil {
		slog.Warn("[rpc] history append failed", "paneId", paneID, "error", err)
	}
}

func trimCommand(data string) string {
	end := len(data)
	for end > 0 && (data[end-1] == '\n' || data[end-1] == '\r') {
		end--
	}
	return data[:end]
}
