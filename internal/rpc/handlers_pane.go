package rpc

import (
	"encoding/json"
	"strings"

	"orchmux/internal/protocol"
)

func (d *Dispatcher) handlePaneCreate(_ Caller, params json.RawMessage) (any, *protocol.RPCError) {
	var req protocol.CreatePaneRequest
	if rpcErr := decodeParams(params, &req); rpcErr != nil {
		return nil, rpcErr
	}
	if req.SessionID == "" {
		return nil, protocol.Errorf(protocol.CodeInvalidParams, "session_id is required")
	}
	if req.Size != nil && (req.Size.Rows < 1 || req.Size.Cols < 1) {
		return nil, protocol.Errorf(protocol.CodeInvalidParams, "size rows and cols must be >= 1")
	}
	p, pid, err := d.manager.CreatePane(req.SessionID, req.PaneType, req.Command, req.WorkingDir, req.Env, req.Size)
	if err != nil {
		return nil, mapError(err)
	}
	info := p.Info()
	return protocol.CreatePaneResponse{
		PaneID:    info.PaneID,
		SessionID: info.SessionID,
		PaneType:  info.PaneType,
		PID:       pid,
	}, nil
}

func (d *Dispatcher) handlePaneWrite(_ Caller, params json.RawMessage) (any, *protocol.RPCError) {
	var req protocol.WritePaneRequest
	if rpcErr := decodeParams(params, &req); rpcErr != nil {
		return nil, rpcErr
	}
	if req.PaneID == "" {
		return nil, protocol.Errorf(protocol.CodeInvalidParams, "pane_id is required")
	}
	p, err := d.manager.GetPane(req.PaneID)
	if err != nil {
		return nil, mapError(err)
	}
	if err := p.Write([]byte(req.Data)); err != nil {
		return nil, mapError(err)
	}
	d.recordHistory(req.PaneID, req.Data)
	return protocol.OK(), nil
}

func (d *Dispatcher) handlePaneResize(_ Caller, params json.RawMessage) (any, *protocol.RPCError) {
	var req protocol.ResizePaneRequest
	if rpcErr := decodeParams(params, &req); rpcErr != nil {
		return nil, rpcErr
	}
	if req.PaneID == "" {
		return nil, protocol.Errorf(protocol.CodeInvalidParams, "pane_id is required")
	}
	p, err := d.manager.GetPane(req.PaneID)
	if err != nil {
		return nil, mapError(err)
	}
	if err := p.Resize(req.Size.Rows, req.Size.Cols); err != nil {
		return nil, mapError(err)
	}
	return protocol.OK(), nil
}

func (d *Dispatcher) handlePaneRead(_ Caller, params json.RawMessage) (any, *protocol.RPCError) {
	var req protocol.ReadPaneRequest
	if rpcErr := decodeParams(params, &req); rpcErr != nil {
		return nil, rpcErr
	}
	if req.PaneID == "" {
		return nil, protocol.Errorf(protocol.CodeInvalidParams, "pane_id is required")
	}
	from := req.From
	switch from {
	case "", protocol.ReadFromStart, protocol.ReadFromEnd, protocol.ReadFromCursor:
	default:
		return nil, protocol.Errorf(protocol.CodeInvalidParams, `from must be "start", "end" or "cursor"`)
	}
	if from == "" {
		from = protocol.ReadFromEnd
	}
	p, err := d.manager.GetPane(req.PaneID)
	if err != nil {
		return nil, mapError(err)
	}
	lines := p.ReadOutput(from, req.Lines)
	resp := protocol.ReadPaneResponse{
		Data:  strings.Join(lines, "\n"),
		Lines: len(lines),
	}
	if from == protocol.ReadFromCursor {
		pos := p.CursorPosition()
		resp.Cursor = &pos
	}
	return resp, nil
}

func (d *Dispatcher) handlePaneSearch(_ Caller, params json.RawMessage) (any, *protocol.RPCError) {
	var req protocol.SearchPaneRequest
	if rpcErr := decodeParams(params, &req); rpcErr != nil {
		return nil, rpcErr
	}
	if req.PaneID == "" || req.Pattern == "" {
		return nil, protocol.Errorf(protocol.CodeInvalidParams, "pane_id and pattern are required")
	}
	p, err := d.manager.GetPane(req.PaneID)
	if err != nil {
		return nil, mapError(err)
	}
	matches := p.Search(req.Pattern, req.CaseInsensitive)
	if matches == nil {
		matches = []protocol.SearchMatch{}
	}
	return protocol.SearchPaneResponse{Matches: matches}, nil
}

func (d *Dispatcher) handlePaneKill(_ Caller, params json.RawMessage) (any, *protocol.RPCError) {
	var req protocol.KillPaneRequest
	if rpcErr := decodeParams(params, &req); rpcErr != nil {
		return nil, rpcErr
	}
	if req.PaneID == "" {
		return nil, protocol.Errorf(protocol.CodeInvalidParams, "pane_id is required")
	}
	if err := d.manager.KillPane(req.PaneID); err != nil {
		return nil, mapError(err)
	}
	return protocol.OK(), nil
}

func (d *Dispatcher) handlePaneList(_ Caller, params json.RawMessage) (any, *protocol.RPCError) {
	var req protocol.ListPanesRequest
	if rpcErr := decodeParams(params, &req); rpcErr != nil {
		return nil, rpcErr
	}
	if req.SessionID == "" {
		return nil, protocol.Errorf(protocol.CodeInvalidParams, "session_id is required")
	}
	panes, err := d.manager.ListPanes(req.SessionID)
	if err != nil {
		return nil, mapError(err)
	}
	if panes == nil {
		panes = []protocol.PaneInfo{}
	}
	return protocol.ListPanesResponse{Panes: panes}, nil
}

func (d *Dispatcher) handlePaneInfo(_ Caller, params json.RawMessage) (any, *protocol.RPCError) {
	var req protocol.PaneInfoRequest
	if rpcErr := decodeParams(params, &req); rpcErr != nil {
		return nil, rpcErr
	}
	if req.PaneID == "" {
		return nil, protocol.Errorf(protocol.CodeInvalidParams, "pane_id is required")
	}
	p, err := d.manager.GetPane(req.PaneID)
	if err != nil {
		return nil, mapError(err)
	}
	return protocol.GetPaneInfoResponse{Pane: p.Info()}, nil
}

func (d *Dispatcher) handlePaneRestart(_ Caller, params json.RawMessage) (any, *protocol.RPCError) {
	var req protocol.RestartPaneRequest
	if rpcErr := decodeParams(params, &req); rpcErr != nil {
		return nil, rpcErr
	}
	if req.PaneID == "" {
		return nil, protocol.Errorf(protocol.CodeInvalidParams, "pane_id is required")
	}
	pid, err := d.manager.RestartPane(req.PaneID)
	if err != nil {
		return nil, mapError(err)
	}
	p, err := d.manager.GetPane(req.PaneID)
	if err != nil {
		return nil, mapError(err)
	}
	info := p.Info()
	return protocol.CreatePaneResponse{
		PaneID:    info.PaneID,
		SessionID: info.SessionID,
		PaneType:  info.PaneType,
		PID:       pid,
	}, nil
}
