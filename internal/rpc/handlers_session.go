package rpc

import (
	"encoding/json"

	"orchmux/internal/protocol"
)

func (d *Dispatcher) handleSessionCreate(_ Caller, params json.RawMessage) (any, *protocol.RPCError) {
	var req protocol.CreateSessionRequest
	if rpcErr := decodeParams(params, &req); rpcErr != nil {
		return nil, rpcErr
	}
	if req.Name == "" {
		return nil, protocol.Errorf(protocol.CodeInvalidParams, "name is required")
	}
	s, err := d.manager.CreateSession(req.Name, req.WorkingDir, req.Env)
	if err != nil {
		return nil, mapError(err)
	}
	rec := s.Record()
	return protocol.CreateSessionResponse{
		SessionID: rec.SessionID,
		Name:      rec.Name,
		CreatedAt: rec.CreatedAt,
	}, nil
}

func (d *Dispatcher) handleSessionList(_ Caller, _ json.RawMessage) (any, *protocol.RPCError) {
	sessions := d.manager.ListSessions()
	if sessions == nil {
		sessions = []protocol.SessionInfo{}
	}
	return protocol.ListSessionsResponse{Sessions: sessions}, nil
}

func (d *Dispatcher) handleSessionDelete(_ Caller, params json.RawMessage) (any, *protocol.RPCError) {
	var req protocol.DeleteSessionRequest
	if rpcErr := decodeParams(params, &req); rpcErr != nil {
		return nil, rpcErr
	}
	if req.SessionID == "" {
		return nil, protocol.Errorf(protocol.CodeInvalidParams, "session_id is required")
	}
	if err := d.manager.DeleteSession(req.SessionID); err != nil {
		return nil, mapError(err)
	}
	return protocol.OK(), nil
}

func (d *Dispatcher) handleSessionRename(_ Caller, params json.RawMessage) (any, *protocol.RPCError) {
	var req protocol.RenameSessionRequest
	if rpcErr := decodeParams(params, &req); rpcErr != nil {
		return nil, rpcErr
	}
	if req.SessionID == "" || req.Name == "" {
		return nil, protocol.Errorf(protocol.CodeInvalidParams, "session_id and name are required")
	}
	if err := d.manager.RenameSession(req.SessionID, req.Name); err != nil {
		return nil, mapError(err)
	}
	return protocol.OK(), nil
}

func (d *Dispatcher) handleSessionSetActive(_ Caller, params json.RawMessage) (any, *protocol.RPCError) {
	var req protocol.SetActivePaneRequest
	if rpcErr := decodeParams(params, &req); rpcErr != nil {
		return nil, rpcErr
	}
	if req.SessionID == "" || req.PaneID == "" {
		return nil, protocol.Errorf(protocol.CodeInvalidParams, "session_id and pane_id are required")
	}
	if err := d.manager.SetActivePane(req.SessionID, req.PaneID); err != nil {
		return nil, mapError(err)
	}
	return protocol.OK(), nil
}

func (d *Dispatcher) handleLayoutSet(_ Caller, params json.RawMessage) (any, *protocol.RPCError) {
	var req protocol.SetLayoutRequest
	if rpcErr := decodeParams(params, &req); rpcErr != nil {
		return nil, rpcErr
	}
	if req.SessionID == "" || len(req.Layout) == 0 {
		return nil, protocol.Errorf(protocol.CodeInvalidParams, "session_id and layout are required")
	}
	node, err := protocol.ValidateLayout(req.Layout)
	if err != nil {
		return nil, protocol.Errorf(protocol.CodeInvalidParams, err.Error())
	}
	if err := d.manager.SetLayout(req.SessionID, node, req.Layout); err != nil {
		return nil, mapError(err)
	}
	return protocol.OK(), nil
}
