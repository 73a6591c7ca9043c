package rpc

import (
	"encoding/json"
	"fmt"

	"orchmux/internal/mux"
	"orchmux/internal/protocol"
)

func (d *Dispatcher) cursorPane(paneID string) (*mux.Pane, *protocol.RPCError) {
	if paneID == "" {
		return nil, protocol.Errorf(protocol.CodeInvalidParams, "pane_id is required")
	}
	p, err := d.manager.GetPane(paneID)
	if err != nil {
		return nil, mapError(err)
	}
	return p, nil
}

func (d *Dispatcher) handleCursorGet(_ Caller, params json.RawMessage) (any, *protocol.RPCError) {
	var req protocol.CursorRequest
	if rpcErr := decodeParams(params, &req); rpcErr != nil {
		return nil, rpcErr
	}
	p, rpcErr := d.cursorPane(req.PaneID)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return p.CursorGet(), nil
}

func (d *Dispatcher) handleCursorSet(_ Caller, params json.RawMessage) (any, *protocol.RPCError) {
	var req protocol.SetCursorRequest
	if rpcErr := decodeParams(params, &req); rpcErr != nil {
		return nil, rpcErr
	}
	p, rpcErr := d.cursorPane(req.PaneID)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := p.CursorSet(req.Position); err != nil {
		return nil, mapError(err)
	}
	return protocol.OK(), nil
}

func (d *Dispatcher) handleCursorQuery(_ Caller, params json.RawMessage) (any, *protocol.RPCError) {
	return d.cursorSimple(params, (*mux.Pane).CursorQuery)
}

func (d *Dispatcher) handleCursorSave(_ Caller, params json.RawMessage) (any, *protocol.RPCError) {
	return d.cursorSimple(params, (*mux.Pane).CursorSave)
}

func (d *Dispatcher) handleCursorRestore(_ Caller, params json.RawMessage) (any, *protocol.RPCError) {
	return d.cursorSimple(params, (*mux.Pane).CursorRestore)
}

func (d *Dispatcher) handleCursorReset(_ Caller, params json.RawMessage) (any, *protocol.RPCError) {
	return d.cursorSimple(params, (*mux.Pane).CursorReset)
}

func (d *Dispatcher) cursorSimple(params json.RawMessage, op func(*mux.Pane) error) (any, *protocol.RPCError) {
	var req protocol.CursorRequest
	if rpcErr := decodeParams(params, &req); rpcErr != nil {
		return nil, rpcErr
	}
	p, rpcErr := d.cursorPane(req.PaneID)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := op(p); err != nil {
		return nil, mapError(err)
	}
	return protocol.OK(), nil
}

// handleCursorBatch runs each operation in order. Per-op failures land in
// the per-op result; the batch itself only fails on malformed params.
func (d *Dispatcher) handleCursorBatch(_ Caller, params json.RawMessage) (any, *protocol.RPCError) {
	var req protocol.CursorBatchRequest
	if rpcErr := decodeParams(params, &req); rpcErr != nil {
		return nil, rpcErr
	}
	if len(req.Operations) == 0 {
		return nil, protocol.Errorf(protocol.CodeInvalidParams, "operations is required")
	}
	results := make([]protocol.CursorOperationResult, 0, len(req.Operations))
	for _, op := range req.Operations {
		results = append(results, d.runCursorOp(op))
	}
	return protocol.CursorBatchResponse{Results: results}, nil
}

func (d *Dispatcher) runCursorOp(op protocol.CursorBatchOperation) protocol.CursorOperationResult {
	res := protocol.CursorOperationResult{Op: op.Op}
	p, rpcErr := d.cursorPane(op.PaneID)
	if rpcErr != nil {
		res.Error = rpcErr.Message
		return res
	}
	var err error
	switch op.Op {
	case protocol.CursorOpGet:
		payload, marshalErr := json.Marshal(p.CursorGet())
		if marshalErr != nil {
			err = marshalErr
			break
		}
		res.Result = payload
	case protocol.CursorOpSet:
		if op.Position == nil {
			res.Error = "position is required for set"
			return res
		}
		err = p.CursorSet(*op.Position)
	case protocol.CursorOpQuery:
		err = p.CursorQuery()
	case protocol.CursorOpSave:
		err = p.CursorSave()
	case protocol.CursorOpRestore:
		err = p.CursorRestore()
	case protocol.CursorOpReset:
		err = p.CursorReset()
	default:
		res.Error = fmt.Sprintf("unknown cursor op %q", op.Op)
		return res
	}
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Success = true
	return res
}
