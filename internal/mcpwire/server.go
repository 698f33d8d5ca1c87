package mcpwire

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pocketomega/loco/internal/tool"
)

// Server answers initialize, tools/list, and tools/call against a
// tool.Registry, speaking the protocol over any Transport. Until
// initialize succeeds, every other method is rejected.
type Server struct {
	registry    *tool.Registry
	name        string
	version     string
	initialized bool
}

// NewServer constructs a Server that advertises the given registry's tools.
func NewServer(registry *tool.Registry, name, version string) *Server {
	return &Server{registry: registry, name: name, version: version}
}

// Serve runs the request/notification loop over t until its Incoming
// channel closes (transport closed or errored). It never returns an error
// for per-request failures — those are reported as JSON-RPC error envelopes
// or, for tools/call, as isError results — only for the transport itself
// failing to end cleanly.
func (s *Server) Serve(ctx context.Context, t Transport) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-t.Incoming():
			if !ok {
				return t.Err()
			}
			s.handle(ctx, t, raw)
		}
	}
}

func (s *Server) handle(ctx context.Context, t Transport, raw json.RawMessage) {
	env, err := classify(raw)
	if err != nil {
		return // malformed input is already diagnosed by the transport framer
	}

	switch msg := env.(type) {
	case *Notification:
		s.handleNotification(msg)
	case *Request:
		resp := s.handleRequest(ctx, msg)
		encoded, err := marshalEnvelope(resp)
		if err != nil {
			return
		}
		_ = t.Send(encoded)
	case *Response:
		// A server never receives unsolicited responses; ignore.
	}
}

func (s *Server) handleNotification(n *Notification) {
	// notifications/initialized is accepted and ignored, per the handshake.
	_ = n
}

func (s *Server) handleRequest(ctx context.Context, req *Request) *Response {
	if req.Method != "initialize" && !s.initialized {
		return errorResponse(req.ID, CodeInternalError, "mcpwire: server not initialized")
	}

	switch req.Method {
	case "initialize":
		return s.doInitialize(req)
	case "tools/list":
		return s.doListTools(req)
	case "tools/call":
		return s.doCallTool(ctx, req)
	default:
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("mcpwire: method %q not found", req.Method))
	}
}

func (s *Server) doInitialize(req *Request) *Response {
	s.initialized = true
	result := InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    Capabilities{Tools: json.RawMessage("{}")},
		ServerInfo:      Implementation{Name: s.name, Version: s.version},
	}
	return resultResponse(req.ID, result)
}

func (s *Server) doListTools(req *Request) *Response {
	defs := s.registry.Definitions()
	infos := make([]ToolInfo, len(defs))
	for i, d := range defs {
		schema := d.Parameters
		if len(schema) == 0 {
			schema = json.RawMessage("{}")
		}
		infos[i] = ToolInfo{Name: d.Name, Description: d.Description, InputSchema: schema}
	}
	return resultResponse(req.ID, ListToolsResult{Tools: infos})
}

func (s *Server) doCallTool(ctx context.Context, req *Request) *Response {
	var params CallToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, CodeInternalError, fmt.Sprintf("mcpwire: parse tools/call params: %v", err))
	}

	argsJSON, err := json.Marshal(params.Arguments)
	if err != nil {
		argsJSON = json.RawMessage("{}")
	}

	result := s.registry.Execute(ctx, params.Name, argsJSON)
	if result.Error != "" {
		return resultResponse(req.ID, CallToolResult{
			Content: []ContentBlock{{Type: "text", Text: result.Error}},
			IsError: true,
		})
	}
	return resultResponse(req.ID, CallToolResult{
		Content: []ContentBlock{{Type: "text", Text: result.Output}},
	})
}

func resultResponse(id int64, result any) *Response {
	raw, err := json.Marshal(result)
	if err != nil {
		return errorResponse(id, CodeInternalError, fmt.Sprintf("mcpwire: marshal result: %v", err))
	}
	return &Response{JSONRPC: "2.0", ID: id, Result: raw}
}

func errorResponse(id int64, code int, message string) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}}
}
