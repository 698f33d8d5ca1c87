// Package mcpwire implements the JSON-RPC 2.0 dialect used by the
// external-tool protocol: envelope types, line/SSE framing, and the three
// transports (stdio, child process, HTTP+SSE) that carry them. Server and
// Client in this package speak the protocol itself; internal/mcpadapter
// bridges a remote Client's tools into the local tool.Registry.
package mcpwire

import "encoding/json"

// ProtocolVersion is the dialect string exchanged during initialize.
const ProtocolVersion = "2024-11-05"

// Standard JSON-RPC 2.0 error codes used by the Server.
const (
	CodeMethodNotFound = -32601
	CodeInternalError  = -32603
)

// Request is a JSON-RPC call expecting a Response keyed by the same ID.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response answers exactly one Request. Exactly one of Result/Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// Notification carries no ID and expects no reply.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// RPCError is the JSON-RPC error envelope.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return e.Message }

// envelopeShape is used to classify an incoming raw JSON-RPC message: a
// Request/Notification carries "method"; a Response carries "result" or
// "error". Requests are distinguished from Notifications by the presence
// of "id".
type envelopeShape struct {
	ID     *int64          `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// classify decodes raw far enough to determine its envelope kind and
// returns the typed value: *Request, *Notification, or *Response.
func classify(raw json.RawMessage) (any, error) {
	var shape envelopeShape
	if err := json.Unmarshal(raw, &shape); err != nil {
		return nil, err
	}

	if shape.Method != "" {
		if shape.ID != nil {
			var req Request
			if err := json.Unmarshal(raw, &req); err != nil {
				return nil, err
			}
			return &req, nil
		}
		var note Notification
		if err := json.Unmarshal(raw, &note); err != nil {
			return nil, err
		}
		return &note, nil
	}

	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func marshalEnvelope(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}

// InitializeParams is the payload of the initialize method call.
type InitializeParams struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    json.RawMessage `json:"capabilities,omitempty"`
	ClientInfo      Implementation  `json:"clientInfo"`
}

// Implementation identifies the client or server side of a handshake.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult is the payload returned from a successful initialize.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    Capabilities   `json:"capabilities"`
	ServerInfo      Implementation `json:"serverInfo"`
}

// Capabilities advertises the server capability set. Only "tools" is
// meaningful here.
type Capabilities struct {
	Tools json.RawMessage `json:"tools"`
}

// ToolInfo describes one tool as advertised over tools/list.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ListToolsResult is the payload returned from tools/list.
type ListToolsResult struct {
	Tools []ToolInfo `json:"tools"`
}

// CallToolParams is the payload sent to tools/call.
type CallToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ContentBlock is one item of a tools/call result's content array.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CallToolResult is the payload returned from tools/call. Both
// infrastructure errors and tool-level failures set IsError — a tools/call
// never returns a JSON-RPC error envelope.
type CallToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}
