// Package mcpadapter bridges a remote MCP server's tools into the local
// tool registry, so a remote tool is indistinguishable from a built-in one
// to the Turn Driver.
package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pocketomega/loco/internal/mcpwire"
	"github.com/pocketomega/loco/internal/tool"
)

// callTimeout caps a single remote tool call so a hung MCP server fails
// quickly and returns control to the turn rather than consuming the whole
// turn budget.
const callTimeout = 60 * time.Second

// Adapter wraps one remote ToolInfo plus the owning Client, implementing
// tool.Tool. The owning Client is an ownership relation: once the session
// is closed, every Adapter built from it fails its next Execute call.
//
// Naming: mcp_<server>__<tool>. The double underscore cannot occur within
// either a bare server or tool name, so it unambiguously separates them
// even when either name itself contains single underscores.
type Adapter struct {
	serverName string
	info       mcpwire.ToolInfo
	client     *mcpwire.Client
}

// New constructs an Adapter for one remote tool, owned by client.
func New(serverName string, info mcpwire.ToolInfo, client *mcpwire.Client) *Adapter {
	return &Adapter{serverName: serverName, info: info, client: client}
}

// Name returns the fully-qualified tool name: mcp_<server>__<tool>.
func (a *Adapter) Name() string {
	return fmt.Sprintf("mcp_%s__%s", a.serverName, a.info.Name)
}

// Description returns the description advertised by the remote server.
func (a *Adapter) Description() string { return a.info.Description }

// InputSchema returns the JSON Schema advertised by the remote server.
func (a *Adapter) InputSchema() json.RawMessage {
	if len(a.info.InputSchema) == 0 {
		return tool.BuildSchema()
	}
	return a.info.InputSchema
}

// Execute marshals args onto the owning Client's transport and awaits the
// remote reply (or a transport error / timeout). Both categories surface
// as a ToolResult.Error, never a Go error, so the Turn Driver always gets
// exactly one tool-role message per call.
func (a *Adapter) Execute(ctx context.Context, args json.RawMessage) (tool.ToolResult, error) {
	var params map[string]any
	if len(args) > 0 && string(args) != "null" {
		if err := json.Unmarshal(args, &params); err != nil {
			return tool.ToolResult{Error: fmt.Sprintf("mcpadapter: parse args for %q: %v", a.Name(), err)}, nil
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	text, err := a.client.CallTool(callCtx, a.info.Name, params)
	if err != nil {
		return tool.ToolResult{Error: err.Error()}, nil
	}
	return tool.ToolResult{Output: text}, nil
}

// Init satisfies tool.Tool. The owning Client's connection lifecycle is
// managed by mcpwire.Manager; an Adapter has no additional initialization.
func (a *Adapter) Init(_ context.Context) error { return nil }

// Close satisfies tool.Tool. Connection lifecycle belongs to the Manager;
// an Adapter does not close the shared Client.
func (a *Adapter) Close() error { return nil }
