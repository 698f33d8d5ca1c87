package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pocketomega/loco/internal/mcpwire"
	"github.com/pocketomega/loco/internal/tool"
)

// MCPReloadTool implements the "mcp_reload" built-in command. When invoked
// by the agent it re-reads mcp.json and diffs it against the manager's
// current connections: new servers are scanned (if stdio Python) then
// connected and registered, removed servers are unregistered and
// disconnected, and unchanged servers are left untouched.
//
// The tool takes no input parameters and returns a human-readable summary.
type MCPReloadTool struct {
	mcpConfigPath string
	manager       *mcpwire.Manager
	registry      *tool.Registry
}

// NewMCPReloadTool creates an MCPReloadTool wired to the given manager and
// registry, reading server definitions from the mcp.json at mcpConfigPath.
func NewMCPReloadTool(mcpConfigPath string, manager *mcpwire.Manager, registry *tool.Registry) *MCPReloadTool {
	return &MCPReloadTool{mcpConfigPath: mcpConfigPath, manager: manager, registry: registry}
}

func (t *MCPReloadTool) Name() string { return "mcp_reload" }

func (t *MCPReloadTool) Description() string {
	return "Reloads the MCP server configuration from mcp.json. " +
		"Connects new servers, disconnects removed servers, and registers the tools of newly connected servers. " +
		"New stdio servers pointing at a Python script are security-scanned before activation. " +
		"Returns a summary of changes made."
}

// InputSchema returns an empty schema — mcp_reload accepts no arguments.
func (t *MCPReloadTool) InputSchema() json.RawMessage {
	return tool.BuildSchema()
}

// Execute re-reads mcp.json, converts it to mcpwire.ServerConfig entries,
// and triggers the manager's diff-based reload.
func (t *MCPReloadTool) Execute(ctx context.Context, _ json.RawMessage) (tool.ToolResult, error) {
	cfg, err := readMCPConfig(t.mcpConfigPath)
	if err != nil {
		return tool.ToolResult{Error: "Error: " + err.Error()}, nil
	}

	configs := make(map[string]mcpwire.ServerConfig, len(cfg.MCPServers))
	for name, entry := range cfg.MCPServers {
		wireCfg, err := toWireConfig(name, entry)
		if err != nil {
			return tool.ToolResult{Error: fmt.Sprintf("Error: mcp.json entry %q: %v", name, err)}, nil
		}
		configs[name] = wireCfg
	}

	summary, err := t.manager.Reload(ctx, t.registry, configs)
	if err != nil {
		return tool.ToolResult{Error: err.Error()}, nil
	}
	return tool.ToolResult{Output: summary}, nil
}

// toWireConfig translates mcp.json's transport vocabulary ("stdio"/"sse")
// into mcpwire.ServerConfig's ("command"/"http").
func toWireConfig(name string, e mcpServerEntry) (mcpwire.ServerConfig, error) {
	switch e.Transport {
	case "stdio":
		return mcpwire.ServerConfig{
			Name:    name,
			Type:    "command",
			Command: e.Command,
			Args:    e.Args,
			Env:     e.Env,
		}, nil
	case "sse":
		return mcpwire.ServerConfig{
			Name: name,
			Type: "http",
			URL:  e.URL,
		}, nil
	default:
		return mcpwire.ServerConfig{}, fmt.Errorf("unknown transport %q", e.Transport)
	}
}

// Init is a no-op; MCPReloadTool has no additional initialization requirements.
func (t *MCPReloadTool) Init(_ context.Context) error { return nil }

// Close is a no-op; lifecycle is managed by the Manager.
func (t *MCPReloadTool) Close() error { return nil }
