package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/pocketomega/loco/internal/tool"
)

// mcpConfig mirrors the top-level structure of mcp.json for read/write access,
// used by the server management tools (mcp_server_add/remove/list).
type mcpConfig struct {
	MCPServers map[string]mcpServerEntry `json:"mcpServers"`
}

// mcpServerEntry is the JSON representation of a single server in mcp.json.
type mcpServerEntry struct {
	Transport string            `json:"transport"`
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	URL       string            `json:"url,omitempty"`
	Env       []string          `json:"env,omitempty"`
	Lifecycle string            `json:"lifecycle,omitempty"`
	Meta      map[string]string `json:"_meta,omitempty"`
}

// readMCPConfig reads and parses mcp.json, returning an empty server map if
// the file doesn't exist yet.
func readMCPConfig(path string) (mcpConfig, error) {
	cfg := mcpConfig{MCPServers: make(map[string]mcpServerEntry)}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read mcp.json: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse mcp.json: %w", err)
	}
	if cfg.MCPServers == nil {
		cfg.MCPServers = make(map[string]mcpServerEntry)
	}
	return cfg, nil
}

// writeMCPConfig serialises cfg to path with indentation.
func writeMCPConfig(path string, cfg mcpConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize mcp.json: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write mcp.json: %w", err)
	}
	return nil
}

// ── mcp_server_add ──

// MCPServerAddTool registers a new MCP server entry in mcp.json.
type MCPServerAddTool struct {
	mcpConfigPath string
}

func NewMCPServerAddTool(mcpConfigPath string) *MCPServerAddTool {
	return &MCPServerAddTool{mcpConfigPath: mcpConfigPath}
}

func (t *MCPServerAddTool) Name() string { return "mcp_server_add" }
func (t *MCPServerAddTool) Description() string {
	return "Registers a new MCP server entry in mcp.json. Call mcp_reload afterward to " +
		"take effect. Fails if the name already exists; use mcp_server_remove first."
}

func (t *MCPServerAddTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "name", Type: "string", Required: true,
			Description: "globally unique server name (mcp.json map key), e.g. excel-tool"},
		tool.SchemaParam{Name: "transport", Type: "string", Required: true,
			Description: `transport: "stdio" (local process) or "sse" (HTTP SSE)`,
			Enum:        []string{"stdio", "sse"}},
		tool.SchemaParam{Name: "command", Type: "string",
			Description: "stdio only: executable path or name, e.g. node"},
		tool.SchemaParam{Name: "args", Type: "string",
			Description: `stdio only: command-line args as a JSON array string, e.g. ["--import","tsx","server.ts"]`},
		tool.SchemaParam{Name: "url", Type: "string",
			Description: "sse only: the SSE server URL, e.g. http://localhost:8080"},
		tool.SchemaParam{Name: "env", Type: "string",
			Description: `stdio only: extra environment variables as a JSON array string, e.g. ["API_KEY=abc123"]`},
		tool.SchemaParam{Name: "lifecycle", Type: "string",
			Description: `"persistent" (default, process stays alive) or "per_call" (new process per invocation)`,
			Enum:        []string{"persistent", "per_call"}},
	)
}

type mcpServerAddArgs struct {
	Name      string `json:"name"`
	Transport string `json:"transport"`
	Command   string `json:"command"`
	Args      string `json:"args"` // JSON-encoded []string
	URL       string `json:"url"`
	Env       string `json:"env"` // JSON-encoded []string
	Lifecycle string `json:"lifecycle"`
}

func (t *MCPServerAddTool) Execute(_ context.Context, raw json.RawMessage) (tool.ToolResult, error) {
	var a mcpServerAddArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("Error: failed to parse arguments: %v", err)}, nil
	}

	if a.Name == "" {
		return tool.ToolResult{Error: "Error: name must not be empty"}, nil
	}
	if a.Transport != "stdio" && a.Transport != "sse" {
		return tool.ToolResult{Error: fmt.Sprintf(`Error: transport must be "stdio" or "sse", got %q`, a.Transport)}, nil
	}

	var args, env []string
	if a.Args != "" {
		if err := json.Unmarshal([]byte(a.Args), &args); err != nil {
			return tool.ToolResult{Error: fmt.Sprintf(`Error: args must be a JSON array string (e.g. ["a","b"]): %v`, err)}, nil
		}
	}
	if a.Env != "" {
		if err := json.Unmarshal([]byte(a.Env), &env); err != nil {
			return tool.ToolResult{Error: fmt.Sprintf(`Error: env must be a JSON array string (e.g. ["KEY=VAL"]): %v`, err)}, nil
		}
	}

	cfg, err := readMCPConfig(t.mcpConfigPath)
	if err != nil {
		return tool.ToolResult{Error: "Error: " + err.Error()}, nil
	}

	if _, exists := cfg.MCPServers[a.Name]; exists {
		return tool.ToolResult{
			Error: fmt.Sprintf("Error: server %q already exists — remove it with mcp_server_remove before re-registering", a.Name),
		}, nil
	}

	entry := mcpServerEntry{
		Transport: a.Transport,
		Command:   a.Command,
		Args:      args,
		URL:       a.URL,
		Env:       env,
		Lifecycle: a.Lifecycle,
		Meta:      map[string]string{"origin": "agent"},
	}
	cfg.MCPServers[a.Name] = entry

	if err := writeMCPConfig(t.mcpConfigPath, cfg); err != nil {
		return tool.ToolResult{Error: "Error: " + err.Error()}, nil
	}

	lifecycle := a.Lifecycle
	if lifecycle == "" {
		lifecycle = "persistent (default)"
	}
	return tool.ToolResult{
		Output: fmt.Sprintf(
			"Wrote server %q to mcp.json (transport=%s, lifecycle=%s). Call mcp_reload to take effect.",
			a.Name, a.Transport, lifecycle),
	}, nil
}

func (t *MCPServerAddTool) Init(_ context.Context) error { return nil }
func (t *MCPServerAddTool) Close() error                 { return nil }

// ── mcp_server_remove ──

// MCPServerRemoveTool removes an MCP server entry from mcp.json.
type MCPServerRemoveTool struct {
	mcpConfigPath string
}

func NewMCPServerRemoveTool(mcpConfigPath string) *MCPServerRemoveTool {
	return &MCPServerRemoveTool{mcpConfigPath: mcpConfigPath}
}

func (t *MCPServerRemoveTool) Name() string { return "mcp_server_remove" }
func (t *MCPServerRemoveTool) Description() string {
	return "Removes an MCP server entry from mcp.json. Call mcp_reload afterward to take " +
		"effect. Destructive: requires confirm=\"yes\" to prevent accidental removal."
}

func (t *MCPServerRemoveTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "name", Type: "string", Required: true,
			Description: "the server name to remove (mcp.json map key), e.g. excel-tool"},
		tool.SchemaParam{Name: "confirm", Type: "string", Required: true,
			Description: `safety confirmation — must be exactly "yes" to proceed`},
	)
}

type mcpServerRemoveArgs struct {
	Name    string `json:"name"`
	Confirm string `json:"confirm"`
}

func (t *MCPServerRemoveTool) Execute(_ context.Context, raw json.RawMessage) (tool.ToolResult, error) {
	var a mcpServerRemoveArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("Error: failed to parse arguments: %v", err)}, nil
	}
	if a.Name == "" {
		return tool.ToolResult{Error: "Error: name must not be empty"}, nil
	}
	if a.Confirm != "yes" {
		return tool.ToolResult{
			Error: fmt.Sprintf(
				"Error: removing server %q will unregister all of its tools and requires mcp_reload. "+
					"Retry with confirm=\"yes\" to proceed.", a.Name),
		}, nil
	}

	cfg, err := readMCPConfig(t.mcpConfigPath)
	if err != nil {
		return tool.ToolResult{Error: "Error: " + err.Error()}, nil
	}

	if _, exists := cfg.MCPServers[a.Name]; !exists {
		return tool.ToolResult{
			Error: fmt.Sprintf("Error: server %q not found in mcp.json — check mcp_server_list", a.Name),
		}, nil
	}

	delete(cfg.MCPServers, a.Name)
	if err := writeMCPConfig(t.mcpConfigPath, cfg); err != nil {
		return tool.ToolResult{Error: "Error: " + err.Error()}, nil
	}

	return tool.ToolResult{
		Output: fmt.Sprintf("Removed server %q from mcp.json. Call mcp_reload to take effect (its running process, if any, is shut down on reload).", a.Name),
	}, nil
}

func (t *MCPServerRemoveTool) Init(_ context.Context) error { return nil }
func (t *MCPServerRemoveTool) Close() error                 { return nil }

// ── mcp_server_list ──

// MCPServerListTool reads mcp.json and returns all registered server entries.
type MCPServerListTool struct {
	mcpConfigPath string
}

func NewMCPServerListTool(mcpConfigPath string) *MCPServerListTool {
	return &MCPServerListTool{mcpConfigPath: mcpConfigPath}
}

func (t *MCPServerListTool) Name() string { return "mcp_server_list" }
func (t *MCPServerListTool) Description() string {
	return "Lists all MCP servers registered in mcp.json, including lifecycle and origin " +
		"metadata. Call this before adding a server to confirm the name is free."
}

func (t *MCPServerListTool) InputSchema() json.RawMessage {
	return tool.BuildSchema()
}

func (t *MCPServerListTool) Execute(_ context.Context, _ json.RawMessage) (tool.ToolResult, error) {
	cfg, err := readMCPConfig(t.mcpConfigPath)
	if err != nil {
		return tool.ToolResult{Error: "Error: " + err.Error()}, nil
	}

	if len(cfg.MCPServers) == 0 {
		return tool.ToolResult{Output: "No servers registered in mcp.json."}, nil
	}

	type row struct {
		name      string
		transport string
		lifecycle string
		origin    string
		command   string
		meta      string
	}
	rows := make([]row, 0, len(cfg.MCPServers))
	for name, e := range cfg.MCPServers {
		lc := e.Lifecycle
		if lc == "" {
			lc = "persistent"
		}
		origin := e.Meta["origin"]
		if origin == "" {
			origin = "user"
		}
		cmd := e.Command
		if len(e.Args) > 0 {
			argsBytes, _ := json.Marshal(e.Args)
			cmd += " " + string(argsBytes)
		}
		if e.URL != "" {
			cmd = e.URL
		}
		var meta []string
		for k, v := range e.Meta {
			if k != "origin" {
				meta = append(meta, k+"="+v)
			}
		}
		sort.Strings(meta)
		rows = append(rows, row{name: name, transport: e.Transport, lifecycle: lc, origin: origin, command: cmd, meta: strings.Join(meta, ", ")})
	}

	for i := 0; i < len(rows)-1; i++ {
		for j := i + 1; j < len(rows); j++ {
			if rows[i].name > rows[j].name {
				rows[i], rows[j] = rows[j], rows[i]
			}
		}
	}

	out := fmt.Sprintf("%d servers registered in mcp.json (read at %s):\n\n",
		len(rows), time.Now().Format("2006-01-02 15:04:05"))
	for _, r := range rows {
		out += fmt.Sprintf("- %s\n  transport=%s  lifecycle=%s  origin=%s\n",
			r.name, r.transport, r.lifecycle, r.origin)
		if r.meta != "" {
			out += fmt.Sprintf("  meta: %s\n", r.meta)
		}
		out += fmt.Sprintf("  cmd: %s\n\n", r.command)
	}

	return tool.ToolResult{Output: out}, nil
}

func (t *MCPServerListTool) Init(_ context.Context) error { return nil }
func (t *MCPServerListTool) Close() error                 { return nil }
