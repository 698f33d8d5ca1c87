package builtin

import (
	"context"
	"strings"
	"testing"

	"github.com/pocketomega/loco/internal/mcpwire"
	"github.com/pocketomega/loco/internal/tool"
)

func TestToWireConfig_Stdio(t *testing.T) {
	cfg, err := toWireConfig("alpha", mcpServerEntry{
		Transport: "stdio",
		Command:   "python3",
		Args:      []string{"server.py"},
		Env:       []string{"FOO=bar"},
	})
	if err != nil {
		t.Fatalf("toWireConfig: %v", err)
	}
	if cfg.Type != "command" || cfg.Command != "python3" || len(cfg.Args) != 1 {
		t.Errorf("unexpected wire config: %+v", cfg)
	}
}

func TestToWireConfig_SSE(t *testing.T) {
	cfg, err := toWireConfig("beta", mcpServerEntry{
		Transport: "sse",
		URL:       "http://localhost:9090",
	})
	if err != nil {
		t.Fatalf("toWireConfig: %v", err)
	}
	if cfg.Type != "http" || cfg.URL != "http://localhost:9090" {
		t.Errorf("unexpected wire config: %+v", cfg)
	}
}

func TestToWireConfig_UnknownTransport(t *testing.T) {
	_, err := toWireConfig("gamma", mcpServerEntry{Transport: "grpc"})
	if err == nil {
		t.Error("expected error for unknown transport")
	}
}

func TestMCPReloadTool_Name(t *testing.T) {
	rt := NewMCPReloadTool("mcp.json", mcpwire.NewManager(), tool.NewRegistry())
	if rt.Name() != "mcp_reload" {
		t.Errorf("Name() = %q, want mcp_reload", rt.Name())
	}
}

func TestMCPReloadTool_UnreachableServerSurfacesWarningNotError(t *testing.T) {
	path := writeTempMCPFile(t, `{"mcpServers":{"ghost":{"transport":"stdio","command":"does-not-exist-binary"}}}`)
	registry := tool.NewRegistry()
	manager := mcpwire.NewManager()
	rt := NewMCPReloadTool(path, manager, registry)

	result, err := rt.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute returned Go error; want ToolResult carrying the summary: %v", err)
	}
	if result.Error != "" {
		t.Fatalf("unexpected ToolResult.Error: %s", result.Error)
	}
	if !strings.Contains(result.Output, "WARNING") {
		t.Errorf("expected a WARNING notice for the unreachable server, got: %s", result.Output)
	}
}

func TestMCPReloadTool_BadMCPJSONTransport(t *testing.T) {
	path := writeTempMCPFile(t, `{"mcpServers":{"weird":{"transport":"grpc"}}}`)
	registry := tool.NewRegistry()
	manager := mcpwire.NewManager()
	rt := NewMCPReloadTool(path, manager, registry)

	result, err := rt.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if result.Error == "" {
		t.Error("expected ToolResult.Error for an mcp.json entry with an unknown transport")
	}
}

func TestMCPReloadTool_InitClose(t *testing.T) {
	rt := NewMCPReloadTool("mcp.json", mcpwire.NewManager(), tool.NewRegistry())
	if err := rt.Init(context.Background()); err != nil {
		t.Errorf("Init() error: %v", err)
	}
	if err := rt.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}
