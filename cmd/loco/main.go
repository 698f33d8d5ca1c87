// Command loco is the terminal entry point for the agent execution core: a
// line-oriented REPL wired to the Turn Driver, with built-in tools, rewind,
// and (when configured) MCP servers.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/pocketomega/loco/internal/config"
	"github.com/pocketomega/loco/internal/mcpwire"
	"github.com/pocketomega/loco/internal/render"
	"github.com/pocketomega/loco/internal/rewind"
	"github.com/pocketomega/loco/internal/snapshot"
	"github.com/pocketomega/loco/internal/tool"
	"github.com/pocketomega/loco/internal/tool/builtin"
	"github.com/pocketomega/loco/internal/turndriver"
)

const version = "0.1.0"

func main() {
	config.LoadEnv()

	configPath := flag.String("config", "loco.yaml", "path to the YAML configuration file")
	modelFlag := flag.String("model", "", "model name or alias to use (overrides default_model)")
	workspaceFlag := flag.String("workspace", "", "workspace directory (defaults to $WORKSPACE_DIR or the current directory)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loco: load config: %v", err)
	}

	workspaceDir := *workspaceFlag
	if workspaceDir == "" {
		workspaceDir = os.Getenv("WORKSPACE_DIR")
	}
	if workspaceDir == "" {
		workspaceDir, _ = os.Getwd()
	}
	if info, err := os.Stat(workspaceDir); err != nil || !info.IsDir() {
		log.Fatalf("loco: workspace %q does not exist or is not a directory", workspaceDir)
	}

	service, resolvedModel, err := buildCompletionService(cfg, *modelFlag)
	if err != nil {
		log.Fatalf("loco: build completion service: %v", err)
	}

	registry := tool.NewRegistry()
	shellEnabled := os.Getenv("TOOL_SHELL_ENABLED") != "false"
	registry.Register(builtin.NewShellTool(workspaceDir, shellEnabled))
	registry.Register(builtin.NewFileReadTool(workspaceDir))
	registry.Register(builtin.NewFileWriteTool(workspaceDir))
	registry.Register(builtin.NewFileEditTool(workspaceDir))
	registry.Register(builtin.NewFileFindTool(workspaceDir))
	registry.Register(builtin.NewFileGrepTool(workspaceDir))
	registry.Register(builtin.NewWebReaderTool())

	mcpConfigPath := os.Getenv("MCP_CONFIG")
	if mcpConfigPath == "" {
		mcpConfigPath = "mcp.json"
	}
	registry.Register(builtin.NewMCPServerAddTool(mcpConfigPath))
	registry.Register(builtin.NewMCPServerRemoveTool(mcpConfigPath))
	registry.Register(builtin.NewMCPServerListTool(mcpConfigPath))

	if err := registry.InitAll(context.Background()); err != nil {
		log.Fatalf("loco: init tools: %v", err)
	}
	defer registry.CloseAll()

	mcpMgr := mcpwire.NewManager()
	registry.Register(builtin.NewMCPReloadTool(mcpConfigPath, mcpMgr, registry))
	if configs, errs := cfg.MCPServerConfigs(); len(configs) > 0 {
		for _, e := range errs {
			log.Printf("loco: mcp config: %v", e)
		}
		n, connectErrs := mcpMgr.ConnectAll(context.Background(), configs)
		for _, e := range connectErrs {
			log.Printf("loco: mcp connect: %v", e)
		}
		if n > 0 {
			if err := mcpMgr.RegisterTools(context.Background(), registry); err != nil {
				log.Printf("loco: mcp register tools: %v", err)
			}
			fmt.Printf("mcp: %d server(s) connected\n", n)
		}
	}
	defer mcpMgr.CloseAll()

	var rewindMgr *rewind.Manager
	if cfg.RewindEnabled {
		sessionDir := filepath.Join(workspaceDir, ".loco", "session")
		if err := os.MkdirAll(sessionDir, 0o755); err != nil {
			log.Printf("loco: rewind disabled: %v", err)
		} else {
			store := snapshot.NewStore(sessionDir)
			rewindMgr, err = rewind.NewManager(store, "default", workspaceDir)
			if err != nil {
				log.Printf("loco: rewind disabled: %v", err)
			}
		}
	}

	conv := newConversationForModel(resolvedModel)
	state := &turndriver.TurnState{
		Conversation: conv,
		Registry:     registry,
		Rewind:       rewindMgr,
		Hooks:        cfg.BuildHooks(),
		Model:        resolvedModel,
		LoopGuard:    turndriver.NewLoopGuard(50),
	}

	driver := turndriver.NewDriver(service)
	repl := newREPLWithStreaming(driver, state, os.Stdin, os.Stdout)

	render.Banner(os.Stdout, version, resolvedModel, providerBaseURL(cfg), workspaceDir)
	fmt.Printf("tools: %d registered\n", len(registry.List()))

	if err := repl.Run(context.Background()); err != nil {
		log.Fatalf("loco: %v", err)
	}
}
