package mcpwire

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/pocketomega/loco/internal/mcpadapter"
	"github.com/pocketomega/loco/internal/tool"
)

// clientName/clientVersion identify loco itself during the initialize
// handshake with a remote server.
const (
	clientName    = "loco"
	clientVersion = "0.1.0"
)

// Manager owns the lifecycle of every remote MCP server connection and is
// the single source of truth for which servers are active and which tool
// adapters are registered in the tool.Registry.
//
// State changes are guarded by mu; all network I/O (dialing, initialize,
// tools/list) runs outside the lock so a slow or hung server cannot block
// other Manager operations.
type Manager struct {
	mu          sync.Mutex
	configs     map[string]ServerConfig
	clients     map[string]*Client
	serverTools map[string][]string
}

// NewManager creates an empty Manager. No connections are established
// until ConnectAll is called.
func NewManager() *Manager {
	return &Manager{
		configs:     make(map[string]ServerConfig),
		clients:     make(map[string]*Client),
		serverTools: make(map[string][]string),
	}
}

// ConnectAll dials, initializes, and records every server in configs.
// Per-server failures are collected and do not prevent other servers from
// connecting. Returns the count of servers successfully connected.
func (m *Manager) ConnectAll(ctx context.Context, configs map[string]ServerConfig) (int, []error) {
	type connResult struct {
		name string
		cfg  ServerConfig
		cli  *Client
		err  error
	}

	results := make([]connResult, 0, len(configs))
	for name, cfg := range configs {
		cli, err := connectOne(ctx, cfg)
		if err != nil {
			results = append(results, connResult{name: name, err: err})
			log.Printf("[mcpwire] connect failed: %s: %v", name, err)
			continue
		}
		results = append(results, connResult{name: name, cfg: cfg, cli: cli})
		log.Printf("[mcpwire] connected: %s (%s)", name, cfg.Type)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	connected := 0
	for _, r := range results {
		if r.err != nil {
			errs = append(errs, fmt.Errorf("server %q: %w", r.name, r.err))
			continue
		}
		m.clients[r.name] = r.cli
		m.configs[r.name] = r.cfg
		connected++
	}
	return connected, errs
}

// dialServer is the seam connectOne uses to establish a transport. Tests
// override it to stand in a fake remote server without spawning a real
// process or HTTP listener.
var dialServer = func(ctx context.Context, cfg ServerConfig) (Transport, error) {
	return cfg.Dial(ctx)
}

// connectOne scans a command-transport server's script before spawning it,
// dials the transport, and performs the initialize handshake.
func connectOne(ctx context.Context, cfg ServerConfig) (*Client, error) {
	if cfg.Type == "command" {
		if script := findPyScript(cfg); script != "" {
			findings, err := ScanScript(script)
			if err == nil && HasCritical(findings) {
				LogFindings(cfg.Name, findings)
				return nil, fmt.Errorf("blocked: critical security findings in %s", script)
			}
			if len(findings) > 0 {
				LogFindings(cfg.Name, findings)
			}
		}
	}

	transport, err := dialServer(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	cli := NewClient(transport)
	if _, err := cli.Initialize(ctx, clientName, clientVersion); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("initialize: %w", err)
	}
	return cli, nil
}

// RegisterTools lists tools from every connected server and registers each
// as an mcpadapter.Adapter in registry.
func (m *Manager) RegisterTools(ctx context.Context, registry *tool.Registry) error {
	m.mu.Lock()
	snap := make(map[string]*Client, len(m.clients))
	for name, cli := range m.clients {
		snap[name] = cli
	}
	m.mu.Unlock()

	type fetchResult struct {
		name  string
		tools []ToolInfo
		err   error
	}
	results := make([]fetchResult, 0, len(snap))
	for name, cli := range snap {
		tools, err := cli.ListTools(ctx)
		results = append(results, fetchResult{name: name, tools: tools, err: err})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range results {
		if r.err != nil {
			return fmt.Errorf("mcpwire: list tools for %q: %w", r.name, r.err)
		}
		var names []string
		for _, ti := range r.tools {
			a := mcpadapter.New(r.name, ti, m.clients[r.name])
			registry.Register(a)
			names = append(names, a.Name())
		}
		m.serverTools[r.name] = names
		log.Printf("[mcpwire] registered %d tool(s) from %q", len(r.tools), r.name)
	}
	return nil
}

// Reload re-applies configs against the current state: servers no longer
// present are disconnected and their tools unregistered; new servers are
// connected and their tools registered; unchanged servers are left alone.
// Network I/O runs outside the lock. Returns a human-readable summary.
func (m *Manager) Reload(ctx context.Context, registry *tool.Registry, configs map[string]ServerConfig) (string, error) {
	m.mu.Lock()
	var toRemove []string
	var toAdd []ServerConfig
	unchanged := 0
	for name := range m.configs {
		if _, ok := configs[name]; !ok {
			toRemove = append(toRemove, name)
		}
	}
	for name, cfg := range configs {
		if _, ok := m.configs[name]; !ok {
			toAdd = append(toAdd, cfg)
		} else {
			unchanged++
		}
	}
	m.mu.Unlock()

	removed := 0
	for _, name := range toRemove {
		m.mu.Lock()
		names := m.serverTools[name]
		cli := m.clients[name]
		delete(m.serverTools, name)
		delete(m.clients, name)
		delete(m.configs, name)
		m.mu.Unlock()

		for _, n := range names {
			registry.Unregister(n)
		}
		if cli != nil {
			if err := cli.Close(); err != nil {
				log.Printf("[mcpwire] close error for %q: %v", name, err)
			}
		}
		removed++
		log.Printf("[mcpwire] disconnected: %s", name)
	}

	type addResult struct {
		name  string
		cli   *Client
		tools []ToolInfo
		err   error
	}
	var addResults []addResult
	for _, cfg := range toAdd {
		cli, err := connectOne(ctx, cfg)
		if err != nil {
			addResults = append(addResults, addResult{name: cfg.Name, err: err})
			continue
		}
		tools, err := cli.ListTools(ctx)
		if err != nil {
			_ = cli.Close()
			addResults = append(addResults, addResult{name: cfg.Name, err: err})
			continue
		}
		addResults = append(addResults, addResult{name: cfg.Name, cli: cli, tools: tools})
	}

	added := 0
	var notices []string
	for _, r := range addResults {
		if r.err != nil {
			notices = append(notices, fmt.Sprintf("[WARNING] %s: %v", r.name, r.err))
			continue
		}
		var names []string
		for _, ti := range r.tools {
			a := mcpadapter.New(r.name, ti, r.cli)
			registry.Register(a)
			names = append(names, a.Name())
		}
		m.mu.Lock()
		m.clients[r.name] = r.cli
		m.configs[r.name] = configs[r.name]
		m.serverTools[r.name] = names
		m.mu.Unlock()
		added++
		log.Printf("[mcpwire] connected: %s, %d tool(s)", r.name, len(r.tools))
	}

	summary := fmt.Sprintf("mcp reload: +%d connected, -%d removed, %d unchanged", added, removed, unchanged)
	if len(notices) > 0 {
		summary += "\n" + strings.Join(notices, "\n")
	}
	return summary, nil
}

// CloseAll terminates every active connection. Safe to call more than once.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	clients := make(map[string]*Client, len(m.clients))
	for name, cli := range m.clients {
		clients[name] = cli
		delete(m.clients, name)
	}
	m.mu.Unlock()

	for name, cli := range clients {
		if err := cli.Close(); err != nil {
			log.Printf("[mcpwire] close error for %q: %v", name, err)
		}
	}
}

func findPyScript(cfg ServerConfig) string {
	if strings.HasSuffix(cfg.Command, ".py") {
		return cfg.Command
	}
	for _, arg := range cfg.Args {
		if strings.HasSuffix(arg, ".py") {
			return arg
		}
	}
	return ""
}
