package mcpwire

import (
	"context"
	"fmt"
)

// ServerConfig describes one entry in the core configuration record's
// MCP-servers table: a command-transport entry spawns a child process
// speaking stdio framing; an http-transport entry dials an HTTP+SSE
// endpoint. Name is supplied by the table key, not a field of the JSON
// value itself.
type ServerConfig struct {
	Name string

	Type string // "command" | "http"

	// command transport
	Command string
	Args    []string
	Env     []string
	Cwd     string

	// http transport
	URL     string
	Headers map[string]string
}

// Dial establishes the transport described by cfg.
func (cfg ServerConfig) Dial(ctx context.Context) (Transport, error) {
	switch cfg.Type {
	case "command":
		return StartProcess(cfg.Command, cfg.Args, cfg.Env, cfg.Cwd)
	case "http":
		return DialHTTP(ctx, cfg.URL, cfg.Headers, nil)
	default:
		return nil, fmt.Errorf("mcpwire: unknown server type %q for %q", cfg.Type, cfg.Name)
	}
}
