package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pocketomega/loco/internal/mcpwire"
)

// ProviderConfig holds one LLM provider's credentials and endpoint.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// HookDefinition names an operator-configured side-effect: an external
// command invoked before or after a tool call, whose stdout becomes the
// hook's veto reason (non-empty stdout on a pre hook vetoes the call) or
// its appended post-call text.
type HookDefinition struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args,omitempty"`
}

// MCPServerDefinition is one entry of the MCP-servers table: either a
// command-transport server (Type "command") or an HTTP/SSE one (Type
// "http"), per spec.md §6's external-interface shape.
type MCPServerDefinition struct {
	Type string `yaml:"type"` // "command" | "http"

	Command string   `yaml:"command,omitempty"`
	Args    []string `yaml:"args,omitempty"`
	Env     []string `yaml:"env,omitempty"`
	Cwd     string   `yaml:"cwd,omitempty"`

	URL     string            `yaml:"url,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
}

// ToServerConfig translates one on-disk MCP-servers entry into the live
// dial descriptor internal/mcpwire.Manager consumes.
func (d MCPServerDefinition) ToServerConfig(name string) (mcpwire.ServerConfig, error) {
	switch d.Type {
	case "command":
		return mcpwire.ServerConfig{
			Name: name, Type: "command",
			Command: d.Command, Args: d.Args, Env: d.Env, Cwd: d.Cwd,
		}, nil
	case "http":
		return mcpwire.ServerConfig{
			Name: name, Type: "http",
			URL: d.URL, Headers: d.Headers,
		}, nil
	default:
		return mcpwire.ServerConfig{}, fmt.Errorf("mcp server %q: unknown type %q", name, d.Type)
	}
}

// Config is the external-facing configuration record: provider credentials,
// the default model and its alias table, the rewind-enabled flag, hook
// definitions keyed by event then tool name ("*" for every tool), and the
// MCP-servers table. Unrecognized YAML fields are ignored, per spec.md §6's
// "treats unrecognized fields as opaque".
type Config struct {
	Providers     map[string]ProviderConfig `yaml:"providers"`
	DefaultModel  string                    `yaml:"default_model"`
	ModelAliases  map[string]string         `yaml:"model_aliases"`
	RewindEnabled bool                      `yaml:"rewind_enabled"`

	// Hooks is keyed by event ("pre_tool_call" or "post_tool_call"), then
	// by tool name ("*" applies to every tool).
	Hooks map[string]map[string][]HookDefinition `yaml:"hooks"`

	MCPServers map[string]MCPServerDefinition `yaml:"mcp_servers"`
}

// Default returns a Config with rewind enabled and no other settings —
// the safe starting point when no config file is present.
func Default() *Config {
	return &Config{RewindEnabled: true}
}

// Load reads and parses a YAML config file at path. A missing file is not
// an error: it returns Default(), since the core treats configuration as
// optional and falls back to environment variables for provider credentials
// (see LoadEnv).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// ResolveModel expands a requested model name through ModelAliases,
// falling back to DefaultModel when requested is empty.
func (c *Config) ResolveModel(requested string) string {
	if requested == "" {
		requested = c.DefaultModel
	}
	if resolved, ok := c.ModelAliases[requested]; ok {
		return resolved
	}
	return requested
}

// MCPServerConfigs translates every entry of MCPServers into its live
// mcpwire.ServerConfig form, skipping (and reporting) any entry with an
// unrecognized type.
func (c *Config) MCPServerConfigs() (map[string]mcpwire.ServerConfig, []error) {
	out := make(map[string]mcpwire.ServerConfig, len(c.MCPServers))
	var errs []error
	for name, def := range c.MCPServers {
		sc, err := def.ToServerConfig(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out[name] = sc
	}
	return out, errs
}
