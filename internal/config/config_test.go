package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.RewindEnabled {
		t.Error("Default() config should have RewindEnabled true")
	}
}

func TestLoad_ParsesYAML(t *testing.T) {
	yamlBody := `
default_model: gpt-4o
rewind_enabled: false
model_aliases:
  fast: gpt-4o-mini
providers:
  openai:
    api_key: sk-test
    base_url: https://api.openai.com/v1
mcp_servers:
  local:
    type: command
    command: python3
    args: ["server.py"]
  remote:
    type: http
    url: http://localhost:9090
`
	path := filepath.Join(t.TempDir(), "loco.yaml")
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultModel != "gpt-4o" || cfg.RewindEnabled {
		t.Errorf("unexpected top-level fields: %+v", cfg)
	}
	if cfg.Providers["openai"].APIKey != "sk-test" {
		t.Errorf("unexpected provider: %+v", cfg.Providers["openai"])
	}

	configs, errs := cfg.MCPServerConfigs()
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if configs["local"].Type != "command" || configs["local"].Command != "python3" {
		t.Errorf("unexpected local server config: %+v", configs["local"])
	}
	if configs["remote"].Type != "http" || configs["remote"].URL != "http://localhost:9090" {
		t.Errorf("unexpected remote server config: %+v", configs["remote"])
	}
}

func TestResolveModel(t *testing.T) {
	cfg := &Config{
		DefaultModel: "gpt-4o",
		ModelAliases: map[string]string{"fast": "gpt-4o-mini"},
	}
	if got := cfg.ResolveModel(""); got != "gpt-4o" {
		t.Errorf("ResolveModel(\"\") = %q, want gpt-4o", got)
	}
	if got := cfg.ResolveModel("fast"); got != "gpt-4o-mini" {
		t.Errorf("ResolveModel(fast) = %q, want gpt-4o-mini", got)
	}
	if got := cfg.ResolveModel("o1"); got != "o1" {
		t.Errorf("ResolveModel(o1) = %q, want o1 (passthrough)", got)
	}
}

func TestMCPServerConfigs_UnknownTypeReported(t *testing.T) {
	cfg := &Config{MCPServers: map[string]MCPServerDefinition{
		"weird": {Type: "grpc"},
	}}
	_, errs := cfg.MCPServerConfigs()
	if len(errs) != 1 {
		t.Fatalf("expected one error, got %v", errs)
	}
}
