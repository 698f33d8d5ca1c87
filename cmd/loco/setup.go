package main

import (
	"io"
	"os"

	"github.com/pocketomega/loco/internal/cli"
	"github.com/pocketomega/loco/internal/completion"
	"github.com/pocketomega/loco/internal/completion/openai"
	"github.com/pocketomega/loco/internal/config"
	"github.com/pocketomega/loco/internal/conversation"
	"github.com/pocketomega/loco/internal/turndriver"
)

// buildCompletionService resolves the active model through cfg's alias
// table and layers any matching provider entry over the environment-derived
// defaults, so a loco.yaml provider block can supply credentials without
// requiring LLM_* environment variables.
func buildCompletionService(cfg *config.Config, modelFlag string) (completion.Service, string, error) {
	occ, err := openai.NewConfigFromEnv()
	if err != nil {
		occ = &openai.Config{BaseURL: "https://api.openai.com/v1", HTTPTimeout: 300}
	}

	model := cfg.ResolveModel(modelFlag)
	if model != "" {
		occ.Model = model
	}
	if provider, ok := cfg.Providers["openai"]; ok {
		if provider.APIKey != "" {
			occ.APIKey = provider.APIKey
		}
		if provider.BaseURL != "" {
			occ.BaseURL = provider.BaseURL
		}
	}
	if err := occ.Validate(); err != nil {
		return nil, "", err
	}

	client, err := openai.NewClient(occ)
	if err != nil {
		return nil, "", err
	}
	return client, occ.Model, nil
}

func providerBaseURL(cfg *config.Config) string {
	if provider, ok := cfg.Providers["openai"]; ok && provider.BaseURL != "" {
		return provider.BaseURL
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		return v
	}
	return "https://api.openai.com/v1"
}

func newConversationForModel(model string) *conversation.Conversation {
	conv := conversation.New(model)
	conv.SetSystem("You are loco, a terminal coding assistant. Use the available tools to read, search, and edit files, and to run shell commands, in service of the user's request.")
	return conv
}

func newREPLWithStreaming(driver *turndriver.Driver, state *turndriver.TurnState, in io.Reader, out io.Writer) *cli.REPL {
	repl := cli.New(driver, state, in, out)
	repl.EnableStreaming()
	return repl
}
