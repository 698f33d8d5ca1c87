package config

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strings"

	"github.com/pocketomega/loco/internal/turndriver"
)

const (
	eventPreToolCall  = "pre_tool_call"
	eventPostToolCall = "post_tool_call"
)

// BuildHooks translates the Hooks table into turndriver.Hooks, running each
// configured definition as an external command: the tool name and its
// JSON-encoded arguments are passed as positional arguments, and (for a pre
// hook) non-empty stdout vetoes the call with that text as the reason; (for
// a post hook) non-empty stdout is appended to the tool result.
func (c *Config) BuildHooks() *turndriver.Hooks {
	hooks := turndriver.NewHooks()
	for toolName, def := range c.Hooks[eventPreToolCall] {
		for _, d := range def {
			hooks.AddPre(toolName, makePreHook(d))
		}
	}
	for toolName, def := range c.Hooks[eventPostToolCall] {
		for _, d := range def {
			hooks.AddPost(toolName, makePostHook(d))
		}
	}
	return hooks
}

func makePreHook(def HookDefinition) turndriver.PreHook {
	return func(ctx context.Context, toolName string, args json.RawMessage) (bool, string) {
		out, err := runHookCommand(ctx, def, toolName, args)
		if err != nil {
			return true, err.Error()
		}
		if out == "" {
			return false, ""
		}
		return true, out
	}
}

func makePostHook(def HookDefinition) turndriver.PostHook {
	return func(ctx context.Context, toolName string, args json.RawMessage, _ string, _ bool) string {
		out, err := runHookCommand(ctx, def, toolName, args)
		if err != nil {
			return "hook error: " + err.Error()
		}
		return out
	}
}

func runHookCommand(ctx context.Context, def HookDefinition, toolName string, args json.RawMessage) (string, error) {
	argv := append(append([]string{}, def.Args...), toolName, string(args))
	cmd := exec.CommandContext(ctx, def.Command, argv...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return strings.TrimSpace(stdout.String()), nil
}
