package subagent

import (
	"context"
	"encoding/json"

	"github.com/pocketomega/loco/internal/completion"
	"github.com/pocketomega/loco/internal/conversation"
	"github.com/pocketomega/loco/internal/rewind"
	"github.com/pocketomega/loco/internal/tool"
	"github.com/pocketomega/loco/internal/turndriver"
)

// deniedTool stands in for a tool outside an agent's effective_tools set.
// It advertises nothing (the dispatcher never includes it in the tools
// offered to the model) but, if called anyway, refuses with the exact
// error result spec'd for this case instead of executing anything.
type deniedTool struct{ name string }

func (t deniedTool) Name() string                 { return t.name }
func (t deniedTool) Description() string          { return "not available to this agent" }
func (t deniedTool) InputSchema() json.RawMessage { return tool.BuildSchema() }
func (t deniedTool) Init(context.Context) error   { return nil }
func (t deniedTool) Close() error                 { return nil }
func (t deniedTool) Execute(context.Context, json.RawMessage) (tool.ToolResult, error) {
	return tool.ToolResult{Error: deniedMessage(t.name)}, nil
}

// Dispatch runs one sub-agent task to completion: a fresh Conversation
// seeded with the agent's preamble and the task, a tool view restricted to
// effective_tools, and a single Turn Driver run. It returns the final
// assistant text. Sub-agent execution is sequential with respect to the
// caller — Dispatch blocks until the agent's turn ends.
func Dispatch(ctx context.Context, service completion.Service, baseRegistry *tool.Registry, rw *rewind.Manager, agent Agent, model, task string) (string, error) {
	allDefs := baseRegistry.Definitions()
	allNames := make([]string, len(allDefs))
	defByName := make(map[string]tool.ToolDefinition, len(allDefs))
	for i, d := range allDefs {
		allNames[i] = d.Name
		defByName[d.Name] = d
	}

	effective := agent.EffectiveTools(allNames)
	effectiveSet := toSet(effective)

	execRegistry := tool.NewRegistry()
	for _, name := range allNames {
		if t, ok := baseRegistry.Get(name); ok && effectiveSet[name] {
			execRegistry.Register(t)
		} else {
			execRegistry.Register(deniedTool{name: name})
		}
	}

	advertised := make([]completion.ToolDefinition, 0, len(effective))
	for _, name := range effective {
		if d, ok := defByName[name]; ok {
			advertised = append(advertised, completion.ToolDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			})
		}
	}

	conv := conversation.New(model)
	conv.SetSystem(agent.SystemPrompt + "\n\n" + task)

	state := &turndriver.TurnState{
		Conversation:    conv,
		Registry:        execRegistry,
		Rewind:          rw,
		Model:           model,
		AdvertisedTools: advertised,
		LoopGuard:       turndriver.NewLoopGuard(25),
	}

	driver := turndriver.NewDriver(service)
	if err := driver.RunTurn(ctx, state, ""); err != nil {
		return "", err
	}

	return lastAssistantText(conv), nil
}

func lastAssistantText(conv *conversation.Conversation) string {
	for i := conv.Len() - 1; i >= 0; i-- {
		msg, ok := conv.At(i)
		if !ok || msg.Role != conversation.RoleAssistant {
			continue
		}
		return msg.Content
	}
	return ""
}
