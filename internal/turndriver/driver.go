package turndriver

import (
	"context"
	"strings"

	"github.com/pocketomega/loco/internal/completion"
	"github.com/pocketomega/loco/internal/conversation"
	"github.com/pocketomega/loco/internal/core"
)

// BuildTurnFlow wires the two-node turn loop:
//
//	DecideNode ──┬── ActionTool   → ToolCallNode ──→ DecideNode
//	             └── ActionAnswer → End
//
// Both nodes are wrapped with maxRetries 0: completion.Retry already retries
// at the provider level inside DecideNode.Exec, and ToolCallNode.Exec never
// returns a Go error, so a second retry layer here would only double the
// former and never fire for the latter.
func BuildTurnFlow(service completion.Service) core.Workflow[TurnState] {
	decideNode := core.NewNode[TurnState, DecidePrep, DecideResult](
		NewDecideNode(service), 0,
	)
	toolCallNode := core.NewNode[TurnState, ToolCallPrep, ToolCallResult](
		NewToolCallNode(), 0,
	)

	decideNode.AddSuccessor(toolCallNode, core.ActionTool)
	toolCallNode.AddSuccessor(decideNode) // ActionDefault → DecideNode

	// ActionAnswer has no successor on either node: the flow ends there,
	// whether DecideNode reached it normally or ToolCallNode reached it
	// because the loop guard tripped.

	return core.NewFlow[TurnState](decideNode)
}

// Driver runs complete turns against a fixed flow.
type Driver struct {
	flow core.Workflow[TurnState]
}

// NewDriver builds a Driver around service's completion loop.
func NewDriver(service completion.Service) *Driver {
	return &Driver{flow: BuildTurnFlow(service)}
}

// RunTurn appends userMessage to the Conversation and runs the decide/tool
// loop until the model answers without tool calls, the loop guard trips, or
// an ApiFailure ends the turn early. It returns state.FailureErr verbatim
// on the failure path; the Conversation is left exactly as it stood before
// the failing call, per the Turn Driver's failure semantics.
func (d *Driver) RunTurn(ctx context.Context, state *TurnState, userMessage string) error {
	state.turnEnded = false
	state.callIndex = 0
	state.sawTool = false
	state.lastCall = nil
	state.FailureErr = nil
	if state.LoopGuard != nil {
		state.LoopGuard = NewLoopGuard(state.LoopGuard.maxIterations)
	}

	if userMessage != "" {
		state.Conversation.Append(conversation.Message{
			Role:    conversation.RoleUser,
			Content: userMessage,
		})
	}

	action := d.flow.Run(ctx, state)

	if action == core.ActionFailure {
		return state.FailureErr
	}

	if state.Rewind != nil {
		idx, summary := lastAssistantSummary(state.Conversation)
		_ = state.Rewind.EndTurn(idx, summary)
	}

	return nil
}

// lastAssistantSummary finds the most recent assistant message and returns
// its index plus an 80-character-truncated summary of its text, per the
// Turn Driver's end_turn contract: the message index is the log length at
// turn-end — the index immediately after the last appended message, not the
// index of that message itself. Both return values are zero only if the
// Conversation holds no assistant message at all.
func lastAssistantSummary(conv *conversation.Conversation) (int, string) {
	for i := conv.Len() - 1; i >= 0; i-- {
		msg, ok := conv.At(i)
		if !ok || msg.Role != conversation.RoleAssistant {
			continue
		}
		return conv.Len(), truncate(msg.Content, 80)
	}
	return 0, ""
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
