// Package turndriver runs one user-initiated turn: submit the Conversation
// to the Completion Service, render the response as it streams, dispatch
// any tool calls through the registry under optional hooks, and resubmit
// until the model answers without tool calls.
package turndriver

import (
	"github.com/pocketomega/loco/internal/completion"
	"github.com/pocketomega/loco/internal/conversation"
	"github.com/pocketomega/loco/internal/rewind"
	"github.com/pocketomega/loco/internal/tool"
)

// OperationType classifies one LLM call within a turn for telemetry.
type OperationType string

const (
	// OpRouting is the first call of a turn that goes on to dispatch tools.
	OpRouting OperationType = "routing"
	// OpSynthesis is any call after the first in a tool-bearing turn.
	OpSynthesis OperationType = "synthesis"
	// OpExplanation is the sole call of a turn that never dispatches a tool.
	OpExplanation OperationType = "explanation"
)

// StepRecord records one LLM call or tool dispatch for telemetry and loop
// detection, mirroring the shape agent.StepRecord used for the same job.
type StepRecord struct {
	StepNumber int
	Type       string // "call" or "tool"
	Operation  OperationType
	ToolName   string
	ToolCallID string
	Input      string
	Output     string
	IsError    bool
}

// TurnState is the shared state threaded through Driver.RunTurn, which
// resets its per-turn fields at the start of each turn. It is
// not goroutine-safe: the Flow that owns it guarantees single-goroutine
// access for the duration of the turn, the same contract agent.AgentState
// documents for the legacy ReAct loop.
type TurnState struct {
	Conversation *conversation.Conversation
	Registry     *tool.Registry
	Rewind       *rewind.Manager // nil disables rewind integration
	Hooks        *Hooks          // nil = no hooks configured

	Model string

	// AdvertisedTools overrides what DecideNode offers the model, when set.
	// The Sub-agent Dispatcher uses this to advertise exactly effective_tools
	// while still routing execution (including its denial message for a
	// call outside that set) through Registry — letting "what the model is
	// told" and "what execute() accepts" diverge safely. Nil falls back to
	// Registry.Definitions().
	AdvertisedTools []completion.ToolDefinition

	// callIndex counts LLM calls made so far this turn, for operation-type
	// attribution and to begin the rewind turn on the first call.
	callIndex int
	sawTool   bool

	// lastCall holds the most recently decided assistant turn, read by the
	// tool-dispatch node and cleared once its calls are all dispatched.
	lastCall *callDecision

	History []StepRecord

	LoopGuard *LoopGuard

	// OnTextDelta is invoked for each rendered text delta, hiding a
	// "thinking" indicator on the first call. Optional.
	OnTextDelta func(text string)

	turnEnded bool

	// FailureErr is set when an ApiFailure ends the turn early. Nil on a
	// normal end_turn.
	FailureErr error
}

// callDecision is the outcome of one completion call: the rendered text and
// the tool calls the model issued (both may be empty, never both at once).
type callDecision struct {
	text      string
	toolCalls []conversation.ToolCallRecord
}

func classifyCall(callIndex int, hasToolCalls bool) OperationType {
	switch {
	case callIndex == 0 && hasToolCalls:
		return OpRouting
	case callIndex == 0:
		return OpExplanation
	default:
		return OpSynthesis
	}
}
