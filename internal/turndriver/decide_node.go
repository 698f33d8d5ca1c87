package turndriver

import (
	"context"

	"github.com/pocketomega/loco/internal/completion"
	"github.com/pocketomega/loco/internal/conversation"
	"github.com/pocketomega/loco/internal/core"
)

// DecideNode submits the current Conversation to the Completion Service and
// routes to tool dispatch or turn end depending on whether the model
// returned tool calls.
type DecideNode struct {
	service completion.Service
}

// NewDecideNode wraps a completion.Service as a BaseNode.
func NewDecideNode(service completion.Service) *DecideNode {
	return &DecideNode{service: service}
}

// DecidePrep carries the request built from the current Conversation state.
type DecidePrep struct {
	Request     completion.Request
	OnTextDelta func(text string) `json:"-"`
}

// DecideResult is the merged outcome of one completion call, or the error
// that ended the turn when the Completion Service's retry budget was
// exhausted.
type DecideResult struct {
	Result completion.Result
	Err    error
}

// Prep builds the completion.Request from the live Conversation and the
// registry's current tool set (so per-turn registry views, e.g. a
// sub-agent's filtered set, are honored).
func (n *DecideNode) Prep(state *TurnState) []DecidePrep {
	if state.turnEnded {
		return nil
	}
	if state.Rewind != nil && state.callIndex == 0 {
		state.Rewind.BeginTurn()
	}

	tools := state.AdvertisedTools
	if tools == nil && state.Registry != nil {
		for _, d := range state.Registry.Definitions() {
			tools = append(tools, completion.ToolDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			})
		}
	}

	return []DecidePrep{{
		Request: completion.Request{
			Model:    state.Model,
			Messages: state.Conversation.Messages(),
			Tools:    tools,
		},
		OnTextDelta: state.OnTextDelta,
	}}
}

// Exec streams the completion, forwarding each text delta to
// prep.OnTextDelta as it arrives. The first delta is the caller's signal to
// hide its "thinking" indicator, per the Turn Driver's inner-loop contract.
func (n *DecideNode) Exec(ctx context.Context, prep DecidePrep) (DecideResult, error) {
	onEvent := func(ev completion.Event) {
		if ev.Kind == completion.EventTextDelta && prep.OnTextDelta != nil {
			prep.OnTextDelta(ev.Text)
		}
	}
	result, err := n.service.Stream(ctx, prep.Request, onEvent)
	return DecideResult{Result: result}, err
}

// ExecFallback carries the exhausted-retries error through to Post. The
// turn ends here, leaving the Conversation at its last stable point per
// the Turn Driver's failure semantics — no partial assistant message is
// appended.
func (n *DecideNode) ExecFallback(err error) DecideResult {
	return DecideResult{Err: err}
}

// Post appends the assistant message, classifies this call for telemetry,
// and routes to tool dispatch (if the model issued tool calls) or to turn
// end otherwise. An ApiFailure from Exec ends the turn without appending.
func (n *DecideNode) Post(state *TurnState, prep []DecidePrep, results ...DecideResult) core.Action {
	if len(results) == 0 {
		state.turnEnded = true
		return core.ActionAnswer
	}
	if results[0].Err != nil {
		state.turnEnded = true
		state.FailureErr = results[0].Err
		return core.ActionFailure
	}
	res := results[0].Result

	hasTools := len(res.ToolCalls) > 0
	op := classifyCall(state.callIndex, hasTools)
	state.History = append(state.History, StepRecord{
		StepNumber: len(state.History) + 1,
		Type:       "call",
		Operation:  op,
		Output:     res.Text,
	})
	state.callIndex++
	if hasTools {
		state.sawTool = true
	}

	state.Conversation.Append(conversation.Message{
		Role:      conversation.RoleAssistant,
		Content:   res.Text,
		ToolCalls: res.ToolCalls,
	})
	if res.Usage.Model != "" {
		state.Conversation.RecordUsage(res.Usage)
	}

	state.lastCall = &callDecision{text: res.Text, toolCalls: res.ToolCalls}

	if !hasTools {
		state.turnEnded = true
		return core.ActionAnswer
	}
	return core.ActionTool
}
