package turndriver

import (
	"context"
	"encoding/json"
	"os"

	"github.com/pocketomega/loco/internal/conversation"
	"github.com/pocketomega/loco/internal/core"
	"github.com/pocketomega/loco/internal/rewind"
	"github.com/pocketomega/loco/internal/snapshot"
	"github.com/pocketomega/loco/internal/tool"
)

// mutatingToolPathKeys names, for each built-in tool that may change a file
// on disk, the argument key holding the path it targets. bash is
// deliberately absent: a shell command has no single declared target, so
// rewind capture is skipped for it, per the Turn Driver's own contract.
var mutatingToolPathKeys = map[string]string{
	"write": "file_path",
	"edit":  "file_path",
}

// ToolCallNode dispatches the tool calls of the last Decide call, one Exec
// per call, in order: hooks may veto a call, a mutating call is bracketed by
// rewind capture, and each result becomes exactly one tool-role
// Conversation message.
type ToolCallNode struct{}

// NewToolCallNode returns a ready ToolCallNode. It holds no state of its
// own; everything it needs travels through TurnState and the Prep item.
func NewToolCallNode() *ToolCallNode { return &ToolCallNode{} }

// ToolCallPrep carries everything Exec needs for one call, copied out of
// TurnState so Exec (which never sees *TurnState) stays self-contained.
type ToolCallPrep struct {
	Call         conversation.ToolCallRecord
	Registry     *tool.Registry
	Rewind       *rewind.Manager
	Hooks        *Hooks
	MutatingPath string // empty if this tool declares no target path
}

// ToolCallResult is the outcome of one dispatched call.
type ToolCallResult struct {
	Output  string
	IsError bool
	Vetoed  bool
}

// Prep fans out one ToolCallPrep per tool call the last Decide call issued,
// in the order the model requested them.
func (n *ToolCallNode) Prep(state *TurnState) []ToolCallPrep {
	if state.lastCall == nil {
		return nil
	}
	preps := make([]ToolCallPrep, 0, len(state.lastCall.toolCalls))
	for _, call := range state.lastCall.toolCalls {
		preps = append(preps, ToolCallPrep{
			Call:         call,
			Registry:     state.Registry,
			Rewind:       state.Rewind,
			Hooks:        state.Hooks,
			MutatingPath: extractMutatingPath(call),
		})
	}
	return preps
}

func extractMutatingPath(call conversation.ToolCallRecord) string {
	key, ok := mutatingToolPathKeys[call.Name]
	if !ok {
		return ""
	}
	var args map[string]json.RawMessage
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return ""
	}
	raw, ok := args[key]
	if !ok {
		return ""
	}
	var path string
	if err := json.Unmarshal(raw, &path); err != nil {
		return ""
	}
	return path
}

// Exec runs one hook-wrapped, rewind-bracketed tool call. Vetoes and
// executor failures both surface as ordinary text, never a Go error, so a
// tool-role message is always produced for every call the model issued.
func (n *ToolCallNode) Exec(ctx context.Context, prep ToolCallPrep) (ToolCallResult, error) {
	if veto, reason := prep.Hooks.runPre(ctx, prep.Call.Name, prep.Call.Arguments); veto {
		return ToolCallResult{Output: "[Hook blocked]: " + reason, Vetoed: true}, nil
	}

	if prep.Rewind != nil && prep.MutatingPath != "" {
		_ = prep.Rewind.CaptureBefore(prep.MutatingPath)
	}

	var result tool.ToolResult
	if prep.Registry != nil {
		result = prep.Registry.Execute(ctx, prep.Call.Name, prep.Call.Arguments)
	} else {
		result = tool.ToolResult{Error: "Error: no tool registry configured"}
	}

	isError := result.Error != ""
	output := result.Output
	if isError {
		output = result.Error
	}

	if post := prep.Hooks.runPost(ctx, prep.Call.Name, prep.Call.Arguments, output, isError); post != "" {
		output += post
	}

	if prep.Rewind != nil && prep.MutatingPath != "" {
		content := readFileOrNil(prep.MutatingPath)
		_ = prep.Rewind.CaptureAfter(prep.MutatingPath, content, snapshot.ChangeKind(""))
	}

	return ToolCallResult{Output: output, IsError: isError}, nil
}

func readFileOrNil(path string) *string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	s := string(data)
	return &s
}

// ExecFallback never fires: Exec itself never returns a Go error, so the
// node is always wrapped with maxRetries 0.
func (n *ToolCallNode) ExecFallback(err error) ToolCallResult {
	return ToolCallResult{Output: "Error: " + err.Error(), IsError: true}
}

// Post appends one tool-role message per call, in order, records telemetry,
// consults the loop guard, and routes back to Decide for the next
// completion call (a "synthesis" call in the Turn Driver's own vocabulary).
func (n *ToolCallNode) Post(state *TurnState, preps []ToolCallPrep, results ...ToolCallResult) core.Action {
	for i, res := range results {
		call := preps[i].Call

		state.Conversation.Append(conversation.Message{
			Role:       conversation.RoleTool,
			Content:    res.Output,
			ToolCallID: call.ID,
			ToolName:   call.Name,
		})

		state.History = append(state.History, StepRecord{
			StepNumber: len(state.History) + 1,
			Type:       "tool",
			Operation:  OpSynthesis,
			ToolName:   call.Name,
			ToolCallID: call.ID,
			Input:      string(call.Arguments),
			Output:     res.Output,
			IsError:    res.IsError,
		})

		if state.LoopGuard != nil && !res.Vetoed {
			if stop, _ := state.LoopGuard.Tick(call.Name, string(call.Arguments)); stop {
				state.turnEnded = true
			}
		}
	}

	state.lastCall = nil

	if state.turnEnded {
		return core.ActionAnswer
	}
	return core.ActionDefault
}
