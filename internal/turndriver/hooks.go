package turndriver

import (
	"context"
	"encoding/json"
)

// PreHook inspects a pending tool call before dispatch. Returning veto=true
// stops execution; the driver appends a synthetic `[Hook blocked]: reason`
// tool result and moves to the next call without invoking the tool.
type PreHook func(ctx context.Context, toolName string, args json.RawMessage) (veto bool, reason string)

// PostHook runs after a tool call completes. Its returned text, if
// non-empty, is appended to the tool result the Conversation records.
type PostHook func(ctx context.Context, toolName string, args json.RawMessage, output string, isError bool) string

// Hooks holds the operator-configured pre/post hooks, keyed by tool name.
// The wildcard key "*" applies to every tool name, running before any
// name-specific hooks.
type Hooks struct {
	Pre  map[string][]PreHook
	Post map[string][]PostHook
}

// NewHooks returns an empty Hooks set.
func NewHooks() *Hooks {
	return &Hooks{Pre: make(map[string][]PreHook), Post: make(map[string][]PostHook)}
}

// AddPre registers a pre-tool hook for toolName ("*" for all tools).
func (h *Hooks) AddPre(toolName string, hook PreHook) {
	h.Pre[toolName] = append(h.Pre[toolName], hook)
}

// AddPost registers a post-tool hook for toolName ("*" for all tools).
func (h *Hooks) AddPost(toolName string, hook PostHook) {
	h.Post[toolName] = append(h.Post[toolName], hook)
}

// runPre invokes every applicable pre-hook in registration order (wildcard
// first, then name-specific). The first veto wins.
func (h *Hooks) runPre(ctx context.Context, toolName string, args json.RawMessage) (veto bool, reason string) {
	if h == nil {
		return false, ""
	}
	for _, hook := range h.Pre["*"] {
		if veto, reason = hook(ctx, toolName, args); veto {
			return veto, reason
		}
	}
	for _, hook := range h.Pre[toolName] {
		if veto, reason = hook(ctx, toolName, args); veto {
			return veto, reason
		}
	}
	return false, ""
}

// runPost invokes every applicable post-hook and concatenates their
// non-empty outputs, each on its own line, in registration order.
func (h *Hooks) runPost(ctx context.Context, toolName string, args json.RawMessage, output string, isError bool) string {
	if h == nil {
		return ""
	}
	var appended string
	for _, hook := range h.Post["*"] {
		if text := hook(ctx, toolName, args, output, isError); text != "" {
			appended += "\n" + text
		}
	}
	for _, hook := range h.Post[toolName] {
		if text := hook(ctx, toolName, args, output, isError); text != "" {
			appended += "\n" + text
		}
	}
	return appended
}
