// Package render formats turn-driver output for a plain terminal: the
// banner, streamed text deltas, and tool-call/result lines. It deliberately
// does nothing clever with markdown or terminal control codes — a richer
// renderer is an external concern this core does not take on.
package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/pocketomega/loco/internal/conversation"
	"github.com/pocketomega/loco/internal/turndriver"
	"github.com/pocketomega/loco/internal/util"
)

// Banner prints the startup banner, mirroring the box-drawn banner style
// used across the example pack's terminal entry points.
func Banner(w io.Writer, version, model, baseURL, workspaceDir string) {
	fmt.Fprintln(w, "╔══════════════════════════════════════╗")
	fmt.Fprintf(w, "║  loco %-32s║\n", version)
	fmt.Fprintln(w, "║  agent execution core                 ║")
	fmt.Fprintln(w, "╚══════════════════════════════════════╝")
	fmt.Fprintf(w, "model:     %s @ %s\n", model, baseURL)
	fmt.Fprintf(w, "workspace: %s\n", workspaceDir)
}

// TextDelta writes one streamed text fragment as it arrives, unstyled.
func TextDelta(w io.Writer, delta string) {
	fmt.Fprint(w, delta)
}

// EndAssistantText writes the trailing newline that closes out a streamed
// assistant turn, once the stream's text deltas are done.
func EndAssistantText(w io.Writer) {
	fmt.Fprintln(w)
}

// Step renders one recorded step of a finished turn: a tool call and its
// result, or a routing/explanation note. Steps are rendered after the turn
// completes, since StepRecord is only final at that point.
func Step(w io.Writer, step turndriver.StepRecord) {
	switch step.Type {
	case "tool":
		status := "ok"
		if step.IsError {
			status = "error"
		}
		fmt.Fprintf(w, "  → %s(%s) [%s]\n", step.ToolName, truncateOneLine(step.Input, 80), status)
		if step.Output != "" {
			fmt.Fprintln(w, indent(step.Output, "    "))
		}
	default:
		if step.Output != "" {
			fmt.Fprintln(w, step.Output)
		}
	}
}

// Error renders a turn-ending failure the way the CLI surfaces ApiFailure:
// an error line, with the conversation left as-is for the next turn.
func Error(w io.Writer, err error) {
	fmt.Fprintf(w, "error: %v\n", err)
}

// Transcript re-renders every message in a conversation, for commands like
// a /history inspection. Tool messages are shown compactly.
func Transcript(w io.Writer, conv *conversation.Conversation) {
	for _, msg := range conv.Messages() {
		switch msg.Role {
		case conversation.RoleUser:
			fmt.Fprintf(w, "you: %s\n", msg.Content)
		case conversation.RoleAssistant:
			if msg.Content != "" {
				fmt.Fprintf(w, "assistant: %s\n", msg.Content)
			}
			for _, tc := range msg.ToolCalls {
				fmt.Fprintf(w, "  call: %s(%s)\n", tc.Name, truncateOneLine(string(tc.Arguments), 80))
			}
		case conversation.RoleTool:
			fmt.Fprintf(w, "  result[%s]: %s\n", msg.ToolName, truncateOneLine(msg.Content, 200))
		}
	}
}

func truncateOneLine(s string, maxRunes int) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "\n", " ")
	return util.TruncateRunes(s, maxRunes)
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}
