// Package cli is the line-oriented terminal entry point: a bufio read loop
// that feeds each line to the Turn Driver and renders the result. It is
// deliberately thin — a richer terminal UI is an external collaborator this
// core does not provide.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pocketomega/loco/internal/render"
	"github.com/pocketomega/loco/internal/turndriver"
)

// REPL ties a Driver to a TurnState and a terminal.
type REPL struct {
	driver *turndriver.Driver
	state  *turndriver.TurnState
	in     *bufio.Scanner
	out    io.Writer
}

// New builds a REPL reading lines from in and writing rendered output to out.
func New(driver *turndriver.Driver, state *turndriver.TurnState, in io.Reader, out io.Writer) *REPL {
	return &REPL{driver: driver, state: state, in: bufio.NewScanner(in), out: out}
}

// Run reads lines until EOF or a "/exit" command, running one turn per
// non-empty, non-command line. It never returns an error for a turn
// failure — ApiFailure is rendered and the loop continues, per the Turn
// Driver's contract that the Conversation survives a failed turn intact.
func (r *REPL) Run(ctx context.Context) error {
	fmt.Fprint(r.out, "> ")
	for r.in.Scan() {
		line := strings.TrimSpace(r.in.Text())
		switch {
		case line == "":
			fmt.Fprint(r.out, "> ")
			continue
		case line == "/exit" || line == "/quit":
			return nil
		case line == "/history":
			render.Transcript(r.out, r.state.Conversation)
			fmt.Fprint(r.out, "> ")
			continue
		case strings.HasPrefix(line, "/rewind"):
			r.handleRewind(line)
			fmt.Fprint(r.out, "> ")
			continue
		}

		before := len(r.state.History)
		if err := r.driver.RunTurn(ctx, r.state, line); err != nil {
			render.Error(r.out, err)
		} else {
			render.EndAssistantText(r.out)
			for _, step := range r.state.History[before:] {
				render.Step(r.out, step)
			}
		}
		fmt.Fprint(r.out, "> ")
	}
	if err := r.in.Err(); err != nil {
		return err
	}
	return nil
}

// handleRewind supports "/rewind <turn-number> [force]", restoring the
// workspace and truncating the conversation to that turn's boundary.
// Without "force", a restoration that would overwrite files changed since
// that turn is reported as conflicts and not applied.
func (r *REPL) handleRewind(line string) {
	if r.state.Rewind == nil {
		fmt.Fprintln(r.out, "rewind is disabled for this session")
		return
	}
	fields := strings.Fields(line)
	if len(fields) < 2 {
		fmt.Fprintln(r.out, "usage: /rewind <turn-number> [force]")
		return
	}
	turnNumber, err := strconv.Atoi(fields[1])
	if err != nil {
		fmt.Fprintln(r.out, "usage: /rewind <turn-number> [force]")
		return
	}
	force := len(fields) > 2 && fields[2] == "force"

	result, err := r.state.Rewind.RewindToTurn(turnNumber, force)
	if err != nil {
		render.Error(r.out, err)
		return
	}
	if !result.OK {
		fmt.Fprintf(r.out, "rewind to turn %d blocked by %d conflicting file(s); re-run with \"force\" to overwrite\n", turnNumber, len(result.Conflicts))
		for _, c := range result.Conflicts {
			fmt.Fprintf(r.out, "  conflict: %s\n", c.Path)
		}
		return
	}

	idx, err := r.state.Rewind.GetMessageIndexForTurn(turnNumber)
	if err != nil {
		render.Error(r.out, err)
		return
	}
	r.state.Conversation.TruncateToIndex(idx)
	fmt.Fprintf(r.out, "rewound to turn %d: %d file(s) restored\n", turnNumber, len(result.Restored))
}

// OnTextDelta wires turn-driver text streaming into the REPL's output.
func (r *REPL) OnTextDelta(text string) {
	render.TextDelta(r.out, text)
}

// EnableStreaming points state.OnTextDelta at this REPL's renderer.
func (r *REPL) EnableStreaming() {
	r.state.OnTextDelta = r.OnTextDelta
}
