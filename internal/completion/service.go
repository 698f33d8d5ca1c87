// Package completion defines the streaming chat-completion contract the
// Turn Driver submits conversations through. Provider-specific
// implementations (see the openai subpackage) decode a network stream into
// the Event sequence described here.
package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pocketomega/loco/internal/conversation"
)

// ToolDefinition describes one callable tool in the wire shape the LLM's
// tool-use protocol expects: a name, description, and JSON-Schema
// parameters.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// ToolCallFragment is a partial or final tool-call record, keyed by its
// per-stream integer index so out-of-order fragments for the same call can
// be merged by the caller.
type ToolCallFragment struct {
	Index        int
	ID           string
	Name         string
	ArgumentText string // accumulates across fragments; parse only at stream end
}

// EventKind discriminates the variants of Event.
type EventKind int

const (
	EventTextDelta EventKind = iota
	EventToolCallFragment
	EventUsage
)

// Event is one item in the stream a Stream call yields. Exactly one of the
// payload fields is meaningful, selected by Kind.
type Event struct {
	Kind     EventKind
	Text     string
	ToolCall ToolCallFragment
	Usage    conversation.UsageStats
}

// Result is the fully-merged outcome of a Stream call: the assistant text,
// the finalized tool calls (parsed from their accumulated argument text),
// and usage totals.
type Result struct {
	Text      string
	ToolCalls []conversation.ToolCallRecord
	Usage     conversation.UsageStats
}

// Request carries everything a single completion call needs.
type Request struct {
	Model     string
	Messages  []conversation.Message
	Tools     []ToolDefinition // empty = no tool-use offered
	System    string
}

// Service is the LLM Completion Service contract: given a Conversation
// submission, produce a stream of text deltas and tool-call fragments,
// followed by a usage report.
//
// Implementations guarantee that all text deltas for a turn are emitted
// before the first completed tool-call record is visible to the caller,
// and that usage is reported after all content.
type Service interface {
	// Stream submits req and invokes onEvent for each Event in order.
	// Returns the merged Result once the stream ends (including any
	// retries this call absorbed internally).
	Stream(ctx context.Context, req Request, onEvent func(Event)) (Result, error)
}

// Failure classes the retry policy distinguishes.
type FailureClass int

const (
	// FailureOther is non-retryable; it surfaces to the caller immediately.
	FailureOther FailureClass = iota
	FailureRateLimited
	FailureServiceUnavailable
	FailureConnectionFailed
)

// ProviderError carries the classified failure a Service implementation's
// transport raised, so the shared retry loop (see Retry) can decide
// whether to back off and try again.
type ProviderError struct {
	Class FailureClass
	Err   error
}

func (e *ProviderError) Error() string { return e.Err.Error() }
func (e *ProviderError) Unwrap() error { return e.Err }

func (c FailureClass) retryable() bool {
	switch c {
	case FailureRateLimited, FailureServiceUnavailable, FailureConnectionFailed:
		return true
	default:
		return false
	}
}

// ApiFailure is raised when the retry budget is exhausted. It wraps the
// last underlying cause.
type ApiFailure struct {
	Attempts int
	Cause    error
}

func (e *ApiFailure) Error() string {
	return fmt.Sprintf("completion: exhausted %d attempts: %v", e.Attempts, e.Cause)
}
func (e *ApiFailure) Unwrap() error { return e.Cause }

const (
	maxRetries  = 3
	backoffBase = 1.0 * float64(time.Second)
)

// Retry runs attempt up to maxRetries+1 times, applying exponential
// backoff (1.0s × 2^attempt) between tries when attempt fails with a
// retryable ProviderError. Non-retryable errors surface immediately. On
// exhaustion of a retryable class, returns *ApiFailure wrapping the last
// cause.
func Retry(ctx context.Context, attempt func() error) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		err := attempt()
		if err == nil {
			return nil
		}
		lastErr = err

		var perr *ProviderError
		if !errors.As(err, &perr) || !perr.Class.retryable() {
			return err
		}

		if i == maxRetries {
			return &ApiFailure{Attempts: i + 1, Cause: lastErr}
		}

		wait := time.Duration(backoffBase * pow2(i))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return &ApiFailure{Attempts: maxRetries + 1, Cause: lastErr}
}

func pow2(n int) float64 {
	result := 1.0
	for i := 0; i < n; i++ {
		result *= 2
	}
	return result
}
