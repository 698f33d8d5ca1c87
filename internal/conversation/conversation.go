// Package conversation holds the ordered message log the Turn Driver submits
// to the LLM Completion Service and appends to as tool calls resolve.
package conversation

import (
	"encoding/json"
	"sync"
	"time"
)

// Role identifies who produced a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCallRecord is one model-issued request to execute a named tool.
// Arguments is only meaningful once the streaming decoder has received and
// parsed the full argument text (see internal/completion).
type ToolCallRecord struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Message is one entry in the conversation log. Messages are immutable once
// appended, except for the system message (overwritten in place by SetSystem).
type Message struct {
	Role       Role             `json:"role"`
	Content    string           `json:"content,omitempty"`
	ToolCalls  []ToolCallRecord `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"` // tool role only
	ToolName   string           `json:"tool_name,omitempty"`    // tool role only
}

// UsageStats accompanies one completion response.
type UsageStats struct {
	Model           string    `json:"model"`
	InputTokens     int       `json:"input_tokens"`
	OutputTokens    int       `json:"output_tokens"`
	EstimatedCostUS float64   `json:"estimated_cost_usd"`
	Timestamp       time.Time `json:"timestamp"`
}

// Conversation is the session-scoped, append-only message log.
//
// The Turn Driver owns a Conversation for the duration of a turn and yields
// it back between turns (see internal/turndriver); outside of a turn, reads
// (Messages, Len) are safe to call from any goroutine that also holds the
// mutex, which this type does internally.
type Conversation struct {
	mu      sync.RWMutex
	model   string
	system  *Message
	entries []Message
	usage   []UsageStats
}

// New creates an empty Conversation for the given model identifier.
func New(model string) *Conversation {
	return &Conversation{model: model}
}

// Model returns the current model identifier.
func (c *Conversation) Model() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.model
}

// SetModel switches the model identifier for subsequent completions.
func (c *Conversation) SetModel(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.model = model
}

// SetSystem overwrites the system message in place. It does not count as an
// append and is not subject to the append-only invariant.
func (c *Conversation) SetSystem(content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.system = &Message{Role: RoleSystem, Content: content}
}

// Append adds a message to the end of the log and returns its index.
func (c *Conversation) Append(msg Message) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, msg)
	return len(c.entries) - 1
}

// RecordUsage appends a usage report.
func (c *Conversation) RecordUsage(u UsageStats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.usage = append(c.usage, u)
}

// Usage returns a copy of all recorded usage reports.
func (c *Conversation) Usage() []UsageStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]UsageStats, len(c.usage))
	copy(out, c.usage)
	return out
}

// Len returns the number of non-system messages currently in the log.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Messages returns the messages the completion service should see: the
// system message (if set) followed by the full log, in order.
func (c *Conversation) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Message, 0, len(c.entries)+1)
	if c.system != nil {
		out = append(out, *c.system)
	}
	out = append(out, c.entries...)
	return out
}

// At returns the message at index i (0-based, excluding the system message).
func (c *Conversation) At(i int) (Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i < 0 || i >= len(c.entries) {
		return Message{}, false
	}
	return c.entries[i], true
}

// Clear resets the log to empty, preserving the system message.
func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
	c.usage = nil
}

// Compact replaces the prefix [0:n) of the log with a single synthesized
// assistant message carrying summary, keeping entries[n:] untouched. It is
// the caller's responsibility to produce a summary that captures whatever
// context from the replaced prefix still matters.
func (c *Conversation) Compact(n int, summary string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n <= 0 || n > len(c.entries) {
		return
	}
	replacement := Message{Role: RoleAssistant, Content: summary}
	rest := make([]Message, len(c.entries)-n)
	copy(rest, c.entries[n:])
	c.entries = append([]Message{replacement}, rest...)
}

// TruncateToIndex drops every message at or after index n (0-based, excludes
// the system message), used by rewind to restore the log to an earlier
// turn's boundary. n must be in [0, Len()]; out-of-range values are no-ops.
func (c *Conversation) TruncateToIndex(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 0 || n > len(c.entries) {
		return
	}
	c.entries = c.entries[:n]
}
