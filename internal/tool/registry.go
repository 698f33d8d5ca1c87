package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
)

// ToolDefinition is the schema form of a Tool handed to the completion
// service for tool-use advertisement (see internal/completion).
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Registry manages all registered tools with thread-safe access.
//
// A Registry can be either a "root" registry (parent == nil) that owns its
// tools map, or a "view" registry (parent != nil) created by WithExtra that
// overlays additional tools on top of a parent. Views delegate Get/List to
// the parent, so changes to the parent (Register/Unregister) are immediately
// visible through the view. This is what lets the Sub-agent Dispatcher hand
// out a filtered view without ever mutating the shared root.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	parent *Registry // non-nil → view mode; tools map holds extras only
}

// NewRegistry creates an empty root tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry. If a tool with the same name already
// exists, it is overwritten and a warning is logged.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		log.Printf("[Registry] WARNING: overwriting existing tool %q", t.Name())
	}
	r.tools[t.Name()] = t
}

// Unregister removes a tool from the registry (e.g. MCP server disconnect).
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	log.Printf("[Registry] Unregistered tool: %s", name)
}

// Get retrieves a tool by name.
// For view registries: checks extras first, then delegates to parent.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if ok {
		return t, true
	}
	if r.parent != nil {
		return r.parent.Get(name)
	}
	return nil, false
}

// List returns all registered tools sorted by name.
// For view registries: merges parent tools with extras (extras override parent).
func (r *Registry) List() []Tool {
	if r.parent != nil {
		return r.listView()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name() < result[j].Name()
	})
	return result
}

// listView merges parent tools with this view's extras.
// Extras take precedence over parent tools with the same name.
func (r *Registry) listView() []Tool {
	parentTools := r.parent.List()

	r.mu.RLock()
	extras := make(map[string]Tool, len(r.tools))
	for k, v := range r.tools {
		extras[k] = v
	}
	r.mu.RUnlock()

	result := make([]Tool, 0, len(parentTools)+len(extras))
	for _, t := range parentTools {
		if _, overridden := extras[t.Name()]; !overridden {
			result = append(result, t)
		}
	}
	for _, t := range extras {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name() < result[j].Name()
	})
	return result
}

// Execute runs the named tool against args. Unknown tools and executor
// failures both surface as conversation-level text, never as a Go error:
// an unknown name yields exactly `Error: Unknown tool '{name}'`; an executor
// failure yields `Error executing {name}: {reason}`. This preserves the
// invariant that every tool call produces a tool-role message.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) ToolResult {
	t, ok := r.Get(name)
	if !ok {
		return ToolResult{Error: fmt.Sprintf("Error: Unknown tool '%s'", name)}
	}

	log.Printf("[Registry] span tool=%s", name) // telemetry span marker
	result, err := t.Execute(ctx, args)
	if err != nil {
		return ToolResult{Error: fmt.Sprintf("Error executing %s: %v", name, err)}
	}
	return result
}

// ToolsPrompt renders a human-readable catalogue of all tools, including
// their parameter schemas, for injection into a model prompt that does not
// support native function calling.
func (r *Registry) ToolsPrompt() string {
	tools := r.List()
	if len(tools) == 0 {
		return "(no tools available)"
	}

	var sb strings.Builder
	sb.WriteString("Available tools:\n")
	for _, t := range tools {
		sb.WriteString(fmt.Sprintf("\n### %s\n%s\n", t.Name(), t.Description()))
		schema := t.InputSchema()
		if len(schema) > 0 {
			sb.WriteString(fmt.Sprintf("Parameter schema: %s\n", string(schema)))
		}
	}
	return sb.String()
}

// Definitions returns the tool-use schema form of every registered tool, in
// the shape the completion service advertises to the model.
func (r *Registry) Definitions() []ToolDefinition {
	tools := r.List()
	defs := make([]ToolDefinition, len(tools))
	for i, t := range tools {
		defs[i] = ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.InputSchema(),
		}
	}
	return defs
}

// InitAll initializes all registered tools.
func (r *Registry) InitAll(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for name, t := range r.tools {
		if err := t.Init(ctx); err != nil {
			return fmt.Errorf("init tool %q: %w", name, err)
		}
	}
	log.Printf("[Registry] Initialized %d tools", len(r.tools))
	return nil
}

// CloseAll closes all registered tools, logging errors but not failing.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for name, t := range r.tools {
		if err := t.Close(); err != nil {
			log.Printf("[Registry] Error closing tool %s: %v", name, err)
		}
	}
}

// WithExtra returns a view of this Registry with additional tools overlaid.
//
// The returned Registry delegates Get/List to the parent, so changes to the
// parent (via Register/Unregister) are immediately visible through the view.
// Extras take precedence over parent tools with the same name.
//
// Can be chained: root.WithExtra(a).WithExtra(b) creates a view chain where
// lookups check b's extras → a's extras → root's tools.
func (r *Registry) WithExtra(extras ...Tool) *Registry {
	extrasMap := make(map[string]Tool, len(extras))
	for _, t := range extras {
		extrasMap[t.Name()] = t
	}
	return &Registry{
		parent: r,
		tools:  extrasMap,
	}
}

// WithOnly returns a view exposing only the named subset of this registry's
// tools (used by the Sub-agent Dispatcher's allow-list filtering). Names not
// present in the parent are silently skipped.
func (r *Registry) WithOnly(names []string) *Registry {
	v := &Registry{tools: make(map[string]Tool)}
	for _, n := range names {
		if t, ok := r.Get(n); ok {
			v.tools[n] = t
		}
	}
	return v
}

// WithExcluding returns a view exposing every tool of this registry except
// the named ones (used by the Sub-agent Dispatcher's deny-list filtering).
func (r *Registry) WithExcluding(names []string) *Registry {
	deny := make(map[string]bool, len(names))
	for _, n := range names {
		deny[n] = true
	}
	v := &Registry{tools: make(map[string]Tool)}
	for _, t := range r.List() {
		if !deny[t.Name()] {
			v.tools[t.Name()] = t
		}
	}
	return v
}
