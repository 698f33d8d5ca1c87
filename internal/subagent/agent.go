// Package subagent runs a scoped Turn Driver against an isolated
// conversation whose tool set is filtered to one agent's allow/deny list.
package subagent

import "fmt"

// Agent describes one dispatchable sub-agent: a name and description for
// the parent's own tool-advertisement, a system-prompt preamble, and an
// optional allow-list/deny-list restricting which tools it may call.
type Agent struct {
	Name            string
	Description     string
	SystemPrompt    string
	AllowedTools    []string // if set, effective_tools = all ∩ AllowedTools
	DisallowedTools []string // else if set, effective_tools = all \ DisallowedTools
}

// EffectiveTools computes the tool names this agent may call out of all,
// per spec: the allow-list intersection if one is configured, else the
// deny-list difference if one is configured, else everything.
func (a Agent) EffectiveTools(all []string) []string {
	switch {
	case len(a.AllowedTools) > 0:
		allowed := toSet(a.AllowedTools)
		var out []string
		for _, name := range all {
			if allowed[name] {
				out = append(out, name)
			}
		}
		return out
	case len(a.DisallowedTools) > 0:
		denied := toSet(a.DisallowedTools)
		var out []string
		for _, name := range all {
			if !denied[name] {
				out = append(out, name)
			}
		}
		return out
	default:
		out := make([]string, len(all))
		copy(out, all)
		return out
	}
}

func toSet(names []string) map[string]bool {
	s := make(map[string]bool, len(names))
	for _, n := range names {
		s[n] = true
	}
	return s
}

// deniedMessage is the exact error result a call to a name outside
// effective_tools produces, without executing anything.
func deniedMessage(name string) string {
	return fmt.Sprintf("Error: Tool '%s' is not available to this agent", name)
}
