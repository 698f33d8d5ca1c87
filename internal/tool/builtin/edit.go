package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/pocketomega/loco/internal/tool"
)

// ── edit ──

type FileEditTool struct {
	workspaceDir string
}

func NewFileEditTool(workspaceDir string) *FileEditTool {
	return &FileEditTool{workspaceDir: workspaceDir}
}

func (t *FileEditTool) Name() string { return "edit" }
func (t *FileEditTool) Description() string {
	return "Replace an exact string occurrence in a file with a new string"
}

func (t *FileEditTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "file_path", Type: "string", Description: "the file path", Required: true},
		tool.SchemaParam{Name: "old_string", Type: "string", Description: "the exact text to replace", Required: true},
		tool.SchemaParam{Name: "new_string", Type: "string", Description: "the replacement text", Required: true},
		tool.SchemaParam{Name: "replace_all", Type: "boolean", Description: "replace every occurrence instead of requiring exactly one"},
	)
}

func (t *FileEditTool) Init(_ context.Context) error { return nil }
func (t *FileEditTool) Close() error                 { return nil }

type fileEditArgs struct {
	FilePath   string `json:"file_path"`
	OldString  string `json:"old_string"`
	NewString  string `json:"new_string"`
	ReplaceAll bool   `json:"replace_all"`
}

func (t *FileEditTool) Execute(_ context.Context, args json.RawMessage) (tool.ToolResult, error) {
	var a fileEditArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("Error: failed to parse arguments: %v", err)}, nil
	}

	path, err := safeResolvePath(a.FilePath, t.workspaceDir)
	if err != nil {
		return tool.ToolResult{Error: "Error: " + err.Error()}, nil
	}
	if msg := checkProtectedFile(path, t.workspaceDir); msg != "" {
		return tool.ToolResult{Error: "Error: " + msg}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("Error: file not found: %s", path)}, nil
	}
	content := string(data)

	if a.OldString == a.NewString {
		return tool.ToolResult{Output: fmt.Sprintf("No change: old_string and new_string are identical in %s", path)}, nil
	}

	count := strings.Count(content, a.OldString)
	if count == 0 {
		if lines := partialMatchLines(content, a.OldString); len(lines) > 0 {
			return tool.ToolResult{Error: fmt.Sprintf(
				"Error: old_string not found in %s. Similar text appears on line(s): %s",
				path, joinInts(lines))}, nil
		}
		return tool.ToolResult{Error: fmt.Sprintf("Error: old_string not found in %s", path)}, nil
	}
	if count > 1 && !a.ReplaceAll {
		return tool.ToolResult{Error: fmt.Sprintf(
			"Error: old_string occurs %d times in %s; pass replace_all=true or supply more context to disambiguate", count, path)}, nil
	}

	var replaced string
	n := 1
	if a.ReplaceAll {
		replaced = strings.ReplaceAll(content, a.OldString, a.NewString)
		n = count
	} else {
		replaced = strings.Replace(content, a.OldString, a.NewString, 1)
	}

	if err := os.WriteFile(path, []byte(replaced), 0644); err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("Error: failed to write: %v", err)}, nil
	}

	if n == 1 {
		return tool.ToolResult{Output: fmt.Sprintf("Replaced 1 occurrence in %s", path)}, nil
	}
	return tool.ToolResult{Output: fmt.Sprintf("Replaced %d occurrences in %s", n, path)}, nil
}

// partialMatchLines returns up to five line numbers whose text contains the
// needle's first word (when that word is at least 3 bytes long), helping the
// caller locate a near-miss edit target.
func partialMatchLines(content, needle string) []int {
	needle = strings.TrimSpace(needle)
	if needle == "" {
		return nil
	}
	firstWord := strings.Fields(needle)
	if len(firstWord) == 0 {
		return nil
	}
	anchor := firstWord[0]
	if len(anchor) < 3 {
		return nil
	}

	var lines []int
	for i, line := range strings.Split(content, "\n") {
		if strings.Contains(line, anchor) {
			lines = append(lines, i+1)
		}
		if len(lines) >= 5 {
			break
		}
	}
	return lines
}

func joinInts(ints []int) string {
	parts := make([]string, len(ints))
	for i, n := range ints {
		parts[i] = fmt.Sprintf("%d", n)
	}
	return strings.Join(parts, ", ")
}
