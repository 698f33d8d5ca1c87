package builtin

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/cases"

	"github.com/pocketomega/loco/internal/tool"
)

const (
	grepTimeout         = 15 * time.Second
	grepDefaultLimit    = 50
	grepHardLimit       = 200
	grepMaxLineLen      = 300
	grepMaxContextLines = 10
)

// ── grep ──

type FileGrepTool struct {
	workspaceDir string
}

func NewFileGrepTool(workspaceDir string) *FileGrepTool {
	return &FileGrepTool{workspaceDir: workspaceDir}
}

func (t *FileGrepTool) Name() string { return "grep" }
func (t *FileGrepTool) Description() string {
	return "Search file contents with a regular expression, reporting matches as relpath:line: content"
}

func (t *FileGrepTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "pattern", Type: "string", Description: "regular expression to search for", Required: true},
		tool.SchemaParam{Name: "path", Type: "string", Description: "directory or file to search, default workspace root"},
		tool.SchemaParam{Name: "glob", Type: "string", Description: "filename filter, e.g. *.go or *.{ts,tsx}"},
		tool.SchemaParam{Name: "case_insensitive", Type: "boolean", Description: "match case-insensitively (default false)"},
		tool.SchemaParam{Name: "context_lines", Type: "integer", Description: "lines of context before/after each match (default 0, max 10)"},
		tool.SchemaParam{Name: "limit", Type: "integer", Description: "maximum number of matches to return (default 50, max 200)"},
	)
}

func (t *FileGrepTool) Init(_ context.Context) error { return nil }
func (t *FileGrepTool) Close() error                 { return nil }

type fileGrepArgs struct {
	Pattern         string `json:"pattern"`
	Path            string `json:"path"`
	Glob            string `json:"glob"`
	CaseInsensitive bool   `json:"case_insensitive"`
	ContextLines    int    `json:"context_lines"`
	Limit           int    `json:"limit"`
}

type grepMatch struct {
	File        string
	LineNum     int // 1-based
	Line        string
	BeforeStart int // 1-based line number of first before-context line
	Before      []string
	After       []string
}

// caseFolder normalizes text for Unicode-aware case-insensitive comparison
// (used as a fast literal pre-filter ahead of the full regex pass).
var caseFolder = cases.Fold()

func (t *FileGrepTool) Execute(ctx context.Context, args json.RawMessage) (tool.ToolResult, error) {
	var a fileGrepArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("Error: failed to parse arguments: %v", err)}, nil
	}

	if strings.TrimSpace(a.Pattern) == "" {
		return tool.ToolResult{Error: "Error: pattern must not be empty"}, nil
	}

	contextLines := clamp(a.ContextLines, 0, grepMaxContextLines)
	limit := a.Limit
	if limit <= 0 {
		limit = grepDefaultLimit
	}
	if limit > grepHardLimit {
		limit = grepHardLimit
	}

	re, err := buildGrepRegexp(a.Pattern, a.CaseInsensitive)
	if err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("Error: invalid regular expression: %v", err)}, nil
	}

	searchRoot := t.workspaceDir
	if a.Path != "" {
		resolved, err := safeResolvePath(a.Path, t.workspaceDir)
		if err != nil {
			return tool.ToolResult{Error: "Error: " + err.Error()}, nil
		}
		searchRoot = resolved
	}
	if searchRoot == "" {
		searchRoot = "."
	}

	walkCtx, cancel := context.WithTimeout(ctx, grepTimeout)
	defer cancel()

	if _, err := os.Stat(searchRoot); err != nil {
		if os.IsNotExist(err) {
			return tool.ToolResult{Error: fmt.Sprintf("Error: search path does not exist: %s", a.Path)}, nil
		}
		return tool.ToolResult{Error: fmt.Sprintf("Error: could not access search path: %v", err)}, nil
	}

	var matches []grepMatch
	filesWithMatch := map[string]bool{}
	limitReached := false

	_ = filepath.WalkDir(searchRoot, func(path string, d os.DirEntry, err error) error {
		select {
		case <-walkCtx.Done():
			return walkCtx.Err()
		default:
		}

		if err != nil {
			return nil
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}

		if a.Glob != "" {
			matched, _ := matchFileGlob(a.Glob, d.Name())
			if !matched {
				return nil
			}
		}

		fileMatches, err := searchInFile(walkCtx, path, re, contextLines)
		if err != nil {
			return nil
		}
		if len(fileMatches) > 0 {
			filesWithMatch[path] = true
		}
		for _, m := range fileMatches {
			if len(matches) >= limit {
				limitReached = true
				return fmt.Errorf("limit reached")
			}
			matches = append(matches, m)
		}
		return nil
	})

	if len(matches) == 0 {
		return tool.ToolResult{Output: "No matches found"}, nil
	}

	output := formatGrepResults(matches, searchRoot, len(filesWithMatch), limitReached, limit)
	return tool.ToolResult{Output: output}, nil
}

// buildGrepRegexp compiles the search pattern.
// Go's regexp package uses the RE2 engine which guarantees linear-time
// execution, so ReDoS is not a concern and no special guard is needed.
func buildGrepRegexp(pattern string, caseInsensitive bool) (*regexp.Regexp, error) {
	prefix := ""
	if caseInsensitive {
		prefix = "(?i)"
	}
	return regexp.Compile(prefix + pattern)
}

// matchFileGlob supports simple glob patterns and brace expansion like *.{ts,tsx}.
func matchFileGlob(pattern, name string) (bool, error) {
	if strings.Contains(pattern, "{") && strings.Contains(pattern, "}") {
		start := strings.Index(pattern, "{")
		end := strings.Index(pattern, "}")
		if start < end {
			prefix := pattern[:start]
			suffix := pattern[end+1:]
			alternatives := strings.Split(pattern[start+1:end], ",")
			for _, alt := range alternatives {
				m, err := filepath.Match(prefix+strings.TrimSpace(alt)+suffix, name)
				if err != nil {
					return false, err
				}
				if m {
					return true, nil
				}
			}
			return false, nil
		}
	}
	return filepath.Match(pattern, name)
}

// isLiteralPattern reports whether pattern contains no regex metacharacters,
// making it eligible for the cases.Fold fast-path pre-filter.
func isLiteralPattern(pattern string) bool {
	return !strings.ContainsAny(pattern, `.*+?()[]{}|^$\`)
}

// searchInFile reads a file and returns all regex matches with optional context.
// Returns nil without error for binary files or files larger than 10MB (silently skipped).
func searchInFile(ctx context.Context, path string, re *regexp.Regexp, contextLines int) ([]grepMatch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() > 10<<20 {
		return nil, nil // silently skip oversized files
	}

	sample := make([]byte, 512)
	n, err := f.Read(sample)
	if err != nil && n == 0 {
		return nil, err
	}
	if isGrepBinary(sample[:n]) {
		return nil, nil
	}
	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1<<20), 1<<20)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	literal := ""
	caseInsensitive := strings.HasPrefix(re.String(), "(?i)")
	if caseInsensitive && isLiteralPattern(strings.TrimPrefix(re.String(), "(?i)")) {
		literal = caseFolder.String(strings.TrimPrefix(re.String(), "(?i)"))
	}

	var matches []grepMatch
	for i, line := range lines {
		var isMatch bool
		if literal != "" {
			// Fast path: Unicode-aware case folding instead of relying on
			// regexp's ASCII-biased (?i) for the common literal-substring case.
			isMatch = strings.Contains(caseFolder.String(line), literal)
		} else {
			isMatch = re.MatchString(line)
		}
		if !isMatch {
			continue
		}

		m := grepMatch{
			File:    path,
			LineNum: i + 1,
			Line:    truncateLine(line, grepMaxLineLen),
		}

		if contextLines > 0 {
			beforeStart := i - contextLines
			if beforeStart < 0 {
				beforeStart = 0
			}
			m.BeforeStart = beforeStart + 1
			for j := beforeStart; j < i; j++ {
				m.Before = append(m.Before, truncateLine(lines[j], grepMaxLineLen))
			}

			end := i + contextLines + 1
			if end > len(lines) {
				end = len(lines)
			}
			for j := i + 1; j < end; j++ {
				m.After = append(m.After, truncateLine(lines[j], grepMaxLineLen))
			}
		}

		matches = append(matches, m)
	}
	return matches, nil
}

// isGrepBinary returns true when the byte slice looks like binary content.
func isGrepBinary(data []byte) bool {
	if bytes.IndexByte(data, 0) >= 0 {
		return true
	}
	if utf8.Valid(data) {
		return false
	}
	nonPrintable := 0
	for _, b := range data {
		if b < 0x08 || (b >= 0x0E && b < 0x20 && b != 0x1B) {
			nonPrintable++
		}
	}
	return len(data) > 0 && nonPrintable*10 > len(data)
}

// truncateLine truncates a string to maxLen runes, appending "..." if truncated.
func truncateLine(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}

// formatGrepResults renders a header reporting total counts, followed by
// matches as relpath:line: content with optional context lines.
func formatGrepResults(matches []grepMatch, root string, fileCount int, limitReached bool, limit int) string {
	var sb strings.Builder

	suffix := ""
	if limitReached {
		suffix = fmt.Sprintf(" [truncated to %d matches]", limit)
	}
	sb.WriteString(fmt.Sprintf("%d matches across %d files%s\n", len(matches), fileCount, suffix))

	for _, m := range matches {
		rel := m.File
		if r, err := filepath.Rel(root, m.File); err == nil {
			rel = r
		}

		for i, line := range m.Before {
			sb.WriteString(fmt.Sprintf("%s:%d: %s\n", rel, m.BeforeStart+i, line))
		}
		sb.WriteString(fmt.Sprintf("%s:%d: %s\n", rel, m.LineNum, m.Line))
		for i, line := range m.After {
			sb.WriteString(fmt.Sprintf("%s:%d: %s\n", rel, m.LineNum+1+i, line))
		}
	}

	return sb.String()
}

// clamp returns v clamped to [lo, hi].
func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
