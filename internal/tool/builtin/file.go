package builtin

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/pocketomega/loco/internal/tool"
)

const (
	maxFileSize      = 10 << 20 // 10MB — read limit
	maxWriteSize     = 10 << 20 // 10MB — reject oversized content before filesystem access
	defaultReadLimit = 2000
	maxLineBytes     = 2000
	defaultGlobLimit = 100
)

// ── read ──

type FileReadTool struct {
	workspaceDir string
}

func NewFileReadTool(workspaceDir string) *FileReadTool {
	return &FileReadTool{workspaceDir: workspaceDir}
}

func (t *FileReadTool) Name() string        { return "read" }
func (t *FileReadTool) Description() string { return "Read a range of lines from a file" }

func (t *FileReadTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "file_path", Type: "string", Description: "the file path", Required: true},
		tool.SchemaParam{Name: "offset", Type: "integer", Description: "1-based line number to start from"},
		tool.SchemaParam{Name: "limit", Type: "integer", Description: "maximum number of lines to return (default 2000)"},
	)
}

func (t *FileReadTool) Init(_ context.Context) error { return nil }
func (t *FileReadTool) Close() error                 { return nil }

type fileReadArgs struct {
	FilePath string `json:"file_path"`
	Offset   int    `json:"offset"`
	Limit    int    `json:"limit"`
}

func (t *FileReadTool) Execute(_ context.Context, args json.RawMessage) (tool.ToolResult, error) {
	var a fileReadArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("Error: failed to parse arguments: %v", err)}, nil
	}

	path, err := safeResolvePath(a.FilePath, t.workspaceDir)
	if err != nil {
		return tool.ToolResult{Error: "Error: " + err.Error()}, nil
	}

	// Open first, then stat: avoids a TOCTOU race between os.Stat and the read.
	f, err := os.Open(path)
	if err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("Error: file not found: %s", path)}, nil
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("Error: could not stat file: %v", err)}, nil
	}
	if info.IsDir() {
		return tool.ToolResult{Error: fmt.Sprintf("Error: %s is a directory, not a file", path)}, nil
	}
	if info.Size() > maxFileSize {
		return tool.ToolResult{Error: fmt.Sprintf("Error: file too large (%d bytes), max %d bytes", info.Size(), maxFileSize)}, nil
	}

	limit := a.Limit
	if limit <= 0 {
		limit = defaultReadLimit
	}
	offset := a.Offset
	if offset <= 0 {
		offset = 1
	}

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo < offset {
			continue
		}
		if len(lines) >= limit {
			break
		}
		text := scanner.Text()
		if len(text) > maxLineBytes {
			text = text[:maxLineBytes] + "... [line truncated]"
		}
		lines = append(lines, text)
	}
	// Keep scanning past the returned window just to learn the file's total
	// line count for the "[Showing lines A-B of N]" header.
	totalLines := lineNo
	for scanner.Scan() {
		totalLines++
	}
	if err := scanner.Err(); err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("Error: failed reading file: %v", err)}, nil
	}

	var sb strings.Builder
	lastLine := offset + len(lines) - 1
	if len(lines) > 0 && (offset > 1 || lastLine < totalLines) {
		sb.WriteString(fmt.Sprintf("[Showing lines %d-%d of %d]\n", offset, lastLine, totalLines))
	}
	for i, l := range lines {
		sb.WriteString(fmt.Sprintf("%6d\t%s\n", offset+i, l))
	}

	return tool.ToolResult{Output: sb.String()}, nil
}

// ── write ──

type FileWriteTool struct {
	workspaceDir string
}

func NewFileWriteTool(workspaceDir string) *FileWriteTool {
	return &FileWriteTool{workspaceDir: workspaceDir}
}

func (t *FileWriteTool) Name() string { return "write" }
func (t *FileWriteTool) Description() string {
	return "Write content to a file, creating it or overwriting it entirely"
}

func (t *FileWriteTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "file_path", Type: "string", Description: "the file path", Required: true},
		tool.SchemaParam{Name: "content", Type: "string", Description: "the content to write", Required: true},
	)
}

func (t *FileWriteTool) Init(_ context.Context) error { return nil }
func (t *FileWriteTool) Close() error                 { return nil }

type fileWriteArgs struct {
	FilePath string `json:"file_path"`
	Content  string `json:"content"`
}

func (t *FileWriteTool) Execute(_ context.Context, args json.RawMessage) (tool.ToolResult, error) {
	var a fileWriteArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("Error: failed to parse arguments: %v", err)}, nil
	}

	if len(a.Content) > maxWriteSize {
		return tool.ToolResult{Error: fmt.Sprintf("Error: content too large (%d bytes), max %d bytes", len(a.Content), maxWriteSize)}, nil
	}

	path, err := safeResolvePath(a.FilePath, t.workspaceDir)
	if err != nil {
		return tool.ToolResult{Error: "Error: " + err.Error()}, nil
	}

	if msg := checkProtectedFile(path, t.workspaceDir); msg != "" {
		return tool.ToolResult{Error: "Error: " + msg}, nil
	}

	_, statErr := os.Stat(path)
	existed := statErr == nil

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("Error: failed to create parent directories: %v", err)}, nil
	}

	// Write to a sibling temp file then rename, so a reader of path never
	// observes a partially-written file.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".loco-write-*")
	if err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("Error: failed to create temp file: %v", err)}, nil
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(a.Content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return tool.ToolResult{Error: fmt.Sprintf("Error: failed to write: %v", err)}, nil
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return tool.ToolResult{Error: fmt.Sprintf("Error: failed to write: %v", err)}, nil
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return tool.ToolResult{Error: fmt.Sprintf("Error: failed to finalize write: %v", err)}, nil
	}

	lineCount := strings.Count(a.Content, "\n")
	if len(a.Content) > 0 && !strings.HasSuffix(a.Content, "\n") {
		lineCount++
	}

	verb := "Created"
	if existed {
		verb = "Updated"
	}
	return tool.ToolResult{Output: fmt.Sprintf("%s %s (%d lines)", verb, path, lineCount)}, nil
}

// ── glob ──

type FileFindTool struct {
	workspaceDir string
}

func NewFileFindTool(workspaceDir string) *FileFindTool {
	return &FileFindTool{workspaceDir: workspaceDir}
}

func (t *FileFindTool) Name() string { return "glob" }
func (t *FileFindTool) Description() string {
	return "Find files matching a glob pattern, sorted by modification time"
}

func (t *FileFindTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "pattern", Type: "string", Description: "glob pattern, e.g. '*.go' or '**/*.json'", Required: true},
		tool.SchemaParam{Name: "path", Type: "string", Description: "directory to search under (default: workspace root)"},
		tool.SchemaParam{Name: "limit", Type: "integer", Description: "maximum number of results (default 100)"},
	)
}

func (t *FileFindTool) Init(_ context.Context) error { return nil }
func (t *FileFindTool) Close() error                 { return nil }

type fileFindArgs struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path"`
	Limit   int    `json:"limit"`
}

type globMatch struct {
	relPath string
	modTime int64
}

func (t *FileFindTool) Execute(ctx context.Context, args json.RawMessage) (tool.ToolResult, error) {
	var a fileFindArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("Error: failed to parse arguments: %v", err)}, nil
	}

	pattern := strings.TrimSpace(a.Pattern)
	if pattern == "" {
		return tool.ToolResult{Error: "Error: pattern must not be empty"}, nil
	}

	root := a.Path
	if root == "" {
		root = t.workspaceDir
	}
	root, err := safeResolvePath(root, t.workspaceDir)
	if err != nil {
		return tool.ToolResult{Error: "Error: " + err.Error()}, nil
	}

	limit := a.Limit
	if limit <= 0 {
		limit = defaultGlobLimit
	}

	var matches []globMatch
	_ = filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
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

		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			rel = p
		}
		matched, _ := filepath.Match(pattern, filepath.Base(p))
		if !matched {
			matched, _ = filepath.Match(pattern, rel)
		}
		if !matched {
			return nil
		}
		info, infoErr := d.Info()
		var mt int64
		if infoErr == nil {
			mt = info.ModTime().UnixNano()
		}
		matches = append(matches, globMatch{relPath: rel, modTime: mt})
		return nil
	})

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].modTime > matches[j].modTime
	})

	truncated := len(matches) > limit
	if truncated {
		matches = matches[:limit]
	}

	if len(matches) == 0 {
		return tool.ToolResult{Output: fmt.Sprintf("No files matched %q", pattern)}, nil
	}

	var sb strings.Builder
	for _, m := range matches {
		sb.WriteString(m.relPath)
		sb.WriteString("\n")
	}
	if truncated {
		sb.WriteString(fmt.Sprintf("[Results truncated to %d matches]\n", limit))
	}

	return tool.ToolResult{Output: sb.String()}, nil
}

// ── shared helpers ──

// skipDirs contains directory names to skip during recursive search.
var skipDirs = map[string]bool{
	".git": true, "node_modules": true, ".idea": true, ".vscode": true,
	"vendor": true, "__pycache__": true, ".cache": true,
}

// safeResolvePath resolves a file path and validates it stays within the workspace.
// Prevents path traversal attacks (e.g. ../../etc/passwd), prefix collisions
// (e.g. workspace="C:\project", path="C:\project-evil\attack.txt"), and
// symlink-escape attacks where a symlink inside the workspace points to a
// target outside it.
func safeResolvePath(path, workspaceDir string) (string, error) {
	var resolved string
	if filepath.IsAbs(path) {
		resolved = filepath.Clean(path)
	} else if workspaceDir != "" {
		resolved = filepath.Clean(filepath.Join(workspaceDir, path))
	} else {
		resolved = filepath.Clean(path)
	}

	if workspaceDir != "" {
		absWorkspace, err := filepath.Abs(workspaceDir)
		if err != nil {
			return "", fmt.Errorf("could not resolve workspace directory: %w", err)
		}
		realWorkspace, err := filepath.EvalSymlinks(absWorkspace)
		if err != nil {
			realWorkspace = absWorkspace
		}

		absResolved, err := filepath.Abs(resolved)
		if err != nil {
			return "", fmt.Errorf("could not resolve target path: %w", err)
		}
		realResolved, _ := resolveExisting(absResolved)

		if runtime.GOOS == "windows" {
			realWorkspace = strings.ToLower(realWorkspace)
			realResolved = strings.ToLower(realResolved)
		}

		if realResolved != realWorkspace &&
			!strings.HasPrefix(realResolved, realWorkspace+string(os.PathSeparator)) {
			return "", fmt.Errorf("path %q escapes workspace %q; use bash to access paths outside the workspace", path, workspaceDir)
		}
	}

	return resolved, nil
}

// resolveExisting resolves symlinks for an existing path, or for its parent
// directory if the path itself does not yet exist (e.g. a new file to be written).
func resolveExisting(path string) (string, error) {
	if real, err := filepath.EvalSymlinks(path); err == nil {
		return real, nil
	}
	if real, err := filepath.EvalSymlinks(filepath.Dir(path)); err == nil {
		return filepath.Join(real, filepath.Base(path)), nil
	}
	return path, nil
}

// protectedFiles maps workspace-relative filenames to the tool that should be
// used instead. Writes to these files via write/edit are blocked at the code
// level to prevent accidental corruption of loco's own configuration.
var protectedFiles = map[string]string{
	"mcp.json": "mcp_server_add/mcp_server_remove",
}

// checkProtectedFile returns a non-empty error message if resolvedPath points
// to a protected file that must not be modified by generic file tools.
func checkProtectedFile(resolvedPath, workspaceDir string) string {
	if workspaceDir == "" {
		return ""
	}
	base := filepath.Base(resolvedPath)
	dir := filepath.Dir(resolvedPath)
	absWorkspace, _ := filepath.Abs(workspaceDir)

	if runtime.GOOS == "windows" {
		dir = strings.ToLower(dir)
		absWorkspace = strings.ToLower(absWorkspace)
		base = strings.ToLower(base)
	}

	if dir != absWorkspace {
		return ""
	}
	if alt, ok := protectedFiles[base]; ok {
		return fmt.Sprintf("%s is protected — use the %s tool instead; direct edits corrupt its format", base, alt)
	}
	return ""
}
