package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const maxFileReadBytes = 256 * 1024

// fileAccess resolves and validates paths for the file tools. When
// restrict is set, access outside the workspace root is refused.
type fileAccess struct {
	workspace string
	restrict  bool
}

func (fa fileAccess) resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(fa.workspace, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if fa.restrict {
		root, err := filepath.Abs(fa.workspace)
		if err != nil {
			return "", err
		}
		rel, err := filepath.Rel(root, abs)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("path %q is outside the workspace", path)
		}
	}
	return abs, nil
}

// ReadFileTool reads a text file from the workspace.
type ReadFileTool struct {
	access fileAccess
}

func NewReadFileTool(workspace string, restrict bool) *ReadFileTool {
	return &ReadFileTool{access: fileAccess{workspace: workspace, restrict: restrict}}
}

func (t *ReadFileTool) Name() string {
	return "read_file"
}

func (t *ReadFileTool) Description() string {
	return "Read the contents of a text file. Relative paths resolve against the workspace."
}

func (t *ReadFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path of the file to read.",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	path, ok := stringArg(args, "path")
	if !ok {
		return ErrorResult("path is required")
	}
	abs, err := t.access.resolve(path)
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return ErrorResult(fmt.Sprintf("cannot stat %q: %v", path, err)).WithError(err)
	}
	if info.IsDir() {
		return ErrorResult(fmt.Sprintf("%q is a directory", path))
	}
	if info.Size() > maxFileReadBytes {
		return ErrorResult(fmt.Sprintf("file %q is too large (%d bytes, limit %d)", path, info.Size(), maxFileReadBytes))
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return ErrorResult(fmt.Sprintf("cannot read %q: %v", path, err)).WithError(err)
	}
	return SuccessResult(string(data))
}

// WriteFileTool writes a text file inside the workspace.
type WriteFileTool struct {
	access fileAccess
}

func NewWriteFileTool(workspace string, restrict bool) *WriteFileTool {
	return &WriteFileTool{access: fileAccess{workspace: workspace, restrict: restrict}}
}

func (t *WriteFileTool) Name() string {
	return "write_file"
}

func (t *WriteFileTool) Description() string {
	return "Write content to a file, creating parent directories as needed. Relative paths resolve against the workspace."
}

func (t *WriteFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path of the file to write.",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Full content to write.",
			},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	path, ok := stringArg(args, "path")
	if !ok {
		return ErrorResult("path is required")
	}
	content, ok := stringArg(args, "content")
	if !ok {
		return ErrorResult("content is required")
	}
	abs, err := t.access.resolve(path)
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return ErrorResult(fmt.Sprintf("cannot create directory for %q: %v", path, err)).WithError(err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return ErrorResult(fmt.Sprintf("cannot write %q: %v", path, err)).WithError(err)
	}
	return SuccessResult(fmt.Sprintf("Wrote %d bytes to %s", len(content), path))
}

// ListDirTool lists a directory's entries.
type ListDirTool struct {
	access fileAccess
}

func NewListDirTool(workspace string, restrict bool) *ListDirTool {
	return &ListDirTool{access: fileAccess{workspace: workspace, restrict: restrict}}
}

func (t *ListDirTool) Name() string {
	return "list_dir"
}

func (t *ListDirTool) Description() string {
	return "List the entries of a directory. Relative paths resolve against the workspace."
}

func (t *ListDirTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Directory to list. Defaults to the workspace root.",
			},
		},
	}
}

func (t *ListDirTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	path, _ := stringArg(args, "path")
	if path == "" {
		path = "."
	}
	abs, err := t.access.resolve(path)
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return ErrorResult(fmt.Sprintf("cannot list %q: %v", path, err)).WithError(err)
	}
	if len(entries) == 0 {
		return SuccessResult("(empty directory)")
	}

	var b strings.Builder
	for _, entry := range entries {
		if entry.IsDir() {
			fmt.Fprintf(&b, "%s/\n", entry.Name())
		} else {
			fmt.Fprintf(&b, "%s\n", entry.Name())
		}
	}
	return SuccessResult(strings.TrimRight(b.String(), "\n"))
}
