package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadFileToolReadsWorkspaceRelative(t *testing.T) {
	workspace := t.TempDir()
	if err := os.WriteFile(filepath.Join(workspace, "notes.txt"), []byte("remember the milk"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	tool := NewReadFileTool(workspace, true)
	res := tool.Execute(context.Background(), map[string]interface{}{"path": "notes.txt"})
	if res.IsError {
		t.Fatalf("expected success, got %s", res.ForLLM)
	}
	if res.ForLLM != "remember the milk" {
		t.Fatalf("unexpected content %q", res.ForLLM)
	}
}

func TestReadFileToolRejectsEscapes(t *testing.T) {
	workspace := t.TempDir()
	tool := NewReadFileTool(workspace, true)

	res := tool.Execute(context.Background(), map[string]interface{}{"path": "../outside.txt"})
	if !res.IsError || !strings.Contains(res.ForLLM, "outside the workspace") {
		t.Fatalf("expected workspace escape rejection, got %+v", res)
	}

	res = tool.Execute(context.Background(), map[string]interface{}{"path": "/etc/passwd"})
	if !res.IsError {
		t.Fatalf("absolute paths outside the workspace must be rejected")
	}
}

func TestReadFileToolUnrestrictedAllowsAbsolute(t *testing.T) {
	workspace := t.TempDir()
	other := t.TempDir()
	target := filepath.Join(other, "x.txt")
	if err := os.WriteFile(target, []byte("elsewhere"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	tool := NewReadFileTool(workspace, false)
	res := tool.Execute(context.Background(), map[string]interface{}{"path": target})
	if res.IsError {
		t.Fatalf("unrestricted read should succeed, got %s", res.ForLLM)
	}
	if res.ForLLM != "elsewhere" {
		t.Fatalf("unexpected content %q", res.ForLLM)
	}
}

func TestWriteFileToolCreatesParents(t *testing.T) {
	workspace := t.TempDir()
	tool := NewWriteFileTool(workspace, true)

	res := tool.Execute(context.Background(), map[string]interface{}{
		"path":    "deep/nested/out.txt",
		"content": "payload",
	})
	if res.IsError {
		t.Fatalf("expected success, got %s", res.ForLLM)
	}
	data, err := os.ReadFile(filepath.Join(workspace, "deep", "nested", "out.txt"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("unexpected file content %q", data)
	}
}

func TestListDirTool(t *testing.T) {
	workspace := t.TempDir()
	if err := os.MkdirAll(filepath.Join(workspace, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(workspace, "a.txt"), nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	tool := NewListDirTool(workspace, true)
	res := tool.Execute(context.Background(), map[string]interface{}{})
	if res.IsError {
		t.Fatalf("expected success, got %s", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "a.txt") || !strings.Contains(res.ForLLM, "sub/") {
		t.Fatalf("unexpected listing %q", res.ForLLM)
	}
}

func TestShellToolRunsCommand(t *testing.T) {
	tool := NewShellTool(t.TempDir())
	res := tool.Execute(context.Background(), map[string]interface{}{"command": "echo hello-shell"})
	if res.IsError {
		t.Fatalf("expected success, got %s", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "hello-shell") {
		t.Fatalf("unexpected output %q", res.ForLLM)
	}

	res = tool.Execute(context.Background(), map[string]interface{}{"command": "  "})
	if !res.IsError {
		t.Fatalf("blank command must be rejected")
	}

	res = tool.Execute(context.Background(), map[string]interface{}{"command": "false"})
	if !res.IsError {
		t.Fatalf("nonzero exit must be an error result")
	}
}

func TestClockTool(t *testing.T) {
	tool := NewClockTool()
	res := tool.Execute(context.Background(), nil)
	if res.IsError {
		t.Fatalf("expected success, got %s", res.ForLLM)
	}

	res = tool.Execute(context.Background(), map[string]interface{}{"timezone": "UTC"})
	if res.IsError {
		t.Fatalf("UTC should resolve, got %s", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "UTC") {
		t.Fatalf("expected UTC suffix, got %q", res.ForLLM)
	}

	res = tool.Execute(context.Background(), map[string]interface{}{"timezone": "Atlantis/Nowhere"})
	if !res.IsError {
		t.Fatalf("unknown timezone must fail")
	}
}
