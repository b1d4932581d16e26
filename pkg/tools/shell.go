package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const (
	defaultShellTimeout = 60 * time.Second
	maxShellOutputBytes = 64 * 1024
)

// ShellTool runs a command through /bin/sh with the workspace as its
// working directory. Output is truncated past maxShellOutputBytes.
type ShellTool struct {
	workspace string
	timeout   time.Duration
}

func NewShellTool(workspace string) *ShellTool {
	return &ShellTool{workspace: workspace, timeout: defaultShellTimeout}
}

func (t *ShellTool) Name() string {
	return "exec"
}

func (t *ShellTool) Description() string {
	return "Execute a shell command in the workspace and return its combined output."
}

func (t *ShellTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "Shell command to run.",
			},
		},
		"required": []string{"command"},
	}
}

func (t *ShellTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	command, ok := stringArg(args, "command")
	if !ok || strings.TrimSpace(command) == "" {
		return ErrorResult("command is required")
	}

	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", command)
	cmd.Dir = t.workspace

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	output := out.String()
	if len(output) > maxShellOutputBytes {
		output = output[:maxShellOutputBytes] + "\n... (output truncated)"
	}

	if runCtx.Err() == context.DeadlineExceeded {
		return ErrorResult(fmt.Sprintf("command timed out after %s\n%s", t.timeout, output))
	}
	if err != nil {
		return ErrorResult(fmt.Sprintf("command failed: %v\n%s", err, output)).WithError(err)
	}
	if output == "" {
		output = "(no output)"
	}
	return SuccessResult(output)
}
