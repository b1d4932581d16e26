package tools

import "context"

// Tool is the interface that all tools must implement.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *ToolResult
}

// ClosableTool is an optional interface for tools that hold runtime
// resources and require explicit teardown.
type ClosableTool interface {
	Tool
	Close() error
}

// ToolResult carries a tool's output. ForLLM feeds the model; ForUser,
// when set, is the terminal-facing rendering.
type ToolResult struct {
	ForLLM  string
	ForUser string
	IsError bool
	Err     error
}

func SuccessResult(forLLM string) *ToolResult {
	return &ToolResult{ForLLM: forLLM}
}

func ErrorResult(forLLM string) *ToolResult {
	return &ToolResult{ForLLM: forLLM, IsError: true}
}

func (r *ToolResult) WithError(err error) *ToolResult {
	r.Err = err
	return r
}

func (r *ToolResult) WithUserContent(content string) *ToolResult {
	r.ForUser = content
	return r
}

// stringArg extracts a required string argument.
func stringArg(args map[string]interface{}, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
