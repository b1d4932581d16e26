package tools

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotsetgreg/dotchat/pkg/providers"
)

type stubTool struct {
	name   string
	result *ToolResult
	closed bool
}

func (t *stubTool) Name() string        { return t.name }
func (t *stubTool) Description() string { return "stub" }
func (t *stubTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object"}
}
func (t *stubTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	return t.result
}
func (t *stubTool) Close() error {
	t.closed = true
	return nil
}

func TestRegistryExecute(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "echo", result: SuccessResult("hello")})

	res := r.Execute(context.Background(), "echo", nil)
	require.NotNil(t, res)
	assert.False(t, res.IsError)
	assert.Equal(t, "hello", res.ForLLM)

	missing := r.Execute(context.Background(), "nope", nil)
	assert.True(t, missing.IsError)
	assert.Contains(t, missing.ForLLM, "not found")
}

func TestRegistryExecuteNilResult(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "broken", result: nil})

	res := r.Execute(context.Background(), "broken", nil)
	require.NotNil(t, res)
	assert.True(t, res.IsError)
}

func TestHandlerAdaptsResults(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "ok", result: SuccessResult("fine")})
	r.Register(&stubTool{name: "bad", result: ErrorResult("it broke").WithError(fmt.Errorf("inner failure"))})

	handler := r.Handler()

	out, err := handler(context.Background(), providers.ToolCall{Name: "ok"})
	require.NoError(t, err)
	assert.Equal(t, "fine", out)

	_, err = handler(context.Background(), providers.ToolCall{Name: "bad"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inner failure")
}

func TestToProviderDefsSorted(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "zeta", result: SuccessResult("")})
	r.Register(&stubTool{name: "alpha", result: SuccessResult("")})

	defs := r.ToProviderDefs()
	require.Len(t, defs, 2)
	assert.Equal(t, "alpha", defs[0].Function.Name)
	assert.Equal(t, "zeta", defs[1].Function.Name)
	assert.Equal(t, "function", defs[0].Type)
	assert.NotNil(t, defs[0].Function.Parameters)
}

func TestRegistryCloseClosesClosableTools(t *testing.T) {
	r := NewRegistry()
	tool := &stubTool{name: "res", result: SuccessResult("")}
	r.Register(tool)

	require.NoError(t, r.Close())
	assert.True(t, tool.closed)
}

func TestSanitizeToolArgsMasksSecrets(t *testing.T) {
	args := map[string]interface{}{
		"path":        "a.txt",
		"api_key":     "sk-secret",
		"AccessToken": "tok",
	}
	sanitized := sanitizeToolArgs(args)
	assert.Equal(t, "a.txt", sanitized["path"])
	assert.Equal(t, "***", sanitized["api_key"])
	assert.Equal(t, "***", sanitized["AccessToken"])
	assert.Nil(t, sanitizeToolArgs(nil))
}

func TestListAndCount(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, 0, r.Count())
	r.Register(&stubTool{name: "b", result: SuccessResult("")})
	r.Register(&stubTool{name: "a", result: SuccessResult("")})
	assert.Equal(t, []string{"a", "b"}, r.List())
	assert.Equal(t, 2, r.Count())
}
