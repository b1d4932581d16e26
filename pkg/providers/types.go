package providers

import "context"

// Message roles used across the conversation core.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one exchanged conversation unit. Messages are treated as
// immutable once appended to a history; updates replace the message at
// its index.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a structured request from the model to execute a named
// capability before generation continues.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolDefinition describes a callable tool in the wire shape the
// chat-completions API expects.
type ToolDefinition struct {
	Type     string       `json:"type"`
	Function FunctionSpec `json:"function"`
}

type FunctionSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// UsageInfo reports token consumption for one completed call.
type UsageInfo struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// LLMResponse is the provider-agnostic result of one generation call.
type LLMResponse struct {
	Content      string
	Thinking     string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        *UsageInfo
}

// StreamEventKind enumerates the ordered events a streaming call yields.
type StreamEventKind string

const (
	StreamText     StreamEventKind = "text-delta"
	StreamThinking StreamEventKind = "thinking-delta"
	StreamToolCall StreamEventKind = "tool-call"
	StreamDone     StreamEventKind = "done"
	StreamError    StreamEventKind = "error"
)

// StreamEvent is one unit of a streaming generation response. Text and
// thinking events carry raw fragments, not deltas with offsets.
type StreamEvent struct {
	Kind     StreamEventKind
	Text     string
	ToolCall *ToolCall
	Err      error
}

// StreamSink receives stream events in emission order.
type StreamSink func(StreamEvent)

// LLMProvider is the generation capability the core depends on.
type LLMProvider interface {
	// Chat performs a non-streaming generation call. Used for
	// summarization and compression sub-requests.
	Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (*LLMResponse, error)

	// ChatStream performs a streaming generation call, forwarding
	// ordered events to sink and returning the accumulated response.
	ChatStream(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}, sink StreamSink) (*LLMResponse, error)

	// CountTokens reports the token footprint of messages for model.
	// Implementations without a counting endpoint return
	// ErrTokenCountUnsupported; callers must degrade to estimation.
	CountTokens(ctx context.Context, messages []Message, model string) (int, error)

	GetDefaultModel() string
}

// ModelLister is optionally implemented by providers that can enumerate
// the models they will accept.
type ModelLister interface {
	SupportedModels() []string
}
