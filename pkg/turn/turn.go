package turn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dotsetgreg/dotchat/pkg/providers"
)

// Status is the lifecycle state of one turn.
type Status string

const (
	StatusIdle           Status = "idle"
	StatusRunning        Status = "running"
	StatusWaitingForTool Status = "waiting_for_tool"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
	StatusError          Status = "error"
)

var (
	// ErrNotWaitingForTool reports a tool result submitted while the
	// turn has no pending tool calls.
	ErrNotWaitingForTool = errors.New("turn is not waiting for a tool result")
	// ErrAlreadyStarted reports Execute on a turn that already ran.
	ErrAlreadyStarted = errors.New("turn already started")
	// ErrUnknownToolCall reports a result whose id matches no pending call.
	ErrUnknownToolCall = errors.New("tool result does not match the next pending call")
)

// EventKind tags events emitted while the turn streams.
type EventKind string

const (
	EventContent  EventKind = "content"
	EventThinking EventKind = "thinking"
	EventToolCall EventKind = "tool_call"
)

// Event is one streamed fragment from the in-flight exchange.
type Event struct {
	Kind     EventKind
	Text     string
	ToolCall *providers.ToolCall
}

// Sink receives turn events in emission order.
type Sink func(Event)

// ToolResult carries one tool invocation's output back into the turn.
type ToolResult struct {
	ToolCallID string
	Content    string
	IsError    bool
}

// Result is what one generation leg produced: the content so far and
// any tool calls awaiting resolution.
type Result struct {
	Content   string
	ToolCalls []providers.ToolCall
}

// StateMachine runs exactly one turn. It reads a snapshot of the
// conversation at creation time and never touches the caller's history.
type StateMachine struct {
	mu       sync.Mutex
	status   Status
	provider providers.LLMProvider
	model    string
	options  map[string]interface{}
	tools    []providers.ToolDefinition
	sink     Sink

	messages []providers.Message
	// segments holds the assistant output of each generation leg in
	// order; the final content is their join.
	segments []string
	thinking []string
	pending  []providers.ToolCall
	// next indexes the pending call whose result is expected.
	next int
}

// Config seeds a new state machine.
type Config struct {
	Provider providers.LLMProvider
	History  []providers.Message
	Model    string
	Options  map[string]interface{}
	Tools    []providers.ToolDefinition
	Sink     Sink
}

func NewStateMachine(cfg Config) (*StateMachine, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("turn: provider is required")
	}
	sink := cfg.Sink
	if sink == nil {
		sink = func(Event) {}
	}
	history := make([]providers.Message, len(cfg.History))
	copy(history, cfg.History)

	return &StateMachine{
		status:   StatusIdle,
		provider: cfg.Provider,
		model:    cfg.Model,
		options:  cfg.Options,
		tools:    cfg.Tools,
		sink:     sink,
		messages: history,
	}, nil
}

// Execute submits the seeded history plus userMessage and streams the
// model's response. It returns once the model finishes or pauses on
// tool calls. Valid only on a turn that has not started.
func (sm *StateMachine) Execute(ctx context.Context, userMessage providers.Message) (*Result, error) {
	sm.mu.Lock()
	if sm.status != StatusIdle {
		sm.mu.Unlock()
		return nil, fmt.Errorf("%w: status is %s", ErrAlreadyStarted, sm.status)
	}
	sm.status = StatusRunning
	sm.messages = append(sm.messages, userMessage)
	sm.mu.Unlock()

	return sm.generate(ctx)
}

// SubmitToolResult attaches one tool's output to the in-flight
// exchange. Results are consumed strictly in the order the model
// requested the calls; generation resumes only after the last pending
// call is satisfied, so a batch of calls costs exactly one resumed
// generation leg.
func (sm *StateMachine) SubmitToolResult(ctx context.Context, result ToolResult) (*Result, error) {
	sm.mu.Lock()
	if sm.status != StatusWaitingForTool {
		status := sm.status
		sm.mu.Unlock()
		return nil, fmt.Errorf("%w: status is %s", ErrNotWaitingForTool, status)
	}

	expected := sm.pending[sm.next]
	if result.ToolCallID != "" && result.ToolCallID != expected.ID {
		sm.mu.Unlock()
		return nil, fmt.Errorf("%w: got %q, expected %q", ErrUnknownToolCall, result.ToolCallID, expected.ID)
	}

	content := result.Content
	if result.IsError && content == "" {
		content = "tool execution failed"
	}
	sm.messages = append(sm.messages, providers.Message{
		Role:       providers.RoleTool,
		Content:    content,
		ToolCallID: expected.ID,
	})
	sm.next++

	if sm.next < len(sm.pending) {
		// More calls in this batch still need results.
		remaining := append([]providers.ToolCall(nil), sm.pending[sm.next:]...)
		content := strings.Join(sm.segments, "")
		sm.mu.Unlock()
		return &Result{Content: content, ToolCalls: remaining}, nil
	}

	sm.pending = nil
	sm.next = 0
	sm.status = StatusRunning
	sm.mu.Unlock()

	return sm.generate(ctx)
}

// generate runs one streaming leg and settles the next status.
func (sm *StateMachine) generate(ctx context.Context) (*Result, error) {
	sink := func(ev providers.StreamEvent) {
		switch ev.Kind {
		case providers.StreamText:
			sm.sink(Event{Kind: EventContent, Text: ev.Text})
		case providers.StreamThinking:
			sm.sink(Event{Kind: EventThinking, Text: ev.Text})
		case providers.StreamToolCall:
			sm.sink(Event{Kind: EventToolCall, ToolCall: ev.ToolCall})
		}
	}

	resp, err := sm.provider.ChatStream(ctx, sm.snapshot(), sm.tools, sm.model, sm.options, sink)

	sm.mu.Lock()
	defer sm.mu.Unlock()

	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			sm.status = StatusCancelled
		} else {
			sm.status = StatusError
		}
		return nil, err
	}

	if resp.Content != "" {
		sm.segments = append(sm.segments, resp.Content)
	}
	if resp.Thinking != "" {
		sm.thinking = append(sm.thinking, resp.Thinking)
	}

	if len(resp.ToolCalls) > 0 {
		assistant := providers.Message{
			Role:      providers.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		}
		sm.messages = append(sm.messages, assistant)
		sm.pending = append([]providers.ToolCall(nil), resp.ToolCalls...)
		sm.next = 0
		sm.status = StatusWaitingForTool
		return &Result{
			Content:   strings.Join(sm.segments, ""),
			ToolCalls: append([]providers.ToolCall(nil), resp.ToolCalls...),
		}, nil
	}

	sm.status = StatusCompleted
	return &Result{Content: strings.Join(sm.segments, "")}, nil
}

func (sm *StateMachine) snapshot() []providers.Message {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	out := make([]providers.Message, len(sm.messages))
	copy(out, sm.messages)
	return out
}

// Status reports the current lifecycle state.
func (sm *StateMachine) Status() Status {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.status
}

// PendingToolCalls lists the calls still awaiting results, in request
// order.
func (sm *StateMachine) PendingToolCalls() []providers.ToolCall {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.next >= len(sm.pending) {
		return nil
	}
	return append([]providers.ToolCall(nil), sm.pending[sm.next:]...)
}

func (sm *StateMachine) HasPendingToolCalls() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.next < len(sm.pending)
}

// Content joins the assistant segments produced so far.
func (sm *StateMachine) Content() string {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return strings.Join(sm.segments, "")
}

// Segments returns the assistant output of each generation leg in
// order.
func (sm *StateMachine) Segments() []string {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return append([]string(nil), sm.segments...)
}
