package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dotsetgreg/dotchat/pkg/bus"
	"github.com/dotsetgreg/dotchat/pkg/config"
	"github.com/dotsetgreg/dotchat/pkg/history"
	"github.com/dotsetgreg/dotchat/pkg/logger"
	"github.com/dotsetgreg/dotchat/pkg/memory"
	"github.com/dotsetgreg/dotchat/pkg/providers"
	"github.com/dotsetgreg/dotchat/pkg/turn"
)

var (
	// ErrTurnActive reports a send while another turn is in flight.
	// The policy here is reject, not queue; callers serialize.
	ErrTurnActive = errors.New("a turn is already active for this session")
	// ErrNoActiveTurn reports a tool result with nothing to resume.
	ErrNoActiveTurn = errors.New("no active turn awaiting a tool result")
	// ErrUnknownModel reports SetModel with a model outside the
	// configured set.
	ErrUnknownModel = errors.New("unknown or unavailable model")
)

// ToolHandler executes one tool call and returns its output. An error
// becomes a structured error result fed back to the model, never a
// conversation abort.
type ToolHandler func(ctx context.Context, call providers.ToolCall) (string, error)

// SendOptions override per-call generation parameters. Nil means the
// session defaults.
type SendOptions struct {
	Model             string
	SystemPrompt      string
	Temperature       *float64
	MaxTokens         int
	Tools             []providers.ToolDefinition
	Strategy          memory.Strategy
	ForceOptimization bool
	// DisableAutoTools leaves pending tool calls for the caller to
	// resolve through SubmitToolResult.
	DisableAutoTools bool
}

// Orchestrator owns one long-lived conversation: its history, active
// model, session identity, and the single in-flight turn.
type Orchestrator struct {
	provider providers.LLMProvider
	mem      *memory.Manager
	events   *bus.Bus
	store    history.Store
	handler  ToolHandler
	tools    []providers.ToolDefinition
	cfg      config.AgentConfig

	sessionID string
	messages  []providers.Message
	model     string
	system    string

	active *turn.StateMachine
	// assistantIdx tracks where the current turn's assistant message
	// sits in history, for segment appends on tool resumption.
	assistantIdx int
}

// Options wires an orchestrator's collaborators.
type Options struct {
	Provider    providers.LLMProvider
	Memory      *memory.Manager
	Events      *bus.Bus
	Store       history.Store // optional transcript persistence
	ToolHandler ToolHandler
	// Tools is the default definition set sent with every call unless
	// SendOptions.Tools overrides it.
	Tools  []providers.ToolDefinition
	Config config.AgentConfig
}

func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("agent: provider is required")
	}
	if opts.Memory == nil {
		return nil, fmt.Errorf("agent: memory manager is required")
	}
	events := opts.Events
	if events == nil {
		events = bus.New()
	}
	cfg := opts.Config
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 50
	}
	if cfg.MaxToolIterations <= 0 {
		cfg.MaxToolIterations = 20
	}
	if cfg.AutoOptimizeThreshold <= 0 || cfg.AutoOptimizeThreshold > 1 {
		cfg.AutoOptimizeThreshold = 0.8
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = opts.Provider.GetDefaultModel()
	}

	return &Orchestrator{
		provider:     opts.Provider,
		mem:          opts.Memory,
		events:       events,
		store:        opts.Store,
		handler:      opts.ToolHandler,
		tools:        opts.Tools,
		cfg:          cfg,
		sessionID:    uuid.NewString(),
		model:        model,
		system:       cfg.SystemPrompt,
		assistantIdx: -1,
	}, nil
}

// Events exposes the bus for listener registration.
func (o *Orchestrator) Events() *bus.Bus {
	return o.events
}

// SessionID returns the current opaque session identifier.
func (o *Orchestrator) SessionID() string {
	return o.sessionID
}

func (o *Orchestrator) emit(ev bus.Event) {
	ev.SessionID = o.sessionID
	o.events.Publish(ev)
}

// SendMessage runs one full turn for text: optional memory
// optimization, a fresh state machine, automatic sequential tool
// resolution when configured, then history append and retention
// enforcement. A failed call leaves history untouched so the same
// input can be retried.
func (o *Orchestrator) SendMessage(ctx context.Context, text string, opts *SendOptions) (string, error) {
	if opts == nil {
		opts = &SendOptions{}
	}
	if o.active != nil {
		st := o.active.Status()
		if st == turn.StatusRunning || st == turn.StatusWaitingForTool {
			return "", ErrTurnActive
		}
	}

	if err := o.maybeOptimize(ctx, opts); err != nil {
		// Optimization trouble is not fatal to the turn; the provider
		// may still accept the unshrunk history.
		logger.WarnCF("agent", "Memory optimization failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	model, options, tools := o.callConfig(opts)
	sm, err := turn.NewStateMachine(turn.Config{
		Provider: o.provider,
		History:  o.seedHistory(opts),
		Model:    model,
		Options:  options,
		Tools:    tools,
		Sink:     o.forwardTurnEvent,
	})
	if err != nil {
		return "", err
	}
	o.active = sm
	o.assistantIdx = -1

	o.emit(bus.Event{Type: bus.EventTurnStart, Text: text})

	userMsg := providers.Message{Role: providers.RoleUser, Content: text}
	result, err := sm.Execute(ctx, userMsg)
	if err != nil {
		o.active = nil
		o.emitTurnError(sm, err)
		return "", err
	}

	autoHandle := o.cfg.AutoHandleToolCalls && !opts.DisableAutoTools && o.handler != nil
	if autoHandle {
		result, err = o.resolveToolCalls(ctx, sm, result)
		if err != nil {
			o.active = nil
			o.emitTurnError(sm, err)
			return "", err
		}
	}

	o.appendTurn(ctx, userMsg, result.Content)

	if sm.Status() == turn.StatusCompleted {
		o.active = nil
		o.emit(bus.Event{Type: bus.EventTurnComplete, Text: result.Content})
	}
	return result.Content, nil
}

// resolveToolCalls drains pending tool calls sequentially, in the order
// the model requested them, submitting each result before the next
// executes. Iterations are capped to break pathological chains.
func (o *Orchestrator) resolveToolCalls(ctx context.Context, sm *turn.StateMachine, result *turn.Result) (*turn.Result, error) {
	iterations := 0
	for sm.HasPendingToolCalls() {
		iterations++
		if iterations > o.cfg.MaxToolIterations {
			return nil, fmt.Errorf("tool iteration limit %d exceeded", o.cfg.MaxToolIterations)
		}

		for _, call := range sm.PendingToolCalls() {
			content, isErr := o.runTool(ctx, call)
			o.emit(bus.Event{
				Type:     bus.EventTurnToolResult,
				ToolCall: cloneCall(call),
				Text:     content,
				Fields:   map[string]interface{}{"is_error": isErr},
			})

			var err error
			result, err = sm.SubmitToolResult(ctx, turn.ToolResult{
				ToolCallID: call.ID,
				Content:    content,
				IsError:    isErr,
			})
			if err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}

// runTool invokes the handler, converting a panic-free error into a
// structured result for the model.
func (o *Orchestrator) runTool(ctx context.Context, call providers.ToolCall) (content string, isError bool) {
	o.emit(bus.Event{Type: bus.EventTurnToolCall, ToolCall: cloneCall(call)})
	logger.InfoCF("agent", "Executing tool call", map[string]interface{}{
		"tool": call.Name,
		"id":   call.ID,
	})

	out, err := o.handler(ctx, call)
	if err != nil {
		logger.WarnCF("agent", "Tool call failed", map[string]interface{}{
			"tool":  call.Name,
			"error": err.Error(),
		})
		return fmt.Sprintf("Error: %v", err), true
	}
	return out, false
}

// SubmitToolResult feeds a manually-executed tool result into the
// active turn. Valid only while that turn is waiting for one.
func (o *Orchestrator) SubmitToolResult(ctx context.Context, result turn.ToolResult) (string, error) {
	sm := o.active
	if sm == nil || sm.Status() != turn.StatusWaitingForTool {
		return "", ErrNoActiveTurn
	}

	o.emit(bus.Event{Type: bus.EventTurnToolResult, Text: result.Content})

	before := sm.Content()
	res, err := sm.SubmitToolResult(ctx, result)
	if err != nil {
		o.emitTurnError(sm, err)
		return "", err
	}

	// Record the tool output, then append the resumed content as a new
	// segment of the turn's assistant message rather than a fresh one.
	o.appendToolRecord(ctx, result)
	if segment := strings.TrimPrefix(res.Content, before); segment != "" {
		o.appendAssistantSegment(ctx, segment)
	}

	if sm.Status() == turn.StatusCompleted {
		o.enforceRetention(ctx)
		o.active = nil
		o.emit(bus.Event{Type: bus.EventTurnComplete, Text: res.Content})
	}
	return res.Content, nil
}

// emitTurnError reports a failed generation leg. Cancellation settles
// the turn on its own status and is an expected outcome, not an error
// event.
func (o *Orchestrator) emitTurnError(sm *turn.StateMachine, err error) {
	if sm.Status() == turn.StatusCancelled {
		return
	}
	o.emit(bus.Event{Type: bus.EventTurnError, Err: err})
}

// maybeOptimize shrinks history before a turn when forced, when the
// memory manager recommends it, or when usage crosses the
// orchestrator's own (stricter or looser) threshold.
func (o *Orchestrator) maybeOptimize(ctx context.Context, opts *SendOptions) error {
	if len(o.messages) == 0 {
		return nil
	}

	stats := o.mem.GetStats(ctx, o.messages, o.model)
	threshold := int(float64(stats.ContextSize) * o.cfg.AutoOptimizeThreshold)
	needed := opts.ForceOptimization || stats.CompressionRecommended || stats.TotalTokens > threshold
	if !needed {
		return nil
	}

	optimized, result, err := o.mem.Optimize(ctx, o.messages, o.model, opts.Strategy)
	if err != nil {
		return err
	}
	o.messages = optimized
	o.emit(bus.Event{
		Type: bus.EventMemoryOptimized,
		Fields: map[string]interface{}{
			"strategy":         string(result.Strategy),
			"original_tokens":  result.OriginalTokens,
			"optimized_tokens": result.OptimizedTokens,
			"kept_messages":    result.KeptMessages,
			"removed_messages": result.RemovedMessages,
			"from_cache":       result.FromCache,
		},
	})
	return nil
}

// callConfig assembles the per-call generation parameters, applying
// overrides on top of session defaults.
func (o *Orchestrator) callConfig(opts *SendOptions) (model string, options map[string]interface{}, tools []providers.ToolDefinition) {
	model = o.model
	if strings.TrimSpace(opts.Model) != "" {
		model = strings.TrimSpace(opts.Model)
	}

	temperature := o.cfg.Temperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	maxTokens := o.cfg.MaxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}
	options = map[string]interface{}{
		"temperature": temperature,
	}
	if maxTokens > 0 {
		options["max_tokens"] = maxTokens
	}
	tools = o.tools
	if opts.Tools != nil {
		tools = opts.Tools
	}
	return model, options, tools
}

// seedHistory builds the snapshot a new turn starts from: the system
// prompt (session default or per-call override) ahead of the session
// messages.
func (o *Orchestrator) seedHistory(opts *SendOptions) []providers.Message {
	system := o.system
	if strings.TrimSpace(opts.SystemPrompt) != "" {
		system = opts.SystemPrompt
	}

	seed := make([]providers.Message, 0, len(o.messages)+1)
	if system != "" && !hasSystemMessage(o.messages) {
		seed = append(seed, providers.Message{Role: providers.RoleSystem, Content: system})
	}
	seed = append(seed, o.messages...)
	return seed
}

// appendTurn commits a completed exchange to session history and
// enforces the retention cap.
func (o *Orchestrator) appendTurn(ctx context.Context, userMsg providers.Message, content string) {
	o.messages = append(o.messages, userMsg)
	assistant := providers.Message{Role: providers.RoleAssistant, Content: content}
	o.messages = append(o.messages, assistant)
	o.assistantIdx = len(o.messages) - 1

	o.persist(ctx, userMsg)
	o.persist(ctx, assistant)

	o.enforceRetention(ctx)
}

// appendToolRecord adds a synthetic tool-result message to history.
func (o *Orchestrator) appendToolRecord(ctx context.Context, result turn.ToolResult) {
	msg := providers.Message{
		Role:       providers.RoleTool,
		Content:    result.Content,
		ToolCallID: result.ToolCallID,
	}
	o.messages = append(o.messages, msg)
	o.persist(ctx, msg)
}

// appendAssistantSegment replaces the turn's assistant message at its
// index with the previous content plus the new segment.
func (o *Orchestrator) appendAssistantSegment(ctx context.Context, segment string) {
	if o.assistantIdx < 0 || o.assistantIdx >= len(o.messages) {
		msg := providers.Message{Role: providers.RoleAssistant, Content: segment}
		o.messages = append(o.messages, msg)
		o.assistantIdx = len(o.messages) - 1
		o.persist(ctx, msg)
		return
	}
	updated := o.messages[o.assistantIdx]
	updated.Content += segment
	o.messages[o.assistantIdx] = updated

	if o.store != nil {
		if err := o.store.UpdateLastContent(ctx, o.sessionID, providers.RoleAssistant, updated.Content); err != nil {
			logger.WarnCF("agent", "Failed to update stored message", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}

// enforceRetention hard-caps history at MaxTurns*2 messages (one turn
// is roughly a user plus an assistant message), keeping the most
// recent. This is a backstop independent of token budgets, applied
// after any optimization.
func (o *Orchestrator) enforceRetention(ctx context.Context) {
	limit := o.cfg.MaxTurns * 2
	if limit <= 0 || len(o.messages) <= limit {
		return
	}
	dropped := len(o.messages) - limit
	o.messages = append([]providers.Message(nil), o.messages[dropped:]...)
	o.assistantIdx -= dropped
	logger.InfoCF("agent", "Retention cap enforced", map[string]interface{}{
		"dropped": dropped,
		"kept":    limit,
	})
}

// Reset clears history, drops any active turn, and issues a new
// session id.
func (o *Orchestrator) Reset(ctx context.Context) {
	old := o.sessionID
	o.messages = nil
	o.active = nil
	o.assistantIdx = -1
	o.sessionID = uuid.NewString()

	if o.store != nil {
		if err := o.store.DeleteSession(ctx, old); err != nil {
			logger.WarnCF("agent", "Failed to clear stored session", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
	o.emit(bus.Event{Type: bus.EventSessionReset, Fields: map[string]interface{}{"previous_session": old}})
}

// Context returns a copy of the session history.
func (o *Orchestrator) Context() []providers.Message {
	out := make([]providers.Message, len(o.messages))
	copy(out, o.messages)
	return out
}

// SetContext replaces the session history wholesale.
func (o *Orchestrator) SetContext(messages []providers.Message) {
	o.messages = append([]providers.Message(nil), messages...)
	o.assistantIdx = -1
	o.emit(bus.Event{Type: bus.EventContextUpdated, Fields: map[string]interface{}{"messages": len(o.messages)}})
}

// SetSystemMessage replaces the session system prompt used to seed new
// turns.
func (o *Orchestrator) SetSystemMessage(content string) {
	o.system = content
	o.emit(bus.Event{Type: bus.EventContextUpdated, Fields: map[string]interface{}{"system_prompt": true}})
}

// SetModel switches the active model, rejecting ids outside the
// configured or provider-advertised set.
func (o *Orchestrator) SetModel(model string) error {
	model = strings.TrimSpace(model)
	if model == "" {
		return fmt.Errorf("%w: empty model id", ErrUnknownModel)
	}
	if !o.modelKnown(model) {
		return fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}
	o.model = model
	return nil
}

func (o *Orchestrator) modelKnown(model string) bool {
	known := append([]string(nil), o.cfg.Models...)
	if lister, ok := o.provider.(providers.ModelLister); ok {
		known = append(known, lister.SupportedModels()...)
	}
	if def := o.provider.GetDefaultModel(); def != "" {
		known = append(known, def)
	}
	if len(known) == 0 {
		// Nothing to validate against; accept any non-empty id.
		return true
	}
	for _, k := range known {
		if k == model {
			return true
		}
	}
	return false
}

// Model returns the active model id.
func (o *Orchestrator) Model() string {
	return o.model
}

// ActiveTurnStatus reports the in-flight turn's state, or StatusIdle
// when none exists.
func (o *Orchestrator) ActiveTurnStatus() turn.Status {
	if o.active == nil {
		return turn.StatusIdle
	}
	return o.active.Status()
}

// PendingToolCalls lists the active turn's unresolved calls.
func (o *Orchestrator) PendingToolCalls() []providers.ToolCall {
	if o.active == nil {
		return nil
	}
	return o.active.PendingToolCalls()
}

// OptimizeMemory compresses the session history immediately with the
// given strategy (empty means the default).
func (o *Orchestrator) OptimizeMemory(ctx context.Context, strategy memory.Strategy) error {
	if len(o.messages) == 0 {
		return nil
	}
	return o.maybeOptimize(ctx, &SendOptions{Strategy: strategy, ForceOptimization: true})
}

// MemoryStats reports token usage for the current history.
func (o *Orchestrator) MemoryStats(ctx context.Context) memory.Stats {
	return o.mem.GetStats(ctx, o.messages, o.model)
}

func (o *Orchestrator) forwardTurnEvent(ev turn.Event) {
	switch ev.Kind {
	case turn.EventContent:
		o.emit(bus.Event{Type: bus.EventTurnContent, Text: ev.Text})
	case turn.EventThinking:
		o.emit(bus.Event{Type: bus.EventTurnThinking, Text: ev.Text})
	case turn.EventToolCall:
		o.emit(bus.Event{Type: bus.EventTurnToolCall, ToolCall: ev.ToolCall})
	}
}

func (o *Orchestrator) persist(ctx context.Context, msg providers.Message) {
	if o.store == nil {
		return
	}
	if err := o.store.AppendMessage(ctx, o.sessionID, msg); err != nil {
		logger.WarnCF("agent", "Failed to persist message", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func hasSystemMessage(messages []providers.Message) bool {
	for _, msg := range messages {
		if msg.Role == providers.RoleSystem {
			return true
		}
	}
	return false
}

func cloneCall(call providers.ToolCall) *providers.ToolCall {
	c := call
	return &c
}
