package bus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dotsetgreg/dotchat/pkg/providers"
)

// EventType enumerates everything the core emits.
type EventType string

const (
	EventTurnStart       EventType = "turn:start"
	EventTurnContent     EventType = "turn:content"
	EventTurnThinking    EventType = "turn:thinking"
	EventTurnToolCall    EventType = "turn:tool_call"
	EventTurnToolResult  EventType = "turn:tool_result"
	EventTurnComplete    EventType = "turn:complete"
	EventTurnError       EventType = "turn:error"
	EventMemoryOptimized EventType = "memory:optimized"
	EventContextUpdated  EventType = "context:updated"
	EventSessionReset    EventType = "session:reset"
)

// Event is one emitted record. Content and thinking events carry raw
// text fragments in Text.
type Event struct {
	Type      EventType
	SessionID string
	Text      string
	ToolCall  *providers.ToolCall
	Err       error
	Fields    map[string]interface{}
}

// Handler receives events synchronously in emission order.
type Handler func(Event)

const publishTimeout = 100 * time.Millisecond

// Bus fans events out to registered handlers and channel subscribers.
// Handler dispatch is synchronous so emission order is preserved;
// channel subscribers get a bounded buffer with a drop counter.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler
	channels map[int]chan Event
	closed   bool
	dropped  atomic.Uint64
}

func New() *Bus {
	return &Bus{
		handlers: make(map[int]Handler),
		channels: make(map[int]chan Event),
	}
}

// Subscribe registers a synchronous handler. The returned func removes it.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, id)
	}
}

// SubscribeChan registers a buffered channel subscriber. Events that
// cannot be delivered within publishTimeout are dropped and counted.
func (b *Bus) SubscribeChan(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 100
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.channels[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.channels[id]; ok {
			delete(b.channels, id)
			close(ch)
		}
	}
}

func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, h := range b.handlers {
		h(ev)
	}
	for _, ch := range b.channels {
		select {
		case ch <- ev:
		default:
			timer := time.NewTimer(publishTimeout)
			select {
			case ch <- ev:
			case <-timer.C:
				b.dropped.Add(1)
			}
			timer.Stop()
		}
	}
}

func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.channels {
		delete(b.channels, id)
		close(ch)
	}
}

func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
