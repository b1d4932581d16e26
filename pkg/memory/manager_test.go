package memory

import (
	"context"
	"fmt"
	"reflect"
	"testing"

	"github.com/dotsetgreg/dotchat/pkg/providers"
)

type fakeGen struct {
	countFn func(messages []providers.Message) (int, error)
	chatFn  func(messages []providers.Message) (*providers.LLMResponse, error)

	countCalls int
	chatCalls  int
}

func (g *fakeGen) CountTokens(ctx context.Context, messages []providers.Message, model string) (int, error) {
	g.countCalls++
	if g.countFn != nil {
		return g.countFn(messages)
	}
	return len(messages) * 10, nil
}

func (g *fakeGen) Chat(ctx context.Context, messages []providers.Message, tools []providers.ToolDefinition, model string, options map[string]interface{}) (*providers.LLMResponse, error) {
	g.chatCalls++
	if g.chatFn != nil {
		return g.chatFn(messages)
	}
	return &providers.LLMResponse{Content: "ok"}, nil
}

func userMessages(n int) []providers.Message {
	out := make([]providers.Message, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, providers.Message{Role: providers.RoleUser, Content: fmt.Sprintf("message %d", i)})
	}
	return out
}

func TestGetStatsRecommendsCompressionAboveThreshold(t *testing.T) {
	gen := &fakeGen{countFn: func([]providers.Message) (int, error) { return 900, nil }}
	m, err := NewManager(gen, Config{DefaultContextSize: 1000, CompressionThreshold: 0.85})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	stats := m.GetStats(context.Background(), userMessages(3), "test-model")
	if !stats.CompressionRecommended {
		t.Fatalf("expected recommendation at 900/1000 tokens")
	}
	if stats.AvailableTokens != 100 {
		t.Fatalf("expected 100 available tokens, got %d", stats.AvailableTokens)
	}
	if stats.Estimated {
		t.Fatalf("live count should not be marked estimated")
	}
}

func TestGetStatsFallsBackToEstimation(t *testing.T) {
	gen := &fakeGen{countFn: func([]providers.Message) (int, error) {
		return 0, fmt.Errorf("counting endpoint unavailable")
	}}
	m, err := NewManager(gen, Config{})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	messages := []providers.Message{{Role: providers.RoleUser, Content: "hello there"}}
	stats := m.GetStats(context.Background(), messages, "test-model")
	if !stats.Estimated {
		t.Fatalf("expected estimated stats when counting fails")
	}
	// "user" (4) + "hello there" (11) = 15 chars, rounded up to 4 tokens.
	if stats.TotalTokens != 4 {
		t.Fatalf("expected 4 estimated tokens, got %d", stats.TotalTokens)
	}
}

func TestGetStatsNeverErrors(t *testing.T) {
	gen := &fakeGen{countFn: func([]providers.Message) (int, error) {
		return 0, fmt.Errorf("boom")
	}}
	m, err := NewManager(gen, Config{})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	stats := m.GetStats(context.Background(), nil, "test-model")
	if stats.TotalTokens != 0 {
		t.Fatalf("empty history should count zero tokens, got %d", stats.TotalTokens)
	}
}

func TestContextSizePerModelOverride(t *testing.T) {
	gen := &fakeGen{}
	m, err := NewManager(gen, Config{
		DefaultContextSize: 8192,
		ContextSizes:       map[string]int{"big-model": 200000},
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	if got := m.ContextSize("big-model"); got != 200000 {
		t.Fatalf("expected override 200000, got %d", got)
	}
	if got := m.ContextSize("unknown-model"); got != 8192 {
		t.Fatalf("expected default 8192, got %d", got)
	}
}

func TestTokenCountsAreCached(t *testing.T) {
	gen := &fakeGen{countFn: func([]providers.Message) (int, error) { return 42, nil }}
	m, err := NewManager(gen, Config{})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	messages := userMessages(3)
	m.GetStats(context.Background(), messages, "test-model")
	m.GetStats(context.Background(), messages, "test-model")
	if gen.countCalls != 1 {
		t.Fatalf("expected one counting call for identical input, got %d", gen.countCalls)
	}

	// A different model must not share the cache entry.
	m.GetStats(context.Background(), messages, "other-model")
	if gen.countCalls != 2 {
		t.Fatalf("expected a fresh count for a different model, got %d calls", gen.countCalls)
	}
}

func TestEstimatesAreNotCached(t *testing.T) {
	fail := true
	gen := &fakeGen{countFn: func([]providers.Message) (int, error) {
		if fail {
			return 0, fmt.Errorf("transient failure")
		}
		return 42, nil
	}}
	m, err := NewManager(gen, Config{})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	messages := userMessages(2)
	if stats := m.GetStats(context.Background(), messages, "m"); !stats.Estimated {
		t.Fatalf("expected estimate while counting fails")
	}

	fail = false
	stats := m.GetStats(context.Background(), messages, "m")
	if stats.Estimated {
		t.Fatalf("recovered counting service should produce a live count")
	}
	if stats.TotalTokens != 42 {
		t.Fatalf("expected live count 42, got %d", stats.TotalTokens)
	}
}

func TestOptimizeRejectsUnknownStrategy(t *testing.T) {
	gen := &fakeGen{}
	m, err := NewManager(gen, Config{})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	_, _, err = m.Optimize(context.Background(), userMessages(3), "m", Strategy("bogus"))
	if err == nil {
		t.Fatalf("expected error for unknown strategy")
	}
}

func TestOptimizeEmptyStrategyDefaultsToSummarize(t *testing.T) {
	gen := &fakeGen{chatFn: func([]providers.Message) (*providers.LLMResponse, error) {
		return &providers.LLMResponse{Content: "the summary"}, nil
	}}
	m, err := NewManager(gen, Config{PreserveRecentMessages: 2})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	_, result, err := m.Optimize(context.Background(), userMessages(10), "m", "")
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if result.Strategy != StrategySummarize {
		t.Fatalf("expected summarize, got %s", result.Strategy)
	}
}

func TestOptimizeServesIdenticalInputFromCache(t *testing.T) {
	gen := &fakeGen{chatFn: func([]providers.Message) (*providers.LLMResponse, error) {
		return &providers.LLMResponse{Content: "the summary"}, nil
	}}
	m, err := NewManager(gen, Config{PreserveRecentMessages: 2})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	messages := userMessages(10)
	first, r1, err := m.Optimize(context.Background(), messages, "m", StrategySummarize)
	if err != nil {
		t.Fatalf("first Optimize: %v", err)
	}
	if r1.FromCache {
		t.Fatalf("first pass must not be served from cache")
	}
	chatCallsAfterFirst := gen.chatCalls

	second, r2, err := m.Optimize(context.Background(), messages, "m", StrategySummarize)
	if err != nil {
		t.Fatalf("second Optimize: %v", err)
	}
	if !r2.FromCache {
		t.Fatalf("identical input should be served from cache")
	}
	if gen.chatCalls != chatCallsAfterFirst {
		t.Fatalf("cached pass must not re-run generation")
	}
	if len(first) != len(second) {
		t.Fatalf("cached result differs: %d vs %d messages", len(first), len(second))
	}

	// Different strategy misses the cache.
	_, r3, err := m.Optimize(context.Background(), messages, "m", StrategyTruncate)
	if err != nil {
		t.Fatalf("truncate Optimize: %v", err)
	}
	if r3.FromCache {
		t.Fatalf("different strategy must not hit the summarize cache entry")
	}
}

func TestOptimizeDoesNotMutateInput(t *testing.T) {
	gen := &fakeGen{chatFn: func([]providers.Message) (*providers.LLMResponse, error) {
		return &providers.LLMResponse{Content: "s"}, nil
	}}
	m, err := NewManager(gen, Config{PreserveRecentMessages: 2})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	messages := userMessages(10)
	before := make([]providers.Message, len(messages))
	copy(before, messages)

	if _, _, err := m.Optimize(context.Background(), messages, "m", StrategySummarize); err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	for i := range before {
		if !reflect.DeepEqual(messages[i], before[i]) {
			t.Fatalf("input message %d was mutated", i)
		}
	}
}

func TestEstimateTokensRoundsUp(t *testing.T) {
	messages := []providers.Message{{Role: providers.RoleUser, Content: "x"}}
	// "user" + "x" = 5 chars, (5+3)/4 = 2.
	if got := estimateTokens(messages); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
	if got := estimateTokens(nil); got != 0 {
		t.Fatalf("expected 0 for empty history, got %d", got)
	}
}
