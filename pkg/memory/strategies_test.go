package memory

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/dotsetgreg/dotchat/pkg/providers"
)

func newTestManager(t *testing.T, gen Generator, cfg Config) *Manager {
	t.Helper()
	m, err := NewManager(gen, cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestTruncateKeepsRecentTail(t *testing.T) {
	m := newTestManager(t, &fakeGen{}, Config{
		PreserveRecentMessages: 5,
		MaxContextUtilization:  0.5,
	})

	messages := userMessages(12)
	out, result, err := m.Optimize(context.Background(), messages, "m", StrategyTruncate)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}

	// 12 messages at 0.5 utilization targets 6: 1 middle + the 5
	// protected recent ones.
	if len(out) != 6 {
		t.Fatalf("expected 6 kept messages, got %d", len(out))
	}
	for i := 0; i < 5; i++ {
		want := fmt.Sprintf("message %d", 7+i)
		if out[len(out)-5+i].Content != want {
			t.Fatalf("recent tail out of order: got %q, want %q", out[len(out)-5+i].Content, want)
		}
	}
	if result.RemovedMessages != 6 {
		t.Fatalf("expected 6 removed, got %d", result.RemovedMessages)
	}
}

func TestTruncatePreservesSystemMessages(t *testing.T) {
	m := newTestManager(t, &fakeGen{}, Config{
		PreserveRecentMessages: 2,
		MaxContextUtilization:  0.3,
	})

	messages := append([]providers.Message{
		{Role: providers.RoleSystem, Content: "you are helpful"},
	}, userMessages(10)...)

	out, _, err := m.Optimize(context.Background(), messages, "m", StrategyTruncate)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if out[0].Role != providers.RoleSystem {
		t.Fatalf("system message must survive truncation, got role %q first", out[0].Role)
	}
	if out[len(out)-1].Content != "message 9" {
		t.Fatalf("most recent message must survive, got %q", out[len(out)-1].Content)
	}
}

func TestSmallHistoryIsReturnedUnchanged(t *testing.T) {
	gen := &fakeGen{}
	m := newTestManager(t, gen, Config{PreserveRecentMessages: 5})

	messages := userMessages(4)
	for _, strategy := range []Strategy{StrategySummarize, StrategyTruncate} {
		out, _, err := m.Optimize(context.Background(), messages, "m", strategy)
		if err != nil {
			t.Fatalf("%s: %v", strategy, err)
		}
		if len(out) != len(messages) {
			t.Fatalf("%s changed a history below the preserve window: %d -> %d", strategy, len(messages), len(out))
		}
		for i := range out {
			if !reflect.DeepEqual(out[i], messages[i]) {
				t.Fatalf("%s altered message %d", strategy, i)
			}
		}
	}
	if gen.chatCalls != 0 {
		t.Fatalf("small histories must not trigger generation, got %d calls", gen.chatCalls)
	}
}

func TestSummarizeReplacesMiddleWithSummary(t *testing.T) {
	gen := &fakeGen{chatFn: func(msgs []providers.Message) (*providers.LLMResponse, error) {
		if len(msgs) != 1 || msgs[0].Role != providers.RoleUser {
			return nil, fmt.Errorf("unexpected summary request shape")
		}
		return &providers.LLMResponse{Content: "they discussed the weather"}, nil
	}}
	m := newTestManager(t, gen, Config{PreserveRecentMessages: 3})

	messages := append([]providers.Message{
		{Role: providers.RoleSystem, Content: "be brief"},
	}, userMessages(8)...)

	out, _, err := m.Optimize(context.Background(), messages, "m", StrategySummarize)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}

	// system + summary + 3 recent.
	if len(out) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(out))
	}
	if out[0].Content != "be brief" {
		t.Fatalf("original system message must come first")
	}
	if out[1].Role != providers.RoleSystem || !strings.HasPrefix(out[1].Content, summaryPrefix) {
		t.Fatalf("expected summary message, got %+v", out[1])
	}
	if !strings.Contains(out[1].Content, "they discussed the weather") {
		t.Fatalf("summary content missing: %q", out[1].Content)
	}
	if out[2].Content != "message 5" || out[4].Content != "message 7" {
		t.Fatalf("recent tail wrong: %q .. %q", out[2].Content, out[4].Content)
	}
}

func TestSummarizeFallsBackToTruncateOnFailure(t *testing.T) {
	gen := &fakeGen{chatFn: func([]providers.Message) (*providers.LLMResponse, error) {
		return nil, fmt.Errorf("provider down")
	}}
	m := newTestManager(t, gen, Config{
		PreserveRecentMessages: 5,
		MaxContextUtilization:  0.5,
	})

	out, result, err := m.Optimize(context.Background(), userMessages(12), "m", StrategySummarize)
	if err != nil {
		t.Fatalf("Optimize must not fail when the fallback works: %v", err)
	}
	if len(out) != 6 {
		t.Fatalf("expected truncate fallback result of 6, got %d", len(out))
	}
	for _, msg := range out {
		if strings.HasPrefix(msg.Content, summaryPrefix) {
			t.Fatalf("fallback output must not contain a summary message")
		}
	}
	if result.Strategy != StrategySummarize {
		t.Fatalf("reported strategy should remain the requested one, got %s", result.Strategy)
	}
}

func TestPrioritizeRanksSystemAndMarkedMessagesFirst(t *testing.T) {
	m := newTestManager(t, &fakeGen{}, Config{
		PreserveRecentMessages: 2,
		MaxContextUtilization:  0.5,
	})

	messages := []providers.Message{
		{Role: providers.RoleUser, Content: "chit chat 0"},
		{Role: providers.RoleSystem, Content: "ground rules"},
		{Role: providers.RoleUser, Content: "[CRITICAL] deploy key rotated"},
		{Role: providers.RoleUser, Content: "chit chat 1"},
		{Role: providers.RoleUser, Content: "chit chat 2"},
		{Role: providers.RoleUser, Content: "chit chat 3"},
	}

	out, _, err := m.Optimize(context.Background(), messages, "m", StrategyPrioritize)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}

	// 6 * 0.5 = 3 kept: the system message, the most recent message
	// (recency score 91.7), then the [CRITICAL] one at 90.
	if len(out) != 3 {
		t.Fatalf("expected 3 kept, got %d", len(out))
	}
	if out[0].Content != "ground rules" {
		t.Fatalf("system message should rank first, got %q", out[0].Content)
	}
	if out[1].Content != "chit chat 3" {
		t.Fatalf("most recent message should rank second, got %q", out[1].Content)
	}
	if out[2].Content != "[CRITICAL] deploy key rotated" {
		t.Fatalf("critical message should rank third, got %q", out[2].Content)
	}
}

func TestPrioritizeKeepsAtLeastPreserveCount(t *testing.T) {
	m := newTestManager(t, &fakeGen{}, Config{
		PreserveRecentMessages: 5,
		MaxContextUtilization:  0.1,
	})

	out, _, err := m.Optimize(context.Background(), userMessages(8), "m", StrategyPrioritize)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if len(out) != 5 {
		t.Fatalf("expected the preserve floor of 5, got %d", len(out))
	}
}

func TestCompressRewritesOnlyLongMessages(t *testing.T) {
	long := strings.Repeat("lorem ipsum dolor sit amet ", 40)
	gen := &fakeGen{chatFn: func([]providers.Message) (*providers.LLMResponse, error) {
		return &providers.LLMResponse{Content: "short rewrite"}, nil
	}}
	m := newTestManager(t, gen, Config{CompressMinChars: 500})

	messages := []providers.Message{
		{Role: providers.RoleSystem, Content: long},
		{Role: providers.RoleUser, Content: "short one"},
		{Role: providers.RoleUser, Content: long},
	}
	out, result, err := m.Optimize(context.Background(), messages, "m", StrategyCompress)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}

	if out[0].Content != long {
		t.Fatalf("system messages must never be rewritten")
	}
	if out[1].Content != "short one" {
		t.Fatalf("short messages must be left alone")
	}
	if out[2].Content != "short rewrite" {
		t.Fatalf("long message should be rewritten, got %q", out[2].Content)
	}
	if result.KeptMessages != 3 || result.RemovedMessages != 0 {
		t.Fatalf("compress never drops messages: kept %d removed %d", result.KeptMessages, result.RemovedMessages)
	}
	if gen.chatCalls != 1 {
		t.Fatalf("expected one rewrite call, got %d", gen.chatCalls)
	}
}

func TestCompressRejectsInsufficientSavings(t *testing.T) {
	long := strings.Repeat("a", 600)
	barelyShorter := strings.Repeat("b", 590)
	gen := &fakeGen{chatFn: func([]providers.Message) (*providers.LLMResponse, error) {
		return &providers.LLMResponse{Content: barelyShorter}, nil
	}}
	m := newTestManager(t, gen, Config{CompressMinChars: 500})

	out, _, err := m.Optimize(context.Background(), []providers.Message{
		{Role: providers.RoleUser, Content: long},
	}, "m", StrategyCompress)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if out[0].Content != long {
		t.Fatalf("a rewrite saving under a fifth must be rejected")
	}
}

func TestCompressKeepsOriginalOnPerMessageFailure(t *testing.T) {
	long := strings.Repeat("x", 600)
	gen := &fakeGen{chatFn: func([]providers.Message) (*providers.LLMResponse, error) {
		return nil, fmt.Errorf("rewrite failed")
	}}
	m := newTestManager(t, gen, Config{CompressMinChars: 500})

	out, _, err := m.Optimize(context.Background(), []providers.Message{
		{Role: providers.RoleUser, Content: long},
	}, "m", StrategyCompress)
	if err != nil {
		t.Fatalf("a per-message failure must not fail the pass: %v", err)
	}
	if out[0].Content != long {
		t.Fatalf("failed rewrite must keep the original")
	}
}

func TestDisableSystemPreservation(t *testing.T) {
	m := newTestManager(t, &fakeGen{}, Config{
		PreserveRecentMessages:    2,
		MaxContextUtilization:     0.3,
		DisableSystemPreservation: true,
	})

	messages := append([]providers.Message{
		{Role: providers.RoleSystem, Content: "droppable"},
	}, userMessages(10)...)

	out, _, err := m.Optimize(context.Background(), messages, "m", StrategyTruncate)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	for _, msg := range out {
		if msg.Role == providers.RoleSystem {
			t.Fatalf("system message survived with preservation disabled")
		}
	}
}

func TestParseStrategy(t *testing.T) {
	cases := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{"", StrategySummarize, false},
		{"summarize", StrategySummarize, false},
		{"truncate", StrategyTruncate, false},
		{"prioritize", StrategyPrioritize, false},
		{"compress", StrategyCompress, false},
		{"shrink", "", true},
	}
	for _, tc := range cases {
		got, err := ParseStrategy(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseStrategy(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseStrategy(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseStrategy(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
