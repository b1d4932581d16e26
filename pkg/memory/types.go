package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/dotsetgreg/dotchat/pkg/providers"
)

// Strategy selects how Optimize shrinks a history.
type Strategy string

const (
	StrategySummarize  Strategy = "summarize"
	StrategyTruncate   Strategy = "truncate"
	StrategyPrioritize Strategy = "prioritize"
	StrategyCompress   Strategy = "compress"
)

// ErrUnknownStrategy reports a strategy name outside the supported set.
var ErrUnknownStrategy = errors.New("unknown optimization strategy")

// ParseStrategy validates a strategy name. Empty selects the default.
func ParseStrategy(name string) (Strategy, error) {
	switch Strategy(name) {
	case "":
		return StrategySummarize, nil
	case StrategySummarize, StrategyTruncate, StrategyPrioritize, StrategyCompress:
		return Strategy(name), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
}

// Stats reports token usage for a history against a model's context
// window.
type Stats struct {
	TotalTokens            int
	ContextSize            int
	AvailableTokens        int
	CompressionRecommended bool
	// Estimated is true when the counting service was unavailable and
	// the chars/4 heuristic was used instead.
	Estimated bool
}

// CompressionResult describes one optimization pass.
type CompressionResult struct {
	OriginalTokens  int
	OptimizedTokens int
	Ratio           float64
	Strategy        Strategy
	KeptMessages    int
	RemovedMessages int
	FromCache       bool
}

// Generator is the slice of the generation capability the manager
// needs: token counting plus non-streaming generation for summary and
// compression sub-requests.
type Generator interface {
	CountTokens(ctx context.Context, messages []providers.Message, model string) (int, error)
	Chat(ctx context.Context, messages []providers.Message, tools []providers.ToolDefinition, model string, options map[string]interface{}) (*providers.LLMResponse, error)
}

// Config tunes the manager. Zero values are replaced by defaults in
// NewManager.
type Config struct {
	// PreserveRecentMessages is the count of most recent messages that
	// summarize and truncate may never remove. Default 5.
	PreserveRecentMessages int
	// DisableSystemPreservation allows system messages to be dropped
	// like any other message. The zero value preserves them through
	// every strategy except prioritize.
	DisableSystemPreservation bool
	// MaxContextUtilization caps how much of the window an optimized
	// history may target. Default 0.8.
	MaxContextUtilization float64
	// CompressionThreshold is the utilization fraction above which
	// GetStats recommends compression. Default 0.85.
	CompressionThreshold float64
	// DefaultContextSize is used for unknown models and for the
	// estimation fallback. Default 8192.
	DefaultContextSize int
	// ContextSizes overrides the window size per model id.
	ContextSizes map[string]int
	// CacheSize bounds the optimization and token-count LRU caches.
	// Default 128.
	CacheSize int
	// CompressMinChars is the length below which compress leaves a
	// message untouched. Default 500.
	CompressMinChars int
	// SummaryMaxTokens caps the summary sub-request. Default 900.
	SummaryMaxTokens int
}

func (c Config) withDefaults() Config {
	if c.PreserveRecentMessages <= 0 {
		c.PreserveRecentMessages = 5
	}
	if c.MaxContextUtilization <= 0 || c.MaxContextUtilization > 1 {
		c.MaxContextUtilization = 0.8
	}
	if c.CompressionThreshold <= 0 || c.CompressionThreshold > 1 {
		c.CompressionThreshold = 0.85
	}
	if c.DefaultContextSize <= 0 {
		c.DefaultContextSize = 8192
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 128
	}
	if c.CompressMinChars <= 0 {
		c.CompressMinChars = 500
	}
	if c.SummaryMaxTokens <= 0 {
		c.SummaryMaxTokens = 900
	}
	return c
}
