package memory

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dotsetgreg/dotchat/pkg/logger"
	"github.com/dotsetgreg/dotchat/pkg/providers"
)

// Manager reports token usage for a conversation history and shrinks
// it on request. It never mutates a caller's slice; inputs are read,
// outputs are fresh slices.
type Manager struct {
	gen       Generator
	cfg       Config
	optimized *lru.Cache[string, []providers.Message]
	tokens    *lru.Cache[string, int]
}

func NewManager(gen Generator, cfg Config) (*Manager, error) {
	if gen == nil {
		return nil, fmt.Errorf("memory: generator is required")
	}
	cfg = cfg.withDefaults()

	optimized, err := lru.New[string, []providers.Message](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("memory: optimization cache: %w", err)
	}
	tokens, err := lru.New[string, int](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("memory: token cache: %w", err)
	}

	return &Manager{
		gen:       gen,
		cfg:       cfg,
		optimized: optimized,
		tokens:    tokens,
	}, nil
}

// ContextSize returns the context window for model, falling back to the
// configured default for unknown models.
func (m *Manager) ContextSize(model string) int {
	if size, ok := m.cfg.ContextSizes[model]; ok && size > 0 {
		return size
	}
	return m.cfg.DefaultContextSize
}

// GetStats reports token usage for messages against model's window.
// A failing token-counting service degrades to the chars/4 estimate;
// this path never returns an error.
func (m *Manager) GetStats(ctx context.Context, messages []providers.Message, model string) Stats {
	contextSize := m.ContextSize(model)
	total, estimated := m.countTokens(ctx, messages, model)

	available := contextSize - total
	if available < 0 {
		available = 0
	}
	threshold := int(float64(contextSize) * m.cfg.CompressionThreshold)

	return Stats{
		TotalTokens:            total,
		ContextSize:            contextSize,
		AvailableTokens:        available,
		CompressionRecommended: total > threshold,
		Estimated:              estimated,
	}
}

// IsCompressionNeeded reports whether GetStats recommends shrinking.
func (m *Manager) IsCompressionNeeded(ctx context.Context, messages []providers.Message, model string) bool {
	return m.GetStats(ctx, messages, model).CompressionRecommended
}

// Optimize shrinks messages with the given strategy and returns the new
// history plus a description of the pass. An identical (history, model)
// pair served before is answered from cache with only the before/after
// stats recomputed.
func (m *Manager) Optimize(ctx context.Context, messages []providers.Message, model string, strategy Strategy) ([]providers.Message, CompressionResult, error) {
	strategy, err := ParseStrategy(string(strategy))
	if err != nil {
		return nil, CompressionResult{}, err
	}

	key := fingerprint(messages, model) + "|" + string(strategy)
	if cached, ok := m.optimized.Get(key); ok {
		result := m.buildResult(ctx, messages, cached, model, strategy)
		result.FromCache = true
		return cached, result, nil
	}

	var out []providers.Message
	switch strategy {
	case StrategySummarize:
		out = m.summarize(ctx, messages, model)
	case StrategyTruncate:
		out = m.truncate(messages)
	case StrategyPrioritize:
		out = m.prioritize(messages)
	case StrategyCompress:
		out = m.compress(ctx, messages, model)
	}

	m.optimized.Add(key, out)
	result := m.buildResult(ctx, messages, out, model, strategy)
	logger.InfoCF("memory", "History optimized", map[string]interface{}{
		"strategy": string(strategy),
		"kept":     result.KeptMessages,
		"removed":  result.RemovedMessages,
		"ratio":    result.Ratio,
	})
	return out, result, nil
}

func (m *Manager) buildResult(ctx context.Context, before, after []providers.Message, model string, strategy Strategy) CompressionResult {
	original, _ := m.countTokens(ctx, before, model)
	optimizedTokens, _ := m.countTokens(ctx, after, model)

	ratio := 1.0
	if original > 0 {
		ratio = float64(optimizedTokens) / float64(original)
	}
	return CompressionResult{
		OriginalTokens:  original,
		OptimizedTokens: optimizedTokens,
		Ratio:           ratio,
		Strategy:        strategy,
		KeptMessages:    len(after),
		RemovedMessages: len(before) - len(after),
	}
}

func (m *Manager) countTokens(ctx context.Context, messages []providers.Message, model string) (total int, estimated bool) {
	key := fingerprint(messages, model)
	if cached, ok := m.tokens.Get(key); ok {
		return cached, false
	}

	total, err := m.gen.CountTokens(ctx, messages, model)
	if err != nil {
		logger.DebugCF("memory", "Token counting unavailable, estimating", map[string]interface{}{
			"error": err.Error(),
		})
		return estimateTokens(messages), true
	}
	m.tokens.Add(key, total)
	return total, false
}

// estimateTokens approximates the token footprint as serialized
// characters divided by four, rounded up. Good enough for threshold
// comparison; not billing-accurate.
func estimateTokens(messages []providers.Message) int {
	chars := 0
	for _, msg := range messages {
		chars += len(msg.Role) + len(msg.Content)
		for _, tc := range msg.ToolCalls {
			chars += len(tc.Name)
			for k, v := range tc.Arguments {
				chars += len(k) + len(fmt.Sprint(v))
			}
		}
	}
	if chars == 0 {
		return 0
	}
	return (chars + 3) / 4
}

// fingerprint identifies a (history, model) pair by role, a content
// prefix, and position per message, plus the model id and count.
func fingerprint(messages []providers.Message, model string) string {
	h := fnv.New64a()
	for i, msg := range messages {
		h.Write([]byte(strconv.Itoa(i)))
		h.Write([]byte{0})
		h.Write([]byte(msg.Role))
		h.Write([]byte{0})
		content := msg.Content
		if len(content) > 64 {
			content = content[:64]
		}
		h.Write([]byte(content))
		h.Write([]byte{0})
		h.Write([]byte(strconv.Itoa(len(msg.Content))))
		h.Write([]byte{1})
	}
	return model + ":" + strconv.Itoa(len(messages)) + ":" + strconv.FormatUint(h.Sum64(), 16)
}
