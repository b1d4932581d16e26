package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dotsetgreg/dotchat/pkg/logger"
	"github.com/dotsetgreg/dotchat/pkg/providers"
)

const summaryPrefix = "[CONVERSATION SUMMARY]: "

// partition splits a history into preserved system messages, the
// middle section eligible for reduction, and the protected recent tail.
func (m *Manager) partition(messages []providers.Message) (system, middle, recent []providers.Message) {
	keepSystem := !m.cfg.DisableSystemPreservation

	var rest []providers.Message
	for _, msg := range messages {
		if keepSystem && msg.Role == providers.RoleSystem {
			system = append(system, msg)
			continue
		}
		rest = append(rest, msg)
	}

	n := m.cfg.PreserveRecentMessages
	if len(rest) <= n {
		return system, nil, rest
	}
	return system, rest[:len(rest)-n], rest[len(rest)-n:]
}

// summarize replaces the middle of the history with one synthetic
// system message carrying an LLM-written summary. Small histories are
// returned unchanged; a failed summary call falls back to truncate.
func (m *Manager) summarize(ctx context.Context, messages []providers.Message, model string) []providers.Message {
	system, middle, recent := m.partition(messages)
	if len(middle) == 0 {
		return copyMessages(messages)
	}

	summary, err := m.requestSummary(ctx, middle, model)
	if err != nil {
		logger.WarnCF("memory", "Summary generation failed, falling back to truncation", map[string]interface{}{
			"error": err.Error(),
		})
		return m.truncate(messages)
	}

	out := make([]providers.Message, 0, len(system)+1+len(recent))
	out = append(out, system...)
	out = append(out, providers.Message{
		Role:    providers.RoleSystem,
		Content: summaryPrefix + summary,
	})
	out = append(out, recent...)
	return out
}

func (m *Manager) requestSummary(ctx context.Context, middle []providers.Message, model string) (string, error) {
	var transcript strings.Builder
	for _, msg := range middle {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		transcript.WriteString(msg.Role)
		transcript.WriteString(": ")
		transcript.WriteString(content)
		transcript.WriteString("\n")
	}

	prompt := "Summarize this conversation segment.\n" +
		"Preserve user preferences, constraints, commitments, unresolved tasks, and key technical context.\n" +
		"Keep it compact and factual. Return only the summary.\n\n" +
		transcript.String()

	resp, err := m.gen.Chat(ctx, []providers.Message{{Role: providers.RoleUser, Content: prompt}}, nil, model, map[string]interface{}{
		"max_tokens":  m.cfg.SummaryMaxTokens,
		"temperature": 0.2,
	})
	if err != nil {
		return "", err
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return "", fmt.Errorf("summary response was empty")
	}
	return summary, nil
}

// truncate keeps system messages and the recent tail unconditionally,
// then as many of the most recent middle messages as fit the
// utilization target. No generation calls.
func (m *Manager) truncate(messages []providers.Message) []providers.Message {
	system, middle, recent := m.partition(messages)
	if len(middle) == 0 {
		return copyMessages(messages)
	}

	target := int(float64(len(messages)) * m.cfg.MaxContextUtilization)
	budget := target - len(system) - len(recent)
	if budget < 0 {
		budget = 0
	}
	if budget > len(middle) {
		budget = len(middle)
	}
	kept := middle[len(middle)-budget:]

	out := make([]providers.Message, 0, len(system)+len(kept)+len(recent))
	out = append(out, system...)
	out = append(out, kept...)
	out = append(out, recent...)
	return out
}

// Inline priority markers recognized by prioritize.
var priorityMarkers = []struct {
	marker string
	score  float64
}{
	{"[CRITICAL]", 90},
	{"[HIGH]", 80},
	{"[MEDIUM]", 70},
	{"[LOW]", 60},
}

// prioritize re-ranks the whole history by importance and keeps the
// top slice. Chronological order is deliberately NOT preserved; callers
// that need it must re-sort by their own timestamps.
func (m *Manager) prioritize(messages []providers.Message) []providers.Message {
	total := len(messages)
	if total == 0 {
		return nil
	}

	type scored struct {
		msg   providers.Message
		score float64
	}
	ranked := make([]scored, 0, total)
	for i, msg := range messages {
		ranked = append(ranked, scored{msg: msg, score: scoreMessage(msg, i, total)})
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		return ranked[a].score > ranked[b].score
	})

	keep := int(float64(total) * m.cfg.MaxContextUtilization)
	if keep < m.cfg.PreserveRecentMessages {
		keep = m.cfg.PreserveRecentMessages
	}
	if keep > total {
		keep = total
	}

	out := make([]providers.Message, 0, keep)
	for _, s := range ranked[:keep] {
		out = append(out, s.msg)
	}
	return out
}

func scoreMessage(msg providers.Message, position, total int) float64 {
	if msg.Role == providers.RoleSystem {
		return 100
	}
	for _, pm := range priorityMarkers {
		if strings.Contains(msg.Content, pm.marker) {
			return pm.score
		}
	}
	if msg.Role == providers.RoleTool {
		if strings.Contains(msg.Content, "```") {
			return 65
		}
		return 40
	}
	return 50 + float64(position)/float64(total)*50
}

// compress asks the model for a shorter rewrite of each long
// non-system message, accepting the rewrite only when it saves at least
// a fifth of the original. A failure on one message keeps the original
// and moves on.
func (m *Manager) compress(ctx context.Context, messages []providers.Message, model string) []providers.Message {
	out := make([]providers.Message, len(messages))
	copy(out, messages)

	for i, msg := range out {
		if msg.Role == providers.RoleSystem || len(msg.Content) <= m.cfg.CompressMinChars {
			continue
		}
		rewritten, err := m.requestRewrite(ctx, msg.Content, model)
		if err != nil {
			logger.DebugCF("memory", "Message compression failed, keeping original", map[string]interface{}{
				"index": i,
				"error": err.Error(),
			})
			continue
		}
		if len(rewritten) <= len(msg.Content)*4/5 {
			out[i].Content = rewritten
		}
	}
	return out
}

func (m *Manager) requestRewrite(ctx context.Context, content, model string) (string, error) {
	prompt := "Rewrite the following message to be significantly shorter while keeping every fact, decision, and constraint. Return only the rewritten text.\n\n" + content

	resp, err := m.gen.Chat(ctx, []providers.Message{{Role: providers.RoleUser, Content: prompt}}, nil, model, map[string]interface{}{
		"max_tokens":  m.cfg.SummaryMaxTokens,
		"temperature": 0.2,
	})
	if err != nil {
		return "", err
	}
	rewritten := strings.TrimSpace(resp.Content)
	if rewritten == "" {
		return "", fmt.Errorf("rewrite response was empty")
	}
	return rewritten, nil
}

func copyMessages(messages []providers.Message) []providers.Message {
	out := make([]providers.Message, len(messages))
	copy(out, messages)
	return out
}
