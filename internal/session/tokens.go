package session

import (
	"github.com/bladecode/blade/pkg/types"
)

// Token estimation is heuristic: ~4 characters per token with small fixed
// offsets per message and per tool call, calibrated against observed
// provider counts. A pluggable exact counter may replace it.
const (
	charsPerToken        = 4
	perMessageOverhead   = 4
	perToolCallOverhead  = 8
	compactionThreshold  = 0.8
	defaultContextTokens = 128000
)

// TokenCounter estimates token usage for a message window.
type TokenCounter interface {
	Count(messages []*types.Message) int
}

// HeuristicCounter is the default character-ratio estimator.
type HeuristicCounter struct{}

// Count estimates tokens across the window.
func (HeuristicCounter) Count(messages []*types.Message) int {
	total := 0
	for _, m := range messages {
		total += estimateMessage(m)
	}
	return total
}

func estimateMessage(m *types.Message) int {
	total := perMessageOverhead
	total += len(m.Text) / charsPerToken
	for _, p := range m.Parts {
		total += len(p.Text) / charsPerToken
		if p.Type == "image" {
			// Images meter roughly as a fixed block.
			total += 1200
		}
	}
	for _, tc := range m.ToolCalls {
		total += perToolCallOverhead
		total += len(tc.Name) / charsPerToken
		total += len(tc.Arguments) / charsPerToken
	}
	return total
}

// shouldCompact reports whether the window exceeds the compaction threshold
// of the context budget.
func shouldCompact(counter TokenCounter, messages []*types.Message, contextTokens int) bool {
	if contextTokens <= 0 {
		contextTokens = defaultContextTokens
	}
	return float64(counter.Count(messages)) > compactionThreshold*float64(contextTokens)
}
