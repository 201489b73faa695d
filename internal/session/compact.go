package session

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/bladecode/blade/internal/event"
	"github.com/bladecode/blade/internal/logging"
	"github.com/bladecode/blade/internal/provider"
	"github.com/bladecode/blade/pkg/types"
)

// CompactionConfig controls message compaction behavior.
type CompactionConfig struct {
	// KeepRecent is the number of most recent messages carried over intact.
	KeepRecent int
	// SummaryMaxTokens bounds the summarizer's output.
	SummaryMaxTokens int
}

// DefaultCompaction is the standard configuration.
var DefaultCompaction = CompactionConfig{
	KeepRecent:       4,
	SummaryMaxTokens: 2000,
}

const summarizerSystemPrompt = `You are a conversation summarizer for a coding agent. Summarize the
conversation so work can continue seamlessly with only your summary as
context. Structure the summary as:

Goal: what the user is trying to accomplish
Decisions: choices made and why
Open threads: unfinished work and next steps
Files: every file path that was read, edited, or discussed`

// CompactionResult reports a finished compaction.
type CompactionResult struct {
	PreTokens  int
	PostTokens int
	// Files referenced in the summary, for the metadata check.
	Files []string
	// Fallback is set when summarization failed and size-based truncation
	// was used instead.
	Fallback bool
}

// Compact replaces old messages with an LLM-authored summary. On any
// failure it falls back to keeping the most recent messages. The force flag
// skips the threshold check (explicit /compact).
func (p *Processor) Compact(ctx context.Context, chatCtx *ChatContext, force bool) (*CompactionResult, error) {
	sess := chatCtx.Session
	cfg := DefaultCompaction

	messages, err := p.Messages(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	if len(messages) <= cfg.KeepRecent {
		return nil, nil
	}

	counter := HeuristicCounter{}
	if !force && !shouldCompact(counter, messages, p.contextBudget(nil)) {
		return nil, nil
	}
	preTokens := counter.Count(messages)

	emit := func(e event.StreamEvent) {
		if chatCtx.Sink != nil {
			chatCtx.Sink.Emit(e)
		}
	}
	emit(event.Compacting{Active: true, PreTokens: preTokens})

	now := time.Now().UnixMilli()
	sess.Time.Compacting = &now
	p.saveSession(ctx, sess)
	defer func() {
		sess.Time.Compacting = nil
		p.saveSession(ctx, sess)
	}()

	keepFrom := len(messages) - cfg.KeepRecent
	toSummarize := messages[:keepFrom]
	kept := messages[keepFrom:]

	result := &CompactionResult{PreTokens: preTokens}

	summary, files, err := p.summarize(ctx, chatCtx, toSummarize, cfg)
	if err != nil {
		logging.Logger.Warn().Err(err).Msg("summarization failed; using size-based truncation")
		result.Fallback = true
		// Fallback: drop the old messages, keep the recent window.
		if err := p.replaceMessages(ctx, sess.ID, orphanSafe(kept)); err != nil {
			emit(event.Compacting{Active: false})
			return nil, err
		}
	} else {
		result.Files = files
		boundary := &types.Message{
			SessionID: sess.ID,
			Role:      types.RoleUser,
			Text:      compactionBoundary,
		}
		summaryMsg := &types.Message{
			SessionID: sess.ID,
			Role:      types.RoleAssistant,
			Text:      summary,
			IsSummary: true,
		}
		window := append([]*types.Message{boundary, summaryMsg}, orphanSafe(kept)...)
		if err := p.replaceMessages(ctx, sess.ID, window); err != nil {
			emit(event.Compacting{Active: false})
			return nil, err
		}
	}

	after, err := p.Messages(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	result.PostTokens = counter.Count(after)

	// Token counters restart from the new window; the Compacting event is
	// the single reset signal.
	sess.Tokens = types.TokenUsage{}
	p.saveSession(ctx, sess)

	emit(event.Compacting{Active: false, PreTokens: preTokens, PostTokens: result.PostTokens})
	if p.bus != nil {
		p.bus.Publish(event.Event{
			Type: event.SessionCompacted,
			Data: event.SessionCompactedData{
				SessionID:  sess.ID,
				PreTokens:  preTokens,
				PostTokens: result.PostTokens,
				Fallback:   result.Fallback,
			},
		})
	}
	return result, nil
}

// summarize asks the model for a structured summary of the old window.
func (p *Processor) summarize(ctx context.Context, chatCtx *ChatContext, messages []*types.Message, cfg CompactionConfig) (string, []string, error) {
	prov, err := p.providers.Get(chatCtx.ProviderID)
	if err != nil {
		return "", nil, err
	}
	model := p.resolveModel(prov, chatCtx.ModelID)

	prompt := buildSummaryPrompt(messages)

	req := &provider.Request{
		Messages: []*schema.Message{
			{Role: schema.System, Content: summarizerSystemPrompt},
			{Role: schema.User, Content: prompt},
		},
		MaxTokens: cfg.SummaryMaxTokens,
	}
	if model != nil {
		req.Model = model.ID
	}

	stream, err := prov.StreamChat(ctx, req)
	if err != nil {
		return "", nil, err
	}
	defer stream.Close()

	var summary strings.Builder
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", nil, err
		}
		summary.WriteString(chunk.ContentDelta)
	}

	text := summary.String()
	if strings.TrimSpace(text) == "" {
		return "", nil, fmt.Errorf("summarizer returned empty output")
	}
	return text, extractFileReferences(text), nil
}

// buildSummaryPrompt renders the conversation for the summarizer.
func buildSummaryPrompt(messages []*types.Message) string {
	var sb strings.Builder
	sb.WriteString("Summarize the following conversation.\n\n---\n\n")

	for _, msg := range messages {
		switch msg.Role {
		case types.RoleUser:
			sb.WriteString("USER:\n")
		case types.RoleAssistant:
			sb.WriteString("ASSISTANT:\n")
		case types.RoleTool:
			sb.WriteString("TOOL RESULT:\n")
		default:
			continue
		}

		text := msg.TextContent()
		if msg.Role == types.RoleTool && len(text) > 500 {
			text = text[:500] + "..."
		}
		sb.WriteString(text)
		sb.WriteString("\n")

		for _, tc := range msg.ToolCalls {
			sb.WriteString(fmt.Sprintf("[tool call: %s %s]\n", tc.Name, truncateArgs(tc.Arguments)))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func truncateArgs(args string) string {
	if len(args) > 200 {
		return args[:200] + "..."
	}
	return args
}

// extractFileReferences pulls path-looking tokens out of the summary.
func extractFileReferences(summary string) []string {
	seen := make(map[string]bool)
	var files []string

	for _, field := range strings.Fields(summary) {
		token := strings.Trim(field, ".,;:()[]`'\"")
		if !strings.Contains(token, "/") {
			continue
		}
		if strings.HasPrefix(token, "http://") || strings.HasPrefix(token, "https://") {
			continue
		}
		if !strings.Contains(token, ".") && !strings.HasPrefix(token, "/") {
			continue
		}
		if !seen[token] {
			seen[token] = true
			files = append(files, token)
		}
	}
	return files
}

// orphanSafe drops tool messages at the head of a kept window whose calls
// were summarized away.
func orphanSafe(kept []*types.Message) []*types.Message {
	known := make(map[string]bool)
	out := make([]*types.Message, 0, len(kept))
	for _, m := range kept {
		if m.Role == types.RoleAssistant {
			for _, tc := range m.ToolCalls {
				known[tc.ID] = true
			}
		}
		if m.Role == types.RoleTool && !known[m.ToolCallID] {
			continue
		}
		out = append(out, m)
	}
	return out
}
