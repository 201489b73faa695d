package session

import (
	"context"
	"io"
	"time"

	"github.com/bladecode/blade/internal/cancel"
	"github.com/bladecode/blade/internal/event"
	"github.com/bladecode/blade/internal/logging"
	"github.com/bladecode/blade/internal/permission"
	"github.com/bladecode/blade/internal/provider"
	"github.com/bladecode/blade/internal/tool"
	"github.com/bladecode/blade/pkg/types"
)

// DefaultMaxTurns bounds the model/tool iterations within one user turn.
const DefaultMaxTurns = 50

// abortedMarker is the neutral text appended when the user cancels a turn.
const abortedMarker = "Task stopped by user."

// ChatContext carries the turn-scoped state the loop borrows.
type ChatContext struct {
	Session *types.Session
	Token   *cancel.Token
	Confirm permission.ConfirmationHandler
	Sink    *event.Sink

	ProviderID string
	ModelID    string
}

// TurnLimitDecision is the consumer's answer to a turn-limit event.
type TurnLimitDecision struct {
	Continue bool
	Reason   string
}

// LoopOptions configures one run of the agent loop. Nil callbacks are
// skipped; the Sink receives every event regardless.
type LoopOptions struct {
	ThinkingEnabled bool
	MaxTurns        int

	OnTurnLimit func(turns int) TurnLimitDecision
}

// Outcome summarizes a finished turn.
type Outcome struct {
	// Final is the assistant's terminal message; when the turn was aborted
	// before any content arrived, it is the abort marker message.
	Final   *types.Message
	Aborted bool
	Turns   int
	Usage   types.TokenUsage
}

// ProcessTurn runs the agent loop for one user submission: request a
// completion, stream it, dispatch tool calls, integrate results, and repeat
// until the model stops, the budget runs out, or the user cancels.
func (p *Processor) ProcessTurn(ctx context.Context, chatCtx *ChatContext, userMsg *types.Message, opts *LoopOptions) (*Outcome, error) {
	if opts == nil {
		opts = &LoopOptions{}
	}
	maxTurns := opts.MaxTurns
	if maxTurns <= 0 {
		maxTurns = p.cfg.MaxTurns
	}
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}

	sess := chatCtx.Session
	emit := func(e event.StreamEvent) {
		if chatCtx.Sink != nil {
			chatCtx.Sink.Emit(e)
		}
	}

	if userMsg != nil {
		userMsg.SessionID = sess.ID
		if err := p.appendMessage(ctx, userMsg); err != nil {
			return nil, err
		}
	}

	prov, err := p.providers.Get(chatCtx.ProviderID)
	if err != nil {
		return nil, err
	}
	model := p.resolveModel(prov, chatCtx.ModelID)

	// Prepare: compact when the window is past its threshold.
	messages, err := p.Messages(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	if shouldCompact(HeuristicCounter{}, messages, p.contextBudget(model)) {
		if _, err := p.Compact(ctx, chatCtx, false); err != nil {
			logging.Logger.Warn().Err(err).Msg("compaction failed; continuing with full window")
		}
		messages, err = p.Messages(ctx, sess.ID)
		if err != nil {
			return nil, err
		}
	}

	if p.dispatcher != nil {
		p.dispatcher.ResetLoopGuard(sess.ID)
	}

	outcome := &Outcome{}
	turn := 0

	for {
		// Cancellation gate: never start another provider request after a
		// cancel.
		if chatCtx.Token != nil && chatCtx.Token.IsCancelled() {
			return p.finishAborted(ctx, sess, outcome, emit)
		}

		req := p.buildRequest(sess, messages, model, opts)

		turnCtx := ctx
		var stopWatch context.CancelFunc
		if chatCtx.Token != nil {
			turnCtx, stopWatch = chatCtx.Token.Context(ctx)
		}

		assistant, finish, streamErr := p.streamOnce(turnCtx, prov, req, sess, model, emit)
		if stopWatch != nil {
			stopWatch()
		}

		if streamErr != nil {
			if provider.IsAborted(streamErr) || (chatCtx.Token != nil && chatCtx.Token.IsCancelled()) {
				// Partial content is preserved, then a single marker.
				if assistant != nil && (assistant.Text != "" || len(assistant.ToolCalls) > 0) {
					assistant.SessionID = sess.ID
					p.appendMessage(ctx, assistant)
					outcome.Final = assistant
				}
				return p.finishAborted(ctx, sess, outcome, emit)
			}
			// Provider errors end the turn and surface to the user.
			return nil, streamErr
		}

		assistant.SessionID = sess.ID
		if err := p.appendMessage(ctx, assistant); err != nil {
			return nil, err
		}
		messages = append(messages, assistant)

		if len(assistant.ToolCalls) == 0 || finish != "tool_calls" {
			outcome.Final = assistant
			outcome.Turns = turn
			p.accumulateUsage(ctx, sess, outcome)
			return outcome, nil
		}

		// Dispatch this turn's tool calls; results keep call order.
		results := p.dispatchCalls(ctx, chatCtx, sess, assistant, emit)
		for i, res := range results {
			toolMsg := &types.Message{
				SessionID:  sess.ID,
				Role:       types.RoleTool,
				Text:       res.Output,
				ToolCallID: assistant.ToolCalls[i].ID,
			}
			if err := p.appendMessage(ctx, toolMsg); err != nil {
				return nil, err
			}
			messages = append(messages, toolMsg)
		}

		if chatCtx.Token != nil && chatCtx.Token.IsCancelled() {
			return p.finishAborted(ctx, sess, outcome, emit)
		}

		turn++
		if turn >= maxTurns {
			emit(event.TurnLimitReached{Turns: turn})
			decision := TurnLimitDecision{}
			if opts.OnTurnLimit != nil {
				decision = opts.OnTurnLimit(turn)
			}
			if decision.Continue {
				turn = 0
				continue
			}

			final := &types.Message{
				SessionID: sess.ID,
				Role:      types.RoleAssistant,
				Text:      "Stopped: reached the turn limit for this request with tool calls still pending.",
				Finish:    "turn_limit",
			}
			if err := p.appendMessage(ctx, final); err != nil {
				return nil, err
			}
			outcome.Final = final
			outcome.Turns = turn
			p.accumulateUsage(ctx, sess, outcome)
			return outcome, nil
		}
	}
}

// buildRequest assembles the provider request for the current window.
func (p *Processor) buildRequest(sess *types.Session, messages []*types.Message, model *types.Model, opts *LoopOptions) *provider.Request {
	schemaMessages := toSchemaMessages(messages)

	// The mode-specific system prompt always leads the outbound list.
	system := toSchemaMessages([]*types.Message{{
		Role: types.RoleSystem,
		Text: buildSystemPrompt(sess, p.workspace),
	}})
	outbound := append(system, schemaMessages...)

	req := &provider.Request{
		Messages: outbound,
		Thinking: opts.ThinkingEnabled,
	}
	if model != nil {
		req.Model = model.ID
		req.MaxTokens = model.MaxOutputTokens
	}

	if p.dispatcher != nil && (model == nil || model.SupportsTools) {
		for _, t := range p.dispatcher.Registry().List() {
			req.Tools = append(req.Tools, provider.ToolInfo{
				Name:        t.ID(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			})
		}
	}
	return req
}

// streamOnce performs one provider request, forwarding stream events in
// arrival order. StreamEnd is emitted exactly once per response.
func (p *Processor) streamOnce(
	ctx context.Context,
	prov provider.ChatService,
	req *provider.Request,
	sess *types.Session,
	model *types.Model,
	emit func(event.StreamEvent),
) (*types.Message, string, error) {
	stream, err := prov.StreamChat(ctx, req)
	if err != nil {
		return nil, "", err
	}
	defer stream.Close()

	assistant := &types.Message{
		Role:       types.RoleAssistant,
		ProviderID: prov.ID(),
		Time:       types.MessageTime{Created: time.Now().UnixMilli()},
	}
	if model != nil {
		assistant.ModelID = model.ID
	}

	finish := ""
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return assistant, finish, err
		}

		if chunk.ContentDelta != "" {
			assistant.Text += chunk.ContentDelta
			emit(event.ContentDelta{Text: chunk.ContentDelta})
		}
		if chunk.ThinkingDelta != "" {
			emit(event.ThinkingDelta{Text: chunk.ThinkingDelta})
		}
		if chunk.ToolCall != nil {
			assistant.ToolCalls = append(assistant.ToolCalls, *chunk.ToolCall)
			emit(event.ToolCallStart{
				ID:   chunk.ToolCall.ID,
				Name: chunk.ToolCall.Name,
				Args: chunk.ToolCall.Arguments,
			})
		}
		if chunk.Usage != nil {
			assistant.Tokens = &types.TokenUsage{
				Input:  chunk.Usage.Input,
				Output: chunk.Usage.Output,
				Total:  chunk.Usage.Total,
			}
			emit(event.TokenUsage{
				Input:      chunk.Usage.Input,
				Output:     chunk.Usage.Output,
				Total:      chunk.Usage.Total,
				MaxContext: p.contextBudget(model),
			})
		}
		if chunk.FinishReason != "" {
			finish = chunk.FinishReason
		}
	}

	if finish == "" {
		if len(assistant.ToolCalls) > 0 {
			finish = "tool_calls"
		} else {
			finish = "stop"
		}
	}
	assistant.Finish = finish
	emit(event.StreamEnd{FinishReason: finish})
	return assistant, finish, nil
}

// dispatchCalls executes an assistant message's tool calls and emits result
// events in call order.
func (p *Processor) dispatchCalls(
	ctx context.Context,
	chatCtx *ChatContext,
	sess *types.Session,
	assistant *types.Message,
	emit func(event.StreamEvent),
) []*tool.Result {
	toolCtx := &tool.Context{
		SessionID:     sess.ID,
		MessageID:     assistant.ID,
		WorkspaceRoot: p.workspace,
		Token:         chatCtx.Token,
		Confirm:       chatCtx.Confirm,
		Tracker:       p.tracker,
		Snapshots:     p.snapshotStore(sess),
		Bus:           p.bus,
	}

	dispatchCtx := ctx
	if chatCtx.Token != nil {
		var stop context.CancelFunc
		dispatchCtx, stop = chatCtx.Token.Context(ctx)
		defer stop()
	}

	results := p.dispatcher.DispatchAll(dispatchCtx, assistant.ToolCalls, toolCtx)
	for i, res := range results {
		emit(event.ToolCallResult{
			ID:       assistant.ToolCalls[i].ID,
			Success:  res.Success(),
			Summary:  res.Title,
			Detail:   res.Output,
			Metadata: res.Metadata,
		})
	}
	return results
}

// finishAborted finalizes a cancelled turn: one neutral marker, no error.
func (p *Processor) finishAborted(ctx context.Context, sess *types.Session, outcome *Outcome, emit func(event.StreamEvent)) (*Outcome, error) {
	marker := &types.Message{
		SessionID: sess.ID,
		Role:      types.RoleAssistant,
		Text:      abortedMarker,
		Finish:    "aborted",
	}
	if err := p.appendMessage(ctx, marker); err != nil {
		logging.Logger.Warn().Err(err).Msg("failed to persist abort marker")
	}
	emit(event.StreamEnd{FinishReason: "aborted"})

	outcome.Aborted = true
	if outcome.Final == nil {
		outcome.Final = marker
	}
	p.accumulateUsage(ctx, sess, outcome)
	return outcome, nil
}

// accumulateUsage folds the turn's token usage into the session counters.
func (p *Processor) accumulateUsage(ctx context.Context, sess *types.Session, outcome *Outcome) {
	messages, err := p.Messages(ctx, sess.ID)
	if err != nil {
		return
	}
	var usage types.TokenUsage
	for _, m := range messages {
		if m.Tokens != nil {
			usage.Add(*m.Tokens)
		}
	}
	outcome.Usage = usage
	sess.Tokens = usage
	p.saveSession(ctx, sess)
}

func (p *Processor) resolveModel(prov provider.ChatService, modelID string) *types.Model {
	models := prov.Models()
	if modelID == "" && p.cfg.Model != "" {
		modelID = p.cfg.Model
	}
	for i := range models {
		if models[i].ID == modelID {
			return &models[i]
		}
	}
	if len(models) > 0 {
		return &models[0]
	}
	return nil
}

func (p *Processor) contextBudget(model *types.Model) int {
	if p.cfg.ContextTokens > 0 {
		return p.cfg.ContextTokens
	}
	if model != nil && model.ContextLength > 0 {
		return model.ContextLength
	}
	return defaultContextTokens
}
