package provider

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/cloudwego/eino/schema"

	"github.com/bladecode/blade/pkg/types"
)

// AnthropicService adapts the Anthropic-style wire shape: a top-level system
// field, content blocks, tool_use/tool_result, and strict user/assistant
// alternation.
type AnthropicService struct {
	id           string
	client       anthropic.Client
	models       []types.Model
	defaultModel string
	maxTokens    int
}

// AnthropicConfig configures the Anthropic adapter.
type AnthropicConfig struct {
	ID        string
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

// NewAnthropicService creates the Anthropic adapter.
func NewAnthropicService(cfg AnthropicConfig) (*AnthropicService, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("anthropic: API key is not configured")
	}

	options := []option.RequestOption{option.WithAPIKey(apiKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}

	id := cfg.ID
	if id == "" {
		id = "anthropic"
	}
	model := cfg.Model
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	return &AnthropicService{
		id:           id,
		client:       anthropic.NewClient(options...),
		models:       anthropicModels(),
		defaultModel: model,
		maxTokens:    maxTokens,
	}, nil
}

// ID returns the provider identifier.
func (s *AnthropicService) ID() string { return s.id }

// Models returns the models this provider offers.
func (s *AnthropicService) Models() []types.Model { return s.models }

func (s *AnthropicService) model(requested string) string {
	if requested != "" {
		return requested
	}
	return s.defaultModel
}

// Chat performs a non-streaming completion.
func (s *AnthropicService) Chat(ctx context.Context, req *Request) (*Response, error) {
	params, err := s.buildParams(req)
	if err != nil {
		return nil, &Error{Provider: s.id, Message: err.Error(), Cause: err}
	}

	message, err := withRetries(ctx, s.id, func() (*anthropic.Message, error) {
		return s.client.Messages.New(ctx, params)
	})
	if err != nil {
		return nil, err
	}

	msg := &schema.Message{Role: schema.Assistant}
	for _, block := range message.Content {
		switch block.Type {
		case "text":
			msg.Content += block.AsText().Text
		case "tool_use":
			tu := block.AsToolUse()
			msg.ToolCalls = append(msg.ToolCalls, schema.ToolCall{
				ID:   tu.ID,
				Type: "function",
				Function: schema.FunctionCall{
					Name:      tu.Name,
					Arguments: string(tu.Input),
				},
			})
		}
	}

	return &Response{
		Message:      msg,
		FinishReason: mapAnthropicStop(string(message.StopReason)),
		Usage: &types.TokenUsage{
			Input:  int(message.Usage.InputTokens),
			Output: int(message.Usage.OutputTokens),
			Total:  int(message.Usage.InputTokens + message.Usage.OutputTokens),
		},
	}, nil
}

// StreamChat performs a streaming completion.
func (s *AnthropicService) StreamChat(ctx context.Context, req *Request) (*Stream, error) {
	params, err := s.buildParams(req)
	if err != nil {
		return nil, &Error{Provider: s.id, Message: err.Error(), Cause: err}
	}

	stream, err := withRetries(ctx, s.id, func() (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
		st := s.client.Messages.NewStreaming(ctx, params)
		if err := st.Err(); err != nil {
			return nil, err
		}
		return st, nil
	})
	if err != nil {
		return nil, err
	}

	reader, writer := schema.Pipe[*StreamChunk](16)
	go s.pumpStream(ctx, stream, writer)
	return NewStream(reader), nil
}

// pendingToolUse accumulates input_json_delta fragments for one block index.
type pendingToolUse struct {
	id   string
	name string
	args strings.Builder
}

// pumpStream converts Anthropic SSE events into StreamChunks. tool_use input
// fragments accumulate per block index and the assembled call is emitted on
// content_block_stop.
func (s *AnthropicService) pumpStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], writer *schema.StreamWriter[*StreamChunk]) {
	defer writer.Close()

	pending := make(map[int64]*pendingToolUse)
	var inputTokens, outputTokens int
	finish := ""

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case "message_start":
			messageStart := event.AsMessageStart()
			if messageStart.Message.Usage.InputTokens > 0 {
				inputTokens = int(messageStart.Message.Usage.InputTokens)
			}

		case "content_block_start":
			blockStart := event.AsContentBlockStart()
			if blockStart.ContentBlock.Type == "tool_use" {
				tu := blockStart.ContentBlock.AsToolUse()
				p := &pendingToolUse{id: tu.ID, name: tu.Name}
				pending[blockStart.Index] = p
			}

		case "content_block_delta":
			blockDelta := event.AsContentBlockDelta()
			delta := blockDelta.Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					writer.Send(&StreamChunk{ContentDelta: delta.Text}, nil)
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					writer.Send(&StreamChunk{ThinkingDelta: delta.Thinking}, nil)
				}
			case "input_json_delta":
				if p, ok := pending[blockDelta.Index]; ok {
					p.args.WriteString(delta.PartialJSON)
				}
			}

		case "content_block_stop":
			blockStop := event.AsContentBlockStop()
			if p, ok := pending[blockStop.Index]; ok {
				delete(pending, blockStop.Index)
				args := p.args.String()
				if args == "" {
					args = "{}"
				}
				writer.Send(&StreamChunk{ToolCall: &types.ToolCall{
					ID:        p.id,
					Name:      p.name,
					Arguments: args,
				}}, nil)
			}

		case "message_delta":
			messageDelta := event.AsMessageDelta()
			if messageDelta.Usage.OutputTokens > 0 {
				outputTokens = int(messageDelta.Usage.OutputTokens)
			}
			if messageDelta.Delta.StopReason != "" {
				finish = mapAnthropicStop(string(messageDelta.Delta.StopReason))
			}

		case "message_stop":
			writer.Send(&StreamChunk{Usage: &types.TokenUsage{
				Input:  inputTokens,
				Output: outputTokens,
				Total:  inputTokens + outputTokens,
			}}, nil)
			if finish == "" {
				finish = "stop"
			}
			writer.Send(&StreamChunk{FinishReason: finish}, nil)
			return
		}
	}

	if err := stream.Err(); err != nil {
		writer.Send(nil, wrapErr(s.id, ctx, err))
		return
	}

	// Stream ended without message_stop; still emit a terminal chunk.
	if finish == "" {
		finish = "stop"
	}
	writer.Send(&StreamChunk{FinishReason: finish}, nil)
}

// buildParams converts the internal request to Anthropic MessageNewParams,
// enforcing the wire rules: system text is lifted to the top-level field,
// tool results ride in user messages, adjacent same-role messages merge, and
// the history starts with a user message.
func (s *AnthropicService) buildParams(req *Request) (anthropic.MessageNewParams, error) {
	messages, system, err := toAnthropicMessages(FilterOrphanToolMessages(req.Messages))
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = s.maxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model(req.Model)),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if req.Thinking {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(10000)
	}

	for _, t := range req.Tools {
		var schemaParam anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(t.Parameters, &schemaParam); err != nil {
			return anthropic.MessageNewParams{}, errors.New("invalid tool schema for " + t.Name)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schemaParam, t.Name)
		if toolParam.OfTool != nil {
			toolParam.OfTool.Description = anthropic.String(t.Description)
		}
		params.Tools = append(params.Tools, toolParam)
	}

	return params, nil
}

// toAnthropicMessages converts the internal history, returning the lifted
// system text alongside the alternation-safe message list.
func toAnthropicMessages(messages []*schema.Message) ([]anthropic.MessageParam, string, error) {
	var systemParts []string
	var out []anthropic.MessageParam

	appendBlocks := func(role anthropic.MessageParamRole, blocks []anthropic.ContentBlockParamUnion) {
		// Anthropic requires strict alternation; adjacent same-role
		// messages merge into one.
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			return
		}
		out = append(out, anthropic.MessageParam{Role: role, Content: blocks})
	}

	for _, msg := range messages {
		switch msg.Role {
		case schema.System:
			// System text is concatenated into the top-level field.
			if msg.Content != "" {
				systemParts = append(systemParts, msg.Content)
			}

		case schema.User:
			blocks := contentBlocks(msg)
			if len(blocks) == 0 {
				blocks = []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(" ")}
			}
			appendBlocks(anthropic.MessageParamRoleUser, blocks)

		case schema.Tool:
			// A tool result is a user message with a tool_result block.
			block := anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false)
			appendBlocks(anthropic.MessageParamRoleUser, []anthropic.ContentBlockParamUnion{block})

		case schema.Assistant:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var input map[string]any
				if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Function.Name))
			}
			if len(blocks) == 0 {
				blocks = append(blocks, anthropic.NewTextBlock(" "))
			}
			appendBlocks(anthropic.MessageParamRoleAssistant, blocks)
		}
	}

	// The first message must be a user message.
	if len(out) > 0 && out[0].Role != anthropic.MessageParamRoleUser {
		placeholder := anthropic.MessageParam{
			Role:    anthropic.MessageParamRoleUser,
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock("(continuing)")},
		}
		out = append([]anthropic.MessageParam{placeholder}, out...)
	}

	return out, strings.Join(systemParts, "\n\n"), nil
}

// contentBlocks converts a user message body (text or multi-modal parts).
func contentBlocks(msg *schema.Message) []anthropic.ContentBlockParamUnion {
	var blocks []anthropic.ContentBlockParamUnion

	if len(msg.MultiContent) == 0 {
		if msg.Content != "" {
			blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
		}
		return blocks
	}

	for _, part := range msg.MultiContent {
		switch part.Type {
		case schema.ChatMessagePartTypeText:
			if part.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(part.Text))
			}
		case schema.ChatMessagePartTypeImageURL:
			if part.ImageURL == nil {
				continue
			}
			if mediaType, data, ok := parseDataURL(part.ImageURL.URL); ok {
				blocks = append(blocks, anthropic.NewImageBlockBase64(mediaType, data))
			}
		}
	}
	return blocks
}

// parseDataURL splits a data: URL into media type and base64 payload.
func parseDataURL(raw string) (string, string, bool) {
	if !strings.HasPrefix(raw, "data:") {
		return "", "", false
	}
	parts := strings.SplitN(raw, ",", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	meta := strings.TrimPrefix(parts[0], "data:")
	if !strings.HasSuffix(meta, ";base64") {
		return "", "", false
	}
	mediaType := strings.TrimSuffix(meta, ";base64")
	if mediaType == "" {
		return "", "", false
	}
	return mediaType, parts[1], true
}

// mapAnthropicStop normalizes stop reasons to the internal vocabulary.
func mapAnthropicStop(reason string) string {
	switch reason {
	case "end_turn":
		return "stop"
	case "tool_use":
		return "tool_calls"
	case "max_tokens":
		return "length"
	case "":
		return ""
	default:
		return reason
	}
}

func anthropicModels() []types.Model {
	return []types.Model{
		{
			ID:                "claude-sonnet-4-20250514",
			Name:              "Claude Sonnet 4",
			ProviderID:        "anthropic",
			ContextLength:     200000,
			MaxOutputTokens:   64000,
			SupportsTools:     true,
			SupportsVision:    true,
			SupportsReasoning: true,
		},
		{
			ID:              "claude-opus-4-20250514",
			Name:            "Claude Opus 4",
			ProviderID:      "anthropic",
			ContextLength:   200000,
			MaxOutputTokens: 32000,
			SupportsTools:   true,
			SupportsVision:  true,
			SupportsReasoning: true,
		},
		{
			ID:              "claude-3-5-haiku-20241022",
			Name:            "Claude 3.5 Haiku",
			ProviderID:      "anthropic",
			ContextLength:   200000,
			MaxOutputTokens: 8192,
			SupportsTools:   true,
			SupportsVision:  true,
		},
	}
}
