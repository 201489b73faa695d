package provider

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/cloudwego/eino/schema"
	openai "github.com/sashabaranov/go-openai"

	"github.com/bladecode/blade/pkg/types"
)

// OpenAIService adapts the OpenAI-compatible wire shape: messages as a flat
// list including system, tool calls in assistant.tool_calls, tool results as
// role=tool messages with tool_call_id, streamed arguments accumulated by
// index.
type OpenAIService struct {
	id           string
	client       *openai.Client
	models       []types.Model
	defaultModel string
}

// OpenAIConfig configures the OpenAI-compatible adapter.
type OpenAIConfig struct {
	// ID overrides the provider identifier (e.g. a compatible vendor name).
	ID      string
	APIKey  string
	BaseURL string
	Model   string
}

// NewOpenAIService creates the OpenAI-compatible adapter.
func NewOpenAIService(cfg OpenAIConfig) (*OpenAIService, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("openai: API key is not configured")
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	id := cfg.ID
	if id == "" {
		id = "openai"
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o"
	}

	return &OpenAIService{
		id:           id,
		client:       openai.NewClientWithConfig(clientCfg),
		models:       openaiModels(),
		defaultModel: model,
	}, nil
}

// ID returns the provider identifier.
func (s *OpenAIService) ID() string { return s.id }

// Models returns the models this provider offers.
func (s *OpenAIService) Models() []types.Model { return s.models }

func (s *OpenAIService) model(requested string) string {
	if requested != "" {
		return requested
	}
	return s.defaultModel
}

// Chat performs a non-streaming completion.
func (s *OpenAIService) Chat(ctx context.Context, req *Request) (*Response, error) {
	chatReq := s.buildRequest(req, false)

	resp, err := withRetries(ctx, s.id, func() (openai.ChatCompletionResponse, error) {
		return s.client.CreateChatCompletion(ctx, chatReq)
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, &Error{Provider: s.id, Message: "response contained no choices"}
	}

	choice := resp.Choices[0]
	msg := &schema.Message{
		Role:    schema.Assistant,
		Content: choice.Message.Content,
	}
	for _, tc := range choice.Message.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, schema.ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: schema.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}

	return &Response{
		Message:      msg,
		FinishReason: mapOpenAIFinish(string(choice.FinishReason)),
		Usage: &types.TokenUsage{
			Input:  resp.Usage.PromptTokens,
			Output: resp.Usage.CompletionTokens,
			Total:  resp.Usage.TotalTokens,
		},
	}, nil
}

// StreamChat performs a streaming completion.
func (s *OpenAIService) StreamChat(ctx context.Context, req *Request) (*Stream, error) {
	chatReq := s.buildRequest(req, true)

	stream, err := withRetries(ctx, s.id, func() (*openai.ChatCompletionStream, error) {
		return s.client.CreateChatCompletionStream(ctx, chatReq)
	})
	if err != nil {
		return nil, err
	}

	reader, writer := schema.Pipe[*StreamChunk](16)
	go s.pumpStream(ctx, stream, writer)
	return NewStream(reader), nil
}

// pumpStream converts SSE deltas into StreamChunks. Tool-call argument
// fragments accumulate per index and are emitted assembled when the provider
// reports completion.
func (s *OpenAIService) pumpStream(ctx context.Context, stream *openai.ChatCompletionStream, writer *schema.StreamWriter[*StreamChunk]) {
	defer writer.Close()
	defer stream.Close()

	type pendingCall struct {
		id   string
		name string
		args string
	}
	pending := make(map[int]*pendingCall)
	var order []int
	emitted := make(map[int]bool)
	finish := ""

	flushCalls := func() {
		for _, idx := range order {
			if emitted[idx] {
				continue
			}
			pc := pending[idx]
			if pc.id == "" || pc.name == "" {
				continue
			}
			emitted[idx] = true
			writer.Send(&StreamChunk{ToolCall: &types.ToolCall{
				ID:        pc.id,
				Name:      pc.name,
				Arguments: pc.args,
			}}, nil)
		}
	}

	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			flushCalls()
			if finish == "" {
				finish = "stop"
			}
			writer.Send(&StreamChunk{FinishReason: finish}, nil)
			return
		}
		if err != nil {
			writer.Send(nil, wrapErr(s.id, ctx, err))
			return
		}

		// Usage arrives on a trailing chunk with no choices.
		if resp.Usage != nil {
			writer.Send(&StreamChunk{Usage: &types.TokenUsage{
				Input:  resp.Usage.PromptTokens,
				Output: resp.Usage.CompletionTokens,
				Total:  resp.Usage.TotalTokens,
			}}, nil)
		}
		if len(resp.Choices) == 0 {
			continue
		}

		choice := resp.Choices[0]
		delta := choice.Delta

		if delta.Content != "" {
			writer.Send(&StreamChunk{ContentDelta: delta.Content}, nil)
		}

		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			pc, ok := pending[idx]
			if !ok {
				pc = &pendingCall{}
				pending[idx] = pc
				order = append(order, idx)
			}
			if tc.ID != "" {
				pc.id = tc.ID
			}
			if tc.Function.Name != "" {
				pc.name = tc.Function.Name
			}
			// Fragments concatenate within one index, never across.
			pc.args += tc.Function.Arguments
		}

		if choice.FinishReason != "" {
			finish = mapOpenAIFinish(string(choice.FinishReason))
			if finish == "tool_calls" {
				flushCalls()
			}
		}
	}
}

// buildRequest converts the internal request to the OpenAI wire shape.
func (s *OpenAIService) buildRequest(req *Request, stream bool) openai.ChatCompletionRequest {
	messages := toOpenAIMessages(FilterOrphanToolMessages(req.Messages))

	chatReq := openai.ChatCompletionRequest{
		Model:    s.model(req.Model),
		Messages: messages,
		Stream:   stream,
	}
	if stream {
		chatReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		chatReq.Temperature = float32(req.Temperature)
	}
	for _, t := range req.Tools {
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return chatReq
}

// toOpenAIMessages converts internal messages to the wire list. System
// messages stay in the list; tool results become role=tool entries.
func toOpenAIMessages(messages []*schema.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))

	for _, msg := range messages {
		m := openai.ChatCompletionMessage{Role: string(msg.Role)}

		if len(msg.MultiContent) > 0 {
			for _, part := range msg.MultiContent {
				switch part.Type {
				case schema.ChatMessagePartTypeText:
					m.MultiContent = append(m.MultiContent, openai.ChatMessagePart{
						Type: openai.ChatMessagePartTypeText,
						Text: part.Text,
					})
				case schema.ChatMessagePartTypeImageURL:
					if part.ImageURL != nil {
						m.MultiContent = append(m.MultiContent, openai.ChatMessagePart{
							Type: openai.ChatMessagePartTypeImageURL,
							ImageURL: &openai.ChatMessageImageURL{
								URL:    part.ImageURL.URL,
								Detail: openai.ImageURLDetailAuto,
							},
						})
					}
				}
			}
		} else {
			m.Content = msg.Content
		}

		for _, tc := range msg.ToolCalls {
			m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		if msg.Role == schema.Tool {
			m.ToolCallID = msg.ToolCallID
		}

		out = append(out, m)
	}
	return out
}

// mapOpenAIFinish normalizes finish reasons to the internal vocabulary.
func mapOpenAIFinish(reason string) string {
	switch reason {
	case "stop":
		return "stop"
	case "tool_calls", "function_call":
		return "tool_calls"
	case "length", "max_tokens":
		return "length"
	case "":
		return ""
	default:
		return reason
	}
}

func openaiModels() []types.Model {
	return []types.Model{
		{
			ID:              "gpt-4o",
			Name:            "GPT-4o",
			ProviderID:      "openai",
			ContextLength:   128000,
			MaxOutputTokens: 16384,
			SupportsTools:   true,
			SupportsVision:  true,
		},
		{
			ID:              "gpt-4o-mini",
			Name:            "GPT-4o mini",
			ProviderID:      "openai",
			ContextLength:   128000,
			MaxOutputTokens: 16384,
			SupportsTools:   true,
			SupportsVision:  true,
		},
		{
			ID:              "gpt-4.1",
			Name:            "GPT-4.1",
			ProviderID:      "openai",
			ContextLength:   1047576,
			MaxOutputTokens: 32768,
			SupportsTools:   true,
			SupportsVision:  true,
		},
	}
}
