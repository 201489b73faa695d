// Package provider reconciles two incompatible LLM wire shapes behind a
// single ChatService contract. The internal message representation is the
// Eino schema; the adapters translate it to the OpenAI-compatible and
// Anthropic-style wire formats.
package provider

import (
	"context"
	"encoding/json"

	"github.com/cloudwego/eino/schema"

	"github.com/bladecode/blade/pkg/types"
)

// ChatService is the contract every provider adapter implements.
type ChatService interface {
	// ID returns the provider identifier.
	ID() string

	// Models returns the models this provider offers.
	Models() []types.Model

	// Chat performs a non-streaming completion.
	Chat(ctx context.Context, req *Request) (*Response, error)

	// StreamChat performs a streaming completion.
	StreamChat(ctx context.Context, req *Request) (*Stream, error)
}

// Request is a provider-independent completion request. Messages use the
// internal schema shape; each adapter converts on the way out.
type Request struct {
	Model       string
	Messages    []*schema.Message
	Tools       []ToolInfo
	MaxTokens   int
	Temperature float64
	Thinking    bool
}

// ToolInfo is a provider-independent tool definition.
type ToolInfo struct {
	Name        string
	Description string
	Parameters  json.RawMessage // JSON Schema
}

// Response is a completed, non-streaming result.
type Response struct {
	Message      *schema.Message
	FinishReason string // "stop" | "tool_calls" | "length" | provider-specific
	Usage        *types.TokenUsage
}

// StreamChunk is one unit of a streamed completion. Tool calls are emitted
// fully assembled: argument fragments are accumulated per block/index inside
// the adapter and never merged across indices.
type StreamChunk struct {
	ContentDelta  string
	ThinkingDelta string
	ToolCall      *types.ToolCall
	Usage         *types.TokenUsage
	// FinishReason is set on the final chunk of the response.
	FinishReason string
}

// Stream wraps an Eino stream reader of chunks. Recv returns io.EOF when the
// stream is exhausted.
type Stream struct {
	reader *schema.StreamReader[*StreamChunk]
}

// NewStream creates a stream from an Eino reader.
func NewStream(reader *schema.StreamReader[*StreamChunk]) *Stream {
	return &Stream{reader: reader}
}

// Recv receives the next chunk from the stream.
func (s *Stream) Recv() (*StreamChunk, error) {
	return s.reader.Recv()
}

// Close closes the stream.
func (s *Stream) Close() {
	s.reader.Close()
}

// FilterOrphanToolMessages drops tool-role messages whose ToolCallID has no
// matching assistant tool call earlier in the history. Both adapters apply
// this before building a wire payload.
func FilterOrphanToolMessages(messages []*schema.Message) []*schema.Message {
	known := make(map[string]bool)
	out := make([]*schema.Message, 0, len(messages))

	for _, msg := range messages {
		if msg.Role == schema.Assistant {
			for _, tc := range msg.ToolCalls {
				if tc.ID != "" {
					known[tc.ID] = true
				}
			}
		}
		if msg.Role == schema.Tool {
			if msg.ToolCallID == "" || !known[msg.ToolCallID] {
				continue
			}
		}
		out = append(out, msg)
	}
	return out
}
