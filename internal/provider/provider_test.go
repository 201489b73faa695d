package provider

import (
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterOrphanToolMessages(t *testing.T) {
	history := []*schema.Message{
		{Role: schema.System, Content: "sys"},
		{Role: schema.User, Content: "do it"},
		{Role: schema.Assistant, ToolCalls: []schema.ToolCall{
			{ID: "call-1", Function: schema.FunctionCall{Name: "read", Arguments: "{}"}},
		}},
		{Role: schema.Tool, ToolCallID: "call-1", Content: "result"},
		{Role: schema.Tool, ToolCallID: "call-orphan", Content: "stale"},
		{Role: schema.Tool, Content: "no id at all"},
	}

	filtered := FilterOrphanToolMessages(history)
	require.Len(t, filtered, 4)
	assert.Equal(t, schema.Tool, filtered[3].Role)
	assert.Equal(t, "call-1", filtered[3].ToolCallID)
}

func TestFilterOrphanKeepsLaterMatches(t *testing.T) {
	// A tool message may only reference an id from an EARLIER assistant turn.
	history := []*schema.Message{
		{Role: schema.Tool, ToolCallID: "late", Content: "early orphan"},
		{Role: schema.Assistant, ToolCalls: []schema.ToolCall{
			{ID: "late", Function: schema.FunctionCall{Name: "x"}},
		}},
	}
	filtered := FilterOrphanToolMessages(history)
	require.Len(t, filtered, 1)
	assert.Equal(t, schema.Assistant, filtered[0].Role)
}

func TestMapFinishReasons(t *testing.T) {
	assert.Equal(t, "stop", mapAnthropicStop("end_turn"))
	assert.Equal(t, "tool_calls", mapAnthropicStop("tool_use"))
	assert.Equal(t, "length", mapAnthropicStop("max_tokens"))
	assert.Equal(t, "refusal", mapAnthropicStop("refusal"))

	assert.Equal(t, "stop", mapOpenAIFinish("stop"))
	assert.Equal(t, "tool_calls", mapOpenAIFinish("tool_calls"))
	assert.Equal(t, "length", mapOpenAIFinish("length"))
}

func TestToOpenAIMessages(t *testing.T) {
	msgs := []*schema.Message{
		{Role: schema.System, Content: "be helpful"},
		{Role: schema.User, Content: "hi"},
		{Role: schema.Assistant, ToolCalls: []schema.ToolCall{
			{ID: "c1", Function: schema.FunctionCall{Name: "grep", Arguments: `{"pattern":"x"}`}},
		}},
		{Role: schema.Tool, ToolCallID: "c1", Content: "2 matches"},
	}

	out := toOpenAIMessages(msgs)
	require.Len(t, out, 4)

	// System stays inline in the OpenAI shape.
	assert.Equal(t, "system", out[0].Role)
	assert.Equal(t, "be helpful", out[0].Content)

	require.Len(t, out[2].ToolCalls, 1)
	assert.Equal(t, "c1", out[2].ToolCalls[0].ID)
	assert.Equal(t, "grep", out[2].ToolCalls[0].Function.Name)

	assert.Equal(t, "tool", out[3].Role)
	assert.Equal(t, "c1", out[3].ToolCallID)
	assert.Equal(t, "2 matches", out[3].Content)
}

func TestToAnthropicMessagesAlternation(t *testing.T) {
	// History shape from the adapter contract: [system, user, tool, tool,
	// assistant, user] must become system field + [user, assistant, user]
	// with the tool results merged into the first user message.
	history := []*schema.Message{
		{Role: schema.System, Content: "sys prompt"},
		{Role: schema.User, Content: "question"},
		{Role: schema.Tool, ToolCallID: "t1", Content: "result one"},
		{Role: schema.Tool, ToolCallID: "t2", Content: "result two"},
		{Role: schema.Assistant, Content: "answer"},
		{Role: schema.User, Content: "follow-up"},
	}

	msgs, system, err := toAnthropicMessages(history)
	require.NoError(t, err)
	assert.Equal(t, "sys prompt", system)

	require.Len(t, msgs, 3)
	assert.Equal(t, "user", string(msgs[0].Role))
	// question text + two tool_result blocks merged by alternation.
	assert.Len(t, msgs[0].Content, 3)
	assert.Equal(t, "assistant", string(msgs[1].Role))
	assert.Equal(t, "user", string(msgs[2].Role))
}

func TestToAnthropicMessagesPrependsUser(t *testing.T) {
	history := []*schema.Message{
		{Role: schema.Assistant, Content: "I begin"},
	}
	msgs, _, err := toAnthropicMessages(history)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", string(msgs[0].Role))
	assert.Equal(t, "assistant", string(msgs[1].Role))
}

func TestToAnthropicSystemConcatenation(t *testing.T) {
	history := []*schema.Message{
		{Role: schema.System, Content: "part one"},
		{Role: schema.User, Content: "hello"},
		{Role: schema.System, Content: "part two"},
	}
	_, system, err := toAnthropicMessages(history)
	require.NoError(t, err)
	assert.Equal(t, "part one\n\npart two", system)
}

func TestParseDataURL(t *testing.T) {
	mt, data, ok := parseDataURL("data:image/png;base64,AAAA")
	require.True(t, ok)
	assert.Equal(t, "image/png", mt)
	assert.Equal(t, "AAAA", data)

	_, _, ok = parseDataURL("https://example.com/a.png")
	assert.False(t, ok)
}

func TestRegistryDefaults(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Get("")
	assert.Error(t, err)
}
