package tool

import (
	"context"
	"encoding/json"

	"github.com/bladecode/blade/pkg/types"
)

const thinkDescription = `Records a thought without performing any action.

Use this to reason about the task, note intermediate conclusions, or plan
next steps. The note has no side effects.`

// ThinkTool is an opaque note for the model; it has no side effect.
type ThinkTool struct{}

// ThinkInput represents the input for the think tool.
type ThinkInput struct {
	Thought string `json:"thought"`
}

// NewThinkTool creates a new think tool.
func NewThinkTool() *ThinkTool { return &ThinkTool{} }

func (t *ThinkTool) ID() string            { return "think" }
func (t *ThinkTool) DisplayName() string   { return "Think" }
func (t *ThinkTool) Kind() types.ToolKind  { return types.KindThink }
func (t *ThinkTool) Description() string   { return thinkDescription }
func (t *ThinkTool) ConcurrencySafe() bool { return true }

func (t *ThinkTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"thought": {"type": "string", "description": "The thought to record"}
		},
		"required": ["thought"]
	}`)
}

func (t *ThinkTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params ThinkInput
	if err := json.Unmarshal(input, &params); err != nil {
		return Errorf(ErrValidation, "invalid input: %v", err), nil
	}

	return &Result{
		Title:  "Thought recorded",
		Output: "Noted.",
	}, nil
}
