package session

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/bladecode/blade/pkg/types"
)

const baseSystemPrompt = `You are Blade, an interactive coding agent running in a terminal.

You help the user with software engineering tasks: reading and editing files,
searching the codebase, running commands, and fetching web content through
the tools provided. Prefer tools over guessing; read files before editing
them. Keep answers concise and grounded in what the tools returned.`

const planModePrompt = `You are in plan mode. Investigate and design, but make no changes:
editing, executing, and network tools are unavailable until the user exits
plan mode. Produce a concrete plan the user can approve.`

const compactionBoundary = "=== earlier conversation summarized below ==="

// buildSystemPrompt assembles the mode-specific system prompt.
func buildSystemPrompt(sess *types.Session, workspace string) string {
	var sb strings.Builder
	sb.WriteString(baseSystemPrompt)

	if workspace != "" {
		sb.WriteString(fmt.Sprintf("\n\nWorkspace root: %s", workspace))
	}
	if sess != nil && sess.PermissionMode == types.ModePlan {
		sb.WriteString("\n\n")
		sb.WriteString(planModePrompt)
	}
	return sb.String()
}

// toSchemaMessages converts the persisted log into the internal wire shape.
// The provider adapters run their own orphan filter on top.
func toSchemaMessages(messages []*types.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages))

	for _, msg := range messages {
		sm := &schema.Message{Role: schema.RoleType(msg.Role)}

		if len(msg.Parts) > 0 {
			for _, part := range msg.Parts {
				switch part.Type {
				case "text":
					sm.MultiContent = append(sm.MultiContent, schema.ChatMessagePart{
						Type: schema.ChatMessagePartTypeText,
						Text: part.Text,
					})
				case "image":
					sm.MultiContent = append(sm.MultiContent, schema.ChatMessagePart{
						Type: schema.ChatMessagePartTypeImageURL,
						ImageURL: &schema.ChatMessageImageURL{
							URL: part.ImageURL,
						},
					})
				}
			}
		} else {
			sm.Content = msg.Text
		}

		for _, tc := range msg.ToolCalls {
			sm.ToolCalls = append(sm.ToolCalls, schema.ToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: schema.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		if msg.Role == types.RoleTool {
			sm.ToolCallID = msg.ToolCallID
		}

		out = append(out, sm)
	}
	return out
}
