package types

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry in a session's conversation log.
//
// Content is either plain text (Text) or an ordered list of parts (Parts);
// when Parts is non-empty it takes precedence. A tool-role message must
// reference a ToolCallID produced by a prior assistant message in the same
// session; orphans are filtered before any provider request.
type Message struct {
	ID        string        `json:"id"`
	SessionID string        `json:"sessionID"`
	Role      Role          `json:"role"`
	Text      string        `json:"text,omitempty"`
	Parts     []ContentPart `json:"parts,omitempty"`

	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	ToolCallID string     `json:"toolCallID,omitempty"`

	ProviderID string        `json:"providerID,omitempty"`
	ModelID    string        `json:"modelID,omitempty"`
	Finish     string        `json:"finish,omitempty"`
	Tokens     *TokenUsage   `json:"tokens,omitempty"`
	Error      *MessageError `json:"error,omitempty"`
	IsSummary  bool          `json:"isSummary,omitempty"`

	Time MessageTime `json:"time"`
}

// ContentPart is one element of a multi-modal message body.
type ContentPart struct {
	Type string `json:"type"` // "text" | "image"
	Text string `json:"text,omitempty"`
	// ImageURL holds a data: URL or remote URL for image parts.
	ImageURL  string `json:"imageURL,omitempty"`
	MediaType string `json:"mediaType,omitempty"`
}

// TextContent returns the concatenated text of the message body.
func (m *Message) TextContent() string {
	if len(m.Parts) == 0 {
		return m.Text
	}
	var out string
	for _, p := range m.Parts {
		if p.Type == "text" {
			out += p.Text
		}
	}
	return out
}

// ToolCall is a structured request from the model naming a registered tool.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON-encoded
}

// MessageTime contains timestamps for a message.
type MessageTime struct {
	Created int64  `json:"created"`
	Updated *int64 `json:"updated,omitempty"`
}

// TokenUsage contains token accounting for a message or a turn.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Total  int `json:"total"`
}

// Add accumulates usage from another sample.
func (u *TokenUsage) Add(other TokenUsage) {
	u.Input += other.Input
	u.Output += other.Output
	u.Total += other.Total
}

// MessageError records a failure attached to a message.
type MessageError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ModelRef references a specific model from a provider.
type ModelRef struct {
	ProviderID string `json:"providerID"`
	ModelID    string `json:"modelID"`
}
