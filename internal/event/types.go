package event

import "github.com/bladecode/blade/pkg/types"

// SessionData is the payload for session.* events.
type SessionData struct {
	Info *types.Session `json:"info"`
}

// SessionCompactedData is the payload for session.compacted events.
type SessionCompactedData struct {
	SessionID  string `json:"sessionID"`
	PreTokens  int    `json:"preTokens"`
	PostTokens int    `json:"postTokens"`
	Fallback   bool   `json:"fallback,omitempty"`
}

// MessageData is the payload for message.created/updated events.
type MessageData struct {
	Info *types.Message `json:"info"`
}

// FileEditedData is the payload for file.edited events.
type FileEditedData struct {
	File string `json:"file"`
}

// PermissionRequiredData is the payload for permission.required events.
type PermissionRequiredData struct {
	ID        string   `json:"id"`
	SessionID string   `json:"sessionID"`
	Tool      string   `json:"tool"`
	Pattern   []string `json:"pattern,omitempty"`
	Title     string   `json:"title"`
}

// PermissionResolvedData is the payload for permission.resolved events.
type PermissionResolvedData struct {
	ID       string `json:"id"`
	Approved bool   `json:"approved"`
	Persist  bool   `json:"persist,omitempty"`
}

// ToolsUpdatedData is the payload for tools.updated events, published when an
// external tool server connects or disconnects.
type ToolsUpdatedData struct {
	Server string   `json:"server"`
	Tools  []string `json:"tools"`
}
