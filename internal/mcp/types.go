// Package mcp implements the external tool protocol client. One client
// manages every configured server; each server walks the lifecycle
// Disconnected -> Connecting -> Connected -> (Disconnected | Failed), and
// its remote tools are exposed through the local tool registry while it is
// connected.
package mcp

import "encoding/json"

// Status is the per-server connection state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusFailed       Status = "failed"
	StatusDisabled     Status = "disabled"
)

// RemoteTool describes one tool offered by a server.
type RemoteTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ServerInfo identifies a connected server implementation.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerStatus is the reportable state of one configured server.
type ServerStatus struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Status    Status  `json:"status"`
	ToolCount int     `json:"toolCount"`
	Error     *string `json:"error,omitempty"`
}
