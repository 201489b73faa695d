package types

// ConfigVersion is the current user-config schema version.
// Older versions are migrated on load (see internal/config).
const ConfigVersion = 1.3

// Config is the merged user + project configuration.
type Config struct {
	Version float64 `json:"version"`

	Provider string `json:"provider,omitempty"` // default provider id
	BaseURL  string `json:"baseUrl,omitempty"`
	APIKey   string `json:"apiKey,omitempty"`
	Model    string `json:"model,omitempty"`

	PermissionMode PermissionMode `json:"permissionMode,omitempty"`

	// Providers holds per-provider overrides keyed by provider id.
	Providers map[string]ProviderConfig `json:"providers,omitempty"`

	// Permissions is the user rule list consumed by the permission checker.
	Permissions *PermissionRules `json:"permissions,omitempty"`

	// Command holds user-defined slash commands keyed by name.
	Command map[string]CommandConfig `json:"command,omitempty"`

	// MaxTurns bounds the agent loop per user turn. Zero means the default.
	MaxTurns int `json:"maxTurns,omitempty"`

	// ContextTokens is the context window budget used for compaction. Zero
	// means the model's context length.
	ContextTokens int `json:"contextTokens,omitempty"`

	Log LogConfig `json:"log,omitempty"`
}

// ProviderConfig configures one LLM provider.
type ProviderConfig struct {
	// Kind selects the wire adapter: "openai" or "anthropic".
	Kind    string `json:"kind,omitempty"`
	BaseURL string `json:"baseUrl,omitempty"`
	APIKey  string `json:"apiKey,omitempty"`
	Model   string `json:"model,omitempty"`
	MaxTokens int  `json:"maxTokens,omitempty"`
	Disabled  bool `json:"disabled,omitempty"`
}

// PermissionRules is the three-class rule list. A rule is a pattern like
// "bash", "bash(git:*)", or "edit(**/*.go)".
type PermissionRules struct {
	Allow []string `json:"allow,omitempty"`
	Ask   []string `json:"ask,omitempty"`
	Deny  []string `json:"deny,omitempty"`
}

// CommandConfig is a user-defined slash command from config.
type CommandConfig struct {
	Description string `json:"description,omitempty"`
	Template    string `json:"template"`
	Model       string `json:"model,omitempty"`
}

// LogConfig configures the zerolog output.
type LogConfig struct {
	Level  string `json:"level,omitempty"` // debug|info|warn|error
	File   bool   `json:"file,omitempty"`
	Pretty bool   `json:"pretty,omitempty"`
}

// MCPConfig is the content of mcp-config.json: servers keyed by id.
type MCPConfig struct {
	Servers map[string]MCPServerConfig `json:"servers"`
}

// MCPServerConfig configures one external tool server.
type MCPServerConfig struct {
	Name        string            `json:"name"`
	Transport   string            `json:"transport"` // "stdio" | "sse" | "websocket"
	Endpoint    string            `json:"endpoint,omitempty"`
	Command     []string          `json:"command,omitempty"`
	Args        []string          `json:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	Enabled     bool              `json:"enabled"`
	AutoConnect bool              `json:"autoConnect"`
	TimeoutMS   int               `json:"timeout,omitempty"`
}
