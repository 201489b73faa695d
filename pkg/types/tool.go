package types

// ToolKind classifies a tool for permission-mode overrides.
type ToolKind string

const (
	KindRead    ToolKind = "read"
	KindSearch  ToolKind = "search"
	KindEdit    ToolKind = "edit"
	KindExecute ToolKind = "execute"
	KindDelete  ToolKind = "delete"
	KindMove    ToolKind = "move"
	KindNetwork ToolKind = "network"
	KindThink   ToolKind = "think"
	KindOther   ToolKind = "other"
)

// ReadOnly reports whether the kind has no side effects on the workspace.
func (k ToolKind) ReadOnly() bool {
	return k == KindRead || k == KindSearch
}
