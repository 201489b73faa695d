// Package tool provides the tool framework for LLM tool execution: the tool
// contract, the registry, and the dispatcher that gates every side effect.
package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bladecode/blade/internal/cancel"
	"github.com/bladecode/blade/internal/event"
	"github.com/bladecode/blade/internal/fileaccess"
	"github.com/bladecode/blade/internal/permission"
	"github.com/bladecode/blade/internal/snapshot"
	"github.com/bladecode/blade/pkg/types"
)

// Tool defines the interface for all tools.
type Tool interface {
	// ID returns the tool identifier used in provider tool definitions.
	ID() string

	// DisplayName returns the human-facing tool name.
	DisplayName() string

	// Kind classifies the tool for permission-mode overrides.
	Kind() types.ToolKind

	// Description returns the tool description shown to the model.
	Description() string

	// Parameters returns the JSON Schema for tool parameters.
	Parameters() json.RawMessage

	// ConcurrencySafe reports whether invocations may run in parallel with
	// other tools in the same turn.
	ConcurrencySafe() bool

	// Execute runs the tool with schema-validated input.
	Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error)
}

// ConfirmationRequirer is implemented by tools that always need explicit
// user confirmation, even when a mode override would auto-allow their kind.
// Explicit allow rules and yolo mode still skip the prompt.
type ConfirmationRequirer interface {
	RequiresConfirmation() bool
}

// SignatureExtractor is implemented by tools that expose a canonical
// parameter string for permission-rule matching (a file path, a command
// name, a lowercased query).
type SignatureExtractor interface {
	ExtractSignature(input json.RawMessage) []string
}

// RuleAbstractor is implemented by tools that can widen an invocation into a
// persistable rule such as `edit(**/*.go)`.
type RuleAbstractor interface {
	AbstractRules(input json.RawMessage) []string
}

// Context provides execution context to tools; it is borrowed for the
// duration of one invocation.
type Context struct {
	SessionID string
	MessageID string
	CallID    string

	// WorkspaceRoot is the directory the session operates in.
	WorkspaceRoot string

	// Token is the turn's cancellation token.
	Token *cancel.Token

	// Confirm routes ask decisions to the user.
	Confirm permission.ConfirmationHandler

	// Tracker records read-before-write bookkeeping.
	Tracker *fileaccess.Tracker

	// Snapshots is the session's file-backup store.
	Snapshots *snapshot.Store

	// Bus is the engine event bus; may be nil in tests.
	Bus *event.Bus

	// UpdateOutput streams incremental tool output (subprocess stdio).
	UpdateOutput func(chunk string)
}

// IsAborted checks if the turn has been cancelled.
func (c *Context) IsAborted() bool {
	return c.Token != nil && c.Token.IsCancelled()
}

// Publish emits a bus event when a bus is attached.
func (c *Context) Publish(e event.Event) {
	if c.Bus != nil {
		c.Bus.Publish(e)
	}
}

// ErrorKind classifies invocation failures.
type ErrorKind string

const (
	ErrValidation       ErrorKind = "validation"
	ErrNoop             ErrorKind = "noop"
	ErrNotFound         ErrorKind = "not_found"
	ErrPermissionDenied ErrorKind = "permission_denied"
	ErrAborted          ErrorKind = "aborted"
	ErrProvider         ErrorKind = "provider_error"
	ErrExecution        ErrorKind = "execution_error"
	ErrInternal         ErrorKind = "internal"
)

// ToolError is a typed invocation failure carried on a Result.
type ToolError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *ToolError) Error() string { return e.Message }

// Result represents the output of a tool execution. On failure Err is
// populated; the failure is fed back to the model as the tool message and
// never ends the agent loop.
type Result struct {
	// Title is the human-visible one-liner.
	Title string `json:"title"`
	// Output is the LLM-visible content.
	Output string `json:"output"`
	// Metadata carries structured extras (diffs, match counts, strategy).
	Metadata map[string]any `json:"metadata,omitempty"`
	Err      *ToolError     `json:"error,omitempty"`
}

// Success reports whether the invocation succeeded.
func (r *Result) Success() bool { return r.Err == nil }

// Meta sets a metadata key, allocating the map on first use.
func (r *Result) Meta(key string, value any) *Result {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = value
	return r
}

// Errorf builds a failed result with the given kind.
func Errorf(kind ErrorKind, format string, args ...any) *Result {
	msg := fmt.Sprintf(format, args...)
	return &Result{
		Title:  msg,
		Output: msg,
		Err:    &ToolError{Kind: kind, Message: msg},
	}
}
