package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/bladecode/blade/internal/snapshot"
	"github.com/bladecode/blade/pkg/types"
)

const undoDescription = `Restores a file to a previous snapshot taken before an edit.

Usage:
- With only file_path, lists the available snapshots newest-first
- With message_id, restores the snapshot created for that message`

// UndoEditTool restores files from the session snapshot store.
type UndoEditTool struct {
	snapshots *snapshot.Store
}

// UndoEditInput represents the input for the undo tool.
type UndoEditInput struct {
	FilePath  string `json:"file_path"`
	MessageID string `json:"message_id,omitempty"`
}

// NewUndoEditTool creates a new undo tool.
func NewUndoEditTool(snapshots *snapshot.Store) *UndoEditTool {
	return &UndoEditTool{snapshots: snapshots}
}

func (t *UndoEditTool) ID() string            { return "undo_edit" }
func (t *UndoEditTool) DisplayName() string   { return "UndoEdit" }
func (t *UndoEditTool) Kind() types.ToolKind  { return types.KindEdit }
func (t *UndoEditTool) Description() string   { return undoDescription }
func (t *UndoEditTool) ConcurrencySafe() bool { return false }

func (t *UndoEditTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"file_path": {
				"type": "string",
				"description": "The absolute path of the file to restore"
			},
			"message_id": {
				"type": "string",
				"description": "The message whose pre-edit snapshot to restore; omit to list snapshots"
			}
		},
		"required": ["file_path"]
	}`)
}

// ExtractSignature returns the target path for rule matching.
func (t *UndoEditTool) ExtractSignature(input json.RawMessage) []string {
	var params UndoEditInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil
	}
	return []string{params.FilePath}
}

func (t *UndoEditTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params UndoEditInput
	if err := json.Unmarshal(input, &params); err != nil {
		return Errorf(ErrValidation, "invalid input: %v", err), nil
	}
	store := storeFor(t.snapshots, toolCtx)
	if store == nil {
		return Errorf(ErrInternal, "no snapshot store for this session"), nil
	}

	if params.MessageID == "" {
		metas, err := store.List(params.FilePath)
		if err != nil {
			return Errorf(ErrExecution, "failed to list snapshots: %v", err), nil
		}
		if len(metas) == 0 {
			return Errorf(ErrNotFound, "no snapshots for %s", params.FilePath), nil
		}

		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("Snapshots for %s (newest first):\n", params.FilePath))
		for i := len(metas) - 1; i >= 0; i-- {
			m := metas[i]
			ts := time.UnixMilli(m.Time).Format(time.RFC3339)
			sb.WriteString(fmt.Sprintf("  v%d  message=%s  %s", m.Version, m.MessageID, ts))
			if m.Missing {
				sb.WriteString("  (file did not exist)")
			}
			sb.WriteString("\n")
		}
		result := &Result{
			Title:  fmt.Sprintf("%d snapshots of %s", len(metas), filepath.Base(params.FilePath)),
			Output: sb.String(),
		}
		return result.Meta("file", params.FilePath).Meta("count", len(metas)), nil
	}

	meta, err := store.Restore(params.FilePath, params.MessageID)
	if err != nil {
		// Restore failure is fatal to the undo command.
		return Errorf(ErrNotFound, "restore failed: %v", err), nil
	}

	result := &Result{
		Title:  fmt.Sprintf("Restored %s", filepath.Base(params.FilePath)),
		Output: fmt.Sprintf("Restored %s to snapshot v%d (message %s)", params.FilePath, meta.Version, meta.MessageID),
	}
	return result.Meta("file", params.FilePath).Meta("version", meta.Version), nil
}
