package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bladecode/blade/internal/event"
	"github.com/bladecode/blade/internal/fileaccess"
	"github.com/bladecode/blade/internal/snapshot"
	"github.com/bladecode/blade/pkg/types"
)

const writeDescription = `Writes content to a file, creating it if needed.

Usage:
- The file_path parameter must be an absolute path
- Overwrites the file if it already exists
- Parent directories are created automatically`

// WriteTool implements whole-file writes.
type WriteTool struct {
	workDir   string
	tracker   *fileaccess.Tracker
	snapshots *snapshot.Store
}

// WriteInput represents the input for the write tool.
type WriteInput struct {
	FilePath string `json:"file_path"`
	Content  string `json:"content"`
}

// NewWriteTool creates a new write tool.
func NewWriteTool(workDir string, tracker *fileaccess.Tracker, snapshots *snapshot.Store) *WriteTool {
	return &WriteTool{workDir: workDir, tracker: tracker, snapshots: snapshots}
}

func (t *WriteTool) ID() string            { return "write" }
func (t *WriteTool) DisplayName() string   { return "Write" }
func (t *WriteTool) Kind() types.ToolKind  { return types.KindEdit }
func (t *WriteTool) Description() string   { return writeDescription }
func (t *WriteTool) ConcurrencySafe() bool { return false }

func (t *WriteTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"file_path": {
				"type": "string",
				"description": "The absolute path to the file to write"
			},
			"content": {
				"type": "string",
				"description": "The content to write to the file"
			}
		},
		"required": ["file_path", "content"]
	}`)
}

// ExtractSignature returns the target path for rule matching.
func (t *WriteTool) ExtractSignature(input json.RawMessage) []string {
	var params WriteInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil
	}
	return []string{params.FilePath}
}

// AbstractRules widens the write to the file's extension.
func (t *WriteTool) AbstractRules(input json.RawMessage) []string {
	var params WriteInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil
	}
	if ext := filepath.Ext(params.FilePath); ext != "" {
		return []string{"write(**/*" + ext + ")"}
	}
	return nil
}

func (t *WriteTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params WriteInput
	if err := json.Unmarshal(input, &params); err != nil {
		return Errorf(ErrValidation, "invalid input: %v", err), nil
	}

	var before string
	existed := false
	if data, err := os.ReadFile(params.FilePath); err == nil {
		before = string(data)
		existed = true
	}

	var warnings []string
	if existed {
		warnings = readBeforeWriteWarnings(t.tracker, toolCtx, params.FilePath)
	}

	meta, snapErr := ensureSnapshot(storeFor(t.snapshots, toolCtx), params.FilePath, messageID(toolCtx))
	if snapErr != nil {
		warnings = append(warnings, fmt.Sprintf("snapshot failed: %v", snapErr))
	}

	if err := os.MkdirAll(filepath.Dir(params.FilePath), 0755); err != nil {
		return Errorf(ErrExecution, "failed to create directory: %v", err), nil
	}
	if err := os.WriteFile(params.FilePath, []byte(params.Content), filePerm(params.FilePath)); err != nil {
		return Errorf(ErrExecution, "failed to write file: %v", err), nil
	}

	if t.tracker != nil && toolCtx != nil {
		t.tracker.RecordRead(toolCtx.SessionID, params.FilePath)
	}
	if toolCtx != nil {
		toolCtx.Publish(event.Event{
			Type: event.FileEdited,
			Data: event.FileEditedData{File: params.FilePath},
		})
	}

	verb := "Created"
	output := fmt.Sprintf("Wrote %d bytes to %s", len(params.Content), params.FilePath)
	var diffText string
	var additions, deletions int
	if existed {
		verb = "Updated"
		diffText, additions, deletions = computeDiff(before, params.Content, relWorkPath(t.workDir, params.FilePath))
		if diffText != "" {
			output += "\n\n" + diffText
		}
	}
	for _, w := range warnings {
		output += "\nWarning: " + w
	}

	result := &Result{
		Title:  fmt.Sprintf("%s %s", verb, filepath.Base(params.FilePath)),
		Output: output,
	}
	result.Meta("file", params.FilePath).Meta("bytes", len(params.Content)).Meta("created", !existed)
	if diffText != "" {
		result.Meta("diff", diffText).Meta("additions", additions).Meta("deletions", deletions)
	}
	if len(warnings) > 0 {
		result.Meta("warnings", warnings)
	}
	if meta != nil {
		result.Meta("snapshotVersion", meta.Version)
	}
	return result, nil
}
