package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bladecode/blade/internal/event"
	"github.com/bladecode/blade/internal/fileaccess"
	"github.com/bladecode/blade/internal/snapshot"
	"github.com/bladecode/blade/pkg/types"
)

const multiEditDescription = `Performs multiple exact string replacements in a single file in one pass.

Usage:
- Edits are applied in order, each to the result of the previous one
- The file is written once, after all edits have been attempted
- Each edit reports success or failure individually; a failed edit does not
  roll back the ones before it`

// MultiEditTool applies an ordered list of edits to one file.
type MultiEditTool struct {
	workDir   string
	tracker   *fileaccess.Tracker
	snapshots *snapshot.Store
}

// MultiEditOp is one edit in the sequence.
type MultiEditOp struct {
	OldString  string `json:"old_string"`
	NewString  string `json:"new_string"`
	ReplaceAll bool   `json:"replace_all,omitempty"`
}

// MultiEditInput represents the input for the multiedit tool.
type MultiEditInput struct {
	FilePath string        `json:"file_path"`
	Edits    []MultiEditOp `json:"edits"`
}

// NewMultiEditTool creates a new multiedit tool.
func NewMultiEditTool(workDir string, tracker *fileaccess.Tracker, snapshots *snapshot.Store) *MultiEditTool {
	return &MultiEditTool{workDir: workDir, tracker: tracker, snapshots: snapshots}
}

func (t *MultiEditTool) ID() string            { return "multiedit" }
func (t *MultiEditTool) DisplayName() string   { return "MultiEdit" }
func (t *MultiEditTool) Kind() types.ToolKind  { return types.KindEdit }
func (t *MultiEditTool) Description() string   { return multiEditDescription }
func (t *MultiEditTool) ConcurrencySafe() bool { return false }

func (t *MultiEditTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"file_path": {
				"type": "string",
				"description": "The absolute path to the file to edit"
			},
			"edits": {
				"type": "array",
				"description": "Ordered list of edits to apply",
				"items": {
					"type": "object",
					"properties": {
						"old_string": {"type": "string", "description": "The exact text to replace"},
						"new_string": {"type": "string", "description": "The text to replace it with"},
						"replace_all": {"type": "boolean", "description": "Replace all occurrences (default: false)"}
					},
					"required": ["old_string", "new_string"]
				},
				"minItems": 1
			}
		},
		"required": ["file_path", "edits"]
	}`)
}

// ExtractSignature returns the target path for rule matching.
func (t *MultiEditTool) ExtractSignature(input json.RawMessage) []string {
	var params MultiEditInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil
	}
	return []string{params.FilePath}
}

// AbstractRules widens the edit to the file's extension.
func (t *MultiEditTool) AbstractRules(input json.RawMessage) []string {
	var params MultiEditInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil
	}
	if ext := filepath.Ext(params.FilePath); ext != "" {
		return []string{"edit(**/*" + ext + ")"}
	}
	return nil
}

func (t *MultiEditTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params MultiEditInput
	if err := json.Unmarshal(input, &params); err != nil {
		return Errorf(ErrValidation, "invalid input: %v", err), nil
	}
	if len(params.Edits) == 0 {
		return Errorf(ErrValidation, "edits must not be empty"), nil
	}

	content, err := os.ReadFile(params.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return Errorf(ErrNotFound, "file not found: %s", params.FilePath), nil
		}
		return Errorf(ErrExecution, "failed to read file: %v", err), nil
	}

	before := string(content)
	warnings := readBeforeWriteWarnings(t.tracker, toolCtx, params.FilePath)

	type opReport struct {
		index    int
		applied  bool
		replaced int
		reason   string
	}

	text := before
	var reports []opReport
	succeeded := 0

	for i, op := range params.Edits {
		if op.OldString == op.NewString {
			reports = append(reports, opReport{index: i, reason: "old_string and new_string are identical"})
			continue
		}

		spans := findMatchSpans(text, op.OldString)
		if len(spans) == 0 {
			reports = append(reports, opReport{index: i, reason: "old_string not found"})
			continue
		}

		if op.ReplaceAll {
			text = spliceSpans(text, spans, op.NewString)
			reports = append(reports, opReport{index: i, applied: true, replaced: len(spans)})
		} else {
			text = spliceSpans(text, spans[:1], op.NewString)
			reports = append(reports, opReport{index: i, applied: true, replaced: 1})
		}
		succeeded++
	}

	if succeeded == 0 {
		var sb strings.Builder
		sb.WriteString("no edits applied:")
		for _, r := range reports {
			sb.WriteString(fmt.Sprintf("\n  edit %d: %s", r.index+1, r.reason))
		}
		return Errorf(ErrNotFound, "%s", sb.String()), nil
	}

	meta, snapErr := ensureSnapshot(storeFor(t.snapshots, toolCtx), params.FilePath, messageID(toolCtx))
	if snapErr != nil {
		warnings = append(warnings, fmt.Sprintf("snapshot failed: %v", snapErr))
	}

	// The file is written once, even when only part of the sequence applied.
	if err := os.WriteFile(params.FilePath, []byte(text), filePerm(params.FilePath)); err != nil {
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

	diffText, additions, deletions := computeDiff(before, text, relWorkPath(t.workDir, params.FilePath))

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Applied %d of %d edits", succeeded, len(params.Edits)))
	for _, r := range reports {
		if r.applied {
			sb.WriteString(fmt.Sprintf("\n  edit %d: replaced %d occurrence(s)", r.index+1, r.replaced))
		} else {
			sb.WriteString(fmt.Sprintf("\n  edit %d: failed (%s)", r.index+1, r.reason))
		}
	}
	for _, w := range warnings {
		sb.WriteString("\nWarning: " + w)
	}
	if diffText != "" {
		sb.WriteString("\n\n" + diffText)
	}

	result := &Result{
		Title:  fmt.Sprintf("Edited %s (%d edits)", filepath.Base(params.FilePath), succeeded),
		Output: sb.String(),
	}
	result.Meta("file", params.FilePath).
		Meta("applied", succeeded).
		Meta("total", len(params.Edits)).
		Meta("additions", additions).
		Meta("deletions", deletions).
		Meta("diff", diffText)
	if len(warnings) > 0 {
		result.Meta("warnings", warnings)
	}
	if meta != nil {
		result.Meta("snapshotVersion", meta.Version)
	}
	return result, nil
}
