package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/bladecode/blade/internal/event"
	"github.com/bladecode/blade/internal/fileaccess"
	"github.com/bladecode/blade/internal/snapshot"
	"github.com/bladecode/blade/pkg/types"
)

const editDescription = `Performs exact string replacements in files.

Usage:
- The file_path parameter must be an absolute path
- The old_string must exist in the file (exact match required)
- The new_string will replace old_string
- Use replace_all to replace all occurrences
- With replace_all false and multiple matches, only the first is replaced
  and the result lists the coordinates of every match`

// EditTool implements file editing.
type EditTool struct {
	workDir   string
	tracker   *fileaccess.Tracker
	snapshots *snapshot.Store
}

// EditInput represents the input for the edit tool.
type EditInput struct {
	FilePath   string `json:"file_path"`
	OldString  string `json:"old_string"`
	NewString  string `json:"new_string"`
	ReplaceAll bool   `json:"replace_all,omitempty"`
}

// NewEditTool creates a new edit tool.
func NewEditTool(workDir string, tracker *fileaccess.Tracker, snapshots *snapshot.Store) *EditTool {
	return &EditTool{workDir: workDir, tracker: tracker, snapshots: snapshots}
}

func (t *EditTool) ID() string            { return "edit" }
func (t *EditTool) DisplayName() string   { return "Edit" }
func (t *EditTool) Kind() types.ToolKind  { return types.KindEdit }
func (t *EditTool) Description() string   { return editDescription }
func (t *EditTool) ConcurrencySafe() bool { return false }

func (t *EditTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"file_path": {
				"type": "string",
				"description": "The absolute path to the file to edit"
			},
			"old_string": {
				"type": "string",
				"description": "The exact text to replace"
			},
			"new_string": {
				"type": "string",
				"description": "The text to replace it with"
			},
			"replace_all": {
				"type": "boolean",
				"description": "Replace all occurrences (default: false)"
			}
		},
		"required": ["file_path", "old_string", "new_string"]
	}`)
}

// ExtractSignature returns the target path for rule matching.
func (t *EditTool) ExtractSignature(input json.RawMessage) []string {
	var params EditInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil
	}
	return []string{params.FilePath}
}

// AbstractRules widens the edit to the file's extension, e.g. edit(**/*.go).
func (t *EditTool) AbstractRules(input json.RawMessage) []string {
	var params EditInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil
	}
	if ext := filepath.Ext(params.FilePath); ext != "" {
		return []string{"edit(**/*" + ext + ")"}
	}
	return []string{"edit(" + params.FilePath + ")"}
}

func (t *EditTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params EditInput
	if err := json.Unmarshal(input, &params); err != nil {
		return Errorf(ErrValidation, "invalid input: %v", err), nil
	}

	if params.OldString == params.NewString {
		return Errorf(ErrNoop, "old_string and new_string are identical; nothing to do"), nil
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

	spans := findMatchSpans(before, params.OldString)
	if len(spans) == 0 {
		msg := fmt.Sprintf("old_string not found in %s", params.FilePath)
		if hint := closestLineHint(before, params.OldString); hint != "" {
			msg += "; closest line: " + hint
		}
		return Errorf(ErrNotFound, "%s", msg), nil
	}

	var after string
	replaced := 0
	if params.ReplaceAll {
		after = spliceSpans(before, spans, params.NewString)
		replaced = len(spans)
	} else {
		after = spliceSpans(before, spans[:1], params.NewString)
		replaced = 1
		if len(spans) > 1 {
			var coords []string
			for _, s := range spans {
				line, col := lineCol(before, s.start)
				coords = append(coords, fmt.Sprintf("%d:%d", line, col))
			}
			warnings = append(warnings, fmt.Sprintf(
				"old_string occurs %d times (at %s); only the first occurrence was replaced. Use replace_all or provide more context.",
				len(spans), strings.Join(coords, ", ")))
		}
	}

	meta, snapErr := ensureSnapshot(storeFor(t.snapshots, toolCtx), params.FilePath, messageID(toolCtx))
	if snapErr != nil {
		// Snapshot failure never aborts the edit; surface it as a warning.
		warnings = append(warnings, fmt.Sprintf("snapshot failed: %v", snapErr))
	}

	if err := os.WriteFile(params.FilePath, []byte(after), filePerm(params.FilePath)); err != nil {
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

	diffText, additions, deletions := computeDiff(before, after, relWorkPath(t.workDir, params.FilePath))

	output := fmt.Sprintf("Replaced %d occurrence(s)", replaced)
	for _, w := range warnings {
		output += "\nWarning: " + w
	}
	if diffText != "" {
		output += "\n\n" + diffText
	}

	result := &Result{
		Title:  fmt.Sprintf("Edited %s", filepath.Base(params.FilePath)),
		Output: output,
	}
	result.Meta("file", params.FilePath).
		Meta("replacements", replaced).
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

// matchSpan is a byte range [start, end) in the ORIGINAL file text.
type matchSpan struct {
	start, end int
}

// findMatchSpans applies the smart-match ladder: exact match first, then
// unicode quote normalization (curly single and double quotes treated as
// their ASCII forms). Normalization is a matching tolerance only: the
// returned spans always index the original text, so a replacement never
// touches bytes outside the matched region.
func findMatchSpans(text, old string) []matchSpan {
	if old == "" {
		return nil
	}

	if spans := exactSpans(text, old); len(spans) > 0 {
		return spans
	}

	// The model often sends curly quotes for a file that has ASCII ones.
	if normOld := normalizeQuotes(old); normOld != old {
		if spans := exactSpans(text, normOld); len(spans) > 0 {
			return spans
		}
	}

	// The file itself may carry curly quotes; compare rune-by-rune with
	// both sides normalized and record the span in the original bytes.
	return quoteInsensitiveSpans(text, old)
}

// exactSpans returns every non-overlapping occurrence of needle.
func exactSpans(text, needle string) []matchSpan {
	var out []matchSpan
	offset := 0
	for {
		idx := strings.Index(text[offset:], needle)
		if idx < 0 {
			break
		}
		start := offset + idx
		out = append(out, matchSpan{start: start, end: start + len(needle)})
		offset = start + len(needle)
	}
	return out
}

// quoteInsensitiveSpans scans text for needle comparing quote-normalized
// runes, returning spans over the original bytes.
func quoteInsensitiveSpans(text, needle string) []matchSpan {
	needleRunes := []rune(needle)
	var out []matchSpan

	for i := 0; i < len(text); {
		end, ok := quoteInsensitiveMatchAt(text, i, needleRunes)
		if ok {
			out = append(out, matchSpan{start: i, end: end})
			i = end
			continue
		}
		_, size := utf8.DecodeRuneInString(text[i:])
		i += size
	}
	return out
}

// quoteInsensitiveMatchAt reports whether needle matches at byte offset
// start, returning the end offset of the match in the original text.
func quoteInsensitiveMatchAt(text string, start int, needle []rune) (int, bool) {
	j := start
	for _, want := range needle {
		if j >= len(text) {
			return 0, false
		}
		r, size := utf8.DecodeRuneInString(text[j:])
		if normalizeRune(r) != normalizeRune(want) {
			return 0, false
		}
		j += size
	}
	return j, true
}

// spliceSpans replaces each span with replacement, leaving every byte
// outside the spans untouched. Spans must be sorted and non-overlapping.
func spliceSpans(text string, spans []matchSpan, replacement string) string {
	var sb strings.Builder
	last := 0
	for _, s := range spans {
		sb.WriteString(text[last:s.start])
		sb.WriteString(replacement)
		last = s.end
	}
	sb.WriteString(text[last:])
	return sb.String()
}

// lineCol converts a byte offset to a 1-based line and column.
func lineCol(text string, offset int) (int, int) {
	prefix := text[:offset]
	line := strings.Count(prefix, "\n") + 1
	col := offset - strings.LastIndex(prefix, "\n")
	return line, col
}

var quoteNormalizer = strings.NewReplacer(
	"‘", "'", // left single quotation mark
	"’", "'", // right single quotation mark
	"“", `"`, // left double quotation mark
	"”", `"`, // right double quotation mark
)

func normalizeQuotes(s string) string {
	return quoteNormalizer.Replace(s)
}

// normalizeRune maps the curly quote code points to their ASCII forms.
func normalizeRune(r rune) rune {
	switch r {
	case '‘', '’':
		return '\''
	case '“', '”':
		return '"'
	}
	return r
}

// closestLineHint finds the file line most similar to the first line of the
// needle, to help the model correct its old_string.
func closestLineHint(text, needle string) string {
	target := strings.SplitN(needle, "\n", 2)[0]
	if len(target) == 0 || len(target) > 200 {
		return ""
	}

	best := ""
	bestDist := -1
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || len(trimmed) > 400 {
			continue
		}
		dist := levenshtein.ComputeDistance(trimmed, strings.TrimSpace(target))
		if bestDist < 0 || dist < bestDist {
			bestDist = dist
			best = trimmed
		}
	}

	// Only offer a hint when it is plausibly the intended line.
	if bestDist >= 0 && bestDist <= len(target)/2 {
		return best
	}
	return ""
}

// readBeforeWriteWarnings implements the read-before-write discipline.
func readBeforeWriteWarnings(tracker *fileaccess.Tracker, toolCtx *Context, path string) []string {
	if tracker == nil || toolCtx == nil {
		return nil
	}
	var warnings []string
	if !tracker.HasBeenRead(toolCtx.SessionID, path) {
		warnings = append(warnings, "file was not read in this session before editing")
	} else if mc := tracker.CheckModification(toolCtx.SessionID, path); mc.Modified {
		warnings = append(warnings, mc.Message)
	}
	return warnings
}

// storeFor prefers the per-session snapshot store carried on the execution
// context over the tool's construction-time default.
func storeFor(fallback *snapshot.Store, toolCtx *Context) *snapshot.Store {
	if toolCtx != nil && toolCtx.Snapshots != nil {
		return toolCtx.Snapshots
	}
	return fallback
}

// ensureSnapshot creates at most one snapshot per (path, messageID).
func ensureSnapshot(store *snapshot.Store, path, msgID string) (*snapshot.Meta, error) {
	if store == nil {
		return nil, nil
	}
	if msgID != "" {
		existing, err := store.List(path)
		if err == nil {
			for i := range existing {
				if existing[i].MessageID == msgID {
					return &existing[i], nil
				}
			}
		}
	}
	meta, err := store.Create(path, msgID)
	if err != nil {
		return nil, err
	}
	store.Cleanup(0)
	return meta, nil
}

func messageID(toolCtx *Context) string {
	if toolCtx == nil {
		return ""
	}
	return toolCtx.MessageID
}

// filePerm preserves the existing file mode, defaulting to 0644.
func filePerm(path string) os.FileMode {
	if info, err := os.Stat(path); err == nil {
		return info.Mode().Perm()
	}
	return 0644
}

func relWorkPath(workDir, path string) string {
	if workDir == "" {
		return path
	}
	if rel, err := filepath.Rel(workDir, path); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return path
}
