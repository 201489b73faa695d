package tool

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bladecode/blade/internal/fileaccess"
	"github.com/bladecode/blade/pkg/types"
)

const readDescription = `Reads a file from the local filesystem.

Usage:
- The file_path parameter must be an absolute path
- By default, reads up to 2000 lines from the beginning
- You can optionally specify offset and limit for pagination
- Returns file contents with line numbers`

const (
	readDefaultLimit = 2000
	readMaxLineLen   = 2000
)

// ReadTool implements file reading.
type ReadTool struct {
	workDir string
	tracker *fileaccess.Tracker
}

// ReadInput represents the input for the read tool.
type ReadInput struct {
	FilePath string `json:"file_path"`
	Offset   int    `json:"offset,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// NewReadTool creates a new read tool.
func NewReadTool(workDir string, tracker *fileaccess.Tracker) *ReadTool {
	return &ReadTool{workDir: workDir, tracker: tracker}
}

func (t *ReadTool) ID() string           { return "read" }
func (t *ReadTool) DisplayName() string  { return "Read" }
func (t *ReadTool) Kind() types.ToolKind { return types.KindRead }
func (t *ReadTool) Description() string  { return readDescription }
func (t *ReadTool) ConcurrencySafe() bool { return true }

func (t *ReadTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"file_path": {
				"type": "string",
				"description": "The absolute path to the file to read"
			},
			"offset": {
				"type": "integer",
				"description": "Line number to start reading from"
			},
			"limit": {
				"type": "integer",
				"description": "Number of lines to read (default: 2000)"
			}
		},
		"required": ["file_path"]
	}`)
}

// ExtractSignature returns the file path for rule matching.
func (t *ReadTool) ExtractSignature(input json.RawMessage) []string {
	var params ReadInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil
	}
	return []string{params.FilePath}
}

func (t *ReadTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params ReadInput
	if err := json.Unmarshal(input, &params); err != nil {
		return Errorf(ErrValidation, "invalid input: %v", err), nil
	}

	if params.Limit <= 0 {
		params.Limit = readDefaultLimit
	}

	if shouldBlockEnvFile(params.FilePath) {
		return Errorf(ErrPermissionDenied, "reading %s is blocked; do not attempt to read it again", params.FilePath), nil
	}

	info, err := os.Stat(params.FilePath)
	if err != nil {
		return Errorf(ErrNotFound, "file not found: %s", params.FilePath), nil
	}
	if info.IsDir() {
		return Errorf(ErrValidation, "path is a directory, not a file: %s", params.FilePath), nil
	}

	if isBinaryFile(params.FilePath) {
		return Errorf(ErrValidation, "file appears to be binary: %s", params.FilePath), nil
	}

	file, err := os.Open(params.FilePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		if params.Offset > 0 && lineNum < params.Offset {
			continue
		}
		if len(lines) >= params.Limit {
			break
		}

		line := scanner.Text()
		if len(line) > readMaxLineLen {
			line = line[:readMaxLineLen] + "..."
		}
		lines = append(lines, fmt.Sprintf("%05d| %s", lineNum, line))
	}
	if err := scanner.Err(); err != nil {
		return Errorf(ErrExecution, "read failed: %v", err), nil
	}

	if t.tracker != nil && toolCtx != nil {
		t.tracker.RecordRead(toolCtx.SessionID, params.FilePath)
	}

	var sb strings.Builder
	sb.WriteString("<file>\n")
	sb.WriteString(strings.Join(lines, "\n"))

	lastReadLine := len(lines)
	if params.Offset > 1 {
		lastReadLine = params.Offset - 1 + len(lines)
	}
	if lineNum > lastReadLine {
		sb.WriteString(fmt.Sprintf("\n\n(File has more lines. Use 'offset' parameter to read beyond line %d)", lastReadLine))
	} else {
		sb.WriteString(fmt.Sprintf("\n\n(End of file - total %d lines)", lineNum))
	}
	sb.WriteString("\n</file>")

	result := &Result{
		Title:  fmt.Sprintf("Read %s", filepath.Base(params.FilePath)),
		Output: sb.String(),
	}
	return result.Meta("file", params.FilePath).Meta("lines", len(lines)).Meta("totalLines", lineNum), nil
}

func isBinaryFile(path string) bool {
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	defer file.Close()

	buf := make([]byte, 8000)
	n, _ := file.Read(buf)
	if n == 0 {
		return false
	}

	for i := 0; i < n; i++ {
		if buf[i] == 0 {
			return true
		}
	}

	nonPrintable := 0
	for i := 0; i < n; i++ {
		if buf[i] < 32 && buf[i] != '\n' && buf[i] != '\r' && buf[i] != '\t' {
			nonPrintable++
		}
	}
	return float64(nonPrintable)/float64(n) > 0.3
}

// shouldBlockEnvFile checks if a file should be blocked based on .env
// patterns. Sample and example suffixes stay readable.
func shouldBlockEnvFile(filePath string) bool {
	whitelist := []string{".env.sample", ".env.example", ".example"}
	for _, w := range whitelist {
		if strings.HasSuffix(filePath, w) {
			return false
		}
	}
	return strings.Contains(filepath.Base(filePath), ".env")
}
