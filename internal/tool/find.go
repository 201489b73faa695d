package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/bladecode/blade/pkg/types"
)

const findDescription = `Finds files and directories by name, type, size, age, or glob.

Usage:
- name matches the base name (glob syntax, e.g. "*.test.js")
- type is "file" or "dir"
- min_size/max_size are in bytes; modified_within is a duration like "24h"
- max_depth bounds recursion; results are capped`

const (
	findDefaultMax   = 100
	findHardMax      = 1000
	findDefaultDepth = 32
)

// FindTool implements filtered filesystem traversal.
type FindTool struct {
	workDir string
}

// FindInput represents the input for the find tool.
type FindInput struct {
	Path           string `json:"path,omitempty"`
	Name           string `json:"name,omitempty"`
	Type           string `json:"type,omitempty"` // "file" | "dir"
	Extension      string `json:"extension,omitempty"`
	Glob           string `json:"glob,omitempty"`
	MinSize        int64  `json:"min_size,omitempty"`
	MaxSize        int64  `json:"max_size,omitempty"`
	ModifiedWithin string `json:"modified_within,omitempty"`
	MaxDepth       int    `json:"max_depth,omitempty"`
	MaxResults     int    `json:"max_results,omitempty"`
}

type findEntry struct {
	path    string
	depth   int
	isDir   bool
	size    int64
	modTime time.Time
}

// NewFindTool creates a new find tool.
func NewFindTool(workDir string) *FindTool {
	return &FindTool{workDir: workDir}
}

func (t *FindTool) ID() string            { return "find" }
func (t *FindTool) DisplayName() string   { return "Find" }
func (t *FindTool) Kind() types.ToolKind  { return types.KindSearch }
func (t *FindTool) Description() string   { return findDescription }
func (t *FindTool) ConcurrencySafe() bool { return true }

func (t *FindTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Directory to search (default: workspace root)"},
			"name": {"type": "string", "description": "Base-name glob, e.g. \"*.go\""},
			"type": {"type": "string", "enum": ["file", "dir"], "description": "Restrict to files or directories"},
			"extension": {"type": "string", "description": "File extension without the dot"},
			"glob": {"type": "string", "description": "Full-path glob, e.g. \"src/**/*.ts\""},
			"min_size": {"type": "integer", "description": "Minimum size in bytes"},
			"max_size": {"type": "integer", "description": "Maximum size in bytes"},
			"modified_within": {"type": "string", "description": "Only entries modified within this duration (e.g. \"24h\")"},
			"max_depth": {"type": "integer", "description": "Maximum directory depth"},
			"max_results": {"type": "integer", "description": "Result cap (default 100, max 1000)"}
		}
	}`)
}

func (t *FindTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params FindInput
	if err := json.Unmarshal(input, &params); err != nil {
		return Errorf(ErrValidation, "invalid input: %v", err), nil
	}

	max := params.MaxResults
	if max <= 0 {
		max = findDefaultMax
	}
	if max > findHardMax {
		max = findHardMax
	}
	maxDepth := params.MaxDepth
	if maxDepth <= 0 {
		maxDepth = findDefaultDepth
	}

	var modifiedAfter time.Time
	if params.ModifiedWithin != "" {
		d, err := time.ParseDuration(params.ModifiedWithin)
		if err != nil {
			return Errorf(ErrValidation, "invalid modified_within: %v", err), nil
		}
		modifiedAfter = time.Now().Add(-d)
	}

	root := t.workDir
	if toolCtx != nil && toolCtx.WorkspaceRoot != "" {
		root = toolCtx.WorkspaceRoot
	}
	if params.Path != "" {
		if filepath.IsAbs(params.Path) {
			root = params.Path
		} else {
			root = filepath.Join(root, params.Path)
		}
	}

	var entries []findEntry
	truncated := false

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		depth := strings.Count(rel, "/") + 1

		if d.IsDir() {
			if builtinIgnores[d.Name()] {
				return filepath.SkipDir
			}
			if depth > maxDepth {
				return filepath.SkipDir
			}
		}

		if !matchFindFilters(params, rel, d, modifiedAfter) {
			return nil
		}

		if len(entries) >= max {
			truncated = true
			return filepath.SkipAll
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if params.MinSize > 0 && info.Size() < params.MinSize {
			return nil
		}
		if params.MaxSize > 0 && info.Size() > params.MaxSize {
			return nil
		}
		if !modifiedAfter.IsZero() && info.ModTime().Before(modifiedAfter) {
			return nil
		}

		entries = append(entries, findEntry{
			path:    rel,
			depth:   depth,
			isDir:   d.IsDir(),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
		return nil
	})
	if err != nil && ctx.Err() != nil {
		return Errorf(ErrAborted, "find aborted"), nil
	}

	// Order: shallow first, directories before files, then newest, then name.
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.depth != b.depth {
			return a.depth < b.depth
		}
		if a.isDir != b.isDir {
			return a.isDir
		}
		if !a.modTime.Equal(b.modTime) {
			return a.modTime.After(b.modTime)
		}
		return a.path < b.path
	})

	if len(entries) == 0 {
		result := &Result{Title: "Find", Output: "No entries matched"}
		return result.Meta("count", 0).Meta("truncated", false), nil
	}

	var sb strings.Builder
	for _, e := range entries {
		if e.isDir {
			sb.WriteString(e.path + "/\n")
		} else {
			sb.WriteString(fmt.Sprintf("%s (%d bytes)\n", e.path, e.size))
		}
	}
	if truncated {
		sb.WriteString(fmt.Sprintf("\n(Results capped at %d)", max))
	}

	result := &Result{
		Title:  fmt.Sprintf("Found %d entries", len(entries)),
		Output: sb.String(),
	}
	return result.Meta("count", len(entries)).Meta("truncated", truncated), nil
}

func matchFindFilters(params FindInput, rel string, d fs.DirEntry, modifiedAfter time.Time) bool {
	if params.Type == "file" && d.IsDir() {
		return false
	}
	if params.Type == "dir" && !d.IsDir() {
		return false
	}
	if params.Extension != "" {
		if d.IsDir() || !strings.HasSuffix(d.Name(), "."+strings.TrimPrefix(params.Extension, ".")) {
			return false
		}
	}
	if params.Name != "" {
		if ok, _ := filepath.Match(params.Name, d.Name()); !ok {
			return false
		}
	}
	if params.Glob != "" {
		if ok, _ := doublestar.Match(params.Glob, rel); !ok {
			return false
		}
	}
	return true
}
