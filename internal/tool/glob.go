package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/bladecode/blade/pkg/types"
)

const globDescription = `Fast file pattern matching tool that works with any codebase size.

Usage:
- Supports glob patterns like "**/*.js" or "src/**/*.ts"
- Returns matching file paths sorted by modification time
- Respects .gitignore and skips common build outputs`

const (
	globDefaultMax = 100
	globHardMax    = 1000
)

// builtinIgnores are directory names never worth descending into.
var builtinIgnores = map[string]bool{
	".git":         true,
	"node_modules": true,
	"dist":         true,
	"build":        true,
	"target":       true,
	"vendor":       true,
	"__pycache__":  true,
	".venv":        true,
	".idea":        true,
	".vscode":      true,
}

// GlobTool implements file pattern matching.
type GlobTool struct {
	workDir string
}

// GlobInput represents the input for the glob tool.
type GlobInput struct {
	Pattern    string `json:"pattern"`
	Path       string `json:"path,omitempty"`
	MaxResults int    `json:"max_results,omitempty"`
}

// GlobEntry is one match with its stat data.
type GlobEntry struct {
	Path    string `json:"path"` // relative to the search root
	Size    int64  `json:"size"`
	ModTime int64  `json:"modTime"`
	IsDir   bool   `json:"isDir"`
}

// NewGlobTool creates a new glob tool.
func NewGlobTool(workDir string) *GlobTool {
	return &GlobTool{workDir: workDir}
}

func (t *GlobTool) ID() string            { return "glob" }
func (t *GlobTool) DisplayName() string   { return "Glob" }
func (t *GlobTool) Kind() types.ToolKind  { return types.KindSearch }
func (t *GlobTool) Description() string   { return globDescription }
func (t *GlobTool) ConcurrencySafe() bool { return true }

func (t *GlobTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"pattern": {
				"type": "string",
				"description": "The glob pattern to match files against"
			},
			"path": {
				"type": "string",
				"description": "Directory to search in (default: workspace root)"
			},
			"max_results": {
				"type": "integer",
				"description": "Result cap (default 100, max 1000)"
			}
		},
		"required": ["pattern"]
	}`)
}

// ExtractSignature returns the pattern for rule matching.
func (t *GlobTool) ExtractSignature(input json.RawMessage) []string {
	var params GlobInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil
	}
	return []string{params.Pattern}
}

func (t *GlobTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params GlobInput
	if err := json.Unmarshal(input, &params); err != nil {
		return Errorf(ErrValidation, "invalid input: %v", err), nil
	}

	if !doublestar.ValidatePattern(params.Pattern) {
		return Errorf(ErrValidation, "invalid glob pattern: %s", params.Pattern), nil
	}

	max := params.MaxResults
	if max <= 0 {
		max = globDefaultMax
	}
	if max > globHardMax {
		max = globHardMax
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

	ignores := loadGitignore(root)

	var entries []GlobEntry
	truncated := false

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
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

		if d.IsDir() {
			if builtinIgnores[d.Name()] || ignores.matches(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}

		if ignores.matches(rel, false) {
			return nil
		}

		ok, _ := doublestar.Match(params.Pattern, rel)
		if !ok {
			return nil
		}

		// One extra match past the cap proves truncation.
		if len(entries) >= max {
			truncated = true
			return filepath.SkipAll
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		entries = append(entries, GlobEntry{
			Path:    rel,
			Size:    info.Size(),
			ModTime: info.ModTime().UnixMilli(),
		})
		return nil
	})
	if err != nil && ctx.Err() != nil {
		return Errorf(ErrAborted, "glob aborted"), nil
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].ModTime > entries[j].ModTime })

	if len(entries) == 0 {
		result := &Result{
			Title:  "Glob search",
			Output: "No files matched the pattern",
		}
		return result.Meta("pattern", params.Pattern).Meta("count", 0).Meta("truncated", false), nil
	}

	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString(e.Path)
		sb.WriteString("\n")
	}
	if truncated {
		sb.WriteString(fmt.Sprintf("\n(Results capped at %d; narrow the pattern to see more)", max))
	}

	result := &Result{
		Title:  fmt.Sprintf("Found %d files", len(entries)),
		Output: sb.String(),
	}
	return result.
		Meta("pattern", params.Pattern).
		Meta("count", len(entries)).
		Meta("truncated", truncated).
		Meta("entries", entries), nil
}

// gitignoreSet is a minimal .gitignore matcher: pattern lines are matched
// with doublestar against the relative path. Negations are not honored.
type gitignoreSet struct {
	patterns []string
	dirOnly  []bool
}

func loadGitignore(root string) *gitignoreSet {
	set := &gitignoreSet{}
	data, err := os.ReadFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		return set
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		dirOnly := strings.HasSuffix(line, "/")
		line = strings.TrimSuffix(line, "/")
		line = strings.TrimPrefix(line, "/")
		if !strings.Contains(line, "/") {
			line = "**/" + line
		}
		set.patterns = append(set.patterns, line)
		set.dirOnly = append(set.dirOnly, dirOnly)
	}
	return set
}

func (g *gitignoreSet) matches(rel string, isDir bool) bool {
	for i, p := range g.patterns {
		if g.dirOnly[i] && !isDir {
			continue
		}
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}
