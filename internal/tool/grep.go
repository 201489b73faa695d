package tool

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/bladecode/blade/pkg/types"
)

const grepDescription = `A powerful content search tool.

Usage:
- Supports full regex syntax (e.g., "log.*Error", "function\\s+\\w+")
- Filter files with the glob parameter (e.g., "*.js", "**/*.tsx") or type
- output_mode: "content" (default), "files_with_matches", or "count"
- Use -A/-B/-C style context via after/before/context
- head_limit and offset paginate the results`

const grepMatchBudget = 10000

// GrepTool implements content search with a ladder of degrading strategies:
// ripgrep, then git grep inside a repository, then system grep, then a pure
// in-engine walker.
type GrepTool struct {
	workDir    string
	strategies []grepStrategy
}

// GrepInput represents the input for the grep tool.
type GrepInput struct {
	Pattern    string `json:"pattern"`
	Path       string `json:"path,omitempty"`
	Glob       string `json:"glob,omitempty"`
	Type       string `json:"type,omitempty"`
	OutputMode string `json:"output_mode,omitempty"`
	After      int    `json:"after,omitempty"`   // -A
	Before     int    `json:"before,omitempty"`  // -B
	Context    int    `json:"context,omitempty"` // -C, overrides after/before
	HeadLimit  int    `json:"head_limit,omitempty"`
	Offset     int    `json:"offset,omitempty"`
}

type grepMatch struct {
	File string
	Line int
	Text string
}

// grepStrategy is one capability probe in the ladder.
type grepStrategy interface {
	name() string
	available(dir string) bool
	run(ctx context.Context, params GrepInput, dir string) ([]grepMatch, error)
}

// NewGrepTool creates a new grep tool.
func NewGrepTool(workDir string) *GrepTool {
	return &GrepTool{
		workDir: workDir,
		strategies: []grepStrategy{
			ripgrepStrategy{},
			gitGrepStrategy{},
			systemGrepStrategy{},
			walkerStrategy{},
		},
	}
}

func (t *GrepTool) ID() string            { return "grep" }
func (t *GrepTool) DisplayName() string   { return "Grep" }
func (t *GrepTool) Kind() types.ToolKind  { return types.KindSearch }
func (t *GrepTool) Description() string   { return grepDescription }
func (t *GrepTool) ConcurrencySafe() bool { return true }

func (t *GrepTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"pattern": {"type": "string", "description": "The regex pattern to search for in file contents"},
			"path": {"type": "string", "description": "The directory to search in (default: workspace root)"},
			"glob": {"type": "string", "description": "File pattern to include (e.g. \"*.js\")"},
			"type": {"type": "string", "description": "File type to search (e.g. \"go\", \"js\", \"py\")"},
			"output_mode": {"type": "string", "enum": ["content", "files_with_matches", "count"], "description": "Output shape (default: content)"},
			"after": {"type": "integer", "description": "Lines of context after each match"},
			"before": {"type": "integer", "description": "Lines of context before each match"},
			"context": {"type": "integer", "description": "Lines of context around each match (overrides after/before)"},
			"head_limit": {"type": "integer", "description": "Maximum results to return"},
			"offset": {"type": "integer", "description": "Results to skip before head_limit applies"}
		},
		"required": ["pattern"]
	}`)
}

// ExtractSignature returns the lowercased query for rule matching.
func (t *GrepTool) ExtractSignature(input json.RawMessage) []string {
	var params GrepInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil
	}
	return []string{"search:" + strings.ToLower(params.Pattern)}
}

func (t *GrepTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params GrepInput
	if err := json.Unmarshal(input, &params); err != nil {
		return Errorf(ErrValidation, "invalid input: %v", err), nil
	}

	if _, err := regexp.Compile(params.Pattern); err != nil {
		return Errorf(ErrValidation, "invalid regex: %v", err), nil
	}
	if params.Context > 0 {
		params.After = params.Context
		params.Before = params.Context
	}
	if params.OutputMode == "" {
		params.OutputMode = "content"
	}
	if params.Glob == "" && params.Type != "" {
		params.Glob = typeGlob(params.Type)
	}

	dir := t.workDir
	if toolCtx != nil && toolCtx.WorkspaceRoot != "" {
		dir = toolCtx.WorkspaceRoot
	}
	if params.Path != "" {
		if filepath.IsAbs(params.Path) {
			dir = params.Path
		} else {
			dir = filepath.Join(dir, params.Path)
		}
	}

	var matches []grepMatch
	strategyName := ""
	var lastErr error

	for _, s := range t.strategies {
		if !s.available(dir) {
			continue
		}
		m, err := s.run(ctx, params, dir)
		if err != nil {
			if ctx.Err() != nil {
				return Errorf(ErrAborted, "search aborted"), nil
			}
			lastErr = err
			continue
		}
		matches = m
		strategyName = s.name()
		break
	}
	if strategyName == "" {
		return Errorf(ErrExecution, "no search strategy succeeded: %v", lastErr), nil
	}

	// The same protection Read applies: .env-like files stay out of results.
	filtered := matches[:0]
	for _, m := range matches {
		if !shouldBlockEnvFile(m.File) {
			filtered = append(filtered, m)
		}
	}
	matches = filtered

	output, total := t.render(params, matches, dir)

	result := &Result{
		Title:  fmt.Sprintf("Found %d matches", len(matches)),
		Output: output,
	}
	return result.
		Meta("pattern", params.Pattern).
		Meta("strategy", strategyName).
		Meta("matches", len(matches)).
		Meta("results", total), nil
}

// render shapes matches per output mode and applies offset/head_limit to the
// final unit list so [offset, offset+limit) indices hold.
func (t *GrepTool) render(params GrepInput, matches []grepMatch, dir string) (string, int) {
	var units []string

	switch params.OutputMode {
	case "files_with_matches":
		seen := make(map[string]bool)
		for _, m := range matches {
			if !seen[m.File] {
				seen[m.File] = true
				units = append(units, m.File)
			}
		}

	case "count":
		counts := make(map[string]int)
		var order []string
		for _, m := range matches {
			if counts[m.File] == 0 {
				order = append(order, m.File)
			}
			counts[m.File]++
		}
		for _, f := range order {
			units = append(units, fmt.Sprintf("%s:%d", f, counts[f]))
		}

	default: // content
		units = renderContent(matches, params.Before, params.After, dir)
	}

	total := len(units)
	units = paginate(units, params.Offset, params.HeadLimit)

	if len(units) == 0 {
		return "No matches found", total
	}
	return strings.Join(units, "\n"), total
}

func paginate(units []string, offset, limit int) []string {
	if offset > 0 {
		if offset >= len(units) {
			return nil
		}
		units = units[offset:]
	}
	if limit > 0 && len(units) > limit {
		units = units[:limit]
	}
	return units
}

// renderContent emits one unit per match, including requested context lines
// read back from the file so every strategy yields identical output.
func renderContent(matches []grepMatch, before, after int, dir string) []string {
	var units []string

	fileLines := make(map[string][]string)
	readLines := func(file string) []string {
		if lines, ok := fileLines[file]; ok {
			return lines
		}
		path := file
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, file)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			fileLines[file] = nil
			return nil
		}
		lines := strings.Split(string(data), "\n")
		fileLines[file] = lines
		return lines
	}

	for _, m := range matches {
		if before == 0 && after == 0 {
			units = append(units, fmt.Sprintf("%s:%d: %s", m.File, m.Line, m.Text))
			continue
		}

		lines := readLines(m.File)
		var sb strings.Builder
		start := m.Line - before
		if start < 1 {
			start = 1
		}
		end := m.Line + after
		if end > len(lines) {
			end = len(lines)
		}
		for i := start; i <= end; i++ {
			sep := "-"
			if i == m.Line {
				sep = ":"
			}
			text := m.Text
			if i != m.Line && i-1 < len(lines) {
				text = lines[i-1]
			}
			sb.WriteString(fmt.Sprintf("%s:%d%s %s\n", m.File, i, sep, text))
		}
		units = append(units, strings.TrimRight(sb.String(), "\n"))
	}
	return units
}

// typeGlob maps a file type name to an include glob.
func typeGlob(fileType string) string {
	switch fileType {
	case "go":
		return "*.go"
	case "js":
		return "*.{js,jsx,mjs,cjs}"
	case "ts":
		return "*.{ts,tsx}"
	case "py":
		return "*.py"
	case "rust":
		return "*.rs"
	case "java":
		return "*.java"
	case "c":
		return "*.{c,h}"
	case "cpp":
		return "*.{cpp,cc,cxx,hpp,hh}"
	case "rb":
		return "*.rb"
	case "sh":
		return "*.{sh,bash}"
	case "md":
		return "*.md"
	case "json":
		return "*.json"
	case "yaml":
		return "*.{yaml,yml}"
	default:
		return "*." + fileType
	}
}

// parseGrepLines parses "file:line:text" output shared by rg, git grep, and
// system grep.
func parseGrepLines(output []byte) []grepMatch {
	var matches []grepMatch
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 3)
		if len(parts) < 3 {
			continue
		}
		lineNum, err := strconv.Atoi(parts[1])
		if err != nil {
			continue
		}
		matches = append(matches, grepMatch{File: parts[0], Line: lineNum, Text: parts[2]})
		if len(matches) >= grepMatchBudget {
			break
		}
	}
	return matches
}

// ripgrepStrategy shells out to rg.
type ripgrepStrategy struct{}

func (ripgrepStrategy) name() string { return "ripgrep" }

func (ripgrepStrategy) available(string) bool {
	_, err := exec.LookPath("rg")
	return err == nil
}

func (ripgrepStrategy) run(ctx context.Context, params GrepInput, dir string) ([]grepMatch, error) {
	args := []string{"--line-number", "--with-filename", "--color=never", "--no-heading"}
	if params.Glob != "" {
		args = append(args, "--glob", params.Glob)
	}
	args = append(args, "-e", params.Pattern, ".")

	cmd := exec.CommandContext(ctx, "rg", args...)
	cmd.Dir = dir
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return nil, nil // exit 1 means no matches
		}
		return nil, err
	}

	matches := parseGrepLines(output)
	for i := range matches {
		matches[i].File = strings.TrimPrefix(matches[i].File, "./")
	}
	return matches, nil
}

// gitGrepStrategy uses git grep inside a repository.
type gitGrepStrategy struct{}

func (gitGrepStrategy) name() string { return "git-grep" }

func (gitGrepStrategy) available(dir string) bool {
	if _, err := exec.LookPath("git"); err != nil {
		return false
	}
	_, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil
}

func (gitGrepStrategy) run(ctx context.Context, params GrepInput, dir string) ([]grepMatch, error) {
	args := []string{"grep", "-n", "-I", "-E", params.Pattern}
	if params.Glob != "" {
		args = append(args, "--", params.Glob)
	}

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return nil, nil
		}
		return nil, err
	}
	return parseGrepLines(output), nil
}

// systemGrepStrategy uses POSIX grep -r.
type systemGrepStrategy struct{}

func (systemGrepStrategy) name() string { return "system-grep" }

func (systemGrepStrategy) available(string) bool {
	_, err := exec.LookPath("grep")
	return err == nil
}

func (systemGrepStrategy) run(ctx context.Context, params GrepInput, dir string) ([]grepMatch, error) {
	args := []string{"-rnIE", params.Pattern}
	if params.Glob != "" {
		args = append(args, "--include="+params.Glob)
	}
	args = append(args, ".")

	cmd := exec.CommandContext(ctx, "grep", args...)
	cmd.Dir = dir
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return nil, nil
		}
		return nil, err
	}

	matches := parseGrepLines(output)
	for i := range matches {
		matches[i].File = strings.TrimPrefix(matches[i].File, "./")
	}
	return matches, nil
}

// walkerStrategy is the pure in-engine fallback.
type walkerStrategy struct{}

func (walkerStrategy) name() string { return "walker" }

func (walkerStrategy) available(string) bool { return true }

func (walkerStrategy) run(ctx context.Context, params GrepInput, dir string) ([]grepMatch, error) {
	re, err := regexp.Compile(params.Pattern)
	if err != nil {
		return nil, err
	}

	var matches []grepMatch
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if d.IsDir() {
			if builtinIgnores[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if params.Glob != "" {
			ok, _ := doublestar.Match(params.Glob, rel)
			if !ok {
				// Bare globs like *.go also match in subdirectories.
				if ok2, _ := doublestar.Match("**/"+params.Glob, rel); !ok2 {
					return nil
				}
			}
		}

		if isBinaryFile(path) {
			return nil
		}

		file, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer file.Close()

		scanner := bufio.NewScanner(file)
		scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
		lineNum := 0
		for scanner.Scan() {
			lineNum++
			line := scanner.Text()
			if re.MatchString(line) {
				matches = append(matches, grepMatch{File: rel, Line: lineNum, Text: line})
				if len(matches) >= grepMatchBudget {
					return filepath.SkipAll
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].File != matches[j].File {
			return matches[i].File < matches[j].File
		}
		return matches[i].Line < matches[j].Line
	})
	return matches, nil
}
