package tool

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func grepFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a\n\nfunc Alpha() {}\n"), 0644)
	os.WriteFile(filepath.Join(dir, "b.go"), []byte("package b\n\nfunc Beta() {}\nfunc Alpha2() {}\n"), 0644)
	os.MkdirAll(filepath.Join(dir, "sub"), 0755)
	os.WriteFile(filepath.Join(dir, "sub", "c.txt"), []byte("alpha lowercase\n"), 0644)
	return dir
}

func runGrep(t *testing.T, dir string, input string) *Result {
	t.Helper()
	tool := NewGrepTool(dir)
	result, err := tool.Execute(context.Background(), json.RawMessage(input), nil)
	if err != nil {
		t.Fatal(err)
	}
	return result
}

func TestGrepContent(t *testing.T) {
	dir := grepFixture(t)
	result := runGrep(t, dir, `{"pattern": "func Alpha"}`)
	if !result.Success() {
		t.Fatalf("grep failed: %v", result.Err)
	}
	if !strings.Contains(result.Output, "a.go:3") {
		t.Errorf("missing a.go match: %s", result.Output)
	}
	if !strings.Contains(result.Output, "b.go:4") {
		t.Errorf("missing b.go match: %s", result.Output)
	}
	if result.Metadata["strategy"] == "" {
		t.Error("strategy metadata missing")
	}
}

func TestGrepFilesWithMatches(t *testing.T) {
	dir := grepFixture(t)
	result := runGrep(t, dir, `{"pattern": "func", "output_mode": "files_with_matches"}`)
	if !result.Success() {
		t.Fatalf("grep failed: %v", result.Err)
	}
	lines := strings.Split(strings.TrimSpace(result.Output), "\n")
	if len(lines) != 2 {
		t.Errorf("files = %v, want 2", lines)
	}
}

func TestGrepCount(t *testing.T) {
	dir := grepFixture(t)
	result := runGrep(t, dir, `{"pattern": "func", "output_mode": "count"}`)
	if !strings.Contains(result.Output, "b.go:2") {
		t.Errorf("count output = %s", result.Output)
	}
}

func TestGrepGlobFilter(t *testing.T) {
	dir := grepFixture(t)
	result := runGrep(t, dir, `{"pattern": "alpha", "glob": "*.txt"}`)
	if strings.Contains(result.Output, ".go") {
		t.Errorf("glob filter leaked go files: %s", result.Output)
	}
	if !strings.Contains(result.Output, "c.txt") {
		t.Errorf("missing txt match: %s", result.Output)
	}
}

func TestGrepPagination(t *testing.T) {
	dir := t.TempDir()
	var sb strings.Builder
	for i := 0; i < 10; i++ {
		sb.WriteString("match line\n")
	}
	os.WriteFile(filepath.Join(dir, "many.txt"), []byte(sb.String()), 0644)

	// Indices [offset, offset+head_limit) of the full result list.
	result := runGrep(t, dir, `{"pattern": "match", "head_limit": 3, "offset": 2}`)
	lines := strings.Split(strings.TrimSpace(result.Output), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3: %v", len(lines), lines)
	}
	if !strings.Contains(lines[0], "many.txt:3") {
		t.Errorf("first paginated line = %q, want line 3", lines[0])
	}
}

func TestGrepContext(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "ctx.txt"), []byte("one\ntwo\nTARGET\nfour\nfive\n"), 0644)

	result := runGrep(t, dir, `{"pattern": "TARGET", "context": 1}`)
	if !strings.Contains(result.Output, "ctx.txt:2- two") {
		t.Errorf("missing before-context: %s", result.Output)
	}
	if !strings.Contains(result.Output, "ctx.txt:3: TARGET") {
		t.Errorf("missing match line: %s", result.Output)
	}
	if !strings.Contains(result.Output, "ctx.txt:4- four") {
		t.Errorf("missing after-context: %s", result.Output)
	}
}

func TestGrepInvalidRegex(t *testing.T) {
	result := runGrep(t, t.TempDir(), `{"pattern": "([unclosed"}`)
	if result.Success() || result.Err.Kind != ErrValidation {
		t.Fatalf("invalid regex result = %+v", result.Err)
	}
}

func TestWalkerStrategyDirectly(t *testing.T) {
	dir := grepFixture(t)
	matches, err := walkerStrategy{}.run(context.Background(), GrepInput{Pattern: "func Beta"}, dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].File != "b.go" || matches[0].Line != 3 {
		t.Errorf("matches = %+v", matches)
	}
}
