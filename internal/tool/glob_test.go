package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func globFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main"), 0644)
	os.WriteFile(filepath.Join(dir, "main_test.go"), []byte("package main"), 0644)
	os.WriteFile(filepath.Join(dir, "README.md"), []byte("# hi"), 0644)
	os.MkdirAll(filepath.Join(dir, "src"), 0755)
	os.WriteFile(filepath.Join(dir, "src", "util.go"), []byte("package src"), 0644)
	os.MkdirAll(filepath.Join(dir, "node_modules", "pkg"), 0755)
	os.WriteFile(filepath.Join(dir, "node_modules", "pkg", "index.go"), []byte("x"), 0644)
	return dir
}

func runGlob(t *testing.T, dir, input string) *Result {
	t.Helper()
	tool := NewGlobTool(dir)
	result, err := tool.Execute(context.Background(), json.RawMessage(input), nil)
	if err != nil {
		t.Fatal(err)
	}
	return result
}

func TestGlobPattern(t *testing.T) {
	dir := globFixture(t)
	result := runGlob(t, dir, `{"pattern": "**/*.go"}`)
	if !result.Success() {
		t.Fatalf("glob failed: %v", result.Err)
	}
	if result.Metadata["count"] != 3 {
		t.Errorf("count = %v, want 3 (node_modules excluded): %s", result.Metadata["count"], result.Output)
	}
	if strings.Contains(result.Output, "node_modules") {
		t.Error("built-in ignore set leaked node_modules")
	}
}

func TestGlobRespectsGitignore(t *testing.T) {
	dir := globFixture(t)
	os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("src/\n"), 0644)

	result := runGlob(t, dir, `{"pattern": "**/*.go"}`)
	if strings.Contains(result.Output, "src/util.go") {
		t.Errorf("gitignored dir leaked: %s", result.Output)
	}
}

func TestGlobTruncation(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 12; i++ {
		os.WriteFile(filepath.Join(dir, fmt.Sprintf("f%02d.txt", i)), []byte("x"), 0644)
	}

	result := runGlob(t, dir, `{"pattern": "*.txt", "max_results": 5}`)
	if result.Metadata["count"] != 5 {
		t.Errorf("count = %v, want 5", result.Metadata["count"])
	}
	if result.Metadata["truncated"] != true {
		t.Error("truncated flag should be set when matches exceed the cap")
	}

	all := runGlob(t, dir, `{"pattern": "*.txt"}`)
	if all.Metadata["truncated"] != false {
		t.Error("truncated flag must be false when everything fits")
	}
}

func TestGlobNoMatches(t *testing.T) {
	result := runGlob(t, t.TempDir(), `{"pattern": "**/*.zig"}`)
	if !result.Success() {
		t.Fatalf("empty glob should succeed: %v", result.Err)
	}
	if result.Metadata["count"] != 0 {
		t.Errorf("count = %v", result.Metadata["count"])
	}
}
