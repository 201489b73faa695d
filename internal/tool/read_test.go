package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bladecode/blade/internal/fileaccess"
)

func TestReadFile(t *testing.T) {
	tracker := fileaccess.NewTracker()
	path := writeTemp(t, "line one\nline two\nline three")

	tool := NewReadTool("", tracker)
	input := json.RawMessage(`{"file_path": "` + path + `"}`)
	result, err := tool.Execute(context.Background(), input, testToolCtx(t, tracker, nil))
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success() {
		t.Fatalf("read failed: %v", result.Err)
	}

	if !strings.Contains(result.Output, "00002| line two") {
		t.Errorf("missing numbered line: %s", result.Output)
	}
	if !tracker.HasBeenRead("sess-test", path) {
		t.Error("read did not update the file-access tracker")
	}
}

func TestReadPagination(t *testing.T) {
	var sb strings.Builder
	for i := 1; i <= 50; i++ {
		fmt.Fprintf(&sb, "row %d\n", i)
	}
	path := writeTemp(t, sb.String())

	tool := NewReadTool("", nil)
	input := json.RawMessage(`{"file_path": "` + path + `", "offset": 10, "limit": 5}`)
	result, _ := tool.Execute(context.Background(), input, nil)

	if !strings.Contains(result.Output, "00010| row 10") {
		t.Errorf("offset not honored: %s", result.Output)
	}
	if strings.Contains(result.Output, "row 15") {
		t.Errorf("limit not honored: %s", result.Output)
	}
	if !strings.Contains(result.Output, "more lines") {
		t.Errorf("pagination hint missing: %s", result.Output)
	}
}

func TestReadMissingFile(t *testing.T) {
	tool := NewReadTool("", nil)
	input := json.RawMessage(`{"file_path": "/nonexistent/nope.txt"}`)
	result, _ := tool.Execute(context.Background(), input, nil)
	if result.Success() || result.Err.Kind != ErrNotFound {
		t.Fatalf("result = %+v, want not_found", result.Err)
	}
}

func TestReadBlocksEnvFiles(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	os.WriteFile(envPath, []byte("SECRET=x"), 0644)

	tool := NewReadTool("", nil)
	input := json.RawMessage(`{"file_path": "` + envPath + `"}`)
	result, _ := tool.Execute(context.Background(), input, nil)
	if result.Success() || result.Err.Kind != ErrPermissionDenied {
		t.Fatalf("result = %+v, want permission_denied", result.Err)
	}

	// Sample files stay readable.
	samplePath := filepath.Join(dir, ".env.sample")
	os.WriteFile(samplePath, []byte("SECRET=placeholder"), 0644)
	input = json.RawMessage(`{"file_path": "` + samplePath + `"}`)
	result, _ = tool.Execute(context.Background(), input, nil)
	if !result.Success() {
		t.Fatalf(".env.sample should be readable: %v", result.Err)
	}
}

func TestFindFilters(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "big.log"), make([]byte, 2048), 0644)
	os.WriteFile(filepath.Join(dir, "small.log"), []byte("x"), 0644)
	os.MkdirAll(filepath.Join(dir, "logs"), 0755)

	tool := NewFindTool(dir)

	result, _ := tool.Execute(context.Background(), json.RawMessage(`{"extension": "log", "min_size": 1024}`), nil)
	if !strings.Contains(result.Output, "big.log") || strings.Contains(result.Output, "small.log") {
		t.Errorf("size filter: %s", result.Output)
	}

	result, _ = tool.Execute(context.Background(), json.RawMessage(`{"type": "dir"}`), nil)
	if !strings.Contains(result.Output, "logs/") {
		t.Errorf("dir filter: %s", result.Output)
	}
	if strings.Contains(result.Output, "big.log") {
		t.Errorf("dir filter leaked files: %s", result.Output)
	}
}

func TestFindSortShallowFirst(t *testing.T) {
	dir := t.TempDir()
	os.MkdirAll(filepath.Join(dir, "a", "b"), 0755)
	os.WriteFile(filepath.Join(dir, "top.txt"), []byte("x"), 0644)
	os.WriteFile(filepath.Join(dir, "a", "b", "deep.txt"), []byte("x"), 0644)

	tool := NewFindTool(dir)
	result, _ := tool.Execute(context.Background(), json.RawMessage(`{"extension": "txt"}`), nil)

	topIdx := strings.Index(result.Output, "top.txt")
	deepIdx := strings.Index(result.Output, "deep.txt")
	if topIdx < 0 || deepIdx < 0 || topIdx > deepIdx {
		t.Errorf("depth ordering wrong: %s", result.Output)
	}
}

func TestUndoListsSnapshotsNewestFirst(t *testing.T) {
	store := newTestSnapshotStore(t)
	path := writeTemp(t, "v1")
	store.Create(path, "m1")
	os.WriteFile(path, []byte("v2"), 0644)
	store.Create(path, "m2")

	tool := NewUndoEditTool(store)
	input := json.RawMessage(`{"file_path": "` + path + `"}`)
	result, _ := tool.Execute(context.Background(), input, nil)
	if !result.Success() {
		t.Fatalf("list failed: %v", result.Err)
	}

	v2Idx := strings.Index(result.Output, "v2  message=m2")
	v1Idx := strings.Index(result.Output, "v1  message=m1")
	if v2Idx < 0 || v1Idx < 0 || v2Idx > v1Idx {
		t.Errorf("snapshots not newest-first: %s", result.Output)
	}
}

func TestWebSearchDomainFilter(t *testing.T) {
	results := []SearchResult{
		{Title: "a", URL: "https://example.com/x"},
		{Title: "b", URL: "https://sub.example.com/y"},
		{Title: "c", URL: "https://other.org/z"},
	}

	allowed := filterDomains(results, []string{"example.com"}, nil)
	if len(allowed) != 2 {
		t.Errorf("allow filter = %d, want 2 (domain and subdomain)", len(allowed))
	}

	blocked := filterDomains(results, nil, []string{"example.com"})
	if len(blocked) != 1 || blocked[0].Title != "c" {
		t.Errorf("block filter = %+v", blocked)
	}
}
