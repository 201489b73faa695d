package tool

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/bladecode/blade/internal/cancel"
	"github.com/bladecode/blade/internal/permission"
	"github.com/bladecode/blade/pkg/types"
)

// stubTool is a configurable test tool.
type stubTool struct {
	id       string
	kind     types.ToolKind
	safe     bool
	schema   string
	execute  func(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error)
}

func (s *stubTool) ID() string            { return s.id }
func (s *stubTool) DisplayName() string   { return s.id }
func (s *stubTool) Kind() types.ToolKind  { return s.kind }
func (s *stubTool) Description() string   { return "stub" }
func (s *stubTool) ConcurrencySafe() bool { return s.safe }

func (s *stubTool) Parameters() json.RawMessage {
	if s.schema != "" {
		return json.RawMessage(s.schema)
	}
	return json.RawMessage(`{"type":"object"}`)
}

func (s *stubTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	if s.execute != nil {
		return s.execute(ctx, input, toolCtx)
	}
	return &Result{Title: s.id, Output: "ok"}, nil
}

func yoloChecker() *permission.Checker {
	return permission.NewChecker(permission.RuleSet{}, types.ModeYolo, nil)
}

func TestDispatchUnknownTool(t *testing.T) {
	d := NewDispatcher(NewRegistry(""), yoloChecker())
	result := d.Dispatch(context.Background(), types.ToolCall{ID: "1", Name: "nope"}, nil)
	if result.Success() || result.Err.Kind != ErrNotFound {
		t.Fatalf("result = %+v, want not_found", result.Err)
	}
}

func TestDispatchSchemaValidation(t *testing.T) {
	reg := NewRegistry("")
	reg.Register(&stubTool{
		id:   "strict",
		kind: types.KindOther,
		schema: `{
			"type": "object",
			"properties": {"n": {"type": "integer"}},
			"required": ["n"]
		}`,
	})
	d := NewDispatcher(reg, yoloChecker())

	bad := d.Dispatch(context.Background(), types.ToolCall{ID: "1", Name: "strict", Arguments: `{"n": "oops"}`}, nil)
	if bad.Success() || bad.Err.Kind != ErrValidation {
		t.Fatalf("bad args result = %+v, want validation error", bad.Err)
	}

	good := d.Dispatch(context.Background(), types.ToolCall{ID: "2", Name: "strict", Arguments: `{"n": 3}`}, nil)
	if !good.Success() {
		t.Fatalf("good args failed: %v", good.Err)
	}
}

func TestDispatchDenyRule(t *testing.T) {
	reg := NewRegistry("")
	executed := false
	reg.Register(&stubTool{
		id:   "bash",
		kind: types.KindExecute,
		execute: func(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
			executed = true
			return &Result{Output: "ran"}, nil
		},
	})

	checker := permission.NewChecker(permission.ParseRuleSet(&types.PermissionRules{
		Deny: []string{"bash"},
	}), types.ModeYolo, nil)
	d := NewDispatcher(reg, checker)

	result := d.Dispatch(context.Background(), types.ToolCall{ID: "1", Name: "bash", Arguments: `{}`}, nil)
	if result.Success() || result.Err.Kind != ErrPermissionDenied {
		t.Fatalf("result = %+v, want permission_denied", result.Err)
	}
	if executed {
		t.Fatal("denied tool must not execute")
	}
}

func TestDispatchAbortedBeforeExecution(t *testing.T) {
	reg := NewRegistry("")
	reg.Register(&stubTool{id: "slow", kind: types.KindRead, safe: true})
	d := NewDispatcher(reg, yoloChecker())

	token := cancel.NewToken()
	token.Cancel()
	toolCtx := &Context{SessionID: "s", Token: token}

	result := d.Dispatch(context.Background(), types.ToolCall{ID: "1", Name: "slow", Arguments: `{}`}, toolCtx)
	if result.Success() || result.Err.Kind != ErrAborted {
		t.Fatalf("result = %+v, want aborted", result.Err)
	}
}

func TestDispatchAllPreservesOrder(t *testing.T) {
	reg := NewRegistry("")
	reg.Register(&stubTool{
		id:   "echo",
		kind: types.KindRead,
		safe: true,
		execute: func(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
			var in struct {
				V string `json:"v"`
				D int    `json:"d"`
			}
			json.Unmarshal(input, &in)
			time.Sleep(time.Duration(in.D) * time.Millisecond)
			return &Result{Output: in.V}, nil
		},
	})
	d := NewDispatcher(reg, yoloChecker())

	calls := []types.ToolCall{
		{ID: "1", Name: "echo", Arguments: `{"v":"first","d":30}`},
		{ID: "2", Name: "echo", Arguments: `{"v":"second","d":1}`},
		{ID: "3", Name: "echo", Arguments: `{"v":"third","d":10}`},
	}

	results := d.DispatchAll(context.Background(), calls, &Context{SessionID: "s"})
	want := []string{"first", "second", "third"}
	for i, r := range results {
		if r.Output != want[i] {
			t.Errorf("results[%d] = %q, want %q (order must match calls, not completion)", i, r.Output, want[i])
		}
	}
}

func TestDispatchSerializesUnsafeTools(t *testing.T) {
	reg := NewRegistry("")
	var mu sync.Mutex
	running := 0
	maxRunning := 0
	reg.Register(&stubTool{
		id:   "unsafe",
		kind: types.KindEdit,
		safe: false,
		execute: func(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
			mu.Lock()
			running++
			if running > maxRunning {
				maxRunning = running
			}
			mu.Unlock()

			time.Sleep(10 * time.Millisecond)

			mu.Lock()
			running--
			mu.Unlock()
			return &Result{Output: "done"}, nil
		},
	})
	d := NewDispatcher(reg, yoloChecker())

	calls := []types.ToolCall{
		{ID: "1", Name: "unsafe", Arguments: `{}`},
		{ID: "2", Name: "unsafe", Arguments: `{}`},
		{ID: "3", Name: "unsafe", Arguments: `{}`},
	}
	d.DispatchAll(context.Background(), calls, &Context{SessionID: "s"})

	if maxRunning > 1 {
		t.Fatalf("non-concurrency-safe tool ran %d instances in parallel", maxRunning)
	}
}

func TestDispatchExecutionErrorBecomesResult(t *testing.T) {
	reg := NewRegistry("")
	reg.Register(&stubTool{
		id:   "fail",
		kind: types.KindOther,
		execute: func(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
			return nil, context.DeadlineExceeded
		},
	})
	d := NewDispatcher(reg, yoloChecker())

	result := d.Dispatch(context.Background(), types.ToolCall{ID: "1", Name: "fail", Arguments: `{}`}, nil)
	if result.Success() || result.Err.Kind != ErrExecution {
		t.Fatalf("result = %+v, want execution_error", result.Err)
	}
}
