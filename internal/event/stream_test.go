package event

import (
	"context"
	"testing"
	"time"
)

func TestSinkOrdering(t *testing.T) {
	s := NewSink(16)
	s.Emit(ContentDelta{Text: "a"})
	s.Emit(ToolCallStart{ID: "1", Name: "read"})
	s.Emit(ContentDelta{Text: "b"})
	s.Emit(StreamEnd{FinishReason: "stop"})
	s.Close()

	ctx := context.Background()
	want := []string{"a", "tool", "b", "end"}
	for i, w := range want {
		e, ok := s.Next(ctx)
		if !ok {
			t.Fatalf("event %d missing", i)
		}
		switch ev := e.(type) {
		case ContentDelta:
			if ev.Text != w {
				t.Errorf("event %d text = %q, want %q", i, ev.Text, w)
			}
		case ToolCallStart:
			if w != "tool" {
				t.Errorf("event %d unexpected ToolCallStart", i)
			}
		case StreamEnd:
			if w != "end" {
				t.Errorf("event %d unexpected StreamEnd", i)
			}
		}
	}

	if _, ok := s.Next(ctx); ok {
		t.Fatal("closed drained sink should return ok=false")
	}
}

func TestSinkCoalescesDeltasOnOverflow(t *testing.T) {
	s := NewSink(2)
	s.Emit(ToolCallStart{ID: "1", Name: "grep"})
	s.Emit(ContentDelta{Text: "hel"})
	// Queue is full; these merge into the tail delta instead of dropping.
	s.Emit(ContentDelta{Text: "lo "})
	s.Emit(ContentDelta{Text: "world"})
	s.Close()

	ctx := context.Background()
	if e, _ := s.Next(ctx); e == nil {
		t.Fatal("missing first event")
	}
	e, _ := s.Next(ctx)
	cd, ok := e.(ContentDelta)
	if !ok {
		t.Fatalf("expected ContentDelta, got %T", e)
	}
	if cd.Text != "hello world" {
		t.Errorf("coalesced text = %q, want %q", cd.Text, "hello world")
	}
}

func TestSinkNeverCoalescesToolEvents(t *testing.T) {
	s := NewSink(1)
	s.Emit(ToolCallStart{ID: "1", Name: "grep", Args: `{"pattern":"a"}`})
	// Full queue, but a tool event must still be appended, not merged.
	s.Emit(ToolCallStart{ID: "2", Name: "glob", Args: `{"pattern":"b"}`})
	s.Close()

	ctx := context.Background()
	count := 0
	for {
		_, ok := s.Next(ctx)
		if !ok {
			break
		}
		count++
	}
	if count != 2 {
		t.Fatalf("got %d events, want 2", count)
	}
}

func TestSinkNextBlocksUntilEmit(t *testing.T) {
	s := NewSink(4)
	go func() {
		time.Sleep(10 * time.Millisecond)
		s.Emit(ContentDelta{Text: "late"})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	e, ok := s.Next(ctx)
	if !ok {
		t.Fatal("Next should return the late event")
	}
	if cd := e.(ContentDelta); cd.Text != "late" {
		t.Errorf("text = %q", cd.Text)
	}
}
