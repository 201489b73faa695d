package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bladecode/blade/internal/command"
	"github.com/bladecode/blade/internal/event"
	"github.com/bladecode/blade/internal/provider"
	"github.com/bladecode/blade/pkg/types"
)

func waitIdle(t *testing.T, c *Coordinator) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s := c.State(); s == StateIdle || s == StateErrored {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("coordinator stuck in %s", c.State())
}

func textResponse(text string) fakeResponse {
	return fakeResponse{chunks: []*provider.StreamChunk{
		{ContentDelta: text},
		{FinishReason: "stop"},
	}}
}

func TestCoordinatorQueuesWhileRunning(t *testing.T) {
	fake := &fakeProvider{id: "fake", responses: []fakeResponse{
		{chunks: []*provider.StreamChunk{{ContentDelta: "one"}}, hang: false},
		textResponse("two"),
	}}
	// Submit marks the coordinator running before the turn starts, so the
	// second submit below lands while the first turn is in flight.
	fake.responses[0].chunks = append(fake.responses[0].chunks,
		&provider.StreamChunk{FinishReason: "stop"})

	p, sess := newTestProcessor(t, fake)
	sink := event.NewSink(256)
	c := NewCoordinator(CoordinatorOptions{
		Processor: p,
		Session:   sess,
		Sink:      sink,
	})

	c.Submit(context.Background(), "first")
	c.Submit(context.Background(), "second")
	waitIdle(t, c)

	// Both turns ran, in order.
	messages, _ := p.Messages(context.Background(), sess.ID)
	var userTexts []string
	for _, m := range messages {
		if m.Role == types.RoleUser {
			userTexts = append(userTexts, m.Text)
		}
	}
	if len(userTexts) != 2 || userTexts[0] != "first" || userTexts[1] != "second" {
		t.Fatalf("user messages = %v", userTexts)
	}
	if fake.requestCount() != 2 {
		t.Errorf("requests = %d, want 2", fake.requestCount())
	}
}

func TestCoordinatorSlashUnknown(t *testing.T) {
	fake := &fakeProvider{id: "fake"}
	p, sess := newTestProcessor(t, fake)
	sink := event.NewSink(64)
	c := NewCoordinator(CoordinatorOptions{Processor: p, Session: sess, Sink: sink})

	c.Submit(context.Background(), "/definitely-not-a-command")
	waitIdle(t, c)

	if c.State() != StateErrored {
		t.Fatalf("state = %s, want errored", c.State())
	}
	// No LLM request for an unknown slash command.
	if fake.requestCount() != 0 {
		t.Errorf("requests = %d, want 0", fake.requestCount())
	}

	var saw bool
	for _, e := range sink.Drain() {
		if cd, ok := e.(event.ContentDelta); ok && strings.Contains(cd.Text, "Unknown command") {
			saw = true
		}
	}
	if !saw {
		t.Error("missing unknown-command help pointer")
	}
}

func TestCoordinatorModeCommand(t *testing.T) {
	fake := &fakeProvider{id: "fake"}
	p, sess := newTestProcessor(t, fake)
	c := NewCoordinator(CoordinatorOptions{Processor: p, Session: sess, Checker: p.checker})

	c.Submit(context.Background(), "/mode plan")
	waitIdle(t, c)

	if sess.PermissionMode != types.ModePlan {
		t.Fatalf("mode = %s, want plan", sess.PermissionMode)
	}
}

func TestCoordinatorUserDefinedCommand(t *testing.T) {
	fake := &fakeProvider{id: "fake", responses: []fakeResponse{textResponse("expanded ran")}}
	p, sess := newTestProcessor(t, fake)

	commands := command.NewExecutor(t.TempDir(), &types.Config{
		Command: map[string]types.CommandConfig{
			"review": {Template: "Review the following: $ARGUMENTS"},
		},
	})
	c := NewCoordinator(CoordinatorOptions{Processor: p, Session: sess, Commands: commands})

	c.Submit(context.Background(), "/review internal/tool")
	waitIdle(t, c)

	messages, _ := p.Messages(context.Background(), sess.ID)
	found := false
	for _, m := range messages {
		if m.Role == types.RoleUser && m.Text == "Review the following: internal/tool" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expanded prompt not in log: %+v", messages)
	}
}

func TestCoordinatorCancelThenSubmit(t *testing.T) {
	fake := &fakeProvider{id: "fake", responses: []fakeResponse{
		{chunks: []*provider.StreamChunk{{ContentDelta: "slow "}}, hang: true},
		textResponse("fast"),
	}}
	p, sess := newTestProcessor(t, fake)
	c := NewCoordinator(CoordinatorOptions{Processor: p, Session: sess})

	c.Submit(context.Background(), "slow one")
	time.Sleep(20 * time.Millisecond)
	c.Cancel()
	waitIdle(t, c)

	// The teardown of the cancelled turn must not stomp the new turn.
	c.Submit(context.Background(), "fast one")
	waitIdle(t, c)

	messages, _ := p.Messages(context.Background(), sess.ID)
	var finals []string
	for _, m := range messages {
		if m.Role == types.RoleAssistant && m.Finish == "stop" {
			finals = append(finals, m.Text)
		}
	}
	if len(finals) != 1 || finals[0] != "fast" {
		t.Fatalf("finals = %v", finals)
	}
}

func TestCoordinatorUndoCommand(t *testing.T) {
	fake := &fakeProvider{id: "fake"}
	p, sess := newTestProcessor(t, fake)
	sink := event.NewSink(64)
	c := NewCoordinator(CoordinatorOptions{Processor: p, Session: sess, Sink: sink})

	// Seed a snapshot the way an edit would.
	target := filepath.Join(t.TempDir(), "doc.txt")
	os.WriteFile(target, []byte("original"), 0644)
	store := p.snapshotStore(sess)
	if _, err := store.Create(target, "msg-7"); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(target, []byte("edited"), 0644)

	// Listing shows the snapshot.
	c.Submit(context.Background(), "/undo "+target)
	waitIdle(t, c)
	listed := false
	for _, e := range sink.Drain() {
		if cd, ok := e.(event.ContentDelta); ok && strings.Contains(cd.Text, "message=msg-7") {
			listed = true
		}
	}
	if !listed {
		t.Fatal("/undo <path> should list snapshots")
	}

	// Restoring by message id brings the old bytes back without the LLM.
	c.Submit(context.Background(), "/undo "+target+" msg-7")
	waitIdle(t, c)

	data, _ := os.ReadFile(target)
	if string(data) != "original" {
		t.Errorf("content = %q, want original", data)
	}
	if fake.requestCount() != 0 {
		t.Errorf("requests = %d, want 0 (undo is local)", fake.requestCount())
	}
}

func TestCommandExecutorFiles(t *testing.T) {
	dir := t.TempDir()
	cmdDir := filepath.Join(dir, ".blade", "commands")
	if err := os.MkdirAll(cmdDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cmdDir, "ship.md"), []byte("# Ship it\nPrepare a release: $ARGUMENTS"), 0644); err != nil {
		t.Fatal(err)
	}

	e := command.NewExecutor(dir, nil)
	cmd, ok := e.Get("ship")
	if !ok {
		t.Fatal("file command not loaded")
	}
	if cmd.Description != "Ship it" {
		t.Errorf("description = %q", cmd.Description)
	}

	result, err := e.Execute("ship", "v1.2")
	if err != nil {
		t.Fatal(err)
	}
	if result.Prompt != "Prepare a release: v1.2" {
		t.Errorf("prompt = %q", result.Prompt)
	}
}
