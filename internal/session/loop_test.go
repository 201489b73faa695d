package session

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/bladecode/blade/internal/cancel"
	"github.com/bladecode/blade/internal/event"
	"github.com/bladecode/blade/internal/fileaccess"
	"github.com/bladecode/blade/internal/permission"
	"github.com/bladecode/blade/internal/provider"
	"github.com/bladecode/blade/internal/storage"
	"github.com/bladecode/blade/internal/tool"
	"github.com/bladecode/blade/pkg/types"
)

// fakeResponse scripts one provider response.
type fakeResponse struct {
	chunks []*provider.StreamChunk
	// hang blocks after the chunks until the context is cancelled, then
	// surfaces an aborted error.
	hang bool
}

// fakeProvider replays scripted responses.
type fakeProvider struct {
	mu        sync.Mutex
	id        string
	responses []fakeResponse
	requests  int
	// lastMessages records the outbound window of the latest request.
	lastMessages []*schema.Message
}

func (f *fakeProvider) ID() string { return f.id }

func (f *fakeProvider) Models() []types.Model {
	return []types.Model{{
		ID: "fake-model", ProviderID: f.id, ContextLength: 100000,
		MaxOutputTokens: 4096, SupportsTools: true,
	}}
}

func (f *fakeProvider) next(req *provider.Request) (fakeResponse, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	f.lastMessages = req.Messages
	if len(f.responses) == 0 {
		return fakeResponse{}, false
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp, true
}

func (f *fakeProvider) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

func (f *fakeProvider) Chat(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	resp, ok := f.next(req)
	if !ok {
		return nil, &provider.Error{Provider: f.id, Message: "script exhausted"}
	}
	msg := &schema.Message{Role: schema.Assistant}
	finish := "stop"
	for _, c := range resp.chunks {
		msg.Content += c.ContentDelta
		if c.FinishReason != "" {
			finish = c.FinishReason
		}
	}
	return &provider.Response{Message: msg, FinishReason: finish}, nil
}

func (f *fakeProvider) StreamChat(ctx context.Context, req *provider.Request) (*provider.Stream, error) {
	resp, ok := f.next(req)
	if !ok {
		return nil, &provider.Error{Provider: f.id, Message: "script exhausted"}
	}

	reader, writer := schema.Pipe[*provider.StreamChunk](16)
	go func() {
		defer writer.Close()
		for _, c := range resp.chunks {
			writer.Send(c, nil)
		}
		if resp.hang {
			<-ctx.Done()
			writer.Send(nil, &provider.Error{Provider: f.id, Aborted: true, Message: "request aborted"})
		}
	}()
	return provider.NewStream(reader), nil
}

// noteTool records invocations.
type noteTool struct {
	mu    sync.Mutex
	calls []string
}

func (n *noteTool) ID() string            { return "note" }
func (n *noteTool) DisplayName() string   { return "Note" }
func (n *noteTool) Kind() types.ToolKind  { return types.KindRead }
func (n *noteTool) Description() string   { return "records a note" }
func (n *noteTool) ConcurrencySafe() bool { return true }
func (n *noteTool) Parameters() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`)
}

func (n *noteTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *tool.Context) (*tool.Result, error) {
	var in struct {
		Text string `json:"text"`
	}
	json.Unmarshal(input, &in)
	n.mu.Lock()
	n.calls = append(n.calls, in.Text)
	n.mu.Unlock()
	return &tool.Result{Title: "noted", Output: "noted: " + in.Text}, nil
}

func newTestProcessor(t *testing.T, fake *fakeProvider, extraTools ...tool.Tool) (*Processor, *types.Session) {
	t.Helper()

	store := storage.New(t.TempDir())
	providers := provider.NewRegistry()
	providers.Register(fake)

	registry := tool.NewRegistry("")
	for _, et := range extraTools {
		registry.Register(et)
	}
	checker := permission.NewChecker(permission.RuleSet{}, types.ModeYolo, nil)
	dispatcher := tool.NewDispatcher(registry, checker)

	p := NewProcessor(ProcessorOptions{
		Storage:      store,
		Providers:    providers,
		Dispatcher:   dispatcher,
		Checker:      checker,
		Tracker:      fileaccess.NewTracker(),
		Config:       &types.Config{PermissionMode: types.ModeYolo},
		SnapshotBase: t.TempDir(),
		Workspace:    t.TempDir(),
	})

	sess, err := p.CreateSession(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return p, sess
}

func drain(sink *event.Sink) []event.StreamEvent {
	return sink.Drain()
}

func TestSimpleTextTurn(t *testing.T) {
	fake := &fakeProvider{id: "fake", responses: []fakeResponse{
		{chunks: []*provider.StreamChunk{
			{ContentDelta: "Hello, "},
			{ContentDelta: "world."},
			{Usage: &types.TokenUsage{Input: 10, Output: 5, Total: 15}},
			{FinishReason: "stop"},
		}},
	}}

	p, sess := newTestProcessor(t, fake)
	sink := event.NewSink(64)
	chatCtx := &ChatContext{Session: sess, Sink: sink}

	outcome, err := p.ProcessTurn(context.Background(), chatCtx,
		&types.Message{Role: types.RoleUser, Text: "hi"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if outcome.Final == nil || outcome.Final.Text != "Hello, world." {
		t.Fatalf("final = %+v", outcome.Final)
	}
	if outcome.Aborted {
		t.Fatal("turn should not be aborted")
	}

	// The log holds user + assistant in order.
	messages, _ := p.Messages(context.Background(), sess.ID)
	if len(messages) != 2 || messages[0].Role != types.RoleUser || messages[1].Role != types.RoleAssistant {
		t.Fatalf("log = %+v", messages)
	}

	// Deltas arrive in order; StreamEnd exactly once.
	events := drain(sink)
	var deltas []string
	ends := 0
	for _, e := range events {
		switch ev := e.(type) {
		case event.ContentDelta:
			deltas = append(deltas, ev.Text)
		case event.StreamEnd:
			ends++
		}
	}
	if strings.Join(deltas, "") != "Hello, world." {
		t.Errorf("deltas = %v", deltas)
	}
	if ends != 1 {
		t.Errorf("StreamEnd emitted %d times, want 1", ends)
	}
}

func TestToolCallTurn(t *testing.T) {
	note := &noteTool{}
	fake := &fakeProvider{id: "fake", responses: []fakeResponse{
		{chunks: []*provider.StreamChunk{
			{ContentDelta: "Let me note that."},
			{ToolCall: &types.ToolCall{ID: "call-1", Name: "note", Arguments: `{"text":"remember"}`}},
			{FinishReason: "tool_calls"},
		}},
		{chunks: []*provider.StreamChunk{
			{ContentDelta: "Done."},
			{FinishReason: "stop"},
		}},
	}}

	p, sess := newTestProcessor(t, fake, note)
	sink := event.NewSink(64)
	chatCtx := &ChatContext{Session: sess, Sink: sink}

	outcome, err := p.ProcessTurn(context.Background(), chatCtx,
		&types.Message{Role: types.RoleUser, Text: "note remember"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Final.Text != "Done." {
		t.Fatalf("final = %q", outcome.Final.Text)
	}
	if len(note.calls) != 1 || note.calls[0] != "remember" {
		t.Fatalf("tool calls = %v", note.calls)
	}

	// Log order: user, assistant(tool_calls), tool, assistant(final).
	messages, _ := p.Messages(context.Background(), sess.ID)
	roles := make([]types.Role, len(messages))
	for i, m := range messages {
		roles[i] = m.Role
	}
	want := []types.Role{types.RoleUser, types.RoleAssistant, types.RoleTool, types.RoleAssistant}
	if len(roles) != len(want) {
		t.Fatalf("roles = %v", roles)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Fatalf("roles = %v, want %v", roles, want)
		}
	}

	// The tool message references the assistant's call id.
	if messages[2].ToolCallID != "call-1" {
		t.Errorf("tool message ToolCallID = %q", messages[2].ToolCallID)
	}

	// Event order: ToolCallStart before ToolCallResult, result successful.
	events := drain(sink)
	startIdx, resultIdx := -1, -1
	for i, e := range events {
		switch e.(type) {
		case event.ToolCallStart:
			startIdx = i
		case event.ToolCallResult:
			resultIdx = i
		}
	}
	if startIdx < 0 || resultIdx < 0 || startIdx > resultIdx {
		t.Errorf("tool event order: start=%d result=%d", startIdx, resultIdx)
	}
}

func TestCancellationMidStream(t *testing.T) {
	fake := &fakeProvider{id: "fake", responses: []fakeResponse{
		{chunks: []*provider.StreamChunk{{ContentDelta: "partial "}}, hang: true},
	}}

	p, sess := newTestProcessor(t, fake)
	sink := event.NewSink(64)
	token := cancel.NewToken()
	chatCtx := &ChatContext{Session: sess, Sink: sink, Token: token}

	go func() {
		time.Sleep(30 * time.Millisecond)
		token.Cancel()
	}()

	outcome, err := p.ProcessTurn(context.Background(), chatCtx,
		&types.Message{Role: types.RoleUser, Text: "go"}, nil)
	if err != nil {
		t.Fatalf("aborted turn must not error: %v", err)
	}
	if !outcome.Aborted {
		t.Fatal("outcome should be aborted")
	}

	// Partial content preserved, then exactly one trailing marker; no new
	// provider request after the cancel.
	messages, _ := p.Messages(context.Background(), sess.ID)
	var partials, markers int
	for _, m := range messages {
		if m.Text == "partial " {
			partials++
		}
		if m.Text == abortedMarker {
			markers++
		}
	}
	if partials != 1 {
		t.Errorf("partial content messages = %d, want 1", partials)
	}
	if markers != 1 {
		t.Errorf("aborted markers = %d, want 1", markers)
	}
	if fake.requestCount() != 1 {
		t.Errorf("provider requests = %d, want 1", fake.requestCount())
	}

	// Subsequent input proceeds normally.
	fake.mu.Lock()
	fake.responses = []fakeResponse{{chunks: []*provider.StreamChunk{
		{ContentDelta: "fresh"}, {FinishReason: "stop"},
	}}}
	fake.mu.Unlock()

	outcome2, err := p.ProcessTurn(context.Background(),
		&ChatContext{Session: sess, Sink: sink},
		&types.Message{Role: types.RoleUser, Text: "again"}, nil)
	if err != nil || outcome2.Final.Text != "fresh" {
		t.Fatalf("follow-up turn failed: %v %+v", err, outcome2)
	}
}

func TestTurnLimit(t *testing.T) {
	// Every response asks for another tool call; the loop must stop at the
	// budget and call the handler exactly once.
	var responses []fakeResponse
	for i := 0; i < 10; i++ {
		responses = append(responses, fakeResponse{chunks: []*provider.StreamChunk{
			{ToolCall: &types.ToolCall{ID: "c", Name: "note", Arguments: `{"text":"x"}`}},
			{FinishReason: "tool_calls"},
		}})
	}
	fake := &fakeProvider{id: "fake", responses: responses}

	note := &noteTool{}
	p, sess := newTestProcessor(t, fake, note)
	sink := event.NewSink(256)

	limitCalls := 0
	opts := &LoopOptions{
		MaxTurns: 3,
		OnTurnLimit: func(turns int) TurnLimitDecision {
			limitCalls++
			return TurnLimitDecision{Continue: false}
		},
	}

	outcome, err := p.ProcessTurn(context.Background(),
		&ChatContext{Session: sess, Sink: sink},
		&types.Message{Role: types.RoleUser, Text: "loop"}, opts)
	if err != nil {
		t.Fatal(err)
	}
	if limitCalls != 1 {
		t.Fatalf("OnTurnLimit called %d times, want 1", limitCalls)
	}
	if outcome.Final.Finish != "turn_limit" {
		t.Errorf("final finish = %q", outcome.Final.Finish)
	}
	if fake.requestCount() != 3 {
		t.Errorf("provider requests = %d, want 3", fake.requestCount())
	}
}

func TestSystemPromptLeadsOutbound(t *testing.T) {
	fake := &fakeProvider{id: "fake", responses: []fakeResponse{
		{chunks: []*provider.StreamChunk{{ContentDelta: "ok"}, {FinishReason: "stop"}}},
	}}
	p, sess := newTestProcessor(t, fake)

	_, err := p.ProcessTurn(context.Background(),
		&ChatContext{Session: sess},
		&types.Message{Role: types.RoleUser, Text: "hello"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if len(fake.lastMessages) < 2 {
		t.Fatalf("outbound window too small: %d", len(fake.lastMessages))
	}
	if fake.lastMessages[0].Role != schema.System {
		t.Errorf("first outbound message role = %s, want system", fake.lastMessages[0].Role)
	}
}
