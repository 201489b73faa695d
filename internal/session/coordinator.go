package session

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bladecode/blade/internal/cancel"
	"github.com/bladecode/blade/internal/command"
	"github.com/bladecode/blade/internal/event"
	"github.com/bladecode/blade/internal/logging"
	"github.com/bladecode/blade/internal/permission"
	"github.com/bladecode/blade/pkg/types"
)

// State is the coordinator's turn state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateErrored State = "errored"
)

// Coordinator serializes user turns for one session: a single in-flight
// turn, a FIFO queue of inputs submitted while busy, and slash-command
// dispatch that bypasses the LLM path.
type Coordinator struct {
	mu      sync.Mutex
	state   State
	queue   []string
	current *cancel.Token

	processor *Processor
	session   *types.Session
	commands  *command.Executor
	checker   *permission.Checker
	confirm   permission.ConfirmationHandler
	sink      *event.Sink
	opts      LoopOptions
}

// CoordinatorOptions configures a coordinator.
type CoordinatorOptions struct {
	Processor *Processor
	Session   *types.Session
	Commands  *command.Executor
	Checker   *permission.Checker
	Confirm   permission.ConfirmationHandler
	Sink      *event.Sink
	Loop      LoopOptions
}

// NewCoordinator creates a coordinator in the idle state.
func NewCoordinator(opts CoordinatorOptions) *Coordinator {
	return &Coordinator{
		state:     StateIdle,
		processor: opts.Processor,
		session:   opts.Session,
		commands:  opts.Commands,
		checker:   opts.Checker,
		confirm:   opts.Confirm,
		sink:      opts.Sink,
		opts:      opts.Loop,
	}
}

// State returns the current turn state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Submit accepts user input. While a turn is running the input queues and
// runs after the current turn's teardown.
func (c *Coordinator) Submit(ctx context.Context, input string) {
	c.mu.Lock()
	if c.state == StateRunning {
		c.queue = append(c.queue, input)
		c.mu.Unlock()
		return
	}

	token := cancel.NewToken()
	c.state = StateRunning
	c.current = token
	c.mu.Unlock()

	go c.runTurn(ctx, input, token)
}

// Cancel aborts the in-flight turn, if any. Queued inputs stay queued.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	token := c.current
	c.mu.Unlock()
	if token != nil {
		token.Cancel()
	}
}

// runTurn executes one input and then tears down. Teardown only clears
// shared state when the stored token handle is still this turn's: a fast
// cancel-then-submit sequence must not let the old teardown stomp the new
// turn.
func (c *Coordinator) runTurn(ctx context.Context, input string, token *cancel.Token) {
	errored := false

	if strings.HasPrefix(input, "/") {
		errored = !c.runSlash(ctx, input, token)
	} else {
		errored = !c.runPrompt(ctx, input, "", token)
	}

	c.mu.Lock()
	if c.current != token {
		// A newer turn already owns the coordinator.
		c.mu.Unlock()
		return
	}
	c.current = nil
	if errored {
		c.state = StateErrored
	} else {
		c.state = StateIdle
	}

	var next string
	hasNext := false
	if len(c.queue) > 0 {
		next = c.queue[0]
		c.queue = c.queue[1:]
		hasNext = true
		nextToken := cancel.NewToken()
		c.state = StateRunning
		c.current = nextToken
		token = nextToken
	}
	c.mu.Unlock()

	if hasNext {
		c.runTurn(ctx, next, token)
	}
}

// runPrompt drives the agent loop; returns false on provider failure.
func (c *Coordinator) runPrompt(ctx context.Context, text, modelID string, token *cancel.Token) bool {
	userMsg := &types.Message{
		Role: types.RoleUser,
		Text: text,
	}
	chatCtx := &ChatContext{
		Session: c.session,
		Token:   token,
		Confirm: c.confirm,
		Sink:    c.sink,
		ModelID: modelID,
	}

	_, err := c.processor.ProcessTurn(ctx, chatCtx, userMsg, &c.opts)
	if err != nil {
		logging.Logger.Error().Err(err).Msg("turn failed")
		c.emitNote(fmt.Sprintf("Error: %v", err))
		return false
	}
	return true
}

// runSlash handles a slash command; recognized local commands bypass the
// LLM entirely, user-defined commands expand into a synthesized prompt.
func (c *Coordinator) runSlash(ctx context.Context, input string, token *cancel.Token) bool {
	name, args := splitCommand(input)

	switch name {
	case "clear":
		if err := c.processor.ClearSession(ctx, c.session); err != nil {
			c.emitNote(fmt.Sprintf("clear failed: %v", err))
			return false
		}
		c.emitNote("Session cleared.")
		return true

	case "compact":
		chatCtx := &ChatContext{Session: c.session, Token: token, Sink: c.sink}
		result, err := c.processor.Compact(ctx, chatCtx, true)
		if err != nil {
			c.emitNote(fmt.Sprintf("compaction failed: %v", err))
			return false
		}
		if result == nil {
			c.emitNote("Nothing to compact.")
		} else {
			c.emitNote(fmt.Sprintf("Compacted %d -> %d tokens.", result.PreTokens, result.PostTokens))
		}
		return true

	case "undo":
		return c.runUndo(ctx, args)

	case "mode":
		mode := types.PermissionMode(strings.TrimSpace(args))
		if !mode.Valid() {
			c.emitNote("Usage: /mode default|auto-edit|plan|yolo")
			return false
		}
		c.session.PermissionMode = mode
		if c.checker != nil {
			c.checker.SetMode(mode)
		}
		c.processor.saveSession(ctx, c.session)
		c.emitNote(fmt.Sprintf("Permission mode set to %s.", mode))
		return true

	case "model":
		if strings.TrimSpace(args) == "" {
			c.emitNote(fmt.Sprintf("Current model: %s", c.processor.cfg.Model))
			return true
		}
		c.processor.cfg.Model = strings.TrimSpace(args)
		c.emitNote(fmt.Sprintf("Model set to %s.", c.processor.cfg.Model))
		return true

	case "help":
		c.emitNote(c.helpText())
		return true

	case "resume", "mcp", "login", "logout":
		// Recognized UI-owned commands; the engine just records them.
		c.emitNote(fmt.Sprintf("/%s is handled by the interface.", name))
		return true
	}

	// User-defined commands expand to a prompt and go through the loop.
	if c.commands != nil {
		if result, err := c.commands.Execute(name, args); err == nil {
			return c.runPrompt(ctx, result.Prompt, result.Model, token)
		}
	}

	c.emitNote(fmt.Sprintf("Unknown command /%s. Try /help.", name))
	return false
}

// runUndo restores a file from the session snapshot store: with only a path
// it lists the snapshots, with a message id it restores that snapshot. This
// is the local twin of the undo_edit tool.
func (c *Coordinator) runUndo(ctx context.Context, args string) bool {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		c.emitNote("Usage: /undo <file-path> [message-id]")
		return false
	}

	store := c.processor.snapshotStore(c.session)
	if store == nil {
		c.emitNote("No snapshot store for this session.")
		return false
	}

	path := fields[0]
	if len(fields) == 1 {
		metas, err := store.List(path)
		if err != nil || len(metas) == 0 {
			c.emitNote(fmt.Sprintf("No snapshots for %s.", path))
			return false
		}
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("Snapshots for %s (newest first):", path))
		for i := len(metas) - 1; i >= 0; i-- {
			sb.WriteString(fmt.Sprintf("\n  v%d  message=%s", metas[i].Version, metas[i].MessageID))
		}
		sb.WriteString("\nUse /undo <file-path> <message-id> to restore.")
		c.emitNote(sb.String())
		return true
	}

	meta, err := store.Restore(path, fields[1])
	if err != nil {
		c.emitNote(fmt.Sprintf("Restore failed: %v", err))
		return false
	}
	c.emitNote(fmt.Sprintf("Restored %s to snapshot v%d.", path, meta.Version))
	return true
}

func (c *Coordinator) helpText() string {
	var sb strings.Builder
	sb.WriteString("Commands: /clear /compact /undo /mode /model /help")
	if c.commands != nil {
		for _, cmd := range c.commands.List() {
			sb.WriteString(" /" + cmd.Name)
		}
	}
	return sb.String()
}

// emitNote surfaces a local command result through the event sink.
func (c *Coordinator) emitNote(text string) {
	if c.sink != nil {
		c.sink.Emit(event.ContentDelta{Text: text + "\n"})
		c.sink.Emit(event.StreamEnd{FinishReason: "stop"})
	}
}

func splitCommand(input string) (string, string) {
	trimmed := strings.TrimPrefix(input, "/")
	parts := strings.SplitN(trimmed, " ", 2)
	name := strings.ToLower(strings.TrimSpace(parts[0]))
	args := ""
	if len(parts) > 1 {
		args = strings.TrimSpace(parts[1])
	}
	return name, args
}
