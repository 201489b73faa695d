package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/bladecode/blade/internal/permission"
	"github.com/bladecode/blade/pkg/types"
)

// Dispatcher resolves model tool calls against the registry, validates
// arguments, consults the permission checker, and executes. Failures become
// error results; they never propagate to the agent loop as errors.
type Dispatcher struct {
	registry *Registry
	checker  *permission.Checker

	schemaMu sync.Mutex
	schemas  map[string]*jsonschema.Schema

	serialMu sync.Mutex
	serial   map[string]*sync.Mutex // sessionID -> mutex for non-safe tools

	loopMu sync.Mutex
	loops  map[string]int // sessionID+tool+args -> repeat count this turn
}

// doomLoopThreshold is how many identical invocations run before the
// dispatcher routes the next one through a confirmation.
const doomLoopThreshold = 3

// NewDispatcher creates a dispatcher over the given registry and checker.
func NewDispatcher(registry *Registry, checker *permission.Checker) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		checker:  checker,
		schemas:  make(map[string]*jsonschema.Schema),
		serial:   make(map[string]*sync.Mutex),
		loops:    make(map[string]int),
	}
}

// ResetLoopGuard clears the repeat counters; the loop calls it when a new
// user turn begins.
func (d *Dispatcher) ResetLoopGuard(sessionID string) {
	d.loopMu.Lock()
	defer d.loopMu.Unlock()
	prefix := sessionID + "\x00"
	for k := range d.loops {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(d.loops, k)
		}
	}
}

// noteInvocation counts identical (tool, arguments) invocations and reports
// the count including this one.
func (d *Dispatcher) noteInvocation(sessionID string, call types.ToolCall) int {
	d.loopMu.Lock()
	defer d.loopMu.Unlock()
	key := sessionID + "\x00" + call.Name + "\x00" + call.Arguments
	d.loops[key]++
	return d.loops[key]
}

// Registry exposes the underlying registry.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Dispatch executes one tool call and always returns a result.
func (d *Dispatcher) Dispatch(ctx context.Context, call types.ToolCall, toolCtx *Context) *Result {
	if toolCtx != nil && call.ID != "" {
		// Each invocation gets its own context copy carrying its call id,
		// so parallel dispatches do not race on it.
		ctxCopy := *toolCtx
		ctxCopy.CallID = call.ID
		toolCtx = &ctxCopy
	}

	t, ok := d.registry.Get(call.Name)
	if !ok {
		return Errorf(ErrNotFound, "tool not found: %s", call.Name)
	}

	input := json.RawMessage(call.Arguments)
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}

	if err := d.validate(t, input); err != nil {
		return Errorf(ErrValidation, "invalid arguments for %s: %v", call.Name, err)
	}

	// Repetition guard: the same call with the same input over and over is
	// usually a stuck model; route the repeat through a confirmation.
	forceAsk := false
	if toolCtx != nil {
		forceAsk = d.noteInvocation(toolCtx.SessionID, call) > doomLoopThreshold
	}

	if err := d.checkPermission(ctx, t, input, toolCtx, forceAsk); err != nil {
		if ctx.Err() != nil || (toolCtx != nil && toolCtx.IsAborted()) {
			return Errorf(ErrAborted, "tool %s aborted", call.Name)
		}
		return Errorf(ErrPermissionDenied, "%v", err)
	}

	if toolCtx != nil && toolCtx.IsAborted() {
		return Errorf(ErrAborted, "tool %s aborted", call.Name)
	}

	if !t.ConcurrencySafe() && toolCtx != nil {
		mu := d.sessionMutex(toolCtx.SessionID)
		mu.Lock()
		defer mu.Unlock()
	}

	result, err := t.Execute(ctx, input, toolCtx)
	if err != nil {
		if toolCtx != nil && toolCtx.IsAborted() {
			return Errorf(ErrAborted, "tool %s aborted", call.Name)
		}
		if te, ok := err.(*ToolError); ok {
			return &Result{Title: te.Message, Output: te.Message, Err: te}
		}
		return Errorf(ErrExecution, "%s failed: %v", call.Name, err)
	}
	if result == nil {
		return Errorf(ErrInternal, "%s returned no result", call.Name)
	}
	return result
}

// DispatchAll executes the calls of one assistant turn. Concurrency-safe
// tools run in parallel; the rest serialize through the per-session mutex.
// Results are reassembled in call order regardless of completion order.
func (d *Dispatcher) DispatchAll(ctx context.Context, calls []types.ToolCall, toolCtx *Context) []*Result {
	results := make([]*Result, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call types.ToolCall) {
			defer wg.Done()
			results[i] = d.Dispatch(ctx, call, toolCtx)
		}(i, call)
	}
	wg.Wait()

	return results
}

// validate checks input against the tool's JSON schema. Schemas compile
// lazily and are cached per tool id.
func (d *Dispatcher) validate(t Tool, input json.RawMessage) error {
	sch, err := d.schema(t)
	if err != nil {
		// A broken schema must not mask the tool; skip validation.
		return nil
	}

	var v any
	if err := json.Unmarshal(input, &v); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	return sch.Validate(v)
}

func (d *Dispatcher) schema(t Tool) (*jsonschema.Schema, error) {
	d.schemaMu.Lock()
	defer d.schemaMu.Unlock()

	if sch, ok := d.schemas[t.ID()]; ok {
		return sch, nil
	}

	url := t.ID() + ".schema.json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(t.Parameters())); err != nil {
		return nil, err
	}
	sch, err := compiler.Compile(url)
	if err != nil {
		return nil, err
	}
	d.schemas[t.ID()] = sch
	return sch, nil
}

// checkPermission builds the permission request from the tool's signature
// and abstract-rule hooks and runs it through the checker.
func (d *Dispatcher) checkPermission(ctx context.Context, t Tool, input json.RawMessage, toolCtx *Context, forceAsk bool) error {
	if d.checker == nil {
		return nil
	}

	req := permission.Request{
		Tool:                t.ID(),
		Kind:                t.Kind(),
		Title:               fmt.Sprintf("Allow %s?", t.DisplayName()),
		RequireConfirmation: forceAsk,
	}
	if forceAsk {
		req.Title = fmt.Sprintf("Allow repeated %s call with identical input?", t.DisplayName())
	}
	if toolCtx != nil {
		req.SessionID = toolCtx.SessionID
		req.MessageID = toolCtx.MessageID
		req.CallID = toolCtx.CallID
	}

	if cr, ok := t.(ConfirmationRequirer); ok && cr.RequiresConfirmation() {
		req.RequireConfirmation = true
	}
	if se, ok := t.(SignatureExtractor); ok {
		req.Signatures = se.ExtractSignature(input)
	}
	if ra, ok := t.(RuleAbstractor); ok {
		req.AbstractRules = ra.AbstractRules(input)
	}

	var handler permission.ConfirmationHandler
	if toolCtx != nil {
		handler = toolCtx.Confirm
	}
	return d.checker.Check(ctx, req, handler)
}

func (d *Dispatcher) sessionMutex(sessionID string) *sync.Mutex {
	d.serialMu.Lock()
	defer d.serialMu.Unlock()
	mu, ok := d.serial[sessionID]
	if !ok {
		mu = &sync.Mutex{}
		d.serial[sessionID] = mu
	}
	return mu
}
