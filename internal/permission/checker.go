package permission

import (
	"context"
	"fmt"
	"sync"

	"github.com/bladecode/blade/internal/event"
	"github.com/bladecode/blade/pkg/types"
)

// Request describes one tool invocation being checked.
type Request struct {
	SessionID string
	MessageID string
	CallID    string

	Tool string
	Kind types.ToolKind

	// RequireConfirmation forces an ask for tools flagged as
	// confirmation-required, unless an allow rule or yolo mode applies.
	RequireConfirmation bool

	// Signatures are the canonical parameter strings the tool exposes for
	// rule matching, e.g. a file path or "git:commit". A single invocation
	// may carry several (a compound shell command).
	Signatures []string

	// AbstractRules are the glob-widened rules offered for persistence when
	// the user answers "always", e.g. `edit(**/*.go)`.
	AbstractRules []string

	Title    string
	Risks    []string
	Affected []string
	Metadata map[string]any
}

// Response is the confirmation handler's answer to an ask decision.
type Response struct {
	Approved bool
	Reason   string
	// Persist appends the request's abstract rules to the session allow
	// list, so equivalent invocations skip the prompt.
	Persist bool
}

// ConfirmationHandler routes ask decisions to the user. Implementations must
// not block the engine beyond the awaited future; cancellation arrives
// through ctx.
type ConfirmationHandler interface {
	Confirm(ctx context.Context, req Request) (Response, error)
}

// ConfirmFunc adapts a function to the ConfirmationHandler interface.
type ConfirmFunc func(ctx context.Context, req Request) (Response, error)

func (f ConfirmFunc) Confirm(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// RejectedError is returned when a check ends in denial.
type RejectedError struct {
	Tool    string
	Reason  string
	CallID  string
}

func (e *RejectedError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return fmt.Sprintf("permission denied for %s", e.Tool)
}

// IsRejected checks if an error is a permission rejection.
func IsRejected(err error) bool {
	_, ok := err.(*RejectedError)
	return ok
}

// Checker evaluates the rule list under the current permission mode. The
// rule set is copy-on-write: readers take a snapshot pointer, mutations swap
// in a fresh set.
type Checker struct {
	mu    sync.RWMutex
	rules RuleSet
	mode  types.PermissionMode
	bus   *event.Bus
}

// NewChecker creates a checker with the given rules and mode.
func NewChecker(rules RuleSet, mode types.PermissionMode, bus *event.Bus) *Checker {
	if !mode.Valid() {
		mode = types.ModeDefault
	}
	return &Checker{rules: rules, mode: mode, bus: bus}
}

// SetRules replaces the rule set (config hot reload).
func (c *Checker) SetRules(rules RuleSet) {
	c.mu.Lock()
	c.rules = rules
	c.mu.Unlock()
}

// SetMode switches the permission mode.
func (c *Checker) SetMode(mode types.PermissionMode) {
	if !mode.Valid() {
		return
	}
	c.mu.Lock()
	c.mode = mode
	c.mu.Unlock()
}

// Mode returns the current permission mode.
func (c *Checker) Mode() types.PermissionMode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

func (c *Checker) snapshot() (RuleSet, types.PermissionMode) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rules, c.mode
}

// Evaluate applies the rule classes and mode overrides:
//
//  1. any deny match wins, regardless of mode
//  2. any allow match wins
//  3. mode overrides: yolo allows everything; plan denies every
//     non-Read/Search kind
//  4. a request with RequireConfirmation asks
//  5. Read/Search kinds are allowed; auto-edit allows Edit kinds
//  6. otherwise ask
func (c *Checker) Evaluate(req Request) Decision {
	rules, mode := c.snapshot()

	if matchAny(rules.Deny, req.Tool, req.Signatures) {
		return DecisionDeny
	}
	if matchAny(rules.Allow, req.Tool, req.Signatures) {
		return DecisionAllow
	}

	switch {
	case mode == types.ModeYolo:
		return DecisionAllow
	case mode == types.ModePlan && !req.Kind.ReadOnly():
		return DecisionDeny
	case req.RequireConfirmation:
		return DecisionAsk
	case req.Kind.ReadOnly():
		return DecisionAllow
	case mode == types.ModeAutoEdit && req.Kind == types.KindEdit:
		return DecisionAllow
	}

	return DecisionAsk
}

// Check evaluates the request and, on ask, routes it through the
// confirmation handler. A nil handler rejects asks.
func (c *Checker) Check(ctx context.Context, req Request, handler ConfirmationHandler) error {
	switch c.Evaluate(req) {
	case DecisionAllow:
		return nil

	case DecisionDeny:
		return &RejectedError{
			Tool:   req.Tool,
			CallID: req.CallID,
			Reason: fmt.Sprintf("permission denied for %s by policy", req.Tool),
		}
	}

	if handler == nil {
		return &RejectedError{
			Tool:   req.Tool,
			CallID: req.CallID,
			Reason: fmt.Sprintf("%s requires confirmation but no handler is available", req.Tool),
		}
	}

	if c.bus != nil {
		c.bus.Publish(event.Event{
			Type: event.PermissionRequired,
			Data: event.PermissionRequiredData{
				ID:        req.CallID,
				SessionID: req.SessionID,
				Tool:      req.Tool,
				Pattern:   req.AbstractRules,
				Title:     req.Title,
			},
		})
	}

	resp, err := handler.Confirm(ctx, req)

	if c.bus != nil {
		c.bus.Publish(event.Event{
			Type: event.PermissionResolved,
			Data: event.PermissionResolvedData{
				ID:       req.CallID,
				Approved: err == nil && resp.Approved,
				Persist:  resp.Persist,
			},
		})
	}

	if err != nil {
		return err
	}
	if !resp.Approved {
		reason := resp.Reason
		if reason == "" {
			reason = fmt.Sprintf("permission for %s rejected by user", req.Tool)
		}
		return &RejectedError{Tool: req.Tool, CallID: req.CallID, Reason: reason}
	}

	if resp.Persist {
		c.persist(req)
	}
	return nil
}

// persist appends the request's abstract rules (or the bare tool name) to
// the allow list for the remainder of the session.
func (c *Checker) persist(req Request) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(req.AbstractRules) == 0 {
		c.rules = c.rules.withAllow(Rule{Tool: req.Tool})
		return
	}
	for _, ar := range req.AbstractRules {
		c.rules = c.rules.withAllow(ParseRule(ar))
	}
}
