package mcp

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/bladecode/blade/internal/event"
	"github.com/bladecode/blade/internal/tool"
	"github.com/bladecode/blade/pkg/types"
)

// remoteTool exposes one MCP server tool through the local tool registry.
// The handler forwards the invocation across the transport.
type remoteTool struct {
	client *Client
	def    RemoteTool
}

func (t *remoteTool) ID() string            { return t.def.Name }
func (t *remoteTool) DisplayName() string   { return t.def.Name }
func (t *remoteTool) Kind() types.ToolKind  { return types.KindOther }
func (t *remoteTool) Description() string   { return t.def.Description }
func (t *remoteTool) ConcurrencySafe() bool { return true }

func (t *remoteTool) Parameters() json.RawMessage {
	if len(t.def.InputSchema) == 0 {
		return json.RawMessage(`{"type":"object"}`)
	}
	return t.def.InputSchema
}

func (t *remoteTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *tool.Context) (*tool.Result, error) {
	output, err := t.client.CallTool(ctx, t.def.Name, input)
	if err != nil {
		if ctx.Err() != nil {
			return tool.Errorf(tool.ErrAborted, "remote tool %s aborted", t.def.Name), nil
		}
		return tool.Errorf(tool.ErrExecution, "remote tool %s failed: %v", t.def.Name, err), nil
	}
	result := &tool.Result{
		Title:  t.def.Name,
		Output: output,
	}
	return result.Meta("remote", true), nil
}

// Adapter keeps the local tool registry in sync with the remote tool set.
// It subscribes to tools.updated events and swaps adapters in and out as
// servers connect and disconnect.
type Adapter struct {
	mu       sync.Mutex
	client   *Client
	registry *tool.Registry
	active   map[string]bool // currently registered remote tool names
}

// NewAdapter wires the client's tools into the registry and returns the
// adapter managing the subscription.
func NewAdapter(client *Client, registry *tool.Registry, bus *event.Bus) *Adapter {
	a := &Adapter{
		client:   client,
		registry: registry,
		active:   make(map[string]bool),
	}
	if bus != nil {
		bus.Subscribe(event.ToolsUpdated, func(event.Event) { a.Refresh() })
	}
	a.Refresh()
	return a
}

// Refresh reconciles the registry against the currently connected servers.
func (a *Adapter) Refresh() {
	a.mu.Lock()
	defer a.mu.Unlock()

	remote := a.client.Tools()
	seen := make(map[string]bool, len(remote))

	for _, def := range remote {
		seen[def.Name] = true
		a.registry.Register(&remoteTool{client: a.client, def: def})
		a.active[def.Name] = true
	}

	for name := range a.active {
		if !seen[name] {
			a.registry.Unregister(name)
			delete(a.active, name)
		}
	}
}
