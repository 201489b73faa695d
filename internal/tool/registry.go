package tool

import (
	"sync"

	"github.com/bladecode/blade/internal/fileaccess"
	"github.com/bladecode/blade/internal/snapshot"
)

// Registry manages tool registration and lookup. It is read-mostly after
// startup; external-server updates take the write lock.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	order   []string
	workDir string
}

// NewRegistry creates a new tool registry.
func NewRegistry(workDir string) *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		workDir: workDir,
	}
}

// Register adds a tool to the registry, replacing any previous tool with the
// same id.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.ID()]; !exists {
		r.order = append(r.order, t.ID())
	}
	r.tools[t.ID()] = t
}

// Unregister removes a tool by id (external server disconnect).
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[id]; !exists {
		return
	}
	delete(r.tools, id)
	for i, o := range r.order {
		if o == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get retrieves a tool by id.
func (r *Registry) Get(id string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[id]
	return t, ok
}

// List returns all registered tools in registration order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(r.order))
	for _, id := range r.order {
		tools = append(tools, r.tools[id])
	}
	return tools
}

// IDs returns all tool ids in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Deps bundles the collaborators the built-in tools need.
type Deps struct {
	Tracker   *fileaccess.Tracker
	Snapshots *snapshot.Store
}

// DefaultRegistry creates a registry with all built-in tools.
func DefaultRegistry(workDir string, deps Deps) *Registry {
	r := NewRegistry(workDir)

	r.Register(NewReadTool(workDir, deps.Tracker))
	r.Register(NewEditTool(workDir, deps.Tracker, deps.Snapshots))
	r.Register(NewMultiEditTool(workDir, deps.Tracker, deps.Snapshots))
	r.Register(NewUndoEditTool(deps.Snapshots))
	r.Register(NewWriteTool(workDir, deps.Tracker, deps.Snapshots))
	r.Register(NewGlobTool(workDir))
	r.Register(NewGrepTool(workDir))
	r.Register(NewFindTool(workDir))
	r.Register(NewWebFetchTool())
	r.Register(NewWebSearchTool())
	r.Register(NewBashTool(workDir))
	r.Register(NewThinkTool())

	return r
}
