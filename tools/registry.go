package tools

import (
	"sort"
	"sync"

	"github.com/forge-ai/forge-kb/llms"
)

// Registry holds the available tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// NewDefaultRegistry returns a registry with all built-in tools.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(&KBSearchTool{})
	r.Register(&DatasetQueryTool{})
	r.Register(&WebFetchTool{})
	r.Register(&SubAgentTool{})
	return r
}

// Register adds a tool, replacing any previous tool with the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns the schemas for the named tools, skipping unknown
// names. Order follows the input.
func (r *Registry) Definitions(names []string) []llms.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var defs []llms.ToolDefinition
	for _, name := range names {
		if t, ok := r.tools[name]; ok {
			defs = append(defs, t.Definition())
		}
	}
	return defs
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
