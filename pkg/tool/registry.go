package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Registry holds the tools and toolsets available to a turn executor,
// per spec.md §4.C's Registry fields: a fixed set of built-in tools plus
// zero or more dynamically-resolved toolsets, filtered by a Predicate that
// narrows availability per sub-agent or per profile.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]Tool
	toolsets []Toolset
	filter   Predicate
}

// NewRegistry creates an empty Registry that allows all registered tools.
func NewRegistry() *Registry {
	return &Registry{
		tools:  make(map[string]Tool),
		filter: AllowAll(),
	}
}

// Register adds a built-in tool. Registering a name twice overwrites the
// previous registration.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// RegisterToolset adds a dynamically-resolved toolset (e.g. MCP).
func (r *Registry) RegisterToolset(ts Toolset) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toolsets = append(r.toolsets, ts)
}

// WithFilter returns a shallow copy of the registry restricted to tools
// matching p, used to build a sub-agent's restricted tool set (spec.md §4.H).
func (r *Registry) WithFilter(p Predicate) *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clone := &Registry{
		tools:    make(map[string]Tool, len(r.tools)),
		toolsets: append([]Toolset(nil), r.toolsets...),
		filter:   Combine(r.filter, p),
	}
	for name, t := range r.tools {
		clone.tools[name] = t
	}
	return clone
}

// List returns every available tool, built-in plus toolset-resolved,
// narrowed by the registry's filter, sorted by name for deterministic
// LLM-facing tool-definition ordering.
func (r *Registry) List(ctx context.Context) ([]Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		if r.filter(t) {
			out = append(out, t)
		}
	}

	for _, ts := range r.toolsets {
		resolved, err := ts.Tools(ctx)
		if err != nil {
			return nil, fmt.Errorf("tool: resolve toolset %q: %w", ts.Name(), err)
		}
		for _, t := range resolved {
			if r.filter(t) {
				out = append(out, t)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out, nil
}

// Get looks up a single tool by name among built-ins and resolved toolsets.
func (r *Registry) Get(ctx context.Context, name string) (Tool, error) {
	tools, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range tools {
		if t.Name() == name {
			return t, nil
		}
	}
	return nil, fmt.Errorf("tool: %q not found", name)
}

// Definitions returns the LLM-facing Definition for every available tool.
func (r *Registry) Definitions(ctx context.Context) ([]Definition, error) {
	tools, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	defs := make([]Definition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, ToDefinition(t))
	}
	return defs, nil
}
