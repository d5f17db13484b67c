// Package tools holds the tool schema registry, discovery of advertised
// tools from connected servers, and the router that dispatches typed tool
// calls to their owning connections.
package tools

import (
	"sort"
	"sync"
)

// Parameter describes one tool parameter.
type Parameter struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Type        string         `json:"type"`
	Required    bool           `json:"required"`
	Default     any            `json:"default,omitempty"`
	Enum        []any          `json:"enum,omitempty"`
	Items       map[string]any `json:"items,omitempty"` // for array types
}

// Schema is the declared contract a server advertises for one callable
// capability.
type Schema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  []Parameter    `json:"parameters"`
	Returns     map[string]any `json:"returns"`
	ServerName  string         `json:"server_name"`
	Version     string         `json:"version"`
	Tags        []string       `json:"tags"`
}

// ID returns the registry key, "{server_name}.{name}".
func (s Schema) ID() string {
	return s.ServerName + "." + s.Name
}

// Registry stores tool schemas keyed by "{server_name}.{name}".
// Re-registration overwrites.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Schema)}
}

// Register adds or replaces a tool schema.
func (r *Registry) Register(s Schema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[s.ID()] = s
}

// Get retrieves a tool schema by id.
func (r *Registry) Get(toolID string) (Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.tools[toolID]
	return s, ok
}

// ForServer returns every tool a server provides, sorted by name.
func (r *Registry) ForServer(serverName string) []Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Schema
	for _, s := range r.tools {
		if s.ServerName == serverName {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// WithTag returns every tool carrying the given tag, sorted by id.
func (r *Registry) WithTag(tag string) []Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Schema
	for _, s := range r.tools {
		for _, t := range s.Tags {
			if t == tag {
				out = append(out, s)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// IDs returns every registered tool id in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.tools))
	for id := range r.tools {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Unregister removes every tool owned by a server.
func (r *Registry) Unregister(serverName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.tools {
		if s.ServerName == serverName {
			delete(r.tools, id)
		}
	}
}

// Document renders the whole registry as a JSON Schema object describing
// every tool's parameters and return shape, for downstream prompt or schema
// generators.
func (r *Registry) Document() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	props := make(map[string]any, len(r.tools))
	for id, tool := range r.tools {
		paramProps := make(map[string]any, len(tool.Parameters))
		required := []string{}
		for _, p := range tool.Parameters {
			prop := map[string]any{
				"type":        p.Type,
				"description": p.Description,
			}
			if p.Enum != nil {
				prop["enum"] = p.Enum
			}
			if p.Default != nil {
				prop["default"] = p.Default
			}
			if p.Items != nil {
				prop["items"] = p.Items
			}
			paramProps[p.Name] = prop
			if p.Required {
				required = append(required, p.Name)
			}
		}

		props[id] = map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name":        map[string]any{"type": "string", "const": tool.Name},
				"description": map[string]any{"type": "string", "const": tool.Description},
				"parameters": map[string]any{
					"type":       "object",
					"properties": paramProps,
					"required":   required,
				},
				"returns": tool.Returns,
			},
		}
	}

	return map[string]any{
		"type":       "object",
		"properties": props,
	}
}
