// ABOUTME: Thread-safe registry of in-process MCP tools
// ABOUTME: Tools are registered once at startup and looked up by name on every tools/call

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrToolCollision indicates a tool name is already registered.
var ErrToolCollision = errors.New("tool name collision")

// ErrToolNotFound indicates no tool is registered under the requested name.
var ErrToolNotFound = errors.New("tool not found")

// ToolHandler executes a tool. The client session carries the caller's
// current coven session between calls.
type ToolHandler func(ctx context.Context, client *ClientSession, input json.RawMessage) (any, error)

// Tool is a tool definition plus the handler that runs it.
type Tool struct {
	Name        string
	Description string
	InputSchema string
	Handler     ToolHandler
}

// Registry maps tool names to tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds tools. It fails without registering anything when a name is
// empty, has no handler, or is already taken.
func (r *Registry) Register(tools ...*Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(tools))
	for _, t := range tools {
		if t.Name == "" || t.Handler == nil {
			return fmt.Errorf("tool %q: name and handler are required", t.Name)
		}
		if _, exists := r.tools[t.Name]; exists || seen[t.Name] {
			return fmt.Errorf("%w: %s", ErrToolCollision, t.Name)
		}
		seen[t.Name] = true
	}
	for _, t := range tools {
		r.tools[t.Name] = t
	}
	return nil
}

// Get returns the named tool or nil.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// List returns all tools sorted by name.
func (r *Registry) List() []*Tool {
	r.mu.RLock()
	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Call runs the named tool.
func (r *Registry) Call(ctx context.Context, client *ClientSession, name string, input json.RawMessage) (any, error) {
	t := r.Get(name)
	if t == nil {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	if len(input) == 0 || string(input) == "null" {
		input = json.RawMessage("{}")
	}
	return t.Handler(ctx, client, input)
}
