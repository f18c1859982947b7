// Package tools implements the closed set of read-only kitchen tools the
// assistant may call, and the executor that dispatches model tool calls to them.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool is a single callable tool. Execute returns a JSON-encodable result;
// returning an error is equivalent to returning {"error": err.Error()}.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, userID string, input json.RawMessage) (any, error)
}

// Definition is the model-facing description of a tool.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type registeredTool struct {
	tool      Tool
	validator *jsonschema.Schema
}

// Registry holds tools in registration order with a compiled input validator
// for each.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]registeredTool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]registeredTool)}
}

// Register adds a tool and compiles its schema. Registering a name twice is an
// error.
func (r *Registry) Register(tool Tool) error {
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	validator, err := jsonschema.CompileString("tool://"+name, string(tool.Schema()))
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.tools[name] = registeredTool{tool: tool, validator: validator}
	r.order = append(r.order, name)
	return nil
}

// MustRegister is Register that panics on error. For static tool sets.
func (r *Registry) MustRegister(tools ...Tool) *Registry {
	for _, tool := range tools {
		if err := r.Register(tool); err != nil {
			panic(err)
		}
	}
	return r
}

func (r *Registry) get(name string) (registeredTool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.tools[name]
	return entry, ok
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Definitions returns every tool's definition in registration order.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		tool := r.tools[name].tool
		defs = append(defs, Definition{
			Name:        name,
			Description: tool.Description(),
			InputSchema: tool.Schema(),
		})
	}
	return defs
}
