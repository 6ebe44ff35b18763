// Package tools provides the tool registry advertised to the model and used to
// dispatch its function calls.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// MaxToolNameLength is the maximum length of a tool name.
const MaxToolNameLength = 256

// Tool is a callable the model may invoke by name.
type Tool interface {
	// Name is the function name declared to the model.
	Name() string

	// Description tells the model when to use the tool.
	Description() string

	// Schema is the JSON Schema of the argument object.
	Schema() json.RawMessage

	// Execute runs the tool. args has already been validated against Schema.
	// The returned value must be JSON-serializable.
	Execute(ctx context.Context, args map[string]any) (any, error)
}

type entry struct {
	tool   Tool
	schema *jsonschema.Schema
}

// Registry maps tool names to tools. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]entry),
	}
}

// Register adds a tool keyed by its name. Registering an existing name replaces
// the tool but keeps its original position in List.
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("register tool: nil tool")
	}
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("register tool: empty name")
	}
	if len(name) > MaxToolNameLength {
		return fmt.Errorf("register tool %s: name exceeds %d characters", name, MaxToolNameLength)
	}

	compiled, err := compileSchema(name, tool.Schema())
	if err != nil {
		return fmt.Errorf("register tool %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = entry{tool: tool, schema: compiled}
	return nil
}

// MustRegister is Register that panics on error. Intended for static wiring.
func (r *Registry) MustRegister(tool Tool) {
	if err := r.Register(tool); err != nil {
		panic(err)
	}
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	return e.tool, ok
}

// List returns all tools in registration order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].tool)
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Invoke validates args against the tool's schema and runs it. The result is
// normalized to plain JSON values (maps, slices, float64, string, bool, nil).
// Every returned error is a *Error; use errors.Is with ErrToolNotFound,
// ErrInvalidArguments or ErrInvalidResult to classify it.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (any, error) {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &Error{Tool: name, Err: ErrToolNotFound}
	}

	if args == nil {
		args = map[string]any{}
	}
	normalized, err := normalizeJSON(args)
	if err != nil {
		return nil, &Error{Tool: name, Err: fmt.Errorf("%w: %v", ErrInvalidArguments, err)}
	}
	if e.schema != nil {
		if err := e.schema.Validate(normalized); err != nil {
			return nil, &Error{Tool: name, Err: fmt.Errorf("%w: %v", ErrInvalidArguments, err)}
		}
	}
	argMap, _ := normalized.(map[string]any)

	result, err := e.tool.Execute(ctx, argMap)
	if err != nil {
		return nil, &Error{Tool: name, Err: err}
	}

	value, err := normalizeJSON(result)
	if err != nil {
		return nil, &Error{Tool: name, Err: fmt.Errorf("%w: %v", ErrInvalidResult, err)}
	}
	return value, nil
}

func compileSchema(name string, schema json.RawMessage) (*jsonschema.Schema, error) {
	if len(schema) == 0 {
		return nil, nil
	}
	compiled, err := jsonschema.CompileString("tool_"+name+".schema.json", string(schema))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return compiled, nil
}

// normalizeJSON round-trips v through encoding/json so validators and the trace
// artifact see exactly what the wire will carry.
func normalizeJSON(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
