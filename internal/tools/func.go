package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// FuncTool adapts a typed Go function into a Tool. The argument schema is
// reflected from the argument struct, so `json` and `jsonschema` struct tags
// control parameter names, descriptions and which fields are required.
type FuncTool[A, R any] struct {
	name        string
	description string
	schema      json.RawMessage
	fn          func(ctx context.Context, args A) (R, error)
}

// NewFunc builds a FuncTool. A must be a struct type.
func NewFunc[A, R any](name, description string, fn func(ctx context.Context, args A) (R, error)) (*FuncTool[A, R], error) {
	if fn == nil {
		return nil, fmt.Errorf("tool %s: nil function", name)
	}
	reflector := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	var zero A
	schema := reflector.Reflect(&zero)
	// The model-side schema dialect has no notion of $schema/$id.
	schema.Version = ""
	schema.ID = ""
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("tool %s: reflect schema: %w", name, err)
	}
	return &FuncTool[A, R]{
		name:        name,
		description: description,
		schema:      raw,
		fn:          fn,
	}, nil
}

// MustFunc is NewFunc that panics on error.
func MustFunc[A, R any](name, description string, fn func(ctx context.Context, args A) (R, error)) *FuncTool[A, R] {
	t, err := NewFunc(name, description, fn)
	if err != nil {
		panic(err)
	}
	return t
}

// Name returns the tool name.
func (t *FuncTool[A, R]) Name() string { return t.name }

// Description returns the tool description.
func (t *FuncTool[A, R]) Description() string { return t.description }

// Schema returns the reflected argument schema.
func (t *FuncTool[A, R]) Schema() json.RawMessage { return t.schema }

// Execute decodes args into A and calls the wrapped function.
func (t *FuncTool[A, R]) Execute(ctx context.Context, args map[string]any) (any, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	var typed A
	if err := json.Unmarshal(data, &typed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return t.fn(ctx, typed)
}
