package tools

import (
	"errors"
	"fmt"
)

var (
	// ErrToolNotFound indicates the requested tool is not registered.
	ErrToolNotFound = errors.New("tool not found")

	// ErrInvalidArguments indicates call arguments failed schema validation.
	ErrInvalidArguments = errors.New("invalid tool arguments")

	// ErrInvalidResult indicates a tool returned a value that is not JSON-serializable.
	ErrInvalidResult = errors.New("tool result is not JSON-serializable")
)

// Error wraps a failure of a single tool invocation with the tool name.
type Error struct {
	Tool string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}
