package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrToolLoopExceeded indicates the model kept requesting tools past the
	// configured number of rounds.
	ErrToolLoopExceeded = errors.New("tool loop exceeded")

	// ErrNoTextResponse indicates the final model response carried no text.
	ErrNoTextResponse = errors.New("model response has no text")

	// ErrNoModel indicates the orchestrator has no model client.
	ErrNoModel = errors.New("no model client configured")
)

// RunError annotates a failed run with the state it failed in.
type RunError struct {
	State State
	Round int
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("agent %s (round %d): %v", e.State, e.Round, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}
