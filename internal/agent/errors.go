package agent

import (
	"context"
	"errors"
	"fmt"
)

// Common sentinel errors for orchestrator runs.
var (
	// ErrNoModelClient indicates the orchestrator was built without a model client.
	ErrNoModelClient = errors.New("no model client configured")

	// ErrEmptyMessage indicates the user message was blank.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrMissingUser indicates the run had no user ID.
	ErrMissingUser = errors.New("user ID is required")
)

// RunPhase names a distinct phase of a run's lifecycle.
type RunPhase string

const (
	PhaseInit      RunPhase = "init"
	PhaseHistory   RunPhase = "history"
	PhaseModelCall RunPhase = "model_call"
	PhaseToolRound RunPhase = "tool_round"
	PhaseFinalize  RunPhase = "finalize"
)

// RunError represents a failure during a run with the phase and round it
// occurred in.
type RunError struct {
	Phase RunPhase
	Round int
	Cause error
}

// Error implements the error interface.
func (e *RunError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("run failed at %s (round %d)", e.Phase, e.Round)
	}
	return fmt.Sprintf("run failed at %s (round %d): %v", e.Phase, e.Round, e.Cause)
}

const (
	genericFailureMessage   = "Something went wrong. Please try again."
	modelUnavailableMessage = "The assistant is unavailable right now. Please try again in a moment."
)

// ClientMessage is the text shown to end users. It omits the cause, which
// can carry provider status codes, model names and request IDs.
func (e *RunError) ClientMessage() string {
	if e.Phase == PhaseModelCall {
		return modelUnavailableMessage
	}
	return genericFailureMessage
}

// Unwrap returns the underlying error.
func (e *RunError) Unwrap() error {
	return e.Cause
}

// isCancellation reports whether err is the run's own cancellation surfacing
// through a model call rather than a provider failure.
func isCancellation(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, context.Canceled)
}
