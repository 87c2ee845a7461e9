package engine

import "errors"

// =============================================================================
// Engine Errors
// =============================================================================

var (
	// ErrDefinitionNotFound is returned when a workflow definition does
	// not exist in the namespace.
	ErrDefinitionNotFound = errors.New("workflow definition not found")

	// ErrExecutionNotFound is returned when no execution matches the ID.
	ErrExecutionNotFound = errors.New("workflow execution not found")

	// ErrExecutionClosed is returned for operations against an execution
	// that already reached a terminal status.
	ErrExecutionClosed = errors.New("workflow execution is closed")

	// ErrUnknownTaskToken is returned when no task matches the token.
	ErrUnknownTaskToken = errors.New("unknown task token")

	// ErrStaleTaskToken is returned when a completion arrives for a task
	// attempt that is no longer current, typically after the reaper
	// reclaimed the lease and a retry was issued.
	ErrStaleTaskToken = errors.New("task token is no longer current")
)
