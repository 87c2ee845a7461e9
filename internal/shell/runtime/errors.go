package runtime

import (
	"errors"
	"fmt"
)

// =============================================================================
// Runtime Errors
// =============================================================================

var (
	// ErrConnectionFailed is returned when the Docker daemon is unreachable.
	ErrConnectionFailed = errors.New("docker connection failed")

	// ErrContainerNotFound is returned when a container does not exist.
	ErrContainerNotFound = errors.New("container not found")

	// ErrNetworkNotFound is returned when a network does not exist.
	ErrNetworkNotFound = errors.New("network not found")

	// ErrImageNotFound is returned when an image cannot be resolved.
	ErrImageNotFound = errors.New("image not found")

	// ErrImagePullFailed is returned when an image pull fails.
	ErrImagePullFailed = errors.New("image pull failed")

	// ErrPortAlreadyAllocated is returned when a host port is taken.
	ErrPortAlreadyAllocated = errors.New("host port already allocated")

	// ErrStackNotLaunchable is returned when a stack is in a status that
	// does not allow launching.
	ErrStackNotLaunchable = errors.New("stack cannot be launched from its current status")

	// ErrStackNotStoppable is returned when a stack is in a status that
	// does not allow stopping.
	ErrStackNotStoppable = errors.New("stack cannot be stopped from its current status")
)

// RuntimeError wraps errors with operation context.
type RuntimeError struct {
	Op      string // Operation that failed (e.g., "CreateContainer")
	Kind    string // Object kind (e.g., "container", "network")
	Name    string // Object name or ID if applicable
	Message string
	Err     error
}

func (e *RuntimeError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s %s %s: %s", e.Op, e.Kind, e.Name, e.Message)
	}
	if e.Kind != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// NewRuntimeError creates a new RuntimeError.
func NewRuntimeError(op, kind, name, message string, err error) *RuntimeError {
	return &RuntimeError{
		Op:      op,
		Kind:    kind,
		Name:    name,
		Message: message,
		Err:     err,
	}
}
