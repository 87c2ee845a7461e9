package flowdef

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	ErrEmptyDefinition    = errors.New("definition has no steps")
	ErrNoWorkflowBlock    = errors.New("source must contain exactly one workflow block")
	ErrDuplicateStep      = errors.New("duplicate step name")
	ErrUnknownDependency  = errors.New("depends_on references unknown step")
	ErrSelfDependency     = errors.New("step depends on itself")
	ErrCircularDependency = errors.New("circular dependency between steps")
	ErrInvalidDuration    = errors.New("invalid duration value")
	ErrMissingActivity    = errors.New("step must declare an activity")
)

// DefinitionError wraps a definition error with the step it concerns.
type DefinitionError struct {
	Step    string
	Message string
	Err     error
}

func (e *DefinitionError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("step %q: %s", e.Step, e.Message)
	}
	return e.Message
}

func (e *DefinitionError) Unwrap() error {
	return e.Err
}

// NewDefinitionError creates a DefinitionError.
func NewDefinitionError(step, message string, err error) *DefinitionError {
	return &DefinitionError{Step: step, Message: message, Err: err}
}
