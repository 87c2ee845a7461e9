// Package stack contains pure functions for parsing and validating
// deployment descriptors (compose-style YAML composing pre-built
// container images). This is part of the Functional Core - all
// functions are pure with no I/O.
package stack

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Input validation errors
	ErrEmptyInput = errors.New("stack descriptor is empty")

	// YAML parsing errors
	ErrInvalidYAML = errors.New("invalid YAML syntax")

	// Descriptor structure errors
	ErrNoServices = errors.New("descriptor must define at least one service")

	// Service validation errors
	ErrServiceNoImage     = errors.New("service must reference a pre-built image")
	ErrUnpinnedImage      = errors.New("image reference must be pinned to a tag")
	ErrServiceInvalidPort = errors.New("invalid port configuration")
	ErrDuplicateHostPort  = errors.New("host port declared by more than one service")
	ErrUnknownDependency  = errors.New("depends_on references unknown service")
	ErrCircularDependency = errors.New("circular dependency detected")
	ErrConfigNotMounted   = errors.New("dynamic config path has no matching mount")

	// Unsupported feature errors
	ErrUnsupportedFeature = errors.New("unsupported descriptor feature")
)

// ParseError wraps errors with context about where parsing or
// validation failed.
type ParseError struct {
	Field   string // e.g., "services.web.ports[0]"
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewParseError creates a new ParseError.
func NewParseError(field, message string, err error) *ParseError {
	return &ParseError{
		Field:   field,
		Message: message,
		Err:     err,
	}
}
