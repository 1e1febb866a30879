// Package stack contains pure functions for parsing and ordering the
// dashboard service stack. All functions here are side-effect free; the
// shell's container engine consumes the parsed model.
package stack

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	ErrEmptyInput = errors.New("stack definition is empty")

	ErrInvalidYAML = errors.New("invalid YAML syntax")

	ErrNoServices = errors.New("stack must define at least one service")

	ErrServiceNoImage     = errors.New("service must have image or build")
	ErrServiceInvalidPort = errors.New("invalid port configuration")
	ErrCircularDependency = errors.New("circular dependency detected")
	ErrUnknownService     = errors.New("unknown service")

	ErrUnsupportedFeature = errors.New("unsupported compose feature")
)

// ParseError wraps errors with context about where parsing failed.
type ParseError struct {
	Field   string // e.g., "services.dashboard.ports[0]"
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
