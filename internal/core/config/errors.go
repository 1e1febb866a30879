package config

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrUnknownEnvironment is returned for an environment outside the known set.
	ErrUnknownEnvironment = errors.New("unknown environment")

	// ErrUnknownProvider is returned for a CLOUD_PROVIDER outside the known set.
	ErrUnknownProvider = errors.New("unknown cloud provider")

	// ErrMissingSecret is returned when a required secret variable is unset.
	ErrMissingSecret = errors.New("required secret variable not set")
)

// ConfigError wraps resolution failures with the offending field.
// It is always produced before any external call is made.
type ConfigError struct {
	Field   string // Input field or variable name(s) that failed
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config: %s", e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string, err error) *ConfigError {
	return &ConfigError{
		Field:   field,
		Message: message,
		Err:     err,
	}
}
