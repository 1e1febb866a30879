package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Container errors
	ErrContainerNotFound       = errors.New("container not found")
	ErrContainerAlreadyExists  = errors.New("container already exists")
	ErrContainerAlreadyRunning = errors.New("container is already running")
	ErrContainerNotRunning     = errors.New("container is not running")

	// Network errors
	ErrNetworkNotFound      = errors.New("network not found")
	ErrNetworkAlreadyExists = errors.New("network already exists")

	// Volume errors
	ErrVolumeNotFound = errors.New("volume not found")

	// Image errors
	ErrImageNotFound   = errors.New("image not found")
	ErrImagePullFailed = errors.New("image pull failed")
	ErrBuildFailed     = errors.New("image build failed")
	ErrPushFailed      = errors.New("image push failed")

	// Connection errors
	ErrPortAlreadyAllocated = errors.New("port is already allocated")
	ErrConnectionFailed     = errors.New("engine connection failed")
)

// EngineError wraps errors with additional context.
type EngineError struct {
	Op      string // Operation that failed
	Entity  string // Entity type (container, network, volume, image)
	ID      string // Entity ID if applicable
	Message string
	Err     error
}

func (e *EngineError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s %s: %s", e.Op, e.Entity, e.ID, e.Message)
	}
	if e.Entity != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Entity, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewEngineError creates a new EngineError.
func NewEngineError(op, entity, id, message string, err error) *EngineError {
	return &EngineError{
		Op:      op,
		Entity:  entity,
		ID:      id,
		Message: message,
		Err:     err,
	}
}
