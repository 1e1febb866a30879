package kubectl

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Errors
// =============================================================================

// ErrTimedOut means an invocation hit its per-command timeout.
var ErrTimedOut = errors.New("command timed out")

// CommandError describes a failed kubectl or minikube invocation. Args are
// stored in redacted form so the error is safe to log.
type CommandError struct {
	Op       string
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	cmd := strings.Join(e.Args, " ")
	if e.Stderr != "" {
		return fmt.Sprintf("%s: %s (exit %d): %s", e.Op, cmd, e.ExitCode, e.Stderr)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, cmd, e.Err)
	}
	return fmt.Sprintf("%s: %s (exit %d)", e.Op, cmd, e.ExitCode)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// NewCommandError creates a new command error.
func NewCommandError(op string, args []string, exitCode int, stderr string, err error) *CommandError {
	return &CommandError{
		Op:       op,
		Args:     args,
		ExitCode: exitCode,
		Stderr:   stderr,
		Err:      err,
	}
}
