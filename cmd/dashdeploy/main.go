package main

import (
	"errors"
	"fmt"
	"os"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess      = 0
	ExitConfigError  = 1
	ExitStoreError   = 2
	ExitEngineError  = 3
	ExitDeployFailed = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := rootCmd.Execute(); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			if exitErr.Err != nil {
				fmt.Fprintf(os.Stderr, "dashdeploy: %v\n", exitErr.Err)
			}
			return exitErr.Code
		}
		// Usage errors from cobra (unknown command, bad flags).
		fmt.Fprintf(os.Stderr, "dashdeploy: %v\n", err)
		return ExitConfigError
	}
	return ExitSuccess
}

// =============================================================================
// Exit Error
// =============================================================================

// exitError carries a process exit code out through cobra's error return.
type exitError struct {
	Code int
	Err  error
}

func (e *exitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit code %d", e.Code)
	}
	return e.Err.Error()
}

func (e *exitError) Unwrap() error {
	return e.Err
}
