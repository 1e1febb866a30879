// Package pipeline provides the ordered, fail-fast deployment step runner.
// The runner is a reducer over a declared step list: it owns ordering and
// halting, never the steps' internals. Side effects live inside the step
// actions, which the shell wires up; this package performs no I/O itself.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// Outcomes
// =============================================================================

// Outcome is the terminal state of a single step execution.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// =============================================================================
// Steps
// =============================================================================

// Action executes one unit of deployment work and reports its result.
// Actions that do not apply to the current configuration return a skipped
// result instead of pushing that branching into the runner.
type Action func(ctx context.Context) StepResult

// Step is a stateless, named unit of deployment work.
//
// Advisory steps report failures without halting the pipeline; they cover
// checks on services that are allowed to still be starting when the
// deployment finishes.
type Step struct {
	Name     string
	Advisory bool
	Action   Action
}

// StepResult records the outcome of one step execution.
type StepResult struct {
	Step     string
	Outcome  Outcome
	Advisory bool
	Message  string
	ExitCode int
	Duration time.Duration
}

// Succeeded builds a successful result with the given message.
func Succeeded(message string) StepResult {
	return StepResult{Outcome: OutcomeSucceeded, Message: message}
}

// Skipped builds a skipped result with the reason the step did not apply.
func Skipped(reason string) StepResult {
	return StepResult{Outcome: OutcomeSkipped, Message: reason}
}

// Failed builds a failed result carrying the underlying tool's exit code.
// Use exit code 1 for failures that have no subprocess behind them.
func Failed(message string, exitCode int) StepResult {
	return StepResult{Outcome: OutcomeFailed, Message: message, ExitCode: exitCode}
}

// =============================================================================
// Runner
// =============================================================================

// Run executes steps strictly in declared order.
//
// The first failed result from a non-advisory step halts the run; every
// remaining step is reported skipped without its action being invoked.
// Advisory failures are recorded and the run continues. A cancelled context
// halts the run regardless of the current step's advisory flag.
//
// Run always returns exactly one result per step, in step order.
func Run(ctx context.Context, steps []Step) []StepResult {
	results := make([]StepResult, 0, len(steps))

	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			results = append(results, StepResult{
				Step:     step.Name,
				Outcome:  OutcomeFailed,
				Advisory: step.Advisory,
				Message:  fmt.Sprintf("aborted: %v", err),
				ExitCode: 1,
			})
			return appendHalted(results, steps[i+1:], step.Name)
		}

		started := time.Now()
		result := step.Action(ctx)
		result.Step = step.Name
		result.Advisory = step.Advisory
		result.Duration = time.Since(started)
		results = append(results, result)

		if result.Outcome == OutcomeFailed && !step.Advisory {
			return appendHalted(results, steps[i+1:], step.Name)
		}
	}

	return results
}

// appendHalted marks every remaining step skipped after a halt.
func appendHalted(results []StepResult, remaining []Step, failedStep string) []StepResult {
	for _, step := range remaining {
		results = append(results, StepResult{
			Step:     step.Name,
			Outcome:  OutcomeSkipped,
			Advisory: step.Advisory,
			Message:  fmt.Sprintf("not run: halted after %s failed", failedStep),
		})
	}
	return results
}

// =============================================================================
// Result Inspection
// =============================================================================

// Passed reports whether the run completed without a fatal failure.
// Advisory failures do not fail the run.
func Passed(results []StepResult) bool {
	_, failed := FirstFatal(results)
	return !failed
}

// Summarize renders a run as a plain-text report, one line per step:
// name, outcome, duration, and the step's message when it has one.
// Advisory failures are marked so they read as warnings.
func Summarize(results []StepResult) string {
	var b strings.Builder
	for _, r := range results {
		outcome := string(r.Outcome)
		if r.Outcome == OutcomeFailed && r.Advisory {
			outcome += " (advisory)"
		}

		fmt.Fprintf(&b, "%-18s %-20s %10s", r.Step, outcome, r.Duration.Round(time.Millisecond))
		if r.Message != "" {
			fmt.Fprintf(&b, "  %s", r.Message)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// FirstFatal returns the first non-advisory failed result, if any.
func FirstFatal(results []StepResult) (StepResult, bool) {
	for _, r := range results {
		if r.Outcome == OutcomeFailed && !r.Advisory {
			return r, true
		}
	}
	return StepResult{}, false
}
