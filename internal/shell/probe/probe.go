// Package probe polls deployment targets until they are ready. Targets know
// how to check one thing (an HTTP health endpoint, a container's health
// state); the prober owns the retry cadence, the deadline, and cancellation.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrNotReady is returned by a target check that should be retried. Any
	// other error from a check is terminal and aborts the wait.
	ErrNotReady = errors.New("target is not ready")

	// ErrTimedOut means the target never became ready within the deadline.
	ErrTimedOut = errors.New("timed out waiting for readiness")
)

// =============================================================================
// Targets
// =============================================================================

// Target is one thing whose readiness can be polled.
type Target interface {
	// Describe names the target for logs and error messages.
	Describe() string

	// Check reports readiness: nil when ready, ErrNotReady (possibly
	// wrapped) when the check should be retried, any other error when the
	// target can no longer become ready.
	Check(ctx context.Context) error
}

// Report summarizes a completed wait.
type Report struct {
	Attempts int
	Elapsed  time.Duration
}

// =============================================================================
// Prober
// =============================================================================

// DefaultInterval is the polling cadence between readiness checks.
const DefaultInterval = 5 * time.Second

// Prober polls targets on a fixed interval until ready, timeout, or
// cancellation.
type Prober struct {
	logger   *slog.Logger
	interval time.Duration
}

// New creates a prober. A zero interval falls back to DefaultInterval.
func New(logger *slog.Logger, interval time.Duration) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Prober{logger: logger, interval: interval}
}

// Await polls the target until it is ready or the timeout elapses. The first
// check runs immediately so targets that are already up return without
// waiting a full interval. Cancelling the context stops the wait between
// checks.
func (p *Prober) Await(ctx context.Context, target Target, timeout time.Duration) (Report, error) {
	start := time.Now()
	deadline := start.Add(timeout)

	p.logger.Info("waiting for readiness",
		"target", target.Describe(),
		"timeout", timeout,
	)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var report Report
	for {
		report.Attempts++
		err := target.Check(ctx)
		report.Elapsed = time.Since(start)

		if err == nil {
			p.logger.Info("target ready",
				"target", target.Describe(),
				"attempts", report.Attempts,
				"elapsed", report.Elapsed,
			)
			return report, nil
		}
		if !errors.Is(err, ErrNotReady) {
			return report, err
		}
		if time.Now().After(deadline) {
			return report, fmt.Errorf("%s after %d attempts: %w", target.Describe(), report.Attempts, ErrTimedOut)
		}

		p.logger.Debug("target not ready, waiting",
			"target", target.Describe(),
			"attempt", report.Attempts,
			"error", err,
		)

		select {
		case <-ctx.Done():
			report.Elapsed = time.Since(start)
			return report, ctx.Err()
		case <-ticker.C:
		}
	}
}
