// Package e2e provides end-to-end testing utilities for dashdeploy.
package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/daas8085/dashdeploy/internal/shell/engine"
)

// =============================================================================
// Test Helpers
// =============================================================================

// findService returns the status entry for one service.
func findService(statuses []engine.ServiceStatus, service string) (engine.ServiceStatus, bool) {
	for _, s := range statuses {
		if s.Service == service {
			return s, true
		}
	}
	return engine.ServiceStatus{}, false
}

// waitForHealthy polls the container until its healthcheck passes or the
// timeout expires. Containers without a healthcheck pass once running.
func waitForHealthy(t *testing.T, ctx context.Context, service, containerID string, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		info, err := testEngine.InspectContainer(ctx, containerID)
		if err != nil {
			t.Fatalf("inspect %s: %v", service, err)
		}

		if info.Status == engine.ContainerStatusRunning &&
			(info.Health == "" || info.Health == engine.HealthHealthy) {
			return
		}
		if info.Status == engine.ContainerStatusExited || info.Status == engine.ContainerStatusDead {
			t.Fatalf("container %s is %s and will not recover", service, info.Status)
		}

		if time.Now().After(deadline) {
			t.Fatalf("container %s not healthy after %s (status=%s health=%s)",
				service, timeout, info.Status, info.Health)
		}

		select {
		case <-ctx.Done():
			t.Fatalf("context cancelled waiting for %s: %v", service, ctx.Err())
		case <-time.After(2 * time.Second):
		}
	}
}
