package probe

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/daas8085/dashdeploy/internal/shell/engine"
)

// =============================================================================
// HTTP target
// =============================================================================

// HTTPTarget is ready when a GET against URL answers with a 2xx or 3xx
// status. Connection errors and server errors are retried: during startup
// the port may not be bound yet, or the app may answer 503 while warming up.
type HTTPTarget struct {
	Name   string
	URL    string
	Client *http.Client
}

func (t *HTTPTarget) Describe() string {
	if t.Name != "" {
		return fmt.Sprintf("%s (%s)", t.Name, t.URL)
	}
	return t.URL
}

func (t *HTTPTarget) Check(ctx context.Context) error {
	client := t.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL, nil)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", t.URL, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return nil
	}
	return fmt.Errorf("%w: status %d", ErrNotReady, resp.StatusCode)
}

// =============================================================================
// Rollout target
// =============================================================================

// ReplicaCounter reports how many replicas of a deployment are ready versus
// desired.
type ReplicaCounter func(ctx context.Context) (ready, desired int, err error)

// RolloutTarget is ready when a deployment's ready replicas have caught up
// with its desired count. Query failures are retried: the object may not be
// visible yet right after apply.
type RolloutTarget struct {
	Deployment string
	Query      ReplicaCounter
}

func (t *RolloutTarget) Describe() string {
	return fmt.Sprintf("deployment %s rollout", t.Deployment)
}

func (t *RolloutTarget) Check(ctx context.Context) error {
	ready, desired, err := t.Query(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	if desired == 0 {
		return fmt.Errorf("%w: deployment %s reports no desired replicas yet", ErrNotReady, t.Deployment)
	}
	if ready < desired {
		return fmt.Errorf("%w: %d/%d replicas ready", ErrNotReady, ready, desired)
	}
	return nil
}

// =============================================================================
// Container target
// =============================================================================

// ContainerInspector is the slice of the engine client the container target
// needs.
type ContainerInspector interface {
	InspectContainer(ctx context.Context, containerID string) (*engine.ContainerInfo, error)
}

// ContainerTarget is ready when the container is running and, if it defines
// a healthcheck, reports healthy. An unhealthy or exited container is a
// terminal failure: retrying cannot fix it within this release.
type ContainerTarget struct {
	Engine      ContainerInspector
	Service     string
	ContainerID string
}

func (t *ContainerTarget) Describe() string {
	return fmt.Sprintf("container %s", t.Service)
}

func (t *ContainerTarget) Check(ctx context.Context) error {
	info, err := t.Engine.InspectContainer(ctx, t.ContainerID)
	if err != nil {
		return fmt.Errorf("inspect container %s: %w", t.Service, err)
	}

	switch info.Status {
	case engine.ContainerStatusRunning:
		// Running is not enough when a healthcheck is defined.
	case engine.ContainerStatusCreated, engine.ContainerStatusRestarting:
		return fmt.Errorf("%w: container %s is %s", ErrNotReady, t.Service, info.Status)
	default:
		return fmt.Errorf("container %s is %s and will not recover", t.Service, info.Status)
	}

	switch info.Health {
	case "", engine.HealthHealthy:
		return nil
	case engine.HealthStarting:
		return fmt.Errorf("%w: container %s health is starting", ErrNotReady, t.Service)
	default:
		return fmt.Errorf("container %s is %s", t.Service, info.Health)
	}
}
