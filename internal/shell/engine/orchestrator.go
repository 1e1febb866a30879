package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/daas8085/dashdeploy/internal/core/stack"
)

// =============================================================================
// Orchestrator - Manages the Stack Lifecycle
// =============================================================================

// Orchestrator boots and tears down the dashboard stack on the local engine.
// Deploys are replace-based: a container created by an earlier deploy is
// stopped and removed before its service comes up again, so a new image tag
// always takes effect.
type Orchestrator struct {
	engine  Client
	logger  *slog.Logger
	workDir string // base for relative bind mount sources
}

// NewOrchestrator creates a new orchestrator. workDir anchors relative bind
// mounts from the stack file; empty means the current directory.
func NewOrchestrator(engine Client, logger *slog.Logger, workDir string) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if workDir == "" {
		workDir = "."
	}
	return &Orchestrator{
		engine:  engine,
		logger:  logger,
		workDir: workDir,
	}
}

// ServiceStatus describes one stack service after a deploy.
type ServiceStatus struct {
	Service     string
	ContainerID string
	Status      ContainerStatus
	Health      string
	Ports       []PortBinding
}

// =============================================================================
// Stack Up
// =============================================================================

// Up boots every service of the stack in dependency order. Existing stack
// containers are replaced; the network and named volumes are reused when
// they already exist.
func (o *Orchestrator) Up(ctx context.Context, st *stack.Stack) ([]ServiceStatus, error) {
	o.logger.Info("deploying stack",
		"services", len(st.Services),
		"volumes", len(st.Volumes),
	)

	networkName := stack.NetworkName()
	if err := o.ensureNetwork(ctx, networkName); err != nil {
		return nil, fmt.Errorf("failed to create network: %w", err)
	}
	o.logger.Debug("network ready", "network", networkName)

	for _, vol := range st.Volumes {
		volumeName := stack.VolumeName(vol.Name)
		if _, err := o.engine.CreateVolume(ctx, VolumeSpec{
			Name:   volumeName,
			Driver: vol.Driver,
			Labels: stackLabels(""),
		}); err != nil {
			return nil, fmt.Errorf("failed to create volume %s: %w", vol.Name, err)
		}
		o.logger.Debug("volume ready", "volume", volumeName)
	}

	// Pull registry images up front; locally built images are already loaded.
	for _, svc := range st.Services {
		if svc.Build != nil || svc.Image == "" {
			continue
		}
		exists, _ := o.engine.ImageExists(ctx, svc.Image)
		if !exists {
			o.logger.Info("pulling image", "image", svc.Image)
			if err := o.engine.PullImage(ctx, svc.Image); err != nil {
				return nil, fmt.Errorf("failed to pull image %s: %w", svc.Image, err)
			}
		}
	}

	existing, err := o.listStackContainers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list stack containers: %w", err)
	}
	existingByService := make(map[string]ContainerInfo)
	for _, c := range existing {
		if svc, ok := c.Labels[LabelService]; ok {
			existingByService[svc] = c
		}
	}

	var statuses []ServiceStatus
	for _, svc := range stack.TopologicalSort(st.Services) {
		if old, found := existingByService[svc.Name]; found {
			if err := o.replaceContainer(ctx, svc.Name, old); err != nil {
				return nil, err
			}
		}

		spec := o.buildContainerSpec(svc, networkName)
		containerID, err := o.engine.CreateContainer(ctx, spec)
		if err != nil {
			return nil, fmt.Errorf("failed to create container for %s: %w", svc.Name, err)
		}
		o.logger.Debug("created container", "service", svc.Name, "container_id", shortID(containerID))

		if err := o.engine.StartContainer(ctx, containerID); err != nil {
			return nil, fmt.Errorf("failed to start container for %s: %w", svc.Name, err)
		}
		o.logger.Debug("started container", "service", svc.Name, "container_id", shortID(containerID))

		info, err := o.engine.InspectContainer(ctx, containerID)
		if err != nil {
			return nil, fmt.Errorf("failed to inspect container for %s: %w", svc.Name, err)
		}

		statuses = append(statuses, ServiceStatus{
			Service:     svc.Name,
			ContainerID: info.ID,
			Status:      info.Status,
			Health:      info.Health,
			Ports:       info.Ports,
		})
	}

	o.logger.Info("stack deployed", "containers", len(statuses))
	return statuses, nil
}

// =============================================================================
// Stack Down
// =============================================================================

// Down stops and removes every stack container and the stack network. Named
// volumes are kept so the databases survive a teardown.
func (o *Orchestrator) Down(ctx context.Context) error {
	o.logger.Info("tearing down stack")

	containers, err := o.listStackContainers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list stack containers: %w", err)
	}

	timeout := 10 * time.Second
	for _, c := range containers {
		if c.Status == ContainerStatusRunning {
			if err := o.engine.StopContainer(ctx, c.ID, &timeout); err != nil {
				o.logger.Warn("failed to stop container", "container_id", shortID(c.ID), "error", err)
			}
		}
		if err := o.engine.RemoveContainer(ctx, c.ID, RemoveOptions{Force: true}); err != nil {
			o.logger.Warn("failed to remove container", "container_id", shortID(c.ID), "error", err)
		} else {
			o.logger.Debug("removed container", "container_id", shortID(c.ID))
		}
	}

	if err := o.engine.RemoveNetwork(ctx, stack.NetworkName()); err != nil {
		o.logger.Warn("failed to remove network", "network", stack.NetworkName(), "error", err)
	}

	o.logger.Info("stack removed", "containers_removed", len(containers))
	return nil
}

// =============================================================================
// Stack Status
// =============================================================================

// Status reports the current state of every stack container.
func (o *Orchestrator) Status(ctx context.Context) ([]ServiceStatus, error) {
	containers, err := o.listStackContainers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list stack containers: %w", err)
	}

	var statuses []ServiceStatus
	for _, c := range containers {
		service := c.Labels[LabelService]
		if service == "" {
			// Fall back to the name suffix for containers predating labels.
			service = strings.TrimPrefix(c.Name, stack.Project+"_")
		}
		statuses = append(statuses, ServiceStatus{
			Service:     service,
			ContainerID: c.ID,
			Status:      c.Status,
			Health:      c.Health,
			Ports:       c.Ports,
		})
	}
	return statuses, nil
}

// =============================================================================
// Helper Methods
// =============================================================================

// ensureNetwork creates the stack network, reusing one that already exists.
func (o *Orchestrator) ensureNetwork(ctx context.Context, name string) error {
	_, err := o.engine.CreateNetwork(ctx, NetworkSpec{
		Name:   name,
		Driver: "bridge",
		Labels: stackLabels(""),
	})
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			o.logger.Debug("network already exists, reusing", "network", name)
			return nil
		}
		return err
	}
	return nil
}

// replaceContainer stops and removes a container left by an earlier deploy.
func (o *Orchestrator) replaceContainer(ctx context.Context, service string, old ContainerInfo) error {
	o.logger.Debug("replacing container", "service", service, "container_id", shortID(old.ID))

	timeout := 10 * time.Second
	if old.Status == ContainerStatusRunning {
		if err := o.engine.StopContainer(ctx, old.ID, &timeout); err != nil {
			if !strings.Contains(err.Error(), "is not running") {
				return fmt.Errorf("failed to stop old container for %s: %w", service, err)
			}
		}
	}
	if err := o.engine.RemoveContainer(ctx, old.ID, RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("failed to remove old container for %s: %w", service, err)
	}
	return nil
}

// listStackContainers lists every container labelled as part of the stack.
func (o *Orchestrator) listStackContainers(ctx context.Context) ([]ContainerInfo, error) {
	return o.engine.ListContainers(ctx, ListOptions{
		All: true,
		Filters: map[string]string{
			"label": fmt.Sprintf("%s=%s", LabelStack, stack.Project),
		},
	})
}

// buildContainerSpec builds a ContainerSpec from a stack service.
func (o *Orchestrator) buildContainerSpec(svc stack.Service, networkName string) ContainerSpec {
	spec := ContainerSpec{
		Name:       stack.ContainerName(svc.Name),
		Image:      svc.Image,
		Command:    svc.Command,
		Entrypoint: svc.Entrypoint,
		Env:        make(map[string]string),
		Labels:     stackLabels(svc.Name),
		Networks:   []string{networkName},
		NetworkAliases: map[string][]string{
			// The compose file references services by name (postgres:5432),
			// so each container needs its service name as a network alias.
			networkName: {svc.Name},
		},
	}

	for k, v := range svc.Environment {
		spec.Env[k] = v
	}

	for _, p := range svc.Ports {
		spec.Ports = append(spec.Ports, PortBinding{
			ContainerPort: int(p.Target),
			HostPort:      int(p.Published),
			Protocol:      p.Protocol,
			HostIP:        p.HostIP,
		})
	}

	for _, v := range svc.Volumes {
		source := v.Source
		if v.Type == stack.VolumeMountTypeVolume {
			source = stack.VolumeName(v.Source)
		} else if !filepath.IsAbs(source) {
			// Bind mounts must be absolute for the engine.
			source = filepath.Join(o.workDir, source)
			if abs, err := filepath.Abs(source); err == nil {
				source = abs
			}
		}
		spec.Mounts = append(spec.Mounts, Mount{
			Source:   source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		})
	}

	if svc.HealthCheck != nil {
		spec.HealthCheck = &HealthCheck{
			Test:    svc.HealthCheck.Test,
			Retries: svc.HealthCheck.Retries,
		}
		if d, err := time.ParseDuration(svc.HealthCheck.Interval); err == nil {
			spec.HealthCheck.Interval = d
		}
		if d, err := time.ParseDuration(svc.HealthCheck.Timeout); err == nil {
			spec.HealthCheck.Timeout = d
		}
		if d, err := time.ParseDuration(svc.HealthCheck.StartPeriod); err == nil {
			spec.HealthCheck.StartPeriod = d
		}
	}

	switch svc.Restart {
	case stack.RestartAlways:
		spec.RestartPolicy = RestartPolicy{Name: "always"}
	case stack.RestartOnFailure:
		spec.RestartPolicy = RestartPolicy{Name: "on-failure"}
	case stack.RestartUnlessStopped:
		spec.RestartPolicy = RestartPolicy{Name: "unless-stopped"}
	default:
		spec.RestartPolicy = RestartPolicy{Name: "no"}
	}

	return spec
}

// stackLabels returns the labels every stack resource carries. service is
// empty for networks and volumes.
func stackLabels(service string) map[string]string {
	labels := map[string]string{
		LabelManaged: "true",
		LabelStack:   stack.Project,
	}
	if service != "" {
		labels[LabelService] = service
	}
	return labels
}

// shortID trims a container ID for logging.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
