// Package engine drives the local container engine for development deploys:
// building the dashboard image, pushing it to the registry, and booting the
// compose stack container by container.
package engine

import (
	"context"
	"time"
)

// =============================================================================
// Container Types
// =============================================================================

// ContainerSpec defines the specification for creating a container.
type ContainerSpec struct {
	Name           string
	Image          string
	Command        []string
	Entrypoint     []string
	Env            map[string]string
	Labels         map[string]string
	Ports          []PortBinding
	Mounts         []Mount
	Networks       []string
	NetworkAliases map[string][]string // network name → aliases (service name for DNS)
	RestartPolicy  RestartPolicy
	HealthCheck    *HealthCheck
}

// PortBinding defines a port mapping.
type PortBinding struct {
	ContainerPort int
	HostPort      int    // 0 for auto-assign
	Protocol      string // "tcp" or "udp"
	HostIP        string // "" for 0.0.0.0
}

// Mount defines a volume or bind mount.
type Mount struct {
	Source   string // Volume name or absolute host path
	Target   string // Container path
	ReadOnly bool
}

// RestartPolicy defines the container restart policy.
type RestartPolicy struct {
	Name              string // "no", "always", "on-failure", "unless-stopped"
	MaximumRetryCount int
}

// HealthCheck defines container health check configuration.
type HealthCheck struct {
	Test        []string
	Interval    time.Duration
	Timeout     time.Duration
	Retries     int
	StartPeriod time.Duration
}

// =============================================================================
// Container Info
// =============================================================================

// ContainerStatus represents the container status.
type ContainerStatus string

const (
	ContainerStatusCreated    ContainerStatus = "created"
	ContainerStatusRunning    ContainerStatus = "running"
	ContainerStatusPaused     ContainerStatus = "paused"
	ContainerStatusRestarting ContainerStatus = "restarting"
	ContainerStatusRemoving   ContainerStatus = "removing"
	ContainerStatusExited     ContainerStatus = "exited"
	ContainerStatusDead       ContainerStatus = "dead"
)

// Health states reported by the engine for containers with health checks.
const (
	HealthStarting  = "starting"
	HealthHealthy   = "healthy"
	HealthUnhealthy = "unhealthy"
)

// ContainerInfo contains information about a container.
type ContainerInfo struct {
	ID         string
	Name       string
	Image      string
	Status     ContainerStatus
	Health     string // "healthy", "unhealthy", "starting", ""
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
	Ports      []PortBinding
	Labels     map[string]string
	ExitCode   int
}

// =============================================================================
// Network and Volume Types
// =============================================================================

// NetworkSpec defines the specification for creating a network.
type NetworkSpec struct {
	Name   string
	Driver string // "bridge" when empty
	Labels map[string]string
}

// VolumeSpec defines the specification for creating a volume.
type VolumeSpec struct {
	Name   string
	Driver string
	Labels map[string]string
}

// =============================================================================
// Options
// =============================================================================

// RemoveOptions defines options for removing containers.
type RemoveOptions struct {
	Force         bool
	RemoveVolumes bool
}

// ListOptions defines options for listing containers.
type ListOptions struct {
	All     bool              // Include stopped containers
	Filters map[string]string // e.g., {"label": "com.dashdeploy.stack=dashdeploy"}
}

// BuildOptions defines options for building an image.
type BuildOptions struct {
	ContextDir string   // Build context directory on the host
	Dockerfile string   // Relative to the context; "Dockerfile" when empty
	Tags       []string // Image references to tag the result with
	Labels     map[string]string
	NoCache    bool
}

// BuildResult is the outcome of an image build.
type BuildResult struct {
	ID     string // Image ID reported by the daemon
	Output string // Collected build log
}

// RegistryAuth carries registry credentials for pushes. Zero value means
// anonymous.
type RegistryAuth struct {
	Username string
	Password string
}

// PushResult is the outcome of an image push.
type PushResult struct {
	Digest string // Manifest digest when the registry reports one
	Output string // Collected push log
}

// =============================================================================
// Client Interface
// =============================================================================

// Client defines the container engine interface. The concrete implementation
// talks to the Docker daemon; tests supply fakes.
type Client interface {
	// Container operations
	CreateContainer(ctx context.Context, spec ContainerSpec) (containerID string, err error)
	StartContainer(ctx context.Context, containerID string) error
	StopContainer(ctx context.Context, containerID string, timeout *time.Duration) error
	RemoveContainer(ctx context.Context, containerID string, opts RemoveOptions) error
	InspectContainer(ctx context.Context, containerID string) (*ContainerInfo, error)
	ListContainers(ctx context.Context, opts ListOptions) ([]ContainerInfo, error)

	// Network operations
	CreateNetwork(ctx context.Context, spec NetworkSpec) (networkID string, err error)
	RemoveNetwork(ctx context.Context, networkID string) error

	// Volume operations
	CreateVolume(ctx context.Context, spec VolumeSpec) (volumeName string, err error)

	// Image operations
	BuildImage(ctx context.Context, opts BuildOptions) (*BuildResult, error)
	PushImage(ctx context.Context, ref string, auth RegistryAuth) (*PushResult, error)
	TagImage(ctx context.Context, source, target string) error
	PullImage(ctx context.Context, ref string) error
	ImageExists(ctx context.Context, ref string) (bool, error)

	// Health operations
	Ping(ctx context.Context) error
	Close() error
}

// =============================================================================
// Label Constants
// =============================================================================

const (
	LabelManaged = "com.dashdeploy.managed"
	LabelStack   = "com.dashdeploy.stack"
	LabelService = "com.dashdeploy.service"
)
