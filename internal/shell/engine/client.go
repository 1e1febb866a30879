package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/go-connections/nat"
	"github.com/moby/go-archive"
)

// =============================================================================
// Docker Client Implementation
// =============================================================================

// Docker implements the Client interface using the Docker SDK.
type Docker struct {
	cli *client.Client
}

// NewDocker creates a new engine client. If host is empty, the default
// Docker host from the environment is used. On macOS with Docker Desktop the
// user socket is tried when the default one does not answer.
func NewDocker(host string) (*Docker, error) {
	var opts []client.Opt
	opts = append(opts, client.FromEnv)
	opts = append(opts, client.WithAPIVersionNegotiation())

	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, NewEngineError("NewDocker", "", "", "failed to create client", ErrConnectionFailed)
	}

	ctx := context.Background()
	if _, pingErr := cli.Ping(ctx); pingErr != nil {
		homeDir, _ := os.UserHomeDir()
		desktopSocket := "unix://" + homeDir + "/.docker/run/docker.sock"

		cli2, err2 := client.NewClientWithOpts(
			client.WithHost(desktopSocket),
			client.WithAPIVersionNegotiation(),
		)
		if err2 == nil {
			if _, pingErr2 := cli2.Ping(ctx); pingErr2 == nil {
				cli.Close()
				return &Docker{cli: cli2}, nil
			}
			cli2.Close()
		}
	}

	return &Docker{cli: cli}, nil
}

// Ping checks if the engine daemon is reachable.
func (d *Docker) Ping(ctx context.Context) error {
	_, err := d.cli.Ping(ctx)
	if err != nil {
		return NewEngineError("Ping", "", "", fmt.Sprintf("failed to ping engine: %v", err), ErrConnectionFailed)
	}
	return nil
}

// Close closes the engine client connection.
func (d *Docker) Close() error {
	return d.cli.Close()
}

// =============================================================================
// Container Operations
// =============================================================================

// CreateContainer creates a new container from the given spec.
func (d *Docker) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	config := &container.Config{
		Image:      spec.Image,
		Cmd:        spec.Command,
		Entrypoint: spec.Entrypoint,
		Labels:     spec.Labels,
	}

	for k, v := range spec.Env {
		config.Env = append(config.Env, fmt.Sprintf("%s=%s", k, v))
	}

	hostConfig := &container.HostConfig{}

	if len(spec.Ports) > 0 {
		portBindings := nat.PortMap{}
		exposedPorts := nat.PortSet{}

		for _, p := range spec.Ports {
			proto := p.Protocol
			if proto == "" {
				proto = "tcp"
			}
			containerPort := nat.Port(fmt.Sprintf("%d/%s", p.ContainerPort, proto))
			exposedPorts[containerPort] = struct{}{}

			hostPort := ""
			if p.HostPort != 0 {
				hostPort = fmt.Sprintf("%d", p.HostPort)
			}

			portBindings[containerPort] = []nat.PortBinding{
				{
					HostIP:   p.HostIP,
					HostPort: hostPort,
				},
			}
		}

		config.ExposedPorts = exposedPorts
		hostConfig.PortBindings = portBindings
	}

	for _, m := range spec.Mounts {
		mountType := mount.TypeVolume
		if strings.HasPrefix(m.Source, "/") {
			mountType = mount.TypeBind
		}
		hostConfig.Mounts = append(hostConfig.Mounts, mount.Mount{
			Type:     mountType,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	if spec.RestartPolicy.Name != "" {
		hostConfig.RestartPolicy = container.RestartPolicy{
			Name:              container.RestartPolicyMode(spec.RestartPolicy.Name),
			MaximumRetryCount: spec.RestartPolicy.MaximumRetryCount,
		}
	}

	if spec.HealthCheck != nil {
		config.Healthcheck = &container.HealthConfig{
			Test:        spec.HealthCheck.Test,
			Interval:    spec.HealthCheck.Interval,
			Timeout:     spec.HealthCheck.Timeout,
			Retries:     spec.HealthCheck.Retries,
			StartPeriod: spec.HealthCheck.StartPeriod,
		}
	}

	var networkConfig *network.NetworkingConfig
	if len(spec.Networks) > 0 {
		networkConfig = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{},
		}
		for _, n := range spec.Networks {
			networkConfig.EndpointsConfig[n] = &network.EndpointSettings{
				Aliases: spec.NetworkAliases[n],
			}
		}
	}

	resp, err := d.cli.ContainerCreate(ctx, config, hostConfig, networkConfig, nil, spec.Name)
	if err != nil {
		if strings.Contains(err.Error(), "Conflict") {
			return "", NewEngineError("CreateContainer", "container", spec.Name, "container already exists", ErrContainerAlreadyExists)
		}
		if strings.Contains(err.Error(), "port is already allocated") {
			return "", NewEngineError("CreateContainer", "container", spec.Name, err.Error(), ErrPortAlreadyAllocated)
		}
		return "", NewEngineError("CreateContainer", "container", spec.Name, err.Error(), err)
	}

	return resp.ID, nil
}

// StartContainer starts a stopped container.
func (d *Docker) StartContainer(ctx context.Context, containerID string) error {
	err := d.cli.ContainerStart(ctx, containerID, container.StartOptions{})
	if err != nil {
		if client.IsErrNotFound(err) {
			return NewEngineError("StartContainer", "container", containerID, "container not found", ErrContainerNotFound)
		}
		if strings.Contains(err.Error(), "is already running") {
			return NewEngineError("StartContainer", "container", containerID, "container is already running", ErrContainerAlreadyRunning)
		}
		return NewEngineError("StartContainer", "container", containerID, err.Error(), err)
	}
	return nil
}

// StopContainer stops a running container.
func (d *Docker) StopContainer(ctx context.Context, containerID string, timeout *time.Duration) error {
	stopOptions := container.StopOptions{}
	if timeout != nil {
		seconds := int(timeout.Seconds())
		stopOptions.Timeout = &seconds
	}

	err := d.cli.ContainerStop(ctx, containerID, stopOptions)
	if err != nil {
		if client.IsErrNotFound(err) {
			return NewEngineError("StopContainer", "container", containerID, "container not found", ErrContainerNotFound)
		}
		if strings.Contains(err.Error(), "is not running") {
			return NewEngineError("StopContainer", "container", containerID, "container is not running", ErrContainerNotRunning)
		}
		return NewEngineError("StopContainer", "container", containerID, err.Error(), err)
	}
	return nil
}

// RemoveContainer removes a container.
func (d *Docker) RemoveContainer(ctx context.Context, containerID string, opts RemoveOptions) error {
	err := d.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force:         opts.Force,
		RemoveVolumes: opts.RemoveVolumes,
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return NewEngineError("RemoveContainer", "container", containerID, "container not found", ErrContainerNotFound)
		}
		return NewEngineError("RemoveContainer", "container", containerID, err.Error(), err)
	}
	return nil
}

// InspectContainer returns detailed information about a container.
func (d *Docker) InspectContainer(ctx context.Context, containerID string) (*ContainerInfo, error) {
	resp, err := d.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, NewEngineError("InspectContainer", "container", containerID, "container not found", ErrContainerNotFound)
		}
		return nil, NewEngineError("InspectContainer", "container", containerID, err.Error(), err)
	}

	createdAt, _ := time.Parse(time.RFC3339Nano, resp.Created)

	var startedAt, finishedAt *time.Time
	if resp.State.StartedAt != "" && resp.State.StartedAt != "0001-01-01T00:00:00Z" {
		t, _ := time.Parse(time.RFC3339Nano, resp.State.StartedAt)
		startedAt = &t
	}
	if resp.State.FinishedAt != "" && resp.State.FinishedAt != "0001-01-01T00:00:00Z" {
		t, _ := time.Parse(time.RFC3339Nano, resp.State.FinishedAt)
		finishedAt = &t
	}

	var ports []PortBinding
	for containerPort, bindings := range resp.NetworkSettings.Ports {
		port, proto := nat.Port(containerPort).Port(), nat.Port(containerPort).Proto()
		for _, binding := range bindings {
			var hostPort int
			if binding.HostPort != "" {
				fmt.Sscanf(binding.HostPort, "%d", &hostPort)
			}
			var containerPortInt int
			fmt.Sscanf(port, "%d", &containerPortInt)
			ports = append(ports, PortBinding{
				ContainerPort: containerPortInt,
				HostPort:      hostPort,
				Protocol:      proto,
				HostIP:        binding.HostIP,
			})
		}
	}

	health := ""
	if resp.State.Health != nil {
		health = resp.State.Health.Status
	}

	return &ContainerInfo{
		ID:         resp.ID,
		Name:       strings.TrimPrefix(resp.Name, "/"),
		Image:      resp.Config.Image,
		Status:     ContainerStatus(resp.State.Status),
		Health:     health,
		CreatedAt:  createdAt,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Ports:      ports,
		Labels:     resp.Config.Labels,
		ExitCode:   resp.State.ExitCode,
	}, nil
}

// ListContainers returns containers matching the given options.
func (d *Docker) ListContainers(ctx context.Context, opts ListOptions) ([]ContainerInfo, error) {
	listOpts := container.ListOptions{
		All: opts.All,
	}

	if len(opts.Filters) > 0 {
		f := filters.NewArgs()
		for k, v := range opts.Filters {
			f.Add(k, v)
		}
		listOpts.Filters = f
	}

	containers, err := d.cli.ContainerList(ctx, listOpts)
	if err != nil {
		return nil, NewEngineError("ListContainers", "container", "", err.Error(), err)
	}

	var result []ContainerInfo
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}

		var ports []PortBinding
		for _, p := range c.Ports {
			ports = append(ports, PortBinding{
				ContainerPort: int(p.PrivatePort),
				HostPort:      int(p.PublicPort),
				Protocol:      p.Type,
				HostIP:        p.IP,
			})
		}

		result = append(result, ContainerInfo{
			ID:        c.ID,
			Name:      name,
			Image:     c.Image,
			Status:    ContainerStatus(c.State),
			CreatedAt: time.Unix(c.Created, 0),
			Ports:     ports,
			Labels:    c.Labels,
		})
	}

	return result, nil
}

// =============================================================================
// Network Operations
// =============================================================================

// CreateNetwork creates a new bridge network.
func (d *Docker) CreateNetwork(ctx context.Context, spec NetworkSpec) (string, error) {
	driver := spec.Driver
	if driver == "" {
		driver = "bridge"
	}

	resp, err := d.cli.NetworkCreate(ctx, spec.Name, network.CreateOptions{
		Driver: driver,
		Labels: spec.Labels,
	})
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return "", NewEngineError("CreateNetwork", "network", spec.Name, "network already exists", ErrNetworkAlreadyExists)
		}
		return "", NewEngineError("CreateNetwork", "network", spec.Name, err.Error(), err)
	}

	return resp.ID, nil
}

// RemoveNetwork removes a network.
func (d *Docker) RemoveNetwork(ctx context.Context, networkID string) error {
	err := d.cli.NetworkRemove(ctx, networkID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return NewEngineError("RemoveNetwork", "network", networkID, "network not found", ErrNetworkNotFound)
		}
		return NewEngineError("RemoveNetwork", "network", networkID, err.Error(), err)
	}
	return nil
}

// =============================================================================
// Volume Operations
// =============================================================================

// CreateVolume creates a named volume. Creating an existing volume with the
// same name is a no-op in the engine, which keeps stack deploys idempotent.
func (d *Docker) CreateVolume(ctx context.Context, spec VolumeSpec) (string, error) {
	driver := spec.Driver
	if driver == "" {
		driver = "local"
	}

	resp, err := d.cli.VolumeCreate(ctx, volume.CreateOptions{
		Name:   spec.Name,
		Driver: driver,
		Labels: spec.Labels,
	})
	if err != nil {
		return "", NewEngineError("CreateVolume", "volume", spec.Name, err.Error(), err)
	}

	return resp.Name, nil
}

// =============================================================================
// Image Operations
// =============================================================================

// BuildImage builds an image from a local context directory and tags it.
// The daemon's build log is collected into the result; a build error in the
// stream fails the whole operation.
func (d *Docker) BuildImage(ctx context.Context, opts BuildOptions) (*BuildResult, error) {
	dockerfile := opts.Dockerfile
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}

	buildContext, err := archive.TarWithOptions(opts.ContextDir, &archive.TarOptions{})
	if err != nil {
		return nil, NewEngineError("BuildImage", "image", "", fmt.Sprintf("failed to tar build context: %v", err), ErrBuildFailed)
	}

	resp, err := d.cli.ImageBuild(ctx, buildContext, build.ImageBuildOptions{
		Tags:        opts.Tags,
		Dockerfile:  dockerfile,
		Labels:      opts.Labels,
		NoCache:     opts.NoCache,
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return nil, NewEngineError("BuildImage", "image", "", err.Error(), ErrBuildFailed)
	}
	defer resp.Body.Close()

	var output strings.Builder
	imageID := ""

	dec := json.NewDecoder(resp.Body)
	for {
		var jm jsonmessage.JSONMessage
		if err := dec.Decode(&jm); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, NewEngineError("BuildImage", "image", "", fmt.Sprintf("failed to decode build output: %v", err), ErrBuildFailed)
		}
		if jm.Error != nil {
			return nil, NewEngineError("BuildImage", "image", "", jm.Error.Message, ErrBuildFailed)
		}
		if stream := strings.TrimSpace(jm.Stream); stream != "" {
			output.WriteString(stream)
			output.WriteByte('\n')
		}
		if jm.Aux != nil {
			var result build.Result
			if err := json.Unmarshal(*jm.Aux, &result); err == nil {
				imageID = result.ID
			}
		}
	}

	if imageID == "" {
		return nil, NewEngineError("BuildImage", "image", "", "daemon reported no image ID", ErrBuildFailed)
	}

	return &BuildResult{ID: imageID, Output: output.String()}, nil
}

// PushImage pushes an image reference to its registry.
func (d *Docker) PushImage(ctx context.Context, ref string, auth RegistryAuth) (*PushResult, error) {
	encodedAuth, err := registry.EncodeAuthConfig(registry.AuthConfig{
		Username: auth.Username,
		Password: auth.Password,
	})
	if err != nil {
		return nil, NewEngineError("PushImage", "image", ref, fmt.Sprintf("failed to encode registry auth: %v", err), ErrPushFailed)
	}

	reader, err := d.cli.ImagePush(ctx, ref, image.PushOptions{RegistryAuth: encodedAuth})
	if err != nil {
		return nil, NewEngineError("PushImage", "image", ref, err.Error(), ErrPushFailed)
	}
	defer reader.Close()

	var output strings.Builder
	digest := ""

	dec := json.NewDecoder(reader)
	for {
		var jm jsonmessage.JSONMessage
		if err := dec.Decode(&jm); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, NewEngineError("PushImage", "image", ref, fmt.Sprintf("failed to decode push output: %v", err), ErrPushFailed)
		}
		if jm.Error != nil {
			return nil, NewEngineError("PushImage", "image", ref, jm.Error.Message, ErrPushFailed)
		}
		if status := strings.TrimSpace(jm.Status); status != "" {
			output.WriteString(status)
			output.WriteByte('\n')
			// Final status line carries the manifest digest.
			if strings.Contains(status, "digest:") {
				if i := strings.Index(status, "sha256:"); i >= 0 {
					fields := strings.Fields(status[i:])
					if len(fields) > 0 {
						digest = fields[0]
					}
				}
			}
		}
	}

	return &PushResult{Digest: digest, Output: output.String()}, nil
}

// TagImage tags a local image with a new reference.
func (d *Docker) TagImage(ctx context.Context, source, target string) error {
	if err := d.cli.ImageTag(ctx, source, target); err != nil {
		return NewEngineError("TagImage", "image", source, err.Error(), err)
	}
	return nil
}

// PullImage pulls an image from the registry.
func (d *Docker) PullImage(ctx context.Context, ref string) error {
	reader, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "not found") ||
			strings.Contains(errStr, "manifest unknown") ||
			strings.Contains(errStr, "repository does not exist") ||
			strings.Contains(errStr, "pull access denied") {
			return NewEngineError("PullImage", "image", ref, "image not found", ErrImageNotFound)
		}
		return NewEngineError("PullImage", "image", ref, err.Error(), ErrImagePullFailed)
	}
	defer reader.Close()

	// Drain the reader to complete the pull
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return NewEngineError("PullImage", "image", ref, err.Error(), ErrImagePullFailed)
	}

	return nil
}

// ImageExists checks if an image exists locally.
func (d *Docker) ImageExists(ctx context.Context, ref string) (bool, error) {
	_, _, err := d.cli.ImageInspectWithRaw(ctx, ref)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, NewEngineError("ImageExists", "image", ref, err.Error(), err)
	}

	return true, nil
}
