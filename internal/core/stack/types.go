package stack

// =============================================================================
// Stack - Main Output Type
// =============================================================================

// Stack is the parsed dashboard stack definition, decoupled from compose-go
// types. It lists every service the deployment boots plus the named volumes
// they persist into.
type Stack struct {
	Services []Service `json:"services"`
	Volumes  []Volume  `json:"volumes,omitempty"`
}

// =============================================================================
// Service Types
// =============================================================================

// Service represents a single service definition.
type Service struct {
	Name        string            `json:"name"`
	Image       string            `json:"image,omitempty"`
	Build       *BuildConfig      `json:"build,omitempty"`
	Command     []string          `json:"command,omitempty"`
	Entrypoint  []string          `json:"entrypoint,omitempty"`
	Ports       []Port            `json:"ports,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	Volumes     []VolumeMount     `json:"volumes,omitempty"`
	DependsOn   []string          `json:"depends_on,omitempty"`
	Restart     RestartPolicy     `json:"restart,omitempty"`
	HealthCheck *HealthCheck      `json:"healthcheck,omitempty"`
}

// BuildConfig represents build configuration for locally built images.
type BuildConfig struct {
	Context    string `json:"context"`
	Dockerfile string `json:"dockerfile,omitempty"`
}

// Port represents a port mapping.
type Port struct {
	Target    uint32 `json:"target"`              // Container port
	Published uint32 `json:"published,omitempty"` // Host port (0 = dynamic)
	Protocol  string `json:"protocol,omitempty"`  // tcp, udp
	HostIP    string `json:"host_ip,omitempty"`   // Bind IP
}

// VolumeMount represents a volume mount in a service.
type VolumeMount struct {
	Type     VolumeMountType `json:"type"`   // bind, volume, tmpfs
	Source   string          `json:"source"` // Path or volume name
	Target   string          `json:"target"` // Container path
	ReadOnly bool            `json:"readonly"`
}

// VolumeMountType represents the type of volume mount.
type VolumeMountType string

const (
	VolumeMountTypeBind   VolumeMountType = "bind"
	VolumeMountTypeVolume VolumeMountType = "volume"
	VolumeMountTypeTmpfs  VolumeMountType = "tmpfs"
)

// RestartPolicy represents the restart policy.
type RestartPolicy string

const (
	RestartNo            RestartPolicy = "no"
	RestartAlways        RestartPolicy = "always"
	RestartOnFailure     RestartPolicy = "on-failure"
	RestartUnlessStopped RestartPolicy = "unless-stopped"
)

// HealthCheck represents health check configuration.
type HealthCheck struct {
	Test        []string `json:"test"`
	Interval    string   `json:"interval,omitempty"`
	Timeout     string   `json:"timeout,omitempty"`
	Retries     int      `json:"retries,omitempty"`
	StartPeriod string   `json:"start_period,omitempty"`
}

// =============================================================================
// Volume Types
// =============================================================================

// Volume represents a named volume definition.
type Volume struct {
	Name   string `json:"name"`
	Driver string `json:"driver,omitempty"`
}

// =============================================================================
// Stack Accessors
// =============================================================================

// Service returns the named service definition.
func (s *Stack) Service(name string) (Service, bool) {
	for _, svc := range s.Services {
		if svc.Name == name {
			return svc, true
		}
	}
	return Service{}, false
}

// SetImage overrides the image reference of the named service. The dashboard
// image is stamped this way after the resolver computes the full registry
// reference, so the build, the tag, and the running container agree.
func (s *Stack) SetImage(name, image string) error {
	for i := range s.Services {
		if s.Services[i].Name == name {
			s.Services[i].Image = image
			return nil
		}
	}
	return NewParseError("services."+name, "service not defined in stack", ErrUnknownService)
}

// PublishedPort returns the first published host port of the named service.
// Readiness probes dial these ports instead of hardcoding them.
func (s *Stack) PublishedPort(name string) (uint32, bool) {
	svc, ok := s.Service(name)
	if !ok {
		return 0, false
	}
	for _, p := range svc.Ports {
		if p.Published != 0 {
			return p.Published, true
		}
	}
	return 0, false
}
