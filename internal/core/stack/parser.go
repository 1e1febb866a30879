package stack

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Parser Functions
// =============================================================================

// Parse parses Docker Compose YAML into a Stack.
// This is a pure function - no I/O, no side effects.
func Parse(yamlContent string) (*Stack, error) {
	if strings.TrimSpace(yamlContent) == "" {
		return nil, ErrEmptyInput
	}

	project, err := loadProject(yamlContent)
	if err != nil {
		return nil, err
	}

	if err := checkUnsupportedFeatures(project); err != nil {
		return nil, err
	}

	if len(project.Services) == 0 {
		return nil, ErrNoServices
	}

	stack := &Stack{
		Services: make([]Service, 0, len(project.Services)),
		Volumes:  make([]Volume, 0, len(project.Volumes)),
	}

	for _, svc := range project.Services {
		converted, err := convertService(svc)
		if err != nil {
			return nil, err
		}
		stack.Services = append(stack.Services, converted)
	}

	// compose-go keeps services in a map; sort so callers see a stable order.
	sort.Slice(stack.Services, func(i, j int) bool {
		return stack.Services[i].Name < stack.Services[j].Name
	})

	if err := detectCircularDependencies(stack.Services); err != nil {
		return nil, err
	}

	if err := validatePorts(stack.Services); err != nil {
		return nil, err
	}

	for name, vol := range project.Volumes {
		stack.Volumes = append(stack.Volumes, Volume{Name: name, Driver: vol.Driver})
	}
	sort.Slice(stack.Volumes, func(i, j int) bool {
		return stack.Volumes[i].Name < stack.Volumes[j].Name
	})

	return stack, nil
}

// loadProject loads a compose project using compose-go.
func loadProject(yamlContent string) (*types.Project, error) {
	// Parse YAML into a map first so syntax errors surface as ours.
	var dict map[string]interface{}
	if err := yaml.Unmarshal([]byte(yamlContent), &dict); err != nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}
	if dict == nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}

	project, err := loader.LoadWithContext(context.Background(), types.ConfigDetails{
		ConfigFiles: []types.ConfigFile{
			{
				Content: []byte(yamlContent),
				Config:  dict,
			},
		},
	}, func(opts *loader.Options) {
		opts.SetProjectName("dashdeploy", false)
		opts.SkipValidation = false
		opts.SkipInterpolation = false
		// In-memory input: nothing to resolve or extend on disk.
		opts.SkipNormalization = true
		opts.SkipExtends = true
	})
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "dependency cycle detected") {
			return nil, NewParseError("", "circular dependency detected", ErrCircularDependency)
		}
		if strings.Contains(errStr, "image") && strings.Contains(errStr, "build") {
			return nil, NewParseError("", "service must have image or build", ErrServiceNoImage)
		}
		return nil, NewParseError("", errStr, ErrInvalidYAML)
	}

	return project, nil
}

// checkUnsupportedFeatures rejects compose features the engine does not run.
func checkUnsupportedFeatures(project *types.Project) error {
	if len(project.Secrets) > 0 {
		return NewParseError("secrets", "secrets are not supported", ErrUnsupportedFeature)
	}
	if len(project.Configs) > 0 {
		return NewParseError("configs", "configs are not supported", ErrUnsupportedFeature)
	}
	for _, svc := range project.Services {
		if svc.Extends != nil && svc.Extends.File != "" {
			return NewParseError("services."+svc.Name+".extends", "extends is not supported", ErrUnsupportedFeature)
		}
	}
	return nil
}

// convertService converts a compose-go service to our Service type.
func convertService(svc types.ServiceConfig) (Service, error) {
	service := Service{
		Name:        svc.Name,
		Image:       svc.Image,
		Command:     svc.Command,
		Entrypoint:  svc.Entrypoint,
		Environment: make(map[string]string),
		DependsOn:   make([]string, 0),
	}

	if svc.Build != nil {
		service.Build = &BuildConfig{
			Context:    svc.Build.Context,
			Dockerfile: svc.Build.Dockerfile,
		}
	}

	if service.Image == "" && service.Build == nil {
		return Service{}, NewParseError("services."+svc.Name, "service must have image or build", ErrServiceNoImage)
	}

	for _, p := range svc.Ports {
		var published uint32
		if p.Published != "" {
			pub, err := strconv.ParseUint(p.Published, 10, 32)
			if err == nil {
				published = uint32(pub)
			}
		}
		service.Ports = append(service.Ports, Port{
			Target:    p.Target,
			Published: published,
			Protocol:  p.Protocol,
			HostIP:    p.HostIP,
		})
	}

	for k, v := range svc.Environment {
		if v != nil {
			service.Environment[k] = *v
		}
	}

	for _, v := range svc.Volumes {
		mount := VolumeMount{
			Source:   v.Source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		}
		switch v.Type {
		case "bind":
			mount.Type = VolumeMountTypeBind
		case "volume":
			mount.Type = VolumeMountTypeVolume
		case "tmpfs":
			mount.Type = VolumeMountTypeTmpfs
		default:
			// Infer type from source
			if strings.HasPrefix(v.Source, "./") || strings.HasPrefix(v.Source, "/") || strings.HasPrefix(v.Source, "~") {
				mount.Type = VolumeMountTypeBind
			} else {
				mount.Type = VolumeMountTypeVolume
			}
		}
		service.Volumes = append(service.Volumes, mount)
	}

	for dep := range svc.DependsOn {
		service.DependsOn = append(service.DependsOn, dep)
	}
	sort.Strings(service.DependsOn)

	service.Restart = RestartPolicy(svc.Restart)

	if svc.HealthCheck != nil && !svc.HealthCheck.Disable {
		service.HealthCheck = &HealthCheck{
			Test: svc.HealthCheck.Test,
		}
		if svc.HealthCheck.Retries != nil {
			service.HealthCheck.Retries = int(*svc.HealthCheck.Retries)
		}
		if svc.HealthCheck.Interval != nil {
			service.HealthCheck.Interval = svc.HealthCheck.Interval.String()
		}
		if svc.HealthCheck.Timeout != nil {
			service.HealthCheck.Timeout = svc.HealthCheck.Timeout.String()
		}
		if svc.HealthCheck.StartPeriod != nil {
			service.HealthCheck.StartPeriod = svc.HealthCheck.StartPeriod.String()
		}
	}

	return service, nil
}

// detectCircularDependencies detects cycles in service dependencies.
func detectCircularDependencies(services []Service) error {
	deps := make(map[string][]string)
	for _, svc := range services {
		deps[svc.Name] = svc.DependsOn
	}

	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	var hasCycle func(node string) bool
	hasCycle = func(node string) bool {
		visited[node] = true
		recStack[node] = true

		for _, dep := range deps[node] {
			if dep == node {
				return true
			}
			if !visited[dep] {
				if hasCycle(dep) {
					return true
				}
			} else if recStack[dep] {
				return true
			}
		}

		recStack[node] = false
		return false
	}

	for _, svc := range services {
		if !visited[svc.Name] {
			if hasCycle(svc.Name) {
				return ErrCircularDependency
			}
		}
	}

	return nil
}

// validatePorts validates all port configurations.
func validatePorts(services []Service) error {
	for _, svc := range services {
		for i, port := range svc.Ports {
			field := "services." + svc.Name + ".ports[" + strconv.Itoa(i) + "]"
			if port.Target == 0 {
				return NewParseError(field, "target port cannot be 0", ErrServiceInvalidPort)
			}
			if port.Target > 65535 {
				return NewParseError(field, "target port must be <= 65535", ErrServiceInvalidPort)
			}
			if port.Published > 65535 {
				return NewParseError(field, "published port must be <= 65535", ErrServiceInvalidPort)
			}
		}
	}
	return nil
}
