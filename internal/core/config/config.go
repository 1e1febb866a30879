// Package config resolves raw deployment inputs into an immutable
// deployment configuration. Pure functions only - the caller supplies the
// process environment as a lookup function.
package config

import (
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// Defaults
// =============================================================================

const (
	// DefaultEnvironment is used when no environment argument is given.
	DefaultEnvironment = EnvDevelopment

	// DefaultRegistry is the placeholder registry used when none is given.
	DefaultRegistry = "registry.example.com"

	// DefaultTag is used when no image tag argument is given.
	DefaultTag = "latest"

	// Namespace is the fixed Kubernetes namespace the stack deploys into.
	Namespace = "dashboard"

	// ImageRepository is the repository name of the dashboard image.
	ImageRepository = "automated-dashboard"
)

// Environment variable names read during resolution.
const (
	EnvVarDatabaseURL   = "DATABASE_URL"
	EnvVarRedisURL      = "REDIS_URL"
	EnvVarCloudProvider = "CLOUD_PROVIDER"
)

// =============================================================================
// Environment
// =============================================================================

// Environment identifies the deployment environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// knownEnvironments lists every accepted environment value.
var knownEnvironments = []Environment{EnvDevelopment, EnvStaging, EnvProduction}

// Target identifies where a deployment lands.
type Target string

const (
	// TargetCompose deploys onto the local Docker engine from the Compose spec.
	TargetCompose Target = "compose"

	// TargetKubernetes deploys onto a Kubernetes cluster via kubectl.
	TargetKubernetes Target = "kubernetes"
)

// Provider selects the endpoint-resolution strategy for cluster deployments.
type Provider string

const (
	// ProviderGeneric resolves the service URL from the load balancer ingress.
	ProviderGeneric Provider = "generic"

	// ProviderMinikube resolves the service URL through minikube.
	ProviderMinikube Provider = "minikube"
)

// =============================================================================
// Inputs
// =============================================================================

// Args holds the raw positional arguments as the operator typed them.
// Empty strings mean "not given".
type Args struct {
	Environment string
	Registry    string
	Tag         string
}

// Lookup reports an environment variable and whether it is set,
// matching the signature of os.LookupEnv.
type Lookup func(key string) (string, bool)

// =============================================================================
// Config
// =============================================================================

// Config is the resolved deployment configuration. It is constructed once
// per invocation by Resolve and never mutated afterwards; every component
// receives it by value.
type Config struct {
	Environment Environment
	Registry    string
	Tag         string
	Namespace   string
	Provider    Provider

	// DatabaseURL and RedisURL are the secret values provisioned into the
	// cluster for production deployments. Never log these.
	DatabaseURL string
	RedisURL    string
}

// Target returns where this configuration deploys to.
func (c Config) Target() Target {
	if c.Environment == EnvDevelopment {
		return TargetCompose
	}
	return TargetKubernetes
}

// ImageRef returns the fully qualified image reference for the dashboard image.
func (c Config) ImageRef() string {
	return fmt.Sprintf("%s/%s:%s", c.Registry, ImageRepository, c.Tag)
}

// PushRequired reports whether the built image must be pushed to the registry.
// Only production deployments push.
func (c Config) PushRequired() bool {
	return c.Environment == EnvProduction
}

// SecretsRequired reports whether cluster secrets must be provisioned.
func (c Config) SecretsRequired() bool {
	return c.Environment == EnvProduction
}

// =============================================================================
// Resolution
// =============================================================================

// Resolve validates the raw inputs and produces the deployment configuration.
// It performs no I/O and no external calls; any failure is a *ConfigError.
func Resolve(args Args, env Lookup) (Config, error) {
	cfg := Config{
		Environment: DefaultEnvironment,
		Registry:    DefaultRegistry,
		Tag:         DefaultTag,
		Namespace:   Namespace,
		Provider:    ProviderGeneric,
	}

	if args.Environment != "" {
		e := Environment(strings.ToLower(strings.TrimSpace(args.Environment)))
		if !isKnownEnvironment(e) {
			return Config{}, NewConfigError("environment",
				fmt.Sprintf("unknown environment %q (expected one of %s)", args.Environment, environmentNames()),
				ErrUnknownEnvironment)
		}
		cfg.Environment = e
	}

	if args.Registry != "" {
		cfg.Registry = strings.TrimSuffix(strings.TrimSpace(args.Registry), "/")
	}
	if args.Tag != "" {
		cfg.Tag = strings.TrimSpace(args.Tag)
	}

	if raw, ok := env(EnvVarCloudProvider); ok && strings.TrimSpace(raw) != "" {
		p := Provider(strings.ToLower(strings.TrimSpace(raw)))
		switch p {
		case ProviderGeneric, ProviderMinikube:
			cfg.Provider = p
		default:
			return Config{}, NewConfigError(EnvVarCloudProvider,
				fmt.Sprintf("unknown cloud provider %q (expected %q or %q)", raw, ProviderMinikube, ProviderGeneric),
				ErrUnknownProvider)
		}
	}

	cfg.DatabaseURL, _ = env(EnvVarDatabaseURL)
	cfg.RedisURL, _ = env(EnvVarRedisURL)

	if cfg.SecretsRequired() {
		var missing []string
		if cfg.DatabaseURL == "" {
			missing = append(missing, EnvVarDatabaseURL)
		}
		if cfg.RedisURL == "" {
			missing = append(missing, EnvVarRedisURL)
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return Config{}, NewConfigError(strings.Join(missing, ", "),
				fmt.Sprintf("production requires %s to be set", strings.Join(missing, " and ")),
				ErrMissingSecret)
		}
	}

	return cfg, nil
}

func isKnownEnvironment(e Environment) bool {
	for _, known := range knownEnvironments {
		if e == known {
			return true
		}
	}
	return false
}

func environmentNames() string {
	names := make([]string, len(knownEnvironments))
	for i, e := range knownEnvironments {
		names[i] = string(e)
	}
	return strings.Join(names, ", ")
}
