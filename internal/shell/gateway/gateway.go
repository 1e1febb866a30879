// Package gateway is the single component allowed to mutate external
// systems. It translates logical deployment operations into container
// engine and kubectl invocations and maps every outcome, success or
// failure, into a Result value.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/daas8085/dashdeploy/internal/core/config"
	"github.com/daas8085/dashdeploy/internal/core/endpoint"
	"github.com/daas8085/dashdeploy/internal/core/stack"
	"github.com/daas8085/dashdeploy/internal/shell/engine"
	"github.com/daas8085/dashdeploy/internal/shell/kubectl"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrUnknownOp means the command named an operation the gateway does
	// not implement.
	ErrUnknownOp = errors.New("unknown gateway operation")

	// ErrMissingParam means a command omitted a parameter its operation
	// requires.
	ErrMissingParam = errors.New("missing command parameter")
)

// =============================================================================
// Operations
// =============================================================================

// Op names a logical external operation.
type Op string

const (
	OpBuildImage     Op = "build-image"
	OpPushImage      Op = "push-image"
	OpStackUp        Op = "stack-up"
	OpStackDown      Op = "stack-down"
	OpApplyManifests Op = "apply-manifests"
	OpCreateSecret   Op = "create-secret"
	OpQueryRollout   Op = "query-rollout"
	OpQueryEndpoint  Op = "query-endpoint"
)

// Command names one logical operation and carries its typed parameters.
// Only the fields the operation reads need to be set.
type Command struct {
	Op Op

	// Image operations.
	ContextDir string
	Dockerfile string
	ImageRef   string
	Auth       engine.RegistryAuth

	// Stack operations.
	Stack *stack.Stack

	// Manifest operations.
	Manifests []byte

	// Secret provisioning. Literal values are never logged.
	SecretName string
	Literals   map[string]string

	// Cluster queries.
	Deployment string
	Service    string
	Port       uint32
	Provider   config.Provider

	Namespace string
}

// Result is the uniform outcome of a gateway operation.
type Result struct {
	Op       Op
	Output   string
	ExitCode int
	Duration time.Duration
	Err      error
}

// =============================================================================
// Collaborator interfaces
// =============================================================================

// ImageEngine is the slice of the container engine used for image builds
// and pushes.
type ImageEngine interface {
	BuildImage(ctx context.Context, opts engine.BuildOptions) (*engine.BuildResult, error)
	PushImage(ctx context.Context, ref string, auth engine.RegistryAuth) (*engine.PushResult, error)
}

// StackRunner deploys and tears down the Compose stack on the local engine.
type StackRunner interface {
	Up(ctx context.Context, st *stack.Stack) ([]engine.ServiceStatus, error)
	Down(ctx context.Context) error
}

// Cluster is the slice of the kubectl client used for Kubernetes operations.
type Cluster interface {
	Apply(ctx context.Context, manifests []byte) (string, error)
	CreateSecret(ctx context.Context, name, namespace string, literals map[string]string) (string, error)
	QueryRollout(ctx context.Context, deployment, namespace string) (ready, desired int, err error)
	LoadBalancer(ctx context.Context, service, namespace string) (ip, hostname string, err error)
	MinikubeServiceURL(ctx context.Context, service, namespace string) (string, error)
}

// =============================================================================
// Gateway
// =============================================================================

// Gateway dispatches commands to the engine and the cluster client. Every
// Run emits exactly one log line carrying the op, outcome and duration.
type Gateway struct {
	images  ImageEngine
	runner  StackRunner
	cluster Cluster
	logger  *slog.Logger
}

// New creates a gateway. Collaborators a deployment target never touches
// may be nil; dispatch fails cleanly when an op needs a missing one.
func New(images ImageEngine, runner StackRunner, cluster Cluster, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		images:  images,
		runner:  runner,
		cluster: cluster,
		logger:  logger,
	}
}

// Run executes one command synchronously. Failures come back inside the
// Result, never as panics; the exit code is taken from the external tool
// when one is available.
func (g *Gateway) Run(ctx context.Context, cmd Command) Result {
	start := time.Now()
	output, err := g.dispatch(ctx, cmd)

	result := Result{
		Op:       cmd.Op,
		Output:   output,
		Duration: time.Since(start),
		Err:      err,
	}
	if err != nil {
		result.ExitCode = exitCode(err)
		g.logger.Error("operation failed",
			"op", cmd.Op,
			"exit_code", result.ExitCode,
			"duration", result.Duration,
			"error", err,
		)
		return result
	}

	g.logger.Info("operation succeeded",
		"op", cmd.Op,
		"duration", result.Duration,
	)
	return result
}

func (g *Gateway) dispatch(ctx context.Context, cmd Command) (string, error) {
	switch cmd.Op {
	case OpBuildImage:
		return g.buildImage(ctx, cmd)
	case OpPushImage:
		return g.pushImage(ctx, cmd)
	case OpStackUp:
		return g.stackUp(ctx, cmd)
	case OpStackDown:
		return g.stackDown(ctx)
	case OpApplyManifests:
		return g.applyManifests(ctx, cmd)
	case OpCreateSecret:
		return g.createSecret(ctx, cmd)
	case OpQueryRollout:
		return g.queryRollout(ctx, cmd)
	case OpQueryEndpoint:
		return g.queryEndpoint(ctx, cmd)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownOp, cmd.Op)
	}
}

// =============================================================================
// Image operations
// =============================================================================

func (g *Gateway) buildImage(ctx context.Context, cmd Command) (string, error) {
	if cmd.ImageRef == "" {
		return "", fmt.Errorf("%w: %s needs an image ref", ErrMissingParam, cmd.Op)
	}
	if cmd.ContextDir == "" {
		return "", fmt.Errorf("%w: %s needs a build context", ErrMissingParam, cmd.Op)
	}

	res, err := g.images.BuildImage(ctx, engine.BuildOptions{
		ContextDir: cmd.ContextDir,
		Dockerfile: cmd.Dockerfile,
		Tags:       []string{cmd.ImageRef},
		Labels:     map[string]string{engine.LabelManaged: "true"},
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("built %s (%s)", cmd.ImageRef, shortImageID(res.ID)), nil
}

func (g *Gateway) pushImage(ctx context.Context, cmd Command) (string, error) {
	if cmd.ImageRef == "" {
		return "", fmt.Errorf("%w: %s needs an image ref", ErrMissingParam, cmd.Op)
	}

	res, err := g.images.PushImage(ctx, cmd.ImageRef, cmd.Auth)
	if err != nil {
		return "", err
	}
	if res.Digest != "" {
		return fmt.Sprintf("pushed %s (%s)", cmd.ImageRef, res.Digest), nil
	}
	return fmt.Sprintf("pushed %s", cmd.ImageRef), nil
}

// =============================================================================
// Stack operations
// =============================================================================

func (g *Gateway) stackUp(ctx context.Context, cmd Command) (string, error) {
	if cmd.Stack == nil {
		return "", fmt.Errorf("%w: %s needs a stack", ErrMissingParam, cmd.Op)
	}

	statuses, err := g.runner.Up(ctx, cmd.Stack)
	if err != nil {
		return "", err
	}

	parts := make([]string, 0, len(statuses))
	for _, s := range statuses {
		parts = append(parts, fmt.Sprintf("%s=%s", s.Service, s.Status))
	}
	return strings.Join(parts, " "), nil
}

func (g *Gateway) stackDown(ctx context.Context) (string, error) {
	if err := g.runner.Down(ctx); err != nil {
		return "", err
	}
	return "stack removed", nil
}

// =============================================================================
// Cluster operations
// =============================================================================

func (g *Gateway) applyManifests(ctx context.Context, cmd Command) (string, error) {
	if len(cmd.Manifests) == 0 {
		return "", fmt.Errorf("%w: %s needs manifests", ErrMissingParam, cmd.Op)
	}
	return g.cluster.Apply(ctx, cmd.Manifests)
}

func (g *Gateway) createSecret(ctx context.Context, cmd Command) (string, error) {
	if cmd.SecretName == "" {
		return "", fmt.Errorf("%w: %s needs a secret name", ErrMissingParam, cmd.Op)
	}
	if len(cmd.Literals) == 0 {
		return "", fmt.Errorf("%w: %s needs secret literals", ErrMissingParam, cmd.Op)
	}
	return g.cluster.CreateSecret(ctx, cmd.SecretName, cmd.Namespace, cmd.Literals)
}

func (g *Gateway) queryRollout(ctx context.Context, cmd Command) (string, error) {
	if cmd.Deployment == "" {
		return "", fmt.Errorf("%w: %s needs a deployment", ErrMissingParam, cmd.Op)
	}

	ready, desired, err := g.cluster.QueryRollout(ctx, cmd.Deployment, cmd.Namespace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d/%d", ready, desired), nil
}

func (g *Gateway) queryEndpoint(ctx context.Context, cmd Command) (string, error) {
	if cmd.Service == "" {
		return "", fmt.Errorf("%w: %s needs a service", ErrMissingParam, cmd.Op)
	}

	if cmd.Provider == config.ProviderMinikube {
		raw, err := g.cluster.MinikubeServiceURL(ctx, cmd.Service, cmd.Namespace)
		if err != nil {
			return "", err
		}
		return endpoint.FromServiceURL(raw)
	}

	ip, hostname, err := g.cluster.LoadBalancer(ctx, cmd.Service, cmd.Namespace)
	if err != nil {
		return "", err
	}
	return endpoint.FromLoadBalancer(ip, hostname, cmd.Port)
}

// =============================================================================
// Helper Functions
// =============================================================================

// ParseRolloutOutput parses the "ready/desired" output of OpQueryRollout.
func ParseRolloutOutput(output string) (ready, desired int, err error) {
	readyStr, desiredStr, found := strings.Cut(strings.TrimSpace(output), "/")
	if !found {
		return 0, 0, fmt.Errorf("malformed rollout output %q", output)
	}
	ready, err = strconv.Atoi(readyStr)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed rollout output %q", output)
	}
	desired, err = strconv.Atoi(desiredStr)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed rollout output %q", output)
	}
	return ready, desired, nil
}

// exitCode maps an operation error to a process-style exit code: the real
// exit code when a subprocess reported one, 1 for everything else.
func exitCode(err error) int {
	var cmdErr *kubectl.CommandError
	if errors.As(err, &cmdErr) && cmdErr.ExitCode > 0 {
		return cmdErr.ExitCode
	}
	return 1
}

func shortImageID(id string) string {
	id = strings.TrimPrefix(id, "sha256:")
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
