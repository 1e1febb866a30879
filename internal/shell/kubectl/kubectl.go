// Package kubectl shells out to kubectl (and minikube) for cluster
// operations. Every invocation runs under a timeout with captured output;
// failures come back as values carrying the exit code and stderr.
package kubectl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds a single invocation. Readiness waits are owned
	// by the prober, so no single command should run anywhere near this long.
	DefaultTimeout = 60 * time.Second

	kubectlBinary  = "kubectl"
	minikubeBinary = "minikube"
)

// =============================================================================
// Process execution
// =============================================================================

// ExecRequest is one subprocess invocation.
type ExecRequest struct {
	Binary  string
	Args    []string
	Stdin   []byte
	Timeout time.Duration
}

// ExecResult carries the captured output of a finished invocation.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Execer runs one subprocess. Tests substitute a fake.
type Execer interface {
	Exec(ctx context.Context, req ExecRequest) (ExecResult, error)
}

type systemExecer struct{}

func (systemExecer) Exec(ctx context.Context, req ExecRequest) (ExecResult, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, req.Binary, req.Args...)
	if len(req.Stdin) > 0 {
		cmd.Stdin = bytes.NewReader(req.Stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()

	result := ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if err == nil {
		return result, nil
	}

	result.ExitCode = -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return result, fmt.Errorf("%s after %s: %w", req.Binary, result.Duration.Round(time.Millisecond), ErrTimedOut)
	}
	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	return result, err
}

// =============================================================================
// Client
// =============================================================================

// Client wraps the kubectl and minikube binaries behind typed operations.
type Client struct {
	execer  Execer
	logger  *slog.Logger
	timeout time.Duration
}

// New creates a client that runs the real binaries. A zero timeout falls
// back to DefaultTimeout.
func New(logger *slog.Logger, timeout time.Duration) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		execer:  systemExecer{},
		logger:  logger,
		timeout: timeout,
	}
}

// Apply sends a manifest stream to the cluster over stdin. The documents
// carry their own namespaces, so no flag is needed here.
func (c *Client) Apply(ctx context.Context, manifests []byte) (string, error) {
	res, err := c.run(ctx, "apply-manifests", kubectlBinary, manifests, "apply", "-f", "-")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

// CreateSecret provisions an Opaque secret idempotently: the manifest is
// rendered client-side and applied, so re-runs update the secret instead of
// failing on "already exists". Literal values never reach the logs; argv is
// redacted and error text is scrubbed.
func (c *Client) CreateSecret(ctx context.Context, name, namespace string, literals map[string]string) (string, error) {
	args := []string{
		"create", "secret", "generic", name,
		"--namespace", namespace,
		"--dry-run=client", "-o", "yaml",
	}

	keys := make([]string, 0, len(literals))
	for key := range literals {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	values := make([]string, 0, len(literals))
	for _, key := range keys {
		args = append(args, fmt.Sprintf("--from-literal=%s=%s", key, literals[key]))
		values = append(values, literals[key])
	}

	rendered, err := c.run(ctx, "render-secret", kubectlBinary, nil, args...)
	if err != nil {
		return "", scrubCommandError(err, values)
	}

	res, err := c.run(ctx, "apply-secret", kubectlBinary, []byte(rendered.Stdout), "apply", "-f", "-")
	if err != nil {
		return "", scrubCommandError(err, values)
	}
	return strings.TrimSpace(res.Stdout), nil
}

// QueryRollout reports the ready and desired replica counts of a deployment.
func (c *Client) QueryRollout(ctx context.Context, deployment, namespace string) (ready, desired int, err error) {
	res, err := c.run(ctx, "query-rollout", kubectlBinary, nil,
		"get", "deployment", deployment,
		"--namespace", namespace,
		"-o", "jsonpath={.status.readyReplicas}/{.spec.replicas}")
	if err != nil {
		return 0, 0, err
	}
	return parseReplicaCounts(res.Stdout)
}

// LoadBalancer returns the external IP and hostname of a service's load
// balancer via two sequential queries. Either value may be empty; deciding
// what that means is the caller's job.
func (c *Client) LoadBalancer(ctx context.Context, service, namespace string) (ip, hostname string, err error) {
	ipRes, err := c.run(ctx, "query-endpoint", kubectlBinary, nil,
		"get", "service", service,
		"--namespace", namespace,
		"-o", "jsonpath={.status.loadBalancer.ingress[0].ip}")
	if err != nil {
		return "", "", err
	}

	hostRes, err := c.run(ctx, "query-endpoint", kubectlBinary, nil,
		"get", "service", service,
		"--namespace", namespace,
		"-o", "jsonpath={.status.loadBalancer.ingress[0].hostname}")
	if err != nil {
		return "", "", err
	}

	return strings.TrimSpace(ipRes.Stdout), strings.TrimSpace(hostRes.Stdout), nil
}

// MinikubeServiceURL asks minikube for the host-reachable URL of a service.
// The raw output is returned; it may contain progress lines around the URL.
func (c *Client) MinikubeServiceURL(ctx context.Context, service, namespace string) (string, error) {
	res, err := c.run(ctx, "query-endpoint", minikubeBinary, nil,
		"service", service,
		"--namespace", namespace,
		"--url")
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}

// =============================================================================
// Helper Functions
// =============================================================================

func (c *Client) run(ctx context.Context, op, binary string, stdin []byte, args ...string) (ExecResult, error) {
	res, err := c.execer.Exec(ctx, ExecRequest{
		Binary:  binary,
		Args:    args,
		Stdin:   stdin,
		Timeout: c.timeout,
	})

	logArgs := redactArgs(args)
	if err != nil {
		c.logger.Debug("command failed",
			"op", op,
			"binary", binary,
			"args", logArgs,
			"exit_code", res.ExitCode,
			"duration", res.Duration,
			"error", err,
		)
		return res, NewCommandError(op, append([]string{binary}, logArgs...), res.ExitCode, strings.TrimSpace(res.Stderr), err)
	}

	c.logger.Debug("command succeeded",
		"op", op,
		"binary", binary,
		"args", logArgs,
		"duration", res.Duration,
	)
	return res, nil
}

// redactArgs masks secret literal values so argv can be logged and embedded
// in errors safely.
func redactArgs(args []string) []string {
	const prefix = "--from-literal="
	out := make([]string, len(args))
	for i, arg := range args {
		if rest, ok := strings.CutPrefix(arg, prefix); ok {
			if key, _, found := strings.Cut(rest, "="); found {
				out[i] = prefix + key + "=***"
				continue
			}
		}
		out[i] = arg
	}
	return out
}

// scrubCommandError removes secret values that the tool may have echoed
// into its stderr.
func scrubCommandError(err error, values []string) error {
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		return err
	}
	for _, value := range values {
		if value == "" {
			continue
		}
		cmdErr.Stderr = strings.ReplaceAll(cmdErr.Stderr, value, "***")
	}
	return err
}

func parseReplicaCounts(out string) (int, int, error) {
	readyStr, desiredStr, found := strings.Cut(strings.TrimSpace(out), "/")
	if !found {
		return 0, 0, fmt.Errorf("unexpected replica status %q", out)
	}

	// readyReplicas is absent from the object until the first pod is ready.
	ready := 0
	if readyStr != "" {
		n, err := strconv.Atoi(readyStr)
		if err != nil {
			return 0, 0, fmt.Errorf("unexpected ready count %q", readyStr)
		}
		ready = n
	}

	if desiredStr == "" {
		return ready, 0, nil
	}
	desired, err := strconv.Atoi(desiredStr)
	if err != nil {
		return 0, 0, fmt.Errorf("unexpected desired count %q", desiredStr)
	}
	return ready, desired, nil
}
