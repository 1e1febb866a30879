package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daas8085/dashdeploy/internal/core/config"
	"github.com/daas8085/dashdeploy/internal/core/endpoint"
	"github.com/daas8085/dashdeploy/internal/core/stack"
	"github.com/daas8085/dashdeploy/internal/shell/engine"
	"github.com/daas8085/dashdeploy/internal/shell/kubectl"
)

// =============================================================================
// Test Helpers
// =============================================================================

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeImages struct {
	buildOpts []engine.BuildOptions
	buildRes  *engine.BuildResult
	buildErr  error

	pushRefs []string
	pushAuth []engine.RegistryAuth
	pushRes  *engine.PushResult
	pushErr  error
}

func (f *fakeImages) BuildImage(ctx context.Context, opts engine.BuildOptions) (*engine.BuildResult, error) {
	f.buildOpts = append(f.buildOpts, opts)
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	return f.buildRes, nil
}

func (f *fakeImages) PushImage(ctx context.Context, ref string, auth engine.RegistryAuth) (*engine.PushResult, error) {
	f.pushRefs = append(f.pushRefs, ref)
	f.pushAuth = append(f.pushAuth, auth)
	if f.pushErr != nil {
		return nil, f.pushErr
	}
	return f.pushRes, nil
}

type fakeRunner struct {
	upStacks []*stack.Stack
	statuses []engine.ServiceStatus
	upErr    error
	downs    int
	downErr  error
}

func (f *fakeRunner) Up(ctx context.Context, st *stack.Stack) ([]engine.ServiceStatus, error) {
	f.upStacks = append(f.upStacks, st)
	if f.upErr != nil {
		return nil, f.upErr
	}
	return f.statuses, nil
}

func (f *fakeRunner) Down(ctx context.Context) error {
	f.downs++
	return f.downErr
}

type fakeCluster struct {
	applied  [][]byte
	applyOut string
	applyErr error

	secretName string
	secretNS   string
	secretLits map[string]string
	secretOut  string
	secretErr  error

	rolloutReady   int
	rolloutDesired int
	rolloutErr     error

	lbIP    string
	lbHost  string
	lbErr   error
	lbCalls int

	minikubeOut  string
	minikubeErr  error
	minikubeSvcs []string
}

func (f *fakeCluster) Apply(ctx context.Context, manifests []byte) (string, error) {
	f.applied = append(f.applied, manifests)
	if f.applyErr != nil {
		return "", f.applyErr
	}
	return f.applyOut, nil
}

func (f *fakeCluster) CreateSecret(ctx context.Context, name, namespace string, literals map[string]string) (string, error) {
	f.secretName = name
	f.secretNS = namespace
	f.secretLits = literals
	if f.secretErr != nil {
		return "", f.secretErr
	}
	return f.secretOut, nil
}

func (f *fakeCluster) QueryRollout(ctx context.Context, deployment, namespace string) (int, int, error) {
	if f.rolloutErr != nil {
		return 0, 0, f.rolloutErr
	}
	return f.rolloutReady, f.rolloutDesired, nil
}

func (f *fakeCluster) LoadBalancer(ctx context.Context, service, namespace string) (string, string, error) {
	f.lbCalls++
	if f.lbErr != nil {
		return "", "", f.lbErr
	}
	return f.lbIP, f.lbHost, nil
}

func (f *fakeCluster) MinikubeServiceURL(ctx context.Context, service, namespace string) (string, error) {
	f.minikubeSvcs = append(f.minikubeSvcs, service)
	if f.minikubeErr != nil {
		return "", f.minikubeErr
	}
	return f.minikubeOut, nil
}

func newTestGateway(images *fakeImages, runner *fakeRunner, cluster *fakeCluster) *Gateway {
	return New(images, runner, cluster, setupTestLogger())
}

// =============================================================================
// Image Operation Tests
// =============================================================================

func TestRun_BuildImage(t *testing.T) {
	images := &fakeImages{buildRes: &engine.BuildResult{ID: "sha256:abcdef1234567890"}}
	gw := newTestGateway(images, &fakeRunner{}, &fakeCluster{})

	res := gw.Run(context.Background(), Command{
		Op:         OpBuildImage,
		ContextDir: "./dashboard",
		Dockerfile: "Dockerfile",
		ImageRef:   "registry.example.com/automated-dashboard:latest",
	})

	require.NoError(t, res.Err)
	assert.Equal(t, OpBuildImage, res.Op)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "built registry.example.com/automated-dashboard:latest (abcdef123456)", res.Output)
	require.Len(t, images.buildOpts, 1)
	opts := images.buildOpts[0]
	assert.Equal(t, "./dashboard", opts.ContextDir)
	assert.Equal(t, []string{"registry.example.com/automated-dashboard:latest"}, opts.Tags)
	assert.Equal(t, "true", opts.Labels[engine.LabelManaged])
}

func TestRun_BuildImage_Failure(t *testing.T) {
	images := &fakeImages{
		buildErr: engine.NewEngineError("BuildImage", "image", "", "step 3/7 failed", engine.ErrBuildFailed),
	}
	gw := newTestGateway(images, &fakeRunner{}, &fakeCluster{})

	res := gw.Run(context.Background(), Command{
		Op:         OpBuildImage,
		ContextDir: ".",
		ImageRef:   "registry.example.com/automated-dashboard:latest",
	})

	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, engine.ErrBuildFailed)
	assert.Equal(t, 1, res.ExitCode)
	assert.Empty(t, res.Output)
}

func TestRun_BuildImage_MissingRef(t *testing.T) {
	gw := newTestGateway(&fakeImages{}, &fakeRunner{}, &fakeCluster{})

	res := gw.Run(context.Background(), Command{Op: OpBuildImage, ContextDir: "."})

	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, ErrMissingParam)
}

func TestRun_PushImage(t *testing.T) {
	images := &fakeImages{pushRes: &engine.PushResult{Digest: "sha256:feedface"}}
	gw := newTestGateway(images, &fakeRunner{}, &fakeCluster{})

	res := gw.Run(context.Background(), Command{
		Op:       OpPushImage,
		ImageRef: "registry.example.com/automated-dashboard:v3",
		Auth:     engine.RegistryAuth{Username: "ci", Password: "token"},
	})

	require.NoError(t, res.Err)
	assert.Equal(t, "pushed registry.example.com/automated-dashboard:v3 (sha256:feedface)", res.Output)
	assert.Equal(t, []string{"registry.example.com/automated-dashboard:v3"}, images.pushRefs)
	require.Len(t, images.pushAuth, 1)
	assert.Equal(t, "ci", images.pushAuth[0].Username)
}

// =============================================================================
// Stack Operation Tests
// =============================================================================

func TestRun_StackUp(t *testing.T) {
	st, err := stack.Default()
	require.NoError(t, err)
	runner := &fakeRunner{statuses: []engine.ServiceStatus{
		{Service: "postgres", Status: engine.ContainerStatusRunning},
		{Service: "redis", Status: engine.ContainerStatusRunning},
	}}
	gw := newTestGateway(&fakeImages{}, runner, &fakeCluster{})

	res := gw.Run(context.Background(), Command{Op: OpStackUp, Stack: st})

	require.NoError(t, res.Err)
	assert.Equal(t, "postgres=running redis=running", res.Output)
	require.Len(t, runner.upStacks, 1)
	assert.Same(t, st, runner.upStacks[0])
}

func TestRun_StackUp_NilStack(t *testing.T) {
	gw := newTestGateway(&fakeImages{}, &fakeRunner{}, &fakeCluster{})

	res := gw.Run(context.Background(), Command{Op: OpStackUp})

	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, ErrMissingParam)
}

func TestRun_StackDown(t *testing.T) {
	runner := &fakeRunner{}
	gw := newTestGateway(&fakeImages{}, runner, &fakeCluster{})

	res := gw.Run(context.Background(), Command{Op: OpStackDown})

	require.NoError(t, res.Err)
	assert.Equal(t, "stack removed", res.Output)
	assert.Equal(t, 1, runner.downs)
}

// =============================================================================
// Cluster Operation Tests
// =============================================================================

func TestRun_ApplyManifests(t *testing.T) {
	cluster := &fakeCluster{applyOut: "deployment.apps/dashboard configured"}
	gw := newTestGateway(&fakeImages{}, &fakeRunner{}, cluster)
	manifests := []byte("kind: Deployment\n")

	res := gw.Run(context.Background(), Command{Op: OpApplyManifests, Manifests: manifests})

	require.NoError(t, res.Err)
	assert.Equal(t, "deployment.apps/dashboard configured", res.Output)
	require.Len(t, cluster.applied, 1)
	assert.Equal(t, manifests, cluster.applied[0])
}

func TestRun_ApplyManifests_Empty(t *testing.T) {
	gw := newTestGateway(&fakeImages{}, &fakeRunner{}, &fakeCluster{})

	res := gw.Run(context.Background(), Command{Op: OpApplyManifests})

	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, ErrMissingParam)
}

func TestRun_CreateSecret(t *testing.T) {
	cluster := &fakeCluster{secretOut: "secret/dashboard-secrets configured"}
	gw := newTestGateway(&fakeImages{}, &fakeRunner{}, cluster)

	res := gw.Run(context.Background(), Command{
		Op:         OpCreateSecret,
		SecretName: "dashboard-secrets",
		Namespace:  "dashboard",
		Literals: map[string]string{
			"DATABASE_URL": "postgresql://u:p@h/db",
		},
	})

	require.NoError(t, res.Err)
	assert.Equal(t, "secret/dashboard-secrets configured", res.Output)
	assert.Equal(t, "dashboard-secrets", cluster.secretName)
	assert.Equal(t, "dashboard", cluster.secretNS)
	assert.Equal(t, "postgresql://u:p@h/db", cluster.secretLits["DATABASE_URL"])
}

func TestRun_QueryRollout(t *testing.T) {
	cluster := &fakeCluster{rolloutReady: 1, rolloutDesired: 3}
	gw := newTestGateway(&fakeImages{}, &fakeRunner{}, cluster)

	res := gw.Run(context.Background(), Command{
		Op:         OpQueryRollout,
		Deployment: "dashboard",
		Namespace:  "dashboard",
	})

	require.NoError(t, res.Err)
	assert.Equal(t, "1/3", res.Output)

	ready, desired, err := ParseRolloutOutput(res.Output)
	require.NoError(t, err)
	assert.Equal(t, 1, ready)
	assert.Equal(t, 3, desired)
}

func TestParseRolloutOutput_Malformed(t *testing.T) {
	for _, out := range []string{"", "garbage", "1/", "/3", "a/b"} {
		_, _, err := ParseRolloutOutput(out)
		assert.Error(t, err, "output %q", out)
	}
}

// =============================================================================
// Endpoint Query Tests
// =============================================================================

func TestRun_QueryEndpoint_Minikube(t *testing.T) {
	cluster := &fakeCluster{
		minikubeOut: "* Starting tunnel for service dashboard-service.\nhttp://192.168.49.2:31234\n",
	}
	gw := newTestGateway(&fakeImages{}, &fakeRunner{}, cluster)

	res := gw.Run(context.Background(), Command{
		Op:        OpQueryEndpoint,
		Service:   "dashboard-service",
		Namespace: "dashboard",
		Provider:  config.ProviderMinikube,
	})

	require.NoError(t, res.Err)
	assert.Equal(t, "http://192.168.49.2:31234", res.Output)
	assert.Equal(t, []string{"dashboard-service"}, cluster.minikubeSvcs)
	assert.Equal(t, 0, cluster.lbCalls)
}

func TestRun_QueryEndpoint_GenericLoadBalancer(t *testing.T) {
	cluster := &fakeCluster{lbIP: "203.0.113.7"}
	gw := newTestGateway(&fakeImages{}, &fakeRunner{}, cluster)

	res := gw.Run(context.Background(), Command{
		Op:        OpQueryEndpoint,
		Service:   "dashboard-service",
		Namespace: "dashboard",
		Provider:  config.ProviderGeneric,
		Port:      80,
	})

	require.NoError(t, res.Err)
	assert.Equal(t, "http://203.0.113.7", res.Output)
	assert.Equal(t, 1, cluster.lbCalls)
}

func TestRun_QueryEndpoint_Unresolved(t *testing.T) {
	gw := newTestGateway(&fakeImages{}, &fakeRunner{}, &fakeCluster{})

	res := gw.Run(context.Background(), Command{
		Op:       OpQueryEndpoint,
		Service:  "dashboard-service",
		Provider: config.ProviderGeneric,
	})

	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, endpoint.ErrUnresolved)
	assert.Equal(t, 1, res.ExitCode)
}

// =============================================================================
// Dispatch Tests
// =============================================================================

func TestRun_ExitCodeFromCommandError(t *testing.T) {
	cluster := &fakeCluster{
		applyErr: kubectl.NewCommandError("apply-manifests", []string{"kubectl", "apply", "-f", "-"}, 3, "connection refused", errors.New("exit status 3")),
	}
	gw := newTestGateway(&fakeImages{}, &fakeRunner{}, cluster)

	res := gw.Run(context.Background(), Command{Op: OpApplyManifests, Manifests: []byte("kind: Namespace\n")})

	require.Error(t, res.Err)
	assert.Equal(t, 3, res.ExitCode)
}

func TestRun_UnknownOp(t *testing.T) {
	gw := newTestGateway(&fakeImages{}, &fakeRunner{}, &fakeCluster{})

	res := gw.Run(context.Background(), Command{Op: Op("reticulate-splines")})

	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, ErrUnknownOp)
	assert.Equal(t, 1, res.ExitCode)
}

func TestRun_StampsDuration(t *testing.T) {
	gw := newTestGateway(&fakeImages{buildRes: &engine.BuildResult{ID: "sha256:aa"}}, &fakeRunner{}, &fakeCluster{})

	res := gw.Run(context.Background(), Command{
		Op:         OpBuildImage,
		ContextDir: ".",
		ImageRef:   "x:y",
	})

	assert.GreaterOrEqual(t, res.Duration, time.Duration(0))
}
