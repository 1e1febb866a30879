// Package deployer runs releases: it builds the step plan for the resolved
// environment, drives the pipeline, and records the outcome in the release
// history. Every external effect goes through the gateway; the deployer
// itself only orchestrates.
package deployer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/daas8085/dashdeploy/internal/core/config"
	"github.com/daas8085/dashdeploy/internal/core/domain"
	"github.com/daas8085/dashdeploy/internal/core/manifest"
	"github.com/daas8085/dashdeploy/internal/core/pipeline"
	"github.com/daas8085/dashdeploy/internal/core/stack"
	"github.com/daas8085/dashdeploy/internal/shell/engine"
	"github.com/daas8085/dashdeploy/internal/shell/gateway"
	"github.com/daas8085/dashdeploy/internal/shell/probe"
	"github.com/daas8085/dashdeploy/internal/shell/store"
)

// =============================================================================
// Cluster object names
// =============================================================================

const (
	// SecretName is the Opaque secret holding the dashboard's connection URLs.
	SecretName = "dashboard-secrets"

	// ServiceName is the Kubernetes service fronting the dashboard.
	ServiceName = "dashboard-service"

	// DeploymentDashboard and DeploymentETL are the deployments whose
	// rollouts gate a cluster release.
	DeploymentDashboard = "dashboard"
	DeploymentETL       = "airflow"

	// servicePort is the port the dashboard service listens on. Port 80 is
	// elided from resolved endpoints.
	servicePort = 80

	dashboardHealthPath = "/_stcore/health"
	airflowHealthPath   = "/health"
)

// =============================================================================
// Timeouts
// =============================================================================

// Timeouts bound the readiness waits of a release.
type Timeouts struct {
	Dashboard time.Duration
	Airflow   time.Duration
	Rollout   time.Duration
}

// DefaultTimeouts returns the readiness deadlines used when none are
// configured.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Dashboard: 3 * time.Minute,
		Airflow:   2 * time.Minute,
		Rollout:   5 * time.Minute,
	}
}

func (t Timeouts) normalize() Timeouts {
	defaults := DefaultTimeouts()
	if t.Dashboard <= 0 {
		t.Dashboard = defaults.Dashboard
	}
	if t.Airflow <= 0 {
		t.Airflow = defaults.Airflow
	}
	if t.Rollout <= 0 {
		t.Rollout = defaults.Rollout
	}
	return t
}

// =============================================================================
// Collaborator interfaces
// =============================================================================

// CommandRunner executes gateway commands.
type CommandRunner interface {
	Run(ctx context.Context, cmd gateway.Command) gateway.Result
}

// ReadinessProber polls a target until ready or deadline.
type ReadinessProber interface {
	Await(ctx context.Context, target probe.Target, timeout time.Duration) (probe.Report, error)
}

// =============================================================================
// Deployer
// =============================================================================

// Params carries the deployer's collaborators and settings.
type Params struct {
	Config      config.Config
	Gateway     CommandRunner
	Prober      ReadinessProber
	Store       store.Store
	Logger      *slog.Logger
	WorkDir     string // root of the project checkout; build contexts resolve against it
	ManifestDir string // directory holding the Kubernetes manifests
	Auth        engine.RegistryAuth
	Timeouts    Timeouts
}

// Deployer runs one release at a time against the resolved configuration.
type Deployer struct {
	cfg         config.Config
	gateway     CommandRunner
	prober      ReadinessProber
	store       store.Store
	logger      *slog.Logger
	workDir     string
	manifestDir string
	auth        engine.RegistryAuth
	timeouts    Timeouts
}

// New creates a deployer.
func New(p Params) *Deployer {
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.WorkDir == "" {
		p.WorkDir = "."
	}
	if p.ManifestDir == "" {
		p.ManifestDir = filepath.Join("deploy", "k8s")
	}
	return &Deployer{
		cfg:         p.Config,
		gateway:     p.Gateway,
		prober:      p.Prober,
		store:       p.Store,
		logger:      p.Logger,
		workDir:     p.WorkDir,
		manifestDir: p.ManifestDir,
		auth:        p.Auth,
		timeouts:    p.Timeouts.normalize(),
	}
}

// Outcome is the full record of one deploy run.
type Outcome struct {
	Release *domain.Release
	Results []pipeline.StepResult
}

// runState collects values steps hand to later steps.
type runState struct {
	endpoint string
}

// Deploy runs the release pipeline for the configured environment. The
// release row is always driven to a terminal status, so failed runs show up
// in the history too. A non-nil error reports history-store trouble, not a
// failed deployment; inspect the Outcome for that.
func (d *Deployer) Deploy(ctx context.Context) (*Outcome, error) {
	release := domain.NewRelease(domain.ReleaseParams{
		Environment: string(d.cfg.Environment),
		Registry:    d.cfg.Registry,
		Tag:         d.cfg.Tag,
		ImageRef:    d.cfg.ImageRef(),
		Namespace:   d.cfg.Namespace,
		Provider:    string(d.cfg.Provider),
	})
	if err := d.store.CreateRelease(ctx, release); err != nil {
		return nil, fmt.Errorf("create release: %w", err)
	}

	d.logger.Info("release started",
		"release_id", release.ID,
		"environment", release.Environment,
		"image", release.ImageRef,
		"target", d.cfg.Target(),
	)

	steps, state, err := d.plan()
	if err != nil {
		// Planning failed before any step ran; the release fails directly
		// from pending.
		_ = release.Fail(fmt.Sprintf("plan: %v", err))
		if storeErr := d.store.FinishRelease(ctx, release); storeErr != nil {
			d.logger.Error("failed to record release", "release_id", release.ID, "error", storeErr)
		}
		return &Outcome{Release: release}, nil
	}

	if err := release.Start(); err != nil {
		return &Outcome{Release: release}, err
	}

	results := pipeline.Run(ctx, d.loggedSteps(steps))

	release.Steps = lo.Map(results, func(r pipeline.StepResult, _ int) domain.StepRecord {
		return domain.StepRecord{
			Name:       r.Step,
			Outcome:    string(r.Outcome),
			Advisory:   r.Advisory,
			Message:    r.Message,
			ExitCode:   r.ExitCode,
			DurationMS: r.Duration.Milliseconds(),
		}
	})

	if pipeline.Passed(results) {
		_ = release.Succeed(state.endpoint)
		d.logger.Info("release succeeded",
			"release_id", release.ID,
			"endpoint", release.Endpoint,
		)
	} else {
		fatal, _ := pipeline.FirstFatal(results)
		_ = release.Fail(fmt.Sprintf("%s: %s", fatal.Step, fatal.Message))
		d.logger.Error("release failed",
			"release_id", release.ID,
			"step", fatal.Step,
			"error", fatal.Message,
		)
	}

	outcome := &Outcome{Release: release, Results: results}
	if err := d.store.FinishRelease(ctx, release); err != nil {
		d.logger.Error("failed to record release", "release_id", release.ID, "error", err)
		return outcome, fmt.Errorf("record release: %w", err)
	}
	return outcome, nil
}

// Down tears the local stack down. Cluster deployments are left to kubectl
// delete by hand; removing production resources is not a one-liner here on
// purpose.
func (d *Deployer) Down(ctx context.Context) error {
	res := d.gateway.Run(ctx, gateway.Command{Op: gateway.OpStackDown})
	return res.Err
}

// =============================================================================
// Step plans
// =============================================================================

// plan builds the environment's step list. Steps that do not apply to the
// configuration still appear and self-skip, so every run reports the same
// step names.
func (d *Deployer) plan() ([]pipeline.Step, *runState, error) {
	st, err := stack.Default()
	if err != nil {
		return nil, nil, fmt.Errorf("load stack: %w", err)
	}
	if err := st.SetImage(stack.ServiceDashboard, d.cfg.ImageRef()); err != nil {
		return nil, nil, fmt.Errorf("override dashboard image: %w", err)
	}

	state := &runState{}
	if d.cfg.Target() == config.TargetCompose {
		return d.composePlan(st, state), state, nil
	}
	return d.clusterPlan(st, state), state, nil
}

func (d *Deployer) composePlan(st *stack.Stack, state *runState) []pipeline.Step {
	dashboardPort := publishedPortOr(st, stack.ServiceDashboard, 8501)
	airflowPort := publishedPortOr(st, stack.ServiceAirflow, 8080)

	return []pipeline.Step{
		{Name: "build-image", Action: d.buildImage(st)},
		{Name: "push-image", Action: d.pushImage()},
		{Name: "deploy-stack", Action: d.deployStack(st)},
		{Name: "await-dashboard", Action: d.awaitHTTP("dashboard",
			fmt.Sprintf("http://localhost:%d%s", dashboardPort, dashboardHealthPath), d.timeouts.Dashboard)},
		{Name: "await-airflow", Advisory: true, Action: d.awaitHTTP("airflow",
			fmt.Sprintf("http://localhost:%d%s", airflowPort, airflowHealthPath), d.timeouts.Airflow)},
		{Name: "resolve-endpoint", Action: d.resolveLocalEndpoint(state, dashboardPort)},
	}
}

func (d *Deployer) clusterPlan(st *stack.Stack, state *runState) []pipeline.Step {
	return []pipeline.Step{
		{Name: "build-image", Action: d.buildImage(st)},
		{Name: "push-image", Action: d.pushImage()},
		{Name: "provision-secrets", Action: d.provisionSecrets()},
		{Name: "apply-manifests", Action: d.applyManifests()},
		{Name: "await-rollout", Action: d.awaitRollout(DeploymentDashboard)},
		{Name: "await-etl-rollout", Advisory: true, Action: d.awaitRollout(DeploymentETL)},
		{Name: "resolve-endpoint", Action: d.resolveClusterEndpoint(state)},
	}
}

// loggedSteps wraps every step action so outcomes land in the structured log
// as they happen; the pipeline itself stays silent.
func (d *Deployer) loggedSteps(steps []pipeline.Step) []pipeline.Step {
	return lo.Map(steps, func(step pipeline.Step, _ int) pipeline.Step {
		action := step.Action
		wrapped := func(ctx context.Context) pipeline.StepResult {
			d.logger.Info("step started", "step", step.Name)
			result := action(ctx)

			switch result.Outcome {
			case pipeline.OutcomeFailed:
				if step.Advisory {
					d.logger.Warn("step failed (advisory)", "step", step.Name, "error", result.Message)
				} else {
					d.logger.Error("step failed", "step", step.Name, "error", result.Message, "exit_code", result.ExitCode)
				}
			case pipeline.OutcomeSkipped:
				d.logger.Info("step skipped", "step", step.Name, "reason", result.Message)
			default:
				d.logger.Info("step succeeded", "step", step.Name, "message", result.Message)
			}
			return result
		}
		return pipeline.Step{Name: step.Name, Advisory: step.Advisory, Action: wrapped}
	})
}

// =============================================================================
// Step actions
// =============================================================================

func (d *Deployer) buildImage(st *stack.Stack) pipeline.Action {
	return func(ctx context.Context) pipeline.StepResult {
		contextDir, dockerfile := d.buildContext(st)
		return d.runGateway(ctx, gateway.Command{
			Op:         gateway.OpBuildImage,
			ContextDir: contextDir,
			Dockerfile: dockerfile,
			ImageRef:   d.cfg.ImageRef(),
		})
	}
}

func (d *Deployer) pushImage() pipeline.Action {
	return func(ctx context.Context) pipeline.StepResult {
		if !d.cfg.PushRequired() {
			return pipeline.Skipped("image push applies to production only")
		}
		return d.runGateway(ctx, gateway.Command{
			Op:       gateway.OpPushImage,
			ImageRef: d.cfg.ImageRef(),
			Auth:     d.auth,
		})
	}
}

func (d *Deployer) deployStack(st *stack.Stack) pipeline.Action {
	return func(ctx context.Context) pipeline.StepResult {
		return d.runGateway(ctx, gateway.Command{
			Op:    gateway.OpStackUp,
			Stack: st,
		})
	}
}

func (d *Deployer) provisionSecrets() pipeline.Action {
	return func(ctx context.Context) pipeline.StepResult {
		if !d.cfg.SecretsRequired() {
			return pipeline.Skipped("secret provisioning applies to production only")
		}
		return d.runGateway(ctx, gateway.Command{
			Op:         gateway.OpCreateSecret,
			SecretName: SecretName,
			Namespace:  d.cfg.Namespace,
			Literals: map[string]string{
				config.EnvVarDatabaseURL: d.cfg.DatabaseURL,
				config.EnvVarRedisURL:    d.cfg.RedisURL,
			},
		})
	}
}

func (d *Deployer) applyManifests() pipeline.Action {
	return func(ctx context.Context) pipeline.StepResult {
		data, err := d.loadManifests()
		if err != nil {
			return pipeline.Failed(fmt.Sprintf("load manifests: %v", err), 1)
		}

		prepared, retagged, err := manifest.Prepare(data, d.cfg.Namespace, config.ImageRepository, d.cfg.ImageRef())
		if err != nil {
			return pipeline.Failed(fmt.Sprintf("prepare manifests: %v", err), 1)
		}

		result := d.runGateway(ctx, gateway.Command{
			Op:        gateway.OpApplyManifests,
			Manifests: prepared,
		})
		if result.Outcome == pipeline.OutcomeSucceeded && retagged > 0 {
			result.Message = fmt.Sprintf("%s (retagged %d image reference(s))", result.Message, retagged)
		}
		return result
	}
}

func (d *Deployer) awaitHTTP(name, url string, timeout time.Duration) pipeline.Action {
	return d.awaitStep(&probe.HTTPTarget{Name: name, URL: url}, timeout)
}

func (d *Deployer) awaitRollout(deployment string) pipeline.Action {
	target := &probe.RolloutTarget{
		Deployment: deployment,
		Query:      d.rolloutQuery(deployment),
	}
	return d.awaitStep(target, d.timeouts.Rollout)
}

func (d *Deployer) awaitStep(target probe.Target, timeout time.Duration) pipeline.Action {
	return func(ctx context.Context) pipeline.StepResult {
		report, err := d.prober.Await(ctx, target, timeout)
		if err != nil {
			return pipeline.Failed(err.Error(), 1)
		}
		return pipeline.Succeeded(fmt.Sprintf("ready after %d attempt(s) in %s",
			report.Attempts, report.Elapsed.Round(time.Millisecond)))
	}
}

func (d *Deployer) resolveLocalEndpoint(state *runState, port uint32) pipeline.Action {
	return func(ctx context.Context) pipeline.StepResult {
		state.endpoint = fmt.Sprintf("http://localhost:%d", port)
		return pipeline.Succeeded(state.endpoint)
	}
}

func (d *Deployer) resolveClusterEndpoint(state *runState) pipeline.Action {
	return func(ctx context.Context) pipeline.StepResult {
		result := d.gateway.Run(ctx, gateway.Command{
			Op:        gateway.OpQueryEndpoint,
			Service:   ServiceName,
			Namespace: d.cfg.Namespace,
			Provider:  d.cfg.Provider,
			Port:      servicePort,
		})
		if result.Err != nil {
			return pipeline.Failed(result.Err.Error(), result.ExitCode)
		}
		state.endpoint = result.Output
		return pipeline.Succeeded(state.endpoint)
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

// runGateway converts a gateway result into a step result.
func (d *Deployer) runGateway(ctx context.Context, cmd gateway.Command) pipeline.StepResult {
	result := d.gateway.Run(ctx, cmd)
	if result.Err != nil {
		return pipeline.Failed(result.Err.Error(), result.ExitCode)
	}
	return pipeline.Succeeded(result.Output)
}

// rolloutQuery adapts the gateway's rollout op to the prober's counter shape.
func (d *Deployer) rolloutQuery(deployment string) probe.ReplicaCounter {
	return func(ctx context.Context) (int, int, error) {
		result := d.gateway.Run(ctx, gateway.Command{
			Op:         gateway.OpQueryRollout,
			Deployment: deployment,
			Namespace:  d.cfg.Namespace,
		})
		if result.Err != nil {
			return 0, 0, result.Err
		}
		return gateway.ParseRolloutOutput(result.Output)
	}
}

// buildContext resolves the dashboard's build context against the work
// directory, following the Compose service's build settings.
func (d *Deployer) buildContext(st *stack.Stack) (contextDir, dockerfile string) {
	contextDir = d.workDir
	dockerfile = "Dockerfile"

	if svc, ok := st.Service(stack.ServiceDashboard); ok && svc.Build != nil {
		if svc.Build.Context != "" && svc.Build.Context != "." {
			contextDir = filepath.Join(d.workDir, svc.Build.Context)
		}
		if svc.Build.Dockerfile != "" {
			dockerfile = svc.Build.Dockerfile
		}
	}
	return contextDir, dockerfile
}

// loadManifests reads every manifest in the manifest directory, in name
// order, into one multi-document stream.
func (d *Deployer) loadManifests() ([]byte, error) {
	entries, err := os.ReadDir(d.manifestDir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no manifests found in %s", d.manifestDir)
	}
	sort.Strings(names)

	var parts []string
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(d.manifestDir, name))
		if err != nil {
			return nil, err
		}
		parts = append(parts, strings.TrimSpace(string(data)))
	}
	return []byte(strings.Join(parts, "\n---\n") + "\n"), nil
}

func publishedPortOr(st *stack.Stack, service string, fallback uint32) uint32 {
	if port, ok := st.PublishedPort(service); ok {
		return port
	}
	return fallback
}
