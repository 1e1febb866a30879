package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/daas8085/dashdeploy/internal/core/config"
	"github.com/daas8085/dashdeploy/internal/core/domain"
	"github.com/daas8085/dashdeploy/internal/core/pipeline"
	"github.com/daas8085/dashdeploy/internal/shell/deployer"
	"github.com/daas8085/dashdeploy/internal/shell/engine"
	"github.com/daas8085/dashdeploy/internal/shell/gateway"
	"github.com/daas8085/dashdeploy/internal/shell/kubectl"
	"github.com/daas8085/dashdeploy/internal/shell/probe"
	"github.com/daas8085/dashdeploy/internal/shell/store"
)

// =============================================================================
// deploy
// =============================================================================

var deployCmd = &cobra.Command{
	Use:   "deploy [environment] [registry] [tag]",
	Short: "Build the dashboard image and roll the stack out",
	Long: `Deploy builds the dashboard image and rolls the stack out to the target
the environment selects: development deploys onto the local container
engine, staging and production deploy onto a Kubernetes cluster via kubectl.

All arguments are optional. The environment defaults to development, the
registry to ` + config.DefaultRegistry + ` and the tag to ` + config.DefaultTag + `.`,
	Args: cobra.MaximumNArgs(3),
	RunE: runDeploy,
}

func runDeploy(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig(rootFlags.configPath)
	if err != nil {
		return &exitError{Code: ExitConfigError, Err: err}
	}
	logger := SetupLogger(cfg)

	var rawArgs config.Args
	if len(args) > 0 {
		rawArgs.Environment = args[0]
	}
	if len(args) > 1 {
		rawArgs.Registry = args[1]
	}
	if len(args) > 2 {
		rawArgs.Tag = args[2]
	}

	rcfg, err := config.Resolve(rawArgs, os.LookupEnv)
	if err != nil {
		return &exitError{Code: ExitConfigError, Err: err}
	}

	logger.Info("starting deployment",
		"version", Version,
		"environment", rcfg.Environment,
		"image", rcfg.ImageRef(),
		"target", rcfg.Target(),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	dep := buildDeployer(cfg, rcfg, eng, st, logger)

	outcome, deployErr := dep.Deploy(ctx)
	if outcome == nil {
		// The release row could not even be created.
		return &exitError{Code: ExitStoreError, Err: deployErr}
	}

	out := cmd.OutOrStdout()
	if len(outcome.Results) > 0 {
		fmt.Fprint(out, pipeline.Summarize(outcome.Results))
	}

	if outcome.Release.Status != domain.ReleaseSucceeded {
		if fatal, ok := pipeline.FirstFatal(outcome.Results); ok {
			return &exitError{
				Code: ExitDeployFailed,
				Err:  fmt.Errorf("step %q failed: %s", fatal.Step, fatal.Message),
			}
		}
		return &exitError{Code: ExitDeployFailed, Err: errors.New(outcome.Release.ErrorMessage)}
	}
	if deployErr != nil {
		// The deployment went through but recording it did not.
		return &exitError{Code: ExitStoreError, Err: deployErr}
	}

	fmt.Fprintf(out, "\ndashboard available at %s\n", outcome.Release.Endpoint)
	return nil
}

// =============================================================================
// down
// =============================================================================

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Stop and remove the local development stack",
	Long: `Down stops and removes the stack's containers and network on the local
container engine. Volumes are kept. Cluster deployments are not touched.`,
	Args: cobra.NoArgs,
	RunE: runDown,
}

func runDown(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig(rootFlags.configPath)
	if err != nil {
		return &exitError{Code: ExitConfigError, Err: err}
	}
	logger := SetupLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	orch := engine.NewOrchestrator(eng, logger, cfg.Deploy.WorkDir)
	gw := gateway.New(eng, orch, nil, logger)

	res := gw.Run(ctx, gateway.Command{Op: gateway.OpStackDown})
	if res.Err != nil {
		return &exitError{Code: ExitEngineError, Err: res.Err}
	}

	fmt.Fprintln(cmd.OutOrStdout(), res.Output)
	return nil
}

// =============================================================================
// Wiring
// =============================================================================

// openEngine connects to the container engine and verifies it answers.
func openEngine(ctx context.Context, cfg *Config) (*engine.Docker, error) {
	eng, err := engine.NewDocker(cfg.Engine.Host)
	if err != nil {
		return nil, &exitError{Code: ExitEngineError, Err: err}
	}
	if err := eng.Ping(ctx); err != nil {
		eng.Close()
		return nil, &exitError{Code: ExitEngineError, Err: err}
	}
	return eng, nil
}

// openStore opens the release history store, running migrations if needed.
func openStore(cfg *Config) (store.Store, error) {
	st, err := store.NewSQLiteStore(cfg.Store.DSN)
	if err != nil {
		return nil, &exitError{Code: ExitStoreError, Err: err}
	}
	return st, nil
}

// buildDeployer assembles the deployer and its collaborators for one run.
func buildDeployer(cfg *Config, rcfg config.Config, eng *engine.Docker, st store.Store, logger *slog.Logger) *deployer.Deployer {
	orch := engine.NewOrchestrator(eng, logger, cfg.Deploy.WorkDir)
	kube := kubectl.New(logger, cfg.Deploy.KubectlTimeout)
	gw := gateway.New(eng, orch, kube, logger)
	prober := probe.New(logger, cfg.Probe.Interval)

	return deployer.New(deployer.Params{
		Config:      rcfg,
		Gateway:     gw,
		Prober:      prober,
		Store:       st,
		Logger:      logger,
		WorkDir:     cfg.Deploy.WorkDir,
		ManifestDir: cfg.Deploy.ManifestDir,
		Auth: engine.RegistryAuth{
			Username: cfg.Registry.Username,
			Password: cfg.Registry.Password,
		},
		Timeouts: cfg.Probe.Timeouts(),
	})
}
