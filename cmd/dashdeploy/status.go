package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/daas8085/dashdeploy/internal/core/monitoring"
	"github.com/daas8085/dashdeploy/internal/shell/engine"
)

// =============================================================================
// status
// =============================================================================

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the health of the local development stack",
	Long: `Status inspects the stack's containers on the local container engine and
classifies each service's health from its state and health-check result.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig(rootFlags.configPath)
	if err != nil {
		return &exitError{Code: ExitConfigError, Err: err}
	}
	logger := SetupLogger(cfg)

	ctx := cmd.Context()
	eng, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	orch := engine.NewOrchestrator(eng, logger, cfg.Deploy.WorkDir)
	statuses, err := orch.Status(ctx)
	if err != nil {
		return &exitError{Code: ExitEngineError, Err: err}
	}

	renderStatus(cmd.OutOrStdout(), classifyServices(statuses))
	return nil
}

// =============================================================================
// Classification & Rendering
// =============================================================================

// classifyServices maps observed container states to service health.
func classifyServices(statuses []engine.ServiceStatus) []monitoring.ServiceHealth {
	services := make([]monitoring.ServiceHealth, 0, len(statuses))
	for _, s := range statuses {
		services = append(services, monitoring.ServiceHealth{
			Service: s.Service,
			Status:  string(s.Status),
			Health:  monitoring.DetermineServiceHealth(string(s.Status), s.Health),
		})
	}
	return services
}

func renderStatus(w io.Writer, services []monitoring.ServiceHealth) {
	if len(services) == 0 {
		fmt.Fprintln(w, "stack is not running")
		return
	}

	fmt.Fprintf(w, "%-12s %-12s %s\n", "SERVICE", "STATUS", "HEALTH")
	for _, s := range services {
		fmt.Fprintf(w, "%-12s %-12s %s\n", s.Service, s.Status, s.Health)
	}
	fmt.Fprintf(w, "\noverall: %s\n", monitoring.AggregateHealth(services))
}
