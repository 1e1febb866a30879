package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rootFlags struct {
	configPath string
}

var rootCmd = &cobra.Command{
	Use:   "dashdeploy",
	Short: "Build, deploy and verify the analytics dashboard stack",
	Long: `dashdeploy builds the dashboard image and deploys the full stack
(dashboard, Airflow, Postgres, Redis) to the local container engine for
development, or to a Kubernetes cluster for staging and production. Every
run is recorded in the release history.`,
	Version:       fmt.Sprintf("%s (built %s)", Version, BuildTime),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootFlags.configPath, "config", "", "Path to config file")
	rootCmd.AddCommand(deployCmd, downCmd, setupCmd, statusCmd, historyCmd)
}
