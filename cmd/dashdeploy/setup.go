package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
)

// =============================================================================
// setup
// =============================================================================

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Prepare the working directory for deployments",
	Long: `Setup creates the directories a deployment expects (the release history
data directory and the Airflow dags directory), seeds .env from .env.example
when no .env exists yet, and verifies the container engine answers.

Running setup twice is safe; existing files are never overwritten.`,
	Args: cobra.NoArgs,
	RunE: runSetup,
}

func runSetup(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig(rootFlags.configPath)
	if err != nil {
		return &exitError{Code: ExitConfigError, Err: err}
	}
	logger := SetupLogger(cfg)

	report, err := setupWorkspace(cfg.Deploy.WorkDir, cfg.Store.DSN)
	if err != nil {
		return &exitError{Code: ExitConfigError, Err: err}
	}
	for _, w := range report.Warnings {
		logger.Warn(w)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	eng.Close()

	out := cmd.OutOrStdout()
	for _, action := range report.Actions {
		fmt.Fprintln(out, action)
	}
	if len(report.Actions) == 0 {
		fmt.Fprintln(out, "workspace already prepared")
	}
	fmt.Fprintln(out, "container engine reachable")
	return nil
}

// =============================================================================
// Workspace Preparation
// =============================================================================

// setupReport lists what setup did and what it flagged.
type setupReport struct {
	Actions  []string
	Warnings []string
}

// setupWorkspace makes the directories and files a deployment expects.
// Existing files and directories are left alone.
func setupWorkspace(workDir, storeDSN string) (*setupReport, error) {
	report := &setupReport{}

	// Data directory for the release history database.
	if dataDir := filepath.Dir(storeDSN); dataDir != "." && dataDir != string(filepath.Separator) {
		created, err := ensureDir(dataDir)
		if err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		if created {
			report.Actions = append(report.Actions, "created "+dataDir)
		}
	}

	// Dags directory the Compose stack bind-mounts into Airflow.
	dagsDir := filepath.Join(workDir, "dags")
	created, err := ensureDir(dagsDir)
	if err != nil {
		return nil, fmt.Errorf("create dags directory: %w", err)
	}
	if created {
		report.Actions = append(report.Actions, "created "+dagsDir)
	}

	// Seed .env from the example, but never overwrite an existing one.
	seeded, warning, err := seedEnvFile(workDir)
	if err != nil {
		return nil, fmt.Errorf("seed env file: %w", err)
	}
	if seeded {
		report.Actions = append(report.Actions, "created "+filepath.Join(workDir, ".env"))
	}
	if warning != "" {
		report.Warnings = append(report.Warnings, warning)
	}

	return report, nil
}

// ensureDir creates the directory if it does not exist and reports whether
// it did.
func ensureDir(path string) (bool, error) {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return false, fmt.Errorf("%s exists and is not a directory", path)
		}
		return false, nil
	}
	if !os.IsNotExist(err) {
		return false, err
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return false, err
	}
	return true, nil
}

// seedEnvFile copies .env.example to .env when .env is absent. A missing
// example is reported as a warning, not an error.
func seedEnvFile(workDir string) (seeded bool, warning string, err error) {
	dst := filepath.Join(workDir, ".env")
	src := filepath.Join(workDir, ".env.example")

	if _, err := os.Stat(dst); err == nil {
		return false, "", nil
	} else if !os.IsNotExist(err) {
		return false, "", err
	}

	srcFile, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return false, fmt.Sprintf("%s not found, skipping .env seeding", src), nil
		}
		return false, "", err
	}
	defer srcFile.Close()

	dstFile, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return false, "", err
	}
	defer dstFile.Close()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		os.Remove(dst)
		return false, "", err
	}
	return true, "", nil
}
