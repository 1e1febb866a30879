package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daas8085/dashdeploy/internal/shell/deployer"
)

// =============================================================================
// Config Loading Tests
// =============================================================================

func TestLoadConfig_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "", cfg.Engine.Host)
	assert.Equal(t, "./data/dashdeploy.db", cfg.Store.DSN)
	assert.Equal(t, ".", cfg.Deploy.WorkDir)
	assert.Equal(t, "deploy/k8s", cfg.Deploy.ManifestDir)
	assert.Equal(t, 60*time.Second, cfg.Deploy.KubectlTimeout)
	assert.Equal(t, 5*time.Second, cfg.Probe.Interval)
	assert.Equal(t, 3*time.Minute, cfg.Probe.DashboardTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Probe.AirflowTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Probe.RolloutTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadConfig_FromFile(t *testing.T) {
	clearEnv(t)

	configContent := `
engine:
  host: "tcp://10.0.0.5:2375"

store:
  dsn: "/tmp/test.db"

deploy:
  work_dir: "/srv/dashboard"
  manifest_dir: "manifests"
  kubectl_timeout: 90s

probe:
  interval: 2s
  dashboard_timeout: 1m
  airflow_timeout: 30s
  rollout_timeout: 10m

log:
  level: "debug"
  format: "json"
`
	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte(configContent), 0644))

	cfg, err := LoadConfig(tmpFile)
	require.NoError(t, err)

	assert.Equal(t, "tcp://10.0.0.5:2375", cfg.Engine.Host)
	assert.Equal(t, "/tmp/test.db", cfg.Store.DSN)
	assert.Equal(t, "/srv/dashboard", cfg.Deploy.WorkDir)
	assert.Equal(t, "manifests", cfg.Deploy.ManifestDir)
	assert.Equal(t, 90*time.Second, cfg.Deploy.KubectlTimeout)
	assert.Equal(t, 2*time.Second, cfg.Probe.Interval)
	assert.Equal(t, time.Minute, cfg.Probe.DashboardTimeout)
	assert.Equal(t, 30*time.Second, cfg.Probe.AirflowTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Probe.RolloutTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadConfig_EnvironmentOverride(t *testing.T) {
	clearEnv(t)

	t.Setenv("DASHDEPLOY_ENGINE_HOST", "unix:///var/run/docker.sock")
	t.Setenv("DASHDEPLOY_STORE_DSN", "/custom/path.db")
	t.Setenv("DASHDEPLOY_REGISTRY_USERNAME", "ci-bot")
	t.Setenv("DASHDEPLOY_REGISTRY_PASSWORD", "hunter2")
	t.Setenv("DASHDEPLOY_PROBE_INTERVAL", "1s")
	t.Setenv("DASHDEPLOY_LOG_LEVEL", "warn")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "unix:///var/run/docker.sock", cfg.Engine.Host)
	assert.Equal(t, "/custom/path.db", cfg.Store.DSN)
	assert.Equal(t, "ci-bot", cfg.Registry.Username)
	assert.Equal(t, "hunter2", cfg.Registry.Password)
	assert.Equal(t, time.Second, cfg.Probe.Interval)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadConfig_FileNotFound_UsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("/nonexistent/path/config.yaml")
	require.NoError(t, err) // Should not error, just use defaults

	assert.Equal(t, "./data/dashdeploy.db", cfg.Store.DSN)
	assert.Equal(t, "deploy/k8s", cfg.Deploy.ManifestDir)
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	clearEnv(t)

	tmpFile := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte("invalid: yaml: content: [[["), 0644))

	_, err := LoadConfig(tmpFile)
	assert.Error(t, err)
}

func TestProbeConfig_Timeouts(t *testing.T) {
	cfg := ProbeConfig{
		DashboardTimeout: time.Minute,
		AirflowTimeout:   30 * time.Second,
		RolloutTimeout:   2 * time.Minute,
	}

	assert.Equal(t, deployer.Timeouts{
		Dashboard: time.Minute,
		Airflow:   30 * time.Second,
		Rollout:   2 * time.Minute,
	}, cfg.Timeouts())
}

// =============================================================================
// Logger Setup Tests
// =============================================================================

func TestSetupLogger_TextFormat(t *testing.T) {
	cfg := &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}

	logger := SetupLogger(cfg)
	assert.NotNil(t, logger)
}

func TestSetupLogger_JSONFormat(t *testing.T) {
	cfg := &Config{
		Log: LogConfig{
			Level:  "debug",
			Format: "json",
		},
	}

	logger := SetupLogger(cfg)
	assert.NotNil(t, logger)
}

func TestSetupLogger_InvalidLevel(t *testing.T) {
	cfg := &Config{
		Log: LogConfig{
			Level:  "invalid",
			Format: "text",
		},
	}

	// Should fall back to info level, not panic
	logger := SetupLogger(cfg)
	assert.NotNil(t, logger)
}

// =============================================================================
// Test Helpers
// =============================================================================

func clearEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"DASHDEPLOY_ENGINE_HOST",
		"DASHDEPLOY_STORE_DSN",
		"DASHDEPLOY_REGISTRY_USERNAME",
		"DASHDEPLOY_REGISTRY_PASSWORD",
		"DASHDEPLOY_DEPLOY_WORK_DIR",
		"DASHDEPLOY_DEPLOY_MANIFEST_DIR",
		"DASHDEPLOY_PROBE_INTERVAL",
		"DASHDEPLOY_LOG_LEVEL",
		"DASHDEPLOY_LOG_FORMAT",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}
}
