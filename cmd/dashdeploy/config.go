package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/daas8085/dashdeploy/internal/shell/deployer"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Engine   EngineConfig   `mapstructure:"engine"`
	Store    StoreConfig    `mapstructure:"store"`
	Registry RegistryConfig `mapstructure:"registry"`
	Deploy   DeployConfig   `mapstructure:"deploy"`
	Probe    ProbeConfig    `mapstructure:"probe"`
	Log      LogConfig      `mapstructure:"log"`
}

// EngineConfig holds container engine client configuration.
type EngineConfig struct {
	Host string `mapstructure:"host"`
}

// StoreConfig holds release history store configuration.
type StoreConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RegistryConfig holds image registry credentials. Set these via
// DASHDEPLOY_REGISTRY_USERNAME and DASHDEPLOY_REGISTRY_PASSWORD rather than
// in a config file.
type RegistryConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// DeployConfig holds deployment run configuration.
type DeployConfig struct {
	// WorkDir is the project checkout the image builds from and the Compose
	// bind mounts resolve against.
	WorkDir string `mapstructure:"work_dir"`

	// ManifestDir is the directory holding the Kubernetes manifests.
	ManifestDir string `mapstructure:"manifest_dir"`

	// KubectlTimeout bounds a single kubectl invocation.
	KubectlTimeout time.Duration `mapstructure:"kubectl_timeout"`
}

// ProbeConfig holds readiness probing configuration.
type ProbeConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	DashboardTimeout time.Duration `mapstructure:"dashboard_timeout"`
	AirflowTimeout   time.Duration `mapstructure:"airflow_timeout"`
	RolloutTimeout   time.Duration `mapstructure:"rollout_timeout"`
}

// Timeouts returns the probe deadlines in the deployer's shape.
func (c ProbeConfig) Timeouts() deployer.Timeouts {
	return deployer.Timeouts{
		Dashboard: c.DashboardTimeout,
		Airflow:   c.AirflowTimeout,
		Rollout:   c.RolloutTimeout,
	}
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("engine.host", "")
	v.SetDefault("store.dsn", "./data/dashdeploy.db")
	v.SetDefault("registry.username", "")
	v.SetDefault("registry.password", "")
	v.SetDefault("deploy.work_dir", ".")
	v.SetDefault("deploy.manifest_dir", "deploy/k8s")
	v.SetDefault("deploy.kubectl_timeout", "60s")
	v.SetDefault("probe.interval", "5s")
	v.SetDefault("probe.dashboard_timeout", "3m")
	v.SetDefault("probe.airflow_timeout", "2m")
	v.SetDefault("probe.rollout_timeout", "5m")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified and is invalid
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("DASHDEPLOY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format. Log
// output goes to stderr; stdout is reserved for the step summary and command
// output.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
