package stack

import (
	_ "embed"
)

// Well-known service names in the default stack.
const (
	ServiceDashboard = "dashboard"
	ServiceAirflow   = "airflow"
	ServicePostgres  = "postgres"
	ServiceRedis     = "redis"
)

//go:embed compose.yaml
var defaultYAML string

// Default parses the built-in stack definition: the Streamlit dashboard, the
// Airflow scheduler that feeds it, and their postgres and redis backends.
// Deployments run this stack unless the operator points at another file.
func Default() (*Stack, error) {
	return Parse(defaultYAML)
}
