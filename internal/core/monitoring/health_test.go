package monitoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// AggregateHealth Tests
// =============================================================================

func TestAggregateHealth_AllHealthy(t *testing.T) {
	services := []ServiceHealth{
		{Service: "dashboard", Health: HealthStatusHealthy},
		{Service: "postgres", Health: HealthStatusHealthy},
	}

	result := AggregateHealth(services)

	assert.Equal(t, HealthStatusHealthy, result)
}

func TestAggregateHealth_OneUnhealthy(t *testing.T) {
	services := []ServiceHealth{
		{Service: "dashboard", Health: HealthStatusHealthy},
		{Service: "postgres", Health: HealthStatusUnhealthy},
	}

	result := AggregateHealth(services)

	assert.Equal(t, HealthStatusDegraded, result)
}

func TestAggregateHealth_AllUnhealthy(t *testing.T) {
	services := []ServiceHealth{
		{Service: "dashboard", Health: HealthStatusUnhealthy},
		{Service: "postgres", Health: HealthStatusUnhealthy},
	}

	result := AggregateHealth(services)

	assert.Equal(t, HealthStatusUnhealthy, result)
}

func TestAggregateHealth_MixedStatus(t *testing.T) {
	tests := []struct {
		name     string
		services []ServiceHealth
		expected HealthStatus
	}{
		{
			name: "one degraded",
			services: []ServiceHealth{
				{Service: "dashboard", Health: HealthStatusHealthy},
				{Service: "airflow", Health: HealthStatusDegraded},
			},
			expected: HealthStatusDegraded,
		},
		{
			name: "unhealthy and degraded",
			services: []ServiceHealth{
				{Service: "dashboard", Health: HealthStatusUnhealthy},
				{Service: "airflow", Health: HealthStatusDegraded},
				{Service: "redis", Health: HealthStatusHealthy},
			},
			expected: HealthStatusDegraded,
		},
		{
			name: "one unknown",
			services: []ServiceHealth{
				{Service: "dashboard", Health: HealthStatusHealthy},
				{Service: "postgres", Health: HealthStatusUnknown},
			},
			expected: HealthStatusDegraded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := AggregateHealth(tt.services)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestAggregateHealth_EmptyServices(t *testing.T) {
	result := AggregateHealth([]ServiceHealth{})

	assert.Equal(t, HealthStatusUnknown, result)
}

// =============================================================================
// DetermineServiceHealth Tests
// =============================================================================

func TestDetermineServiceHealth(t *testing.T) {
	tests := []struct {
		name        string
		status      string
		healthCheck string
		expected    HealthStatus
	}{
		{
			name:        "running with healthy check",
			status:      "running",
			healthCheck: "healthy",
			expected:    HealthStatusHealthy,
		},
		{
			name:        "running without health check",
			status:      "running",
			healthCheck: "",
			expected:    HealthStatusHealthy,
		},
		{
			name:        "running with unhealthy check",
			status:      "running",
			healthCheck: "unhealthy",
			expected:    HealthStatusUnhealthy,
		},
		{
			name:        "running with starting check",
			status:      "running",
			healthCheck: "starting",
			expected:    HealthStatusDegraded,
		},
		{
			name:        "exited",
			status:      "exited",
			healthCheck: "",
			expected:    HealthStatusUnhealthy,
		},
		{
			name:        "paused ignores passing check",
			status:      "paused",
			healthCheck: "healthy",
			expected:    HealthStatusUnhealthy,
		},
		{
			name:        "restarting",
			status:      "restarting",
			healthCheck: "unhealthy",
			expected:    HealthStatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := DetermineServiceHealth(tt.status, tt.healthCheck)
			assert.Equal(t, tt.expected, result)
		})
	}
}
