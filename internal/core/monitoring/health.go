// Package monitoring classifies the health of the deployed stack. Pure
// functions only - callers observe container state elsewhere and pass the
// values in.
package monitoring

// =============================================================================
// Health Types
// =============================================================================

// HealthStatus represents the health of a single service or the whole stack.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnknown   HealthStatus = "unknown"
)

// ServiceHealth is the classified health of one stack service.
type ServiceHealth struct {
	Service string       `json:"service"`
	Status  string       `json:"status"` // container state: running, exited, paused, ...
	Health  HealthStatus `json:"health"`
}

// =============================================================================
// Health Classification (Pure Functions)
// =============================================================================

// DetermineServiceHealth maps a service's container state and health-check
// result to a health status.
//
// Parameters:
// - status: container state (running, exited, paused, restarting, ...)
// - healthCheck: health check result when the service defines one
//   (healthy, unhealthy, starting); empty when it does not
func DetermineServiceHealth(status, healthCheck string) HealthStatus {
	// Non-running containers are unhealthy
	if status != "running" {
		return HealthStatusUnhealthy
	}

	// The engine's health check is authoritative when present
	if healthCheck == "unhealthy" {
		return HealthStatusUnhealthy
	}

	// Health check still starting
	if healthCheck == "starting" {
		return HealthStatusDegraded
	}

	return HealthStatusHealthy
}

// AggregateHealth determines overall stack health from per-service health.
func AggregateHealth(services []ServiceHealth) HealthStatus {
	if len(services) == 0 {
		return HealthStatusUnknown
	}

	unhealthy := 0
	degraded := 0

	for _, s := range services {
		switch s.Health {
		case HealthStatusUnhealthy:
			unhealthy++
		case HealthStatusDegraded:
			degraded++
		case HealthStatusUnknown:
			// Unknown services count as degraded
			degraded++
		}
	}

	// All unhealthy = unhealthy
	if unhealthy == len(services) {
		return HealthStatusUnhealthy
	}
	// Any unhealthy or degraded = degraded
	if unhealthy > 0 || degraded > 0 {
		return HealthStatusDegraded
	}
	// All healthy = healthy
	return HealthStatusHealthy
}
