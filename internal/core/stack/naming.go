package stack

import "fmt"

// Project is the fixed compose project name. Every container, network, and
// volume the engine creates carries this prefix, so repeated deploys find
// and replace their own resources and nothing else on the host.
const Project = "dashdeploy"

// =============================================================================
// Resource Naming Functions
// =============================================================================

// ContainerName generates the container name for a service.
// Pattern: dashdeploy_{serviceName}
//
// Example:
//
//	ContainerName("dashboard") // returns "dashdeploy_dashboard"
func ContainerName(serviceName string) string {
	return fmt.Sprintf("%s_%s", Project, serviceName)
}

// NetworkName generates the stack network name.
// Pattern: dashdeploy_default
func NetworkName() string {
	return fmt.Sprintf("%s_default", Project)
}

// VolumeName generates the name for a named volume.
// Pattern: dashdeploy_{volumeName}
//
// Example:
//
//	VolumeName("postgres-data") // returns "dashdeploy_postgres-data"
func VolumeName(volumeName string) string {
	return fmt.Sprintf("%s_%s", Project, volumeName)
}
