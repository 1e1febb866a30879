package stack

// =============================================================================
// Service Ordering Functions
// =============================================================================

// TopologicalSort sorts services by their dependencies using Kahn's
// algorithm. Services with no dependencies come first, so data stores boot
// before the services that dial them.
//
// Ties are broken by input order, which makes the boot order deterministic
// for a given stack file. If a cycle exists (caught at parse time), remaining
// services are appended in input order as a fallback.
//
// Example:
//
//	// Services: dashboard → airflow → postgres
//	services := []Service{
//	    {Name: "dashboard", DependsOn: []string{"airflow"}},
//	    {Name: "airflow", DependsOn: []string{"postgres"}},
//	    {Name: "postgres"},
//	}
//	sorted := TopologicalSort(services)
//	// Result: [postgres, airflow, dashboard]
func TopologicalSort(services []Service) []Service {
	if len(services) == 0 {
		return services
	}

	serviceMap := make(map[string]Service)
	inDegree := make(map[string]int)
	dependents := make(map[string][]string)

	for _, svc := range services {
		serviceMap[svc.Name] = svc
		inDegree[svc.Name] = len(svc.DependsOn)
		for _, dep := range svc.DependsOn {
			dependents[dep] = append(dependents[dep], svc.Name)
		}
	}

	// Seed the queue in input order so ties stay stable.
	var queue []string
	for _, svc := range services {
		if inDegree[svc.Name] == 0 {
			queue = append(queue, svc.Name)
		}
	}

	// Process queue (BFS)
	var result []Service
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]

		if svc, ok := serviceMap[name]; ok {
			result = append(result, svc)
		}

		for _, dep := range dependents[name] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	// Cycle fallback: append whatever did not resolve.
	if len(result) < len(services) {
		seen := make(map[string]bool, len(result))
		for _, r := range result {
			seen[r.Name] = true
		}
		for _, svc := range services {
			if !seen[svc.Name] {
				result = append(result, svc)
			}
		}
	}

	return result
}
