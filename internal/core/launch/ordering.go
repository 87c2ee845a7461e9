// Package launch contains pure launch-planning functions for stacks.
// Given a parsed descriptor, it computes the start order, container
// names and rendered environments - without touching the runtime.
// This is part of the Functional Core - all functions are pure with no I/O.
package launch

import (
	"github.com/artpar/flowstack/internal/core/stack"
)

// =============================================================================
// Service Ordering Functions
// =============================================================================

// TopologicalSort sorts services by their dependencies using Kahn's
// algorithm. Services with no dependencies come first. Dependency
// ordering means "started before", not "ready before" - no health
// gating is implied.
//
// If a cycle exists (which should be caught at parse time), remaining
// services are appended to the result as a fallback.
func TopologicalSort(services []stack.Service) []stack.Service {
	if len(services) == 0 {
		return services
	}

	serviceMap := make(map[string]stack.Service)
	inDegree := make(map[string]int)
	dependents := make(map[string][]string)

	for _, svc := range services {
		serviceMap[svc.Name] = svc
		inDegree[svc.Name] = len(svc.DependsOn)
		for _, dep := range svc.DependsOn {
			dependents[dep] = append(dependents[dep], svc.Name)
		}
	}

	// Seed the queue in declaration order so the result is stable.
	var queue []string
	for _, svc := range services {
		if inDegree[svc.Name] == 0 {
			queue = append(queue, svc.Name)
		}
	}

	var result []stack.Service
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

	// Cycle fallback: append whatever did not drain.
	if len(result) < len(services) {
		for _, svc := range services {
			found := false
			for _, r := range result {
				if r.Name == svc.Name {
					found = true
					break
				}
			}
			if !found {
				result = append(result, svc)
			}
		}
	}

	return result
}
