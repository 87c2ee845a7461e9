package flowdef

import (
	"fmt"

	"github.com/artpar/flowstack/internal/core/suggest"
)

// =============================================================================
// Definition Validation
// =============================================================================

// Validate checks the structural soundness of a definition: at least
// one step, unique step names, known and acyclic dependencies.
func Validate(def *Definition) error {
	if len(def.Steps) == 0 {
		return ErrEmptyDefinition
	}

	names := def.StepNames()
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			return NewDefinitionError(name, "step name declared twice", ErrDuplicateStep)
		}
		seen[name] = true
	}

	for _, step := range def.Steps {
		for _, dep := range step.DependsOn {
			if dep == step.Name {
				return NewDefinitionError(step.Name, "step depends on itself", ErrSelfDependency)
			}
			if !seen[dep] {
				msg := fmt.Sprintf("depends_on references unknown step %q", dep)
				if hint := suggest.Closest(dep, names); hint != "" {
					msg += fmt.Sprintf(" (did you mean %q?)", hint)
				}
				return NewDefinitionError(step.Name, msg, ErrUnknownDependency)
			}
		}
	}

	if err := detectCycle(def); err != nil {
		return err
	}

	return nil
}

// detectCycle runs a DFS over the dependency edges.
func detectCycle(def *Definition) error {
	deps := make(map[string][]string, len(def.Steps))
	for _, step := range def.Steps {
		deps[step.Name] = step.DependsOn
	}

	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	var visit func(name string) bool
	visit = func(name string) bool {
		visited[name] = true
		onStack[name] = true

		for _, dep := range deps[name] {
			if !visited[dep] {
				if visit(dep) {
					return true
				}
			} else if onStack[dep] {
				return true
			}
		}

		onStack[name] = false
		return false
	}

	for _, step := range def.Steps {
		if !visited[step.Name] {
			if visit(step.Name) {
				return NewDefinitionError(step.Name, "dependency cycle detected", ErrCircularDependency)
			}
		}
	}

	return nil
}

// =============================================================================
// Graph Advancement
// =============================================================================

// Frontier returns the steps that are ready to run: every dependency
// completed, and the step itself neither completed, failed, nor already
// in flight. Steps are returned in declaration order so scheduling is
// deterministic.
func Frontier(def *Definition, completed, failed, inFlight map[string]bool) []Step {
	var ready []Step

	for _, step := range def.Steps {
		if completed[step.Name] || failed[step.Name] || inFlight[step.Name] {
			continue
		}

		blocked := false
		for _, dep := range step.DependsOn {
			if !completed[dep] {
				blocked = true
				break
			}
		}
		if !blocked {
			ready = append(ready, step)
		}
	}

	return ready
}

// Downstream returns all steps transitively depending on the given
// step, in declaration order. Used to skip dependents after a terminal
// step failure.
func Downstream(def *Definition, stepName string) []string {
	dependents := make(map[string][]string)
	for _, step := range def.Steps {
		for _, dep := range step.DependsOn {
			dependents[dep] = append(dependents[dep], step.Name)
		}
	}

	reached := make(map[string]bool)
	queue := []string{stepName}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		for _, next := range dependents[name] {
			if !reached[next] {
				reached[next] = true
				queue = append(queue, next)
			}
		}
	}

	var result []string
	for _, step := range def.Steps {
		if reached[step.Name] {
			result = append(result, step.Name)
		}
	}
	return result
}

// AllSettled reports whether every step reached a terminal outcome or
// became unreachable because a dependency failed.
func AllSettled(def *Definition, completed, failed map[string]bool) bool {
	unreachable := make(map[string]bool)
	for name := range failed {
		for _, down := range Downstream(def, name) {
			unreachable[down] = true
		}
	}

	for _, step := range def.Steps {
		if !completed[step.Name] && !failed[step.Name] && !unreachable[step.Name] {
			return false
		}
	}
	return true
}
