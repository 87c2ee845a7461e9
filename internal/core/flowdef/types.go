// Package flowdef parses and validates HCL workflow definitions.
// A definition declares the steps of a workflow, their activities and
// the dependency edges between them; the engine walks this graph.
package flowdef

import (
	"time"

	"github.com/artpar/flowstack/internal/core/domain"
)

// =============================================================================
// Definition Types
// =============================================================================

// Definition is a parsed workflow definition.
type Definition struct {
	// Name identifies the definition within a namespace.
	Name string

	// TaskQueue is the default queue steps are dispatched to.
	TaskQueue string

	// Steps in declaration order.
	Steps []Step
}

// Step is one unit of the workflow graph.
type Step struct {
	// Name is unique within the definition.
	Name string

	// Activity is the activity type a worker executes for this step.
	Activity string

	// TaskQueue overrides the definition's queue when set.
	TaskQueue string

	// DependsOn lists steps that must complete before this one runs.
	DependsOn []string

	// Delay postpones the first scheduling of the step.
	Delay time.Duration

	// Retry overrides the default retry policy when set.
	Retry *domain.RetryPolicy
}

// StepByName returns the named step, if present.
func (d *Definition) StepByName(name string) (Step, bool) {
	for _, s := range d.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return Step{}, false
}

// StepNames returns all step names in declaration order.
func (d *Definition) StepNames() []string {
	names := make([]string, 0, len(d.Steps))
	for _, s := range d.Steps {
		names = append(names, s.Name)
	}
	return names
}

// RetryPolicyFor returns the effective retry policy of a step.
func (d *Definition) RetryPolicyFor(stepName string) domain.RetryPolicy {
	if s, ok := d.StepByName(stepName); ok && s.Retry != nil {
		return s.Retry.Normalize()
	}
	return domain.DefaultRetryPolicy()
}

// QueueFor returns the effective task queue of a step.
func (d *Definition) QueueFor(stepName string) string {
	if s, ok := d.StepByName(stepName); ok && s.TaskQueue != "" {
		return s.TaskQueue
	}
	return d.TaskQueue
}
