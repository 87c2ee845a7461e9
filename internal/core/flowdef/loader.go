package flowdef

import (
	"fmt"
	"time"

	"github.com/artpar/flowstack/internal/core/domain"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// =============================================================================
// HCL Decoding Structures
// =============================================================================

// hclRoot represents the top-level structure of a definition file.
type hclRoot struct {
	Workflows []*hclWorkflow `hcl:"workflow,block"`
}

type hclWorkflow struct {
	Name      string     `hcl:"name,label"`
	TaskQueue *string    `hcl:"task_queue,optional"`
	Steps     []*hclStep `hcl:"step,block"`
}

type hclStep struct {
	Name      string    `hcl:"name,label"`
	Activity  string    `hcl:"activity"`
	TaskQueue *string   `hcl:"task_queue,optional"`
	DependsOn []string  `hcl:"depends_on,optional"`
	Delay     *string   `hcl:"delay,optional"`
	Retry     *hclRetry `hcl:"retry,block"`
}

type hclRetry struct {
	MaxAttempts        *int     `hcl:"max_attempts,optional"`
	InitialInterval    *string  `hcl:"initial_interval,optional"`
	BackoffCoefficient *float64 `hcl:"backoff_coefficient,optional"`
	MaxInterval        *string  `hcl:"max_interval,optional"`
	NonRetryableErrors []string `hcl:"non_retryable_errors,optional"`
}

// =============================================================================
// Parsing
// =============================================================================

// ParseDefinition parses one workflow definition from HCL source.
// filename is used in diagnostics only.
func ParseDefinition(filename string, src []byte) (*Definition, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse %s: %w", filename, diags)
	}

	var root hclRoot
	diags = gohcl.DecodeBody(file.Body, nil, &root)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode %s: %w", filename, diags)
	}

	if len(root.Workflows) != 1 {
		return nil, ErrNoWorkflowBlock
	}

	def, err := translateWorkflow(root.Workflows[0])
	if err != nil {
		return nil, err
	}

	if err := Validate(def); err != nil {
		return nil, err
	}

	return def, nil
}

// translateWorkflow converts decoded HCL into a Definition.
func translateWorkflow(wf *hclWorkflow) (*Definition, error) {
	def := &Definition{
		Name:      wf.Name,
		TaskQueue: "default",
		Steps:     make([]Step, 0, len(wf.Steps)),
	}
	if wf.TaskQueue != nil && *wf.TaskQueue != "" {
		def.TaskQueue = *wf.TaskQueue
	}

	for _, hs := range wf.Steps {
		step, err := translateStep(hs)
		if err != nil {
			return nil, err
		}
		def.Steps = append(def.Steps, step)
	}

	return def, nil
}

// translateStep converts one decoded step block.
func translateStep(hs *hclStep) (Step, error) {
	if hs.Activity == "" {
		return Step{}, NewDefinitionError(hs.Name, "activity is required", ErrMissingActivity)
	}

	step := Step{
		Name:      hs.Name,
		Activity:  hs.Activity,
		DependsOn: hs.DependsOn,
	}
	if hs.TaskQueue != nil {
		step.TaskQueue = *hs.TaskQueue
	}

	if hs.Delay != nil {
		d, err := parseDuration(hs.Name, "delay", *hs.Delay)
		if err != nil {
			return Step{}, err
		}
		step.Delay = d
	}

	if hs.Retry != nil {
		policy, err := translateRetry(hs.Name, hs.Retry)
		if err != nil {
			return Step{}, err
		}
		step.Retry = policy
	}

	return step, nil
}

// translateRetry converts a retry block into a domain policy.
func translateRetry(stepName string, hr *hclRetry) (*domain.RetryPolicy, error) {
	policy := domain.DefaultRetryPolicy()

	if hr.MaxAttempts != nil {
		policy.MaximumAttempts = *hr.MaxAttempts
	}
	if hr.BackoffCoefficient != nil {
		policy.BackoffCoefficient = *hr.BackoffCoefficient
	}
	if hr.InitialInterval != nil {
		d, err := parseDuration(stepName, "initial_interval", *hr.InitialInterval)
		if err != nil {
			return nil, err
		}
		policy.InitialInterval = d
	}
	if hr.MaxInterval != nil {
		d, err := parseDuration(stepName, "max_interval", *hr.MaxInterval)
		if err != nil {
			return nil, err
		}
		policy.MaximumInterval = d
	}
	policy.NonRetryableErrorTypes = hr.NonRetryableErrors

	normalized := policy.Normalize()
	return &normalized, nil
}

// parseDuration parses a Go duration string from an HCL attribute.
func parseDuration(stepName, attr, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return 0, NewDefinitionError(stepName, fmt.Sprintf("%s: %q is not a valid duration", attr, value), ErrInvalidDuration)
	}
	return d, nil
}
