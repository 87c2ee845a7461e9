package domain

import "time"

// =============================================================================
// Retry Policy
// =============================================================================

// RetryPolicy controls how a failed activity attempt is retried.
// Delays grow exponentially from InitialInterval by BackoffCoefficient,
// capped at MaximumInterval. MaximumAttempts of 0 means unlimited.
type RetryPolicy struct {
	InitialInterval        time.Duration `json:"initial_interval"`
	BackoffCoefficient     float64       `json:"backoff_coefficient"`
	MaximumInterval        time.Duration `json:"maximum_interval"`
	MaximumAttempts        int           `json:"maximum_attempts"`
	NonRetryableErrorTypes []string      `json:"non_retryable_error_types,omitempty"`
}

// DefaultRetryPolicy returns the policy applied to steps that do not
// declare their own.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval:    time.Second,
		BackoffCoefficient: 2.0,
		MaximumInterval:    100 * time.Second,
		MaximumAttempts:    0,
	}
}

// Normalize fills zero fields with default values.
func (p RetryPolicy) Normalize() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.InitialInterval <= 0 {
		p.InitialInterval = def.InitialInterval
	}
	if p.BackoffCoefficient < 1 {
		p.BackoffCoefficient = def.BackoffCoefficient
	}
	if p.MaximumInterval <= 0 {
		p.MaximumInterval = def.MaximumInterval
	}
	if p.MaximumAttempts < 0 {
		p.MaximumAttempts = 0
	}
	return p
}
