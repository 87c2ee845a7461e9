// Package retry computes retry decisions for failed activity attempts.
// This is part of the Functional Core - all functions are pure with no I/O.
package retry

import (
	"math"
	"time"

	"github.com/artpar/flowstack/internal/core/domain"
)

// =============================================================================
// Backoff Computation
// =============================================================================

// NextDelay returns the delay before the given attempt is retried.
// attempt is the 1-based number of the attempt that just failed, so the
// first failure (attempt 1) backs off by InitialInterval.
//
// The delay grows as InitialInterval * BackoffCoefficient^(attempt-1),
// capped at MaximumInterval.
func NextDelay(policy domain.RetryPolicy, attempt int) time.Duration {
	policy = policy.Normalize()
	if attempt < 1 {
		attempt = 1
	}

	factor := math.Pow(policy.BackoffCoefficient, float64(attempt-1))
	delay := time.Duration(float64(policy.InitialInterval) * factor)

	// Overflow or explosion past the cap both clamp to MaximumInterval.
	if delay <= 0 || delay > policy.MaximumInterval {
		delay = policy.MaximumInterval
	}
	return delay
}

// =============================================================================
// Retry Decision
// =============================================================================

// Decision is the outcome of evaluating a failed attempt against a policy.
type Decision struct {
	// Retry indicates whether the attempt should be retried.
	Retry bool

	// Delay is the backoff before the next attempt. Zero if Retry is false.
	Delay time.Duration

	// Reason explains why the attempt will not be retried.
	Reason string
}

// Evaluate decides whether a failed attempt should be retried.
// attempt is the 1-based attempt that failed; errorType is matched
// against the policy's non-retryable error types.
func Evaluate(policy domain.RetryPolicy, attempt int, errorType string) Decision {
	policy = policy.Normalize()

	for _, t := range policy.NonRetryableErrorTypes {
		if t == errorType {
			return Decision{Reason: "error type is non-retryable: " + errorType}
		}
	}

	// MaximumAttempts of 0 means unlimited.
	if policy.MaximumAttempts > 0 && attempt >= policy.MaximumAttempts {
		return Decision{Reason: "maximum attempts reached"}
	}

	return Decision{
		Retry: true,
		Delay: NextDelay(policy, attempt),
	}
}
