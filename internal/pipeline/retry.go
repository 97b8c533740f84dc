package pipeline

import (
	"time"
)

// RetryPolicy bounds delivery retries with a constant delay.
// Params: configuration values, not mutated at runtime.
// Returns: policy consumed by the retry controller.
type RetryPolicy struct {
	MaxTry   int
	TryDelay time.Duration
}

// retryState is the tagged controller state. Either Idle (zero value) or
// BackingOff with the attempt count and last failed attempt time; a
// non-zero count never exists outside backoff.
type retryState struct {
	backingOff bool
	attempts   int
	since      time.Time
}

// retryController decides whether a flush attempt is currently permitted
// and when an exhausted batch must be dropped.
// Params: none.
// Returns: per-buffer state machine guarded by the owning shipper.
type retryController struct {
	policy RetryPolicy
	state  retryState
}

// newRetryController creates an idle controller.
// Params: policy retry limits.
// Returns: controller instance.
func newRetryController(policy RetryPolicy) *retryController {
	return &retryController{policy: policy}
}

// armed reports whether a delivery attempt is permitted now.
// Params: now current time.
// Returns: true when idle or when the constant delay has elapsed since
// the last failed attempt.
func (c *retryController) armed(now time.Time) bool {
	if !c.state.backingOff {
		return true
	}
	return now.Sub(c.state.since) >= c.policy.TryDelay
}

// onSuccess resets the controller to the initial idle state.
// Params: none.
// Returns: none.
func (c *retryController) onSuccess() {
	c.state = retryState{}
}

// onFailure records one failed attempt and enters backoff.
// Params: now failure time, recorded as the backoff start.
// Returns: true when attempts reached MaxTry; the caller must then drop
// the pending batch, and the controller is already reset to idle.
func (c *retryController) onFailure(now time.Time) bool {
	c.state = retryState{
		backingOff: true,
		attempts:   c.state.attempts + 1,
		since:      now,
	}
	if c.state.attempts >= c.policy.MaxTry {
		c.state = retryState{}
		return true
	}
	return false
}

// attempts returns the failed attempt count of the current backoff cycle.
// Params: none.
// Returns: attempt count, zero while idle.
func (c *retryController) attempts() int {
	return c.state.attempts
}
