package domain

import (
	"errors"
	"time"
)

// =============================================================================
// Policy Errors
// =============================================================================

var (
	ErrMaxParallelInvalid    = errors.New("max parallel must be at least 1")
	ErrCanaryFractionInvalid = errors.New("canary fraction must be in [0, 1]")
	ErrFailureThresholdRange = errors.New("failure threshold must be in [0, 1]")
)

// =============================================================================
// Retry Policy
// =============================================================================

// RetryPolicy bounds retries of a single state transition.
// It is an explicit value object passed into each host machine, never
// ambient configuration.
type RetryPolicy struct {
	// Limit is the number of retries after the first attempt. A transition
	// is attempted at most Limit+1 times.
	Limit int `json:"limit"`

	// BaseDelay is the backoff delay before the first retry.
	BaseDelay time.Duration `json:"base_delay"`

	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration `json:"max_delay"`
}

// DefaultRetryPolicy returns the retry policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Limit:     3,
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  15 * time.Second,
	}
}

// BackoffDelay returns the delay before retry number retry (1-based):
// BaseDelay * 2^(retry-1), capped at MaxDelay.
func (p RetryPolicy) BackoffDelay(retry int) time.Duration {
	if retry < 1 {
		return 0
	}
	d := p.BaseDelay
	for i := 1; i < retry; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// =============================================================================
// Timeout Policy
// =============================================================================

// TimeoutPolicy bounds how long host work may take. Exceeding either
// timeout is a transient failure subject to the retry budget.
type TimeoutPolicy struct {
	// Transition bounds one executor action.
	Transition time.Duration `json:"transition"`

	// Host bounds the whole deployment of one host, across all states
	// and retries.
	Host time.Duration `json:"host"`

	// Verify bounds one verification attempt (the health poll window).
	Verify time.Duration `json:"verify"`
}

// DefaultTimeoutPolicy returns the timeout policy used when none is configured.
func DefaultTimeoutPolicy() TimeoutPolicy {
	return TimeoutPolicy{
		Transition: 2 * time.Minute,
		Host:       15 * time.Minute,
		Verify:     90 * time.Second,
	}
}

// =============================================================================
// Fleet Policy
// =============================================================================

// FleetPolicy controls how a fleet is partitioned into batches.
type FleetPolicy struct {
	// MaxParallel is the maximum number of hosts deployed concurrently.
	MaxParallel int `json:"max_parallel"`

	// CanaryFraction sizes the first batch: ceil(fraction * fleet size),
	// minimum one host. Zero disables the canary batch.
	CanaryFraction float64 `json:"canary_fraction"`
}

// Validate checks the fleet policy bounds.
func (p FleetPolicy) Validate() error {
	if p.MaxParallel < 1 {
		return ErrMaxParallelInvalid
	}
	if p.CanaryFraction < 0 || p.CanaryFraction > 1 {
		return ErrCanaryFractionInvalid
	}
	return nil
}

// =============================================================================
// Abort Policy
// =============================================================================

// AbortPolicy decides whether the coordinator continues after a batch.
type AbortPolicy struct {
	// FailureThreshold is the fraction of failed hosts within one batch
	// above which no further batches start. 1.0 never aborts on failures
	// alone; 0 aborts on any failure.
	FailureThreshold float64 `json:"failure_threshold"`

	// RollbackOnAbort rolls back every already-succeeded host, in reverse
	// batch order, when an abort triggers.
	RollbackOnAbort bool `json:"rollback_on_abort"`
}

// Validate checks the abort policy bounds.
func (p AbortPolicy) Validate() error {
	if p.FailureThreshold < 0 || p.FailureThreshold > 1 {
		return ErrFailureThresholdRange
	}
	return nil
}

// ShouldAbort reports whether a completed batch trips the threshold.
func (p AbortPolicy) ShouldAbort(failed, batchSize int) bool {
	if batchSize == 0 {
		return false
	}
	return float64(failed)/float64(batchSize) > p.FailureThreshold
}
