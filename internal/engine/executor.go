// Package engine drives fleet deployments: one state machine per host,
// fanned out in bounded batches by the coordinator, against a pluggable
// host executor capability.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/artpar/rollout/internal/core/domain"
	"github.com/artpar/rollout/internal/core/plan"
)

// =============================================================================
// Engine Errors
// =============================================================================

var (
	// ErrOperationCancelled is recorded when cooperative cancellation stops
	// a host machine. The in-flight action finishes first; the machine then
	// fails with this error.
	ErrOperationCancelled = errors.New("operation cancelled")

	// ErrRollbackUnavailable is recorded when a rollback is requested but
	// the descriptor carries no previous version.
	ErrRollbackUnavailable = errors.New("no previous version recorded, rollback unavailable")

	// ErrHostDeadlineExceeded is recorded when the per-host overall timeout
	// expires.
	ErrHostDeadlineExceeded = errors.New("host deployment deadline exceeded")

	// ErrNotHealthy is the transient verification failure: the service did
	// not report healthy within the verify window.
	ErrNotHealthy = errors.New("service did not become healthy within the verify window")
)

// =============================================================================
// Execution Errors
// =============================================================================

// Severity classifies an execution failure for retry decisions.
type Severity string

const (
	// SeverityTransient failures (timeouts, connection errors) are retried
	// with exponential backoff up to the retry budget.
	SeverityTransient Severity = "transient"

	// SeverityPermanent failures (validation, permission) fail the
	// transition immediately, without retry.
	SeverityPermanent Severity = "permanent"
)

// ExecutionError wraps a host action failure with its retry classification.
type ExecutionError struct {
	Severity Severity
	Op       string        // Action kind that failed
	Host     domain.HostID
	Err      error
}

func (e *ExecutionError) Error() string {
	if e.Host != "" {
		return fmt.Sprintf("%s on %s: %v", e.Op, e.Host, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable execution error.
func Transient(op string, host domain.HostID, err error) *ExecutionError {
	return &ExecutionError{Severity: SeverityTransient, Op: op, Host: host, Err: err}
}

// Permanent wraps err as a non-retryable execution error.
func Permanent(op string, host domain.HostID, err error) *ExecutionError {
	return &ExecutionError{Severity: SeverityPermanent, Op: op, Host: host, Err: err}
}

// IsTransient reports whether err should be retried. Unclassified errors
// are treated as permanent: retrying an unknown failure mode repeats
// side effects blindly.
func IsTransient(err error) bool {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Severity == SeverityTransient
	}
	return false
}

// =============================================================================
// Host Executor Capability
// =============================================================================

// ActionResult is the outcome of one successful host action.
type ActionResult struct {
	// Output is the raw action output, when there is any.
	Output string

	// Version is the service version the host reports running, when the
	// action can observe it (health queries). Empty when unknown.
	Version string

	// Healthy reports the observed service health for health queries.
	Healthy bool
}

// HostExecutor performs one atomic action against one target host.
//
// Implementations must be safe for concurrent invocation with distinct
// hosts: the coordinator shares a single executor across every machine in
// a batch. Failures are reported as *ExecutionError so the machine can
// classify them for retry.
type HostExecutor interface {
	Execute(ctx context.Context, host domain.HostID, action plan.Action) (ActionResult, error)
}
