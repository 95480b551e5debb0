package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func outcomesWith(states ...HostState) map[HostID]DeploymentOutcome {
	out := make(map[HostID]DeploymentOutcome, len(states))
	for i, s := range states {
		id := HostID(string(rune('a' + i)))
		out[id] = DeploymentOutcome{Host: id, FinalState: s, Attempts: 1}
	}
	return out
}

// =============================================================================
// Overall Status Derivation Tests
// =============================================================================

func TestDeriveOverallStatus_AllSucceeded(t *testing.T) {
	outcomes := outcomesWith(StateSucceeded, StateSucceeded, StateSucceeded)

	assert.Equal(t, StatusAllSucceeded, DeriveOverallStatus(outcomes, false, false))
}

func TestDeriveOverallStatus_PartialFailure(t *testing.T) {
	outcomes := outcomesWith(StateSucceeded, StateFailed, StateSucceeded)

	assert.Equal(t, StatusPartialFailure, DeriveOverallStatus(outcomes, false, false))
}

func TestDeriveOverallStatus_AbortedWithoutRollback(t *testing.T) {
	outcomes := outcomesWith(StateSucceeded, StateFailed, StateFailed, StatePending)

	assert.Equal(t, StatusAborted, DeriveOverallStatus(outcomes, true, false))
}

func TestDeriveOverallStatus_RolledBack(t *testing.T) {
	outcomes := outcomesWith(StateRolledBack, StateRolledBack, StateFailed, StatePending)

	assert.Equal(t, StatusRolledBack, DeriveOverallStatus(outcomes, true, true))
}

func TestDeriveOverallStatus_IncompleteRollbackIsAborted(t *testing.T) {
	// One host could not be rolled back and is still succeeded: the report
	// must say aborted, never rolled back.
	outcomes := outcomesWith(StateRolledBack, StateSucceeded, StateFailed)

	assert.Equal(t, StatusAborted, DeriveOverallStatus(outcomes, true, true))
}

func TestDeriveOverallStatus_NothingRolledBackIsAborted(t *testing.T) {
	// An abort with rollback requested but no host actually rolled back
	// (nothing had succeeded, or no previous version existed) is aborted:
	// rolled_back requires at least one host to have reached that state.
	outcomes := outcomesWith(StateFailed, StatePending)

	assert.Equal(t, StatusAborted, DeriveOverallStatus(outcomes, true, true))
}

func TestDeriveOverallStatus_EmptyOutcomes(t *testing.T) {
	assert.Equal(t, StatusPartialFailure, DeriveOverallStatus(nil, false, false))
}

// =============================================================================
// Count Tests
// =============================================================================

func TestCountByState(t *testing.T) {
	outcomes := outcomesWith(StateSucceeded, StateSucceeded, StateFailed, StateRolledBack)

	counts := CountByState(outcomes)

	assert.Equal(t, 2, counts[StateSucceeded])
	assert.Equal(t, 1, counts[StateFailed])
	assert.Equal(t, 1, counts[StateRolledBack])
	assert.Equal(t, 0, counts[StatePending])
}
