package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// Transition Validation Tests
// =============================================================================

func TestValidateTransition_HappyPath(t *testing.T) {
	path := []HostState{
		StatePending,
		StateValidating,
		StatePreparing,
		StateStopping,
		StateUpdating,
		StateStarting,
		StateVerifying,
		StateSucceeded,
	}

	for i := 0; i < len(path)-1; i++ {
		assert.NoError(t, ValidateTransition(path[i], path[i+1]),
			"expected %s -> %s to be valid", path[i], path[i+1])
	}
}

func TestValidateTransition_ConvergenceShortcut(t *testing.T) {
	assert.NoError(t, ValidateTransition(StateValidating, StateVerifying))
}

func TestValidateTransition_AnyActiveStateCanFail(t *testing.T) {
	active := []HostState{
		StateValidating,
		StatePreparing,
		StateStopping,
		StateUpdating,
		StateStarting,
		StateVerifying,
	}

	for _, from := range active {
		t.Run(string(from), func(t *testing.T) {
			assert.NoError(t, ValidateTransition(from, StateFailed))
		})
	}
}

func TestValidateTransition_PendingCannotFailDirectly(t *testing.T) {
	assert.ErrorIs(t, ValidateTransition(StatePending, StateFailed), ErrInvalidTransition)
}

func TestValidateTransition_FailedCanRollBack(t *testing.T) {
	assert.NoError(t, ValidateTransition(StateFailed, StateRolledBack))
}

func TestValidateTransition_SucceededCanRollBack(t *testing.T) {
	// Fleet-level abort rollback drives succeeded -> rolled_back.
	assert.NoError(t, ValidateTransition(StateSucceeded, StateRolledBack))
}

func TestValidateTransition_NoSkippingStates(t *testing.T) {
	cases := []struct {
		from, to HostState
	}{
		{StatePending, StatePreparing},
		{StateValidating, StateStopping},
		{StatePreparing, StateUpdating},
		{StateStopping, StateStarting},
		{StateUpdating, StateVerifying},
		{StateStarting, StateSucceeded},
	}

	for _, tc := range cases {
		t.Run(string(tc.from)+"_to_"+string(tc.to), func(t *testing.T) {
			assert.ErrorIs(t, ValidateTransition(tc.from, tc.to), ErrInvalidTransition)
		})
	}
}

func TestValidateTransition_TerminalStatesAreDeadEnds(t *testing.T) {
	assert.ErrorIs(t, ValidateTransition(StateRolledBack, StateValidating), ErrInvalidTransition)
	assert.ErrorIs(t, ValidateTransition(StateSucceeded, StateValidating), ErrInvalidTransition)
	assert.ErrorIs(t, ValidateTransition(StateFailed, StateValidating), ErrInvalidTransition)
}

func TestValidateTransition_UnknownState(t *testing.T) {
	assert.ErrorIs(t, ValidateTransition(HostState("bogus"), StateFailed), ErrInvalidTransition)
}

// =============================================================================
// Terminal State Tests
// =============================================================================

func TestIsTerminal(t *testing.T) {
	assert.True(t, StateSucceeded.IsTerminal())
	assert.True(t, StateFailed.IsTerminal())
	assert.True(t, StateRolledBack.IsTerminal())

	assert.False(t, StatePending.IsTerminal())
	assert.False(t, StateValidating.IsTerminal())
	assert.False(t, StateVerifying.IsTerminal())
}

func TestDeploymentPath_CoversAllActiveStates(t *testing.T) {
	path := DeploymentPath()

	assert.Len(t, path, 6)
	assert.Equal(t, StateValidating, path[0])
	assert.Equal(t, StateVerifying, path[len(path)-1])
	for _, s := range path {
		assert.False(t, s.IsTerminal())
	}
}
