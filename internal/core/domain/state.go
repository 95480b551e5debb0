package domain

import "errors"

// =============================================================================
// State Errors
// =============================================================================

var (
	ErrInvalidTransition = errors.New("invalid host state transition")
)

// =============================================================================
// Host Deployment State
// =============================================================================

// HostState represents where one host is in its deployment.
// Each state is owned exclusively by one host machine; never shared.
type HostState string

const (
	StatePending    HostState = "pending"
	StateValidating HostState = "validating"
	StatePreparing  HostState = "preparing"
	StateStopping   HostState = "stopping"
	StateUpdating   HostState = "updating"
	StateStarting   HostState = "starting"
	StateVerifying  HostState = "verifying"
	StateSucceeded  HostState = "succeeded"
	StateFailed     HostState = "failed"
	StateRolledBack HostState = "rolled_back"
)

// IsTerminal reports whether no further transitions are expected.
// Failed is terminal for the machine itself; the failed -> rolled_back
// transition is driven separately by the rollback path.
func (s HostState) IsTerminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateRolledBack:
		return true
	default:
		return false
	}
}

// =============================================================================
// State Machine
// =============================================================================

// validTransitions defines the allowed state transitions.
//
// The happy path is linear:
//
//	pending -> validating -> preparing -> stopping -> updating -> starting -> verifying -> succeeded
//
// validating -> verifying is the convergence shortcut: when the desired
// version is already running and healthy, the stop/update/start states are
// skipped entirely so a re-run changes nothing on the host.
//
// Every non-terminal state except pending may fail; failed may roll back
// when a previous version is recorded. succeeded -> rolled_back happens
// only at fleet level, when an abort rolls back already-completed hosts.
var validTransitions = map[HostState][]HostState{
	StatePending:    {StateValidating},
	StateValidating: {StatePreparing, StateVerifying, StateFailed},
	StatePreparing:  {StateStopping, StateFailed},
	StateStopping:   {StateUpdating, StateFailed},
	StateUpdating:   {StateStarting, StateFailed},
	StateStarting:   {StateVerifying, StateFailed},
	StateVerifying:  {StateSucceeded, StateFailed},
	StateFailed:     {StateRolledBack},
	StateSucceeded:  {StateRolledBack},
	StateRolledBack: {},
}

// ValidateTransition checks if a state transition is valid.
func ValidateTransition(from, to HostState) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return ErrInvalidTransition
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return ErrInvalidTransition
}

// DeploymentPath returns the ordered non-terminal states a host passes
// through on the happy path, excluding pending.
func DeploymentPath() []HostState {
	return []HostState{
		StateValidating,
		StatePreparing,
		StateStopping,
		StateUpdating,
		StateStarting,
		StateVerifying,
	}
}
