package domain

import "time"

// =============================================================================
// Per-Host Outcome
// =============================================================================

// DeploymentOutcome is the write-once result of driving one host to a
// terminal state. Created at machine termination, immutable thereafter.
type DeploymentOutcome struct {
	Host       HostID    `json:"host"`
	FinalState HostState `json:"final_state"`

	// Attempts is 1 plus the number of retried transitions across the
	// whole deployment of this host.
	Attempts int `json:"attempts"`

	Errors   []ErrorRecord `json:"errors,omitempty"`
	Duration time.Duration `json:"duration"`

	// Converged is set when the host already ran the desired version and
	// the stop/update/start states were skipped.
	Converged bool `json:"converged,omitempty"`
}

// =============================================================================
// Overall Status
// =============================================================================

// OverallStatus summarizes a whole fleet deployment.
type OverallStatus string

const (
	StatusAllSucceeded   OverallStatus = "all_succeeded"
	StatusPartialFailure OverallStatus = "partial_failure"
	StatusAborted        OverallStatus = "aborted"
	StatusRolledBack     OverallStatus = "rolled_back"
)

// =============================================================================
// Deployment Report
// =============================================================================

// DeploymentReport is the immutable aggregated result of one fleet run.
type DeploymentReport struct {
	ID         string                       `json:"id"`
	Descriptor ServiceDescriptor            `json:"descriptor"`
	Outcomes   map[HostID]DeploymentOutcome `json:"outcomes"`
	Overall    OverallStatus                `json:"overall"`
	Aborted    bool                         `json:"aborted"`
	StartedAt  time.Time                    `json:"started_at"`
	FinishedAt time.Time                    `json:"finished_at"`
}

// CountByState counts outcomes per final state.
func CountByState(outcomes map[HostID]DeploymentOutcome) map[HostState]int {
	counts := make(map[HostState]int)
	for _, o := range outcomes {
		counts[o.FinalState]++
	}
	return counts
}

// DeriveOverallStatus derives the fleet status from per-host outcomes.
//
// Rules:
//   - AllSucceeded iff every outcome is succeeded.
//   - RolledBack iff an abort triggered rollback, at least one host
//     actually reached rolled_back, and every host that had succeeded did
//     (no host is silently left succeeded under a rolled_back report, and
//     a run where nothing rolled back never claims it did).
//   - Aborted iff an abort triggered but rollback was disabled,
//     unavailable, or left some host behind.
//   - PartialFailure otherwise.
func DeriveOverallStatus(outcomes map[HostID]DeploymentOutcome, aborted, rollbackAttempted bool) OverallStatus {
	counts := CountByState(outcomes)
	total := len(outcomes)

	if counts[StateSucceeded] == total && total > 0 && !aborted {
		return StatusAllSucceeded
	}
	if aborted {
		if rollbackAttempted && counts[StateSucceeded] == 0 && counts[StateRolledBack] > 0 {
			return StatusRolledBack
		}
		return StatusAborted
	}
	return StatusPartialFailure
}
