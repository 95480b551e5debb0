package engine

import (
	"context"
	"errors"
	"time"

	"github.com/artpar/rollout/internal/core/domain"
	"github.com/artpar/rollout/internal/core/plan"
)

// =============================================================================
// Machine Config
// =============================================================================

// MachineConfig bounds one host machine: retry budget, timeouts, and
// whether a failed host is rolled back to the previous version.
type MachineConfig struct {
	Retry             domain.RetryPolicy
	Timeouts          domain.TimeoutPolicy
	RollbackOnFailure bool
}

// DefaultMachineConfig returns the machine config used when none is set.
func DefaultMachineConfig() MachineConfig {
	return MachineConfig{
		Retry:             domain.DefaultRetryPolicy(),
		Timeouts:          domain.DefaultTimeoutPolicy(),
		RollbackOnFailure: true,
	}
}

// =============================================================================
// Host Machine
// =============================================================================

// hostMachine drives one host through the deployment states. All of its
// state is owned by exactly one goroutine; the only thing it shares is
// the write-once DeploymentOutcome returned from Run.
type hostMachine struct {
	host     domain.HostID
	plan     *plan.DeploymentPlan
	executor HostExecutor
	cfg      MachineConfig
	events   EventSink

	state     domain.HostState
	retries   int
	errs      []domain.ErrorRecord
	converged bool
}

func newHostMachine(host domain.HostID, p *plan.DeploymentPlan, executor HostExecutor, cfg MachineConfig, events EventSink) *hostMachine {
	if events == nil {
		events = NopSink
	}
	return &hostMachine{
		host:     host,
		plan:     p,
		executor: executor,
		cfg:      cfg,
		events:   events,
		state:    domain.StatePending,
	}
}

// Run drives the host to a terminal state and returns the outcome.
// The ctx is the cooperative cancellation signal: an in-flight action
// always finishes; the machine checks the signal between actions.
func (m *hostMachine) Run(ctx context.Context) domain.DeploymentOutcome {
	start := time.Now()

	hostCtx := ctx
	if m.cfg.Timeouts.Host > 0 {
		var cancel context.CancelFunc
		hostCtx, cancel = context.WithTimeout(ctx, m.cfg.Timeouts.Host)
		defer cancel()
	}

	var runErr error
	for _, step := range m.plan.Steps {
		if m.converged && step.State != domain.StateVerifying {
			continue
		}

		if err := m.transitionTo(step.State); err != nil {
			runErr = err
			break
		}

		res, err := m.runStep(hostCtx, step)
		if err != nil {
			runErr = err
			break
		}

		if step.State == domain.StateValidating && isConverged(res, m.plan.Descriptor.Version) {
			m.converged = true
		}
	}

	if runErr == nil {
		_ = m.transitionTo(domain.StateSucceeded)
	} else {
		_ = m.transitionTo(domain.StateFailed)
		m.maybeRollBack()
	}

	return domain.DeploymentOutcome{
		Host:       m.host,
		FinalState: m.state,
		Attempts:   1 + m.retries,
		Errors:     m.errs,
		Duration:   time.Since(start),
		Converged:  m.converged,
	}
}

// isConverged reports whether the validation probe already observed the
// desired version running and healthy, allowing the stop/update/start
// states to be skipped entirely.
func isConverged(res ActionResult, version string) bool {
	return res.Healthy && res.Version != "" && res.Version == version
}

// =============================================================================
// Transitions
// =============================================================================

// transitionTo moves the machine to the next state and emits an event.
func (m *hostMachine) transitionTo(to domain.HostState) error {
	if err := domain.ValidateTransition(m.state, to); err != nil {
		m.record(m.state, 1, err, false)
		return Permanent("transition", m.host, err)
	}
	from := m.state
	m.state = to
	m.events(Event{Host: m.host, From: from, To: to, At: time.Now().UTC()})
	return nil
}

// runStep executes one state's action with the retry budget. Transient
// failures back off exponentially; permanent failures and exhausted
// budgets surface immediately.
func (m *hostMachine) runStep(hostCtx context.Context, step plan.Step) (ActionResult, error) {
	for attempt := 1; ; attempt++ {
		if err := m.interrupted(hostCtx); err != nil {
			m.record(step.State, attempt, err, false)
			return ActionResult{}, err
		}

		var res ActionResult
		var err error
		if step.State == domain.StateVerifying {
			res, err = m.verifyAttempt(hostCtx, step)
		} else {
			res, err = m.executeOnce(step.Action)
		}
		if err == nil {
			return res, nil
		}

		transient := IsTransient(err)
		m.record(step.State, attempt, err, transient)
		m.events(Event{
			Host:    m.host,
			From:    step.State,
			To:      step.State,
			Attempt: attempt,
			Err:     err.Error(),
			At:      time.Now().UTC(),
		})

		if !transient || attempt > m.cfg.Retry.Limit {
			return ActionResult{}, err
		}

		m.retries++
		if err := m.sleepBackoff(hostCtx, attempt); err != nil {
			m.record(step.State, attempt, err, false)
			return ActionResult{}, err
		}
	}
}

// executeOnce runs a single action bounded by the transition timeout.
// The action context is deliberately not derived from the cancellation
// signal: a cancelled run lets the current action finish.
func (m *hostMachine) executeOnce(action plan.Action) (ActionResult, error) {
	ctx := context.Background()
	if m.cfg.Timeouts.Transition > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.Timeouts.Transition)
		defer cancel()
	}

	res, err := m.executor.Execute(ctx, m.host, action)
	if err != nil {
		return ActionResult{}, m.classify(action.Kind, err)
	}
	return res, nil
}

// classify wraps raw executor failures. Deadline expiry is transient;
// anything else unclassified is permanent.
func (m *hostMachine) classify(kind plan.ActionKind, err error) error {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient(string(kind), m.host, err)
	}
	return Permanent(string(kind), m.host, err)
}

// verifyAttempt polls the health query until the service reports healthy
// at the desired version, or the verify window closes. A closed window is
// one transient failure of the verifying transition.
func (m *hostMachine) verifyAttempt(hostCtx context.Context, step plan.Step) (ActionResult, error) {
	interval := step.Action.Health.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	window := m.cfg.Timeouts.Verify
	if window <= 0 {
		window = 90 * time.Second
	}
	deadline := time.Now().Add(window)

	for {
		res, err := m.executeOnce(step.Action)
		if err == nil && res.Healthy && versionMatches(res.Version, step.Action.Version) {
			return res, nil
		}
		if err != nil && !IsTransient(err) {
			return ActionResult{}, err
		}

		if !time.Now().Add(interval).Before(deadline) {
			if err != nil {
				return ActionResult{}, err
			}
			return ActionResult{}, Transient(string(step.Action.Kind), m.host, ErrNotHealthy)
		}

		select {
		case <-hostCtx.Done():
			return ActionResult{}, m.interruptionError(hostCtx)
		case <-time.After(interval):
		}
	}
}

// versionMatches treats an unreported version as a match: not every
// executor can observe the running version on every probe.
func versionMatches(observed, desired string) bool {
	return observed == "" || desired == "" || observed == desired
}

// =============================================================================
// Rollback
// =============================================================================

// maybeRollBack attempts failed -> rolled_back when the config enables it.
// A missing previous version records ErrRollbackUnavailable and leaves the
// host failed.
func (m *hostMachine) maybeRollBack() {
	if !m.cfg.RollbackOnFailure {
		return
	}
	if m.plan.Rollback == nil {
		m.record(domain.StateFailed, 1, ErrRollbackUnavailable, false)
		return
	}

	if _, err := m.executeOnce(*m.plan.Rollback); err != nil {
		m.record(domain.StateFailed, 1, err, false)
		return
	}
	_ = m.transitionTo(domain.StateRolledBack)
}

// =============================================================================
// Interruption and Backoff
// =============================================================================

// interrupted reports the reason the run can no longer proceed, if any.
func (m *hostMachine) interrupted(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return m.interruptionError(ctx)
	default:
		return nil
	}
}

func (m *hostMachine) interruptionError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Permanent("deadline", m.host, ErrHostDeadlineExceeded)
	}
	return Permanent("cancel", m.host, ErrOperationCancelled)
}

// sleepBackoff waits out the exponential backoff delay before retry
// number retry, honoring cancellation.
func (m *hostMachine) sleepBackoff(ctx context.Context, retry int) error {
	delay := m.cfg.Retry.BackoffDelay(retry)
	if delay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return m.interruptionError(ctx)
	case <-time.After(delay):
		return nil
	}
}

// record appends an error record to the host's ordered failure log.
func (m *hostMachine) record(state domain.HostState, attempt int, err error, transient bool) {
	m.errs = append(m.errs, domain.ErrorRecord{
		State:     state,
		Attempt:   attempt,
		Message:   err.Error(),
		Transient: transient,
		At:        time.Now().UTC(),
	})
}
