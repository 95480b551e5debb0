package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/artpar/rollout/internal/core/domain"
	"github.com/artpar/rollout/internal/core/plan"
)

// =============================================================================
// Coordinator Errors
// =============================================================================

var (
	ErrNilPlan     = errors.New("deployment plan is nil")
	ErrNilExecutor = errors.New("host executor is nil")
)

// =============================================================================
// Fleet Coordinator
// =============================================================================

// FleetCoordinator runs a deployment plan: batches sequentially, one host
// machine per host within a batch, bounded by the batch size (which the
// planner keeps at or below MaxParallel). It never touches a state owned
// by a machine; coordination is via the write-once outcomes the machines
// return.
type FleetCoordinator struct {
	executor HostExecutor
	machine  MachineConfig
	logger   *slog.Logger
	events   EventSink
}

// CoordinatorOption configures a FleetCoordinator.
type CoordinatorOption func(*FleetCoordinator)

// WithMachineConfig overrides the per-host machine config.
func WithMachineConfig(cfg MachineConfig) CoordinatorOption {
	return func(c *FleetCoordinator) { c.machine = cfg }
}

// WithEventSink registers an additional progress event consumer.
func WithEventSink(sink EventSink) CoordinatorOption {
	return func(c *FleetCoordinator) { c.events = sink }
}

// NewFleetCoordinator creates a coordinator over the given executor.
func NewFleetCoordinator(executor HostExecutor, logger *slog.Logger, opts ...CoordinatorOption) *FleetCoordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &FleetCoordinator{
		executor: executor,
		machine:  DefaultMachineConfig(),
		logger:   logger.With("component", "coordinator"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// =============================================================================
// Run
// =============================================================================

// Run executes the plan and returns the immutable deployment report.
//
// After each batch the abort policy is evaluated: when the failed fraction
// of the batch exceeds the threshold, no further batches start. With
// RollbackOnAbort, every succeeded host in completed batches is rolled
// back in reverse batch order before reporting. Cancellation of ctx stops
// new work cooperatively; in-flight actions finish first.
func (c *FleetCoordinator) Run(ctx context.Context, p *plan.DeploymentPlan, abort domain.AbortPolicy) (*domain.DeploymentReport, error) {
	if p == nil {
		return nil, ErrNilPlan
	}
	if c.executor == nil {
		return nil, ErrNilExecutor
	}
	if err := abort.Validate(); err != nil {
		return nil, err
	}

	started := time.Now().UTC()
	sink := fanOut(LogSink(c.logger), c.events)
	outcomes := make(map[domain.HostID]domain.DeploymentOutcome, p.HostCount())

	c.logger.Info("starting deployment",
		"service", p.Descriptor.Service,
		"environment", p.Descriptor.Environment,
		"version", p.Descriptor.Version,
		"hosts", p.HostCount(),
		"batches", len(p.Batches),
	)

	aborted := false
	completed := 0
	for i, batch := range p.Batches {
		if ctx.Err() != nil {
			aborted = true
			break
		}

		c.logger.Info("running batch", "batch", i+1, "hosts", len(batch))
		batchOutcomes := c.runBatch(ctx, p, batch, sink)
		failed := 0
		for _, o := range batchOutcomes {
			outcomes[o.Host] = o
			// A host that failed and was rolled back to the previous
			// version still counts as a failure for the threshold.
			if o.FinalState == domain.StateFailed || o.FinalState == domain.StateRolledBack {
				failed++
			}
		}
		completed = i + 1

		if abort.ShouldAbort(failed, len(batch)) {
			c.logger.Warn("abort threshold exceeded",
				"batch", i+1,
				"failed", failed,
				"batch_size", len(batch),
				"threshold", abort.FailureThreshold,
			)
			aborted = true
			break
		}
		if ctx.Err() != nil {
			aborted = true
			break
		}
	}

	// Hosts in batches that never started keep a pending outcome, so the
	// report still covers the whole fleet.
	for _, batch := range p.Batches[completed:] {
		for _, h := range batch {
			if _, ok := outcomes[h]; !ok {
				outcomes[h] = domain.DeploymentOutcome{Host: h, FinalState: domain.StatePending}
			}
		}
	}

	// rollbackAttempted only when a rollback action exists: with no previous
	// version recorded there is nothing to roll back, and the report must
	// say aborted rather than claim a rollback that never ran.
	rollbackAttempted := false
	if aborted && abort.RollbackOnAbort {
		if p.Rollback == nil {
			c.logger.Warn("rollback on abort requested but no previous version is recorded")
		} else {
			rollbackAttempted = true
			c.rollBackSucceeded(p, outcomes, completed, sink)
		}
	}

	report := &domain.DeploymentReport{
		ID:         uuid.New().String(),
		Descriptor: p.Descriptor,
		Outcomes:   outcomes,
		Overall:    domain.DeriveOverallStatus(outcomes, aborted, rollbackAttempted),
		Aborted:    aborted,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
	}

	c.logger.Info("deployment finished",
		"overall", report.Overall,
		"duration", report.FinishedAt.Sub(report.StartedAt),
	)
	return report, nil
}

// runBatch runs one machine per host concurrently and collects the
// write-once outcomes over a channel.
func (c *FleetCoordinator) runBatch(ctx context.Context, p *plan.DeploymentPlan, batch []domain.HostID, sink EventSink) []domain.DeploymentOutcome {
	results := make(chan domain.DeploymentOutcome, len(batch))

	var wg sync.WaitGroup
	for _, host := range batch {
		wg.Add(1)
		go func(h domain.HostID) {
			defer wg.Done()
			m := newHostMachine(h, p, c.executor, c.machine, sink)
			results <- m.Run(ctx)
		}(host)
	}
	wg.Wait()
	close(results)

	outcomes := make([]domain.DeploymentOutcome, 0, len(batch))
	for o := range results {
		outcomes = append(outcomes, o)
	}
	return outcomes
}

// rollBackSucceeded rolls back every succeeded host in the first
// `completed` batches, in reverse batch order. Hosts whose rollback fails
// keep their succeeded outcome with the failure recorded, so the report
// never claims a rollback that did not happen.
func (c *FleetCoordinator) rollBackSucceeded(p *plan.DeploymentPlan, outcomes map[domain.HostID]domain.DeploymentOutcome, completed int, sink EventSink) {
	for i := completed - 1; i >= 0; i-- {
		for _, host := range p.Batches[i] {
			o, ok := outcomes[host]
			if !ok || o.FinalState != domain.StateSucceeded {
				continue
			}

			err := c.rollbackHost(host, *p.Rollback)
			now := time.Now().UTC()
			if err != nil {
				c.logger.Error("rollback failed", "host", host, "error", err)
				o.Errors = append(o.Errors, domain.ErrorRecord{
					State:   domain.StateSucceeded,
					Attempt: 1,
					Message: "rollback: " + err.Error(),
					At:      now,
				})
				outcomes[host] = o
				continue
			}

			sink(Event{Host: host, From: domain.StateSucceeded, To: domain.StateRolledBack, At: now})
			o.FinalState = domain.StateRolledBack
			outcomes[host] = o
		}
	}
}

// rollbackHost runs the rollback action once, bounded by the transition
// timeout.
func (c *FleetCoordinator) rollbackHost(host domain.HostID, action plan.Action) error {
	ctx := context.Background()
	if c.machine.Timeouts.Transition > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.machine.Timeouts.Transition)
		defer cancel()
	}
	_, err := c.executor.Execute(ctx, host, action)
	return err
}
