// Package plan provides the pure deployment planning algorithm.
// This is part of the Functional Core - all functions are pure with no I/O.
//
// Planning turns an immutable ServiceDescriptor plus a FleetPolicy into a
// DeploymentPlan: an ordered sequence of host batches and the explicit
// per-host step list the engine drives. Prerequisites that playbook-style
// tooling leaves implicit (runtime presence, config delivery) are encoded
// here as explicit steps.
package plan

import (
	"fmt"
	"math"

	"github.com/artpar/rollout/internal/core/domain"
)

// =============================================================================
// Action Types
// =============================================================================

// ActionKind identifies one atomic host-level action an executor performs.
type ActionKind string

const (
	ActionRunCommand     ActionKind = "run_command"
	ActionCopyFile       ActionKind = "copy_file"
	ActionQueryHealth    ActionKind = "query_health"
	ActionPullImage      ActionKind = "pull_image"
	ActionStartContainer ActionKind = "start_container"
	ActionStopContainer  ActionKind = "stop_container"
	ActionInstallUnit    ActionKind = "install_unit"
	ActionStartUnit      ActionKind = "start_unit"
	ActionStopUnit       ActionKind = "stop_unit"
)

// Action is the pure description of one executor invocation. Only the
// fields relevant to the Kind are set.
type Action struct {
	Kind ActionKind

	// RunCommand
	Command string

	// CopyFile / InstallUnit
	Files []domain.ConfigFile

	// PullImage / StartContainer
	Image     string
	Container string
	Env       map[string]string

	// InstallUnit / StartUnit / StopUnit
	Unit        string
	UnitContent string

	// QueryHealth
	Health domain.HealthCheckSpec

	// Version this action converges toward. Set on start and health
	// actions so executors can report and check the running version.
	Version string
}

// =============================================================================
// Steps
// =============================================================================

// Step binds one host state to the single action its transition invokes.
type Step struct {
	State  domain.HostState
	Action Action
}

// =============================================================================
// Deployment Plan
// =============================================================================

// DeploymentPlan is an ordered sequence of batches plus the per-host steps.
// Batches run sequentially; hosts within one batch run concurrently.
// Invariant: every host in Descriptor.TargetHosts appears in exactly one batch.
type DeploymentPlan struct {
	Descriptor domain.ServiceDescriptor
	Batches    [][]domain.HostID
	Steps      []Step

	// Rollback is the single action that returns a host to the previous
	// version. Nil when the descriptor records no previous version.
	Rollback *Action
}

// HostCount returns the total number of hosts across all batches.
func (p DeploymentPlan) HostCount() int {
	n := 0
	for _, b := range p.Batches {
		n += len(b)
	}
	return n
}

// =============================================================================
// Planning
// =============================================================================

// Plan validates the descriptor and produces the deployment plan.
// Violations wrap domain.ErrInvalidDescriptor; no partial plans are returned.
func Plan(desc domain.ServiceDescriptor, policy domain.FleetPolicy) (*DeploymentPlan, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidDescriptor, err)
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	return &DeploymentPlan{
		Descriptor: desc,
		Batches:    BuildBatches(desc.TargetHosts, policy),
		Steps:      BuildSteps(desc),
		Rollback:   RollbackAction(desc),
	}, nil
}

// BuildBatches partitions hosts into ordered batches.
//
// With a canary fraction f > 0 and more than one host, the first batch holds
// ceil(f * n) hosts (at least one, at most MaxParallel); the remaining hosts
// are split into consecutive batches of size <= MaxParallel. Host order is
// preserved, so every host lands in exactly one batch.
func BuildBatches(hosts []domain.HostID, policy domain.FleetPolicy) [][]domain.HostID {
	if len(hosts) == 0 {
		return nil
	}

	var batches [][]domain.HostID
	rest := hosts

	if policy.CanaryFraction > 0 && len(hosts) > 1 {
		canary := int(math.Ceil(policy.CanaryFraction * float64(len(hosts))))
		if canary < 1 {
			canary = 1
		}
		if canary > policy.MaxParallel {
			canary = policy.MaxParallel
		}
		if canary < len(hosts) {
			batches = append(batches, hosts[:canary])
			rest = hosts[canary:]
		}
	}

	for len(rest) > 0 {
		size := policy.MaxParallel
		if size > len(rest) {
			size = len(rest)
		}
		batches = append(batches, rest[:size])
		rest = rest[size:]
	}

	return batches
}

// BuildSteps returns the ordered step list every host walks through.
// Each state maps to exactly one action.
func BuildSteps(desc domain.ServiceDescriptor) []Step {
	steps := []Step{
		{State: domain.StateValidating, Action: validateAction(desc)},
		{State: domain.StatePreparing, Action: prepareAction(desc)},
	}

	switch desc.Kind {
	case domain.KindSystemProcess:
		steps = append(steps,
			Step{State: domain.StateStopping, Action: Action{
				Kind: ActionStopUnit,
				Unit: desc.UnitName,
			}},
			Step{State: domain.StateUpdating, Action: Action{
				Kind:        ActionInstallUnit,
				Unit:        desc.UnitName,
				UnitContent: desc.UnitTemplate,
				Version:     desc.Version,
			}},
			Step{State: domain.StateStarting, Action: Action{
				Kind:    ActionStartUnit,
				Unit:    desc.UnitName,
				Version: desc.Version,
			}},
		)
	default: // container
		steps = append(steps,
			Step{State: domain.StateStopping, Action: Action{
				Kind:      ActionStopContainer,
				Container: desc.Service,
			}},
			Step{State: domain.StateUpdating, Action: Action{
				Kind:    ActionPullImage,
				Image:   desc.ImageRef(),
				Version: desc.Version,
			}},
			Step{State: domain.StateStarting, Action: Action{
				Kind:      ActionStartContainer,
				Image:     desc.ImageRef(),
				Container: desc.Service,
				Env:       desc.Config,
				Version:   desc.Version,
			}},
		)
	}

	steps = append(steps, Step{State: domain.StateVerifying, Action: healthAction(desc)})

	return steps
}

// validateAction probes the host before anything changes: the runtime must
// answer, and the reported running version feeds the convergence shortcut.
func validateAction(desc domain.ServiceDescriptor) Action {
	return healthAction(desc)
}

// healthAction names the container or unit so executors know what to probe.
func healthAction(desc domain.ServiceDescriptor) Action {
	a := Action{
		Kind:    ActionQueryHealth,
		Health:  desc.HealthCheck,
		Version: desc.Version,
	}
	if desc.Kind == domain.KindSystemProcess {
		a.Unit = desc.UnitName
	} else {
		a.Container = desc.Service
	}
	return a
}

// prepareAction delivers config files when the descriptor carries any;
// otherwise it runs the explicit ensure-runtime-present command.
func prepareAction(desc domain.ServiceDescriptor) Action {
	if len(desc.ConfigFiles) > 0 {
		return Action{
			Kind:  ActionCopyFile,
			Files: desc.ConfigFiles,
		}
	}
	if desc.Kind == domain.KindSystemProcess {
		return Action{
			Kind:    ActionRunCommand,
			Command: "systemctl --version",
		}
	}
	return Action{
		Kind:    ActionRunCommand,
		Command: "docker info --format '{{.ServerVersion}}'",
	}
}

// RollbackAction returns the action that restores the previous version,
// or nil when no previous version is recorded.
func RollbackAction(desc domain.ServiceDescriptor) *Action {
	if !desc.CanRollBack() {
		return nil
	}
	if desc.Kind == domain.KindSystemProcess {
		return &Action{
			Kind:    ActionStartUnit,
			Unit:    desc.UnitName,
			Version: desc.PreviousVersion,
		}
	}
	return &Action{
		Kind:      ActionStartContainer,
		Image:     desc.PreviousImageRef(),
		Container: desc.Service,
		Env:       desc.Config,
		Version:   desc.PreviousVersion,
	}
}
