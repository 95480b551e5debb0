package domain

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// Descriptor Errors
// =============================================================================

var (
	// ErrInvalidDescriptor is the planning-time validation failure.
	// It is fatal: no partial plan is ever produced from an invalid descriptor.
	ErrInvalidDescriptor = errors.New("invalid service descriptor")

	ErrNoTargetHosts     = errors.New("target host list is empty")
	ErrImageRequired     = errors.New("container services require an image")
	ErrRegistryRequired  = errors.New("container services require a registry")
	ErrUnitTemplateEmpty = errors.New("system process services require a unit template")
	ErrUnknownKind       = errors.New("unknown service kind")
	ErrDuplicateHost     = errors.New("target host listed more than once")
)

// =============================================================================
// Service Kind
// =============================================================================

// ServiceKind distinguishes how a service runs on a host.
type ServiceKind string

const (
	// KindContainer is a service deployed as a Docker container.
	KindContainer ServiceKind = "container"

	// KindSystemProcess is a service deployed as a systemd unit.
	KindSystemProcess ServiceKind = "system_process"
)

// IsValid checks if the service kind is one of the known kinds.
func (k ServiceKind) IsValid() bool {
	return k == KindContainer || k == KindSystemProcess
}

// =============================================================================
// Health Check Spec
// =============================================================================

// HealthCheckSpec describes how to decide a deployed service is healthy.
type HealthCheckSpec struct {
	// Endpoint is an HTTP path or command the executor probes, depending on kind.
	Endpoint string `json:"endpoint,omitempty"`

	// Port is the port the health probe targets (container kind).
	Port int `json:"port,omitempty"`

	// Interval is the delay between health polls while verifying.
	Interval time.Duration `json:"interval,omitempty"`

	// Timeout is the per-probe timeout.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// =============================================================================
// Config File
// =============================================================================

// ConfigFile is a file delivered to a host before the service starts.
type ConfigFile struct {
	Path    string `json:"path"`    // Absolute destination path on the host
	Content string `json:"content"` // Fully resolved content, no templating
	Mode    uint32 `json:"mode"`    // Unix permission bits, 0 means 0644
}

// =============================================================================
// Service Descriptor
// =============================================================================

// ServiceDescriptor is the fully resolved description of one deployment:
// what to deploy, which version, and where. It is immutable once planning
// begins; the resolver produces it and nothing downstream mutates it.
type ServiceDescriptor struct {
	Service     string      `json:"service"`
	Environment string      `json:"environment"`
	Kind        ServiceKind `json:"kind"`

	// Version is the version to converge the fleet to.
	Version string `json:"version"`

	// PreviousVersion is the rollback target. When empty, rollback is
	// unavailable and a failed host stays failed.
	PreviousVersion string `json:"previous_version,omitempty"`

	// Container kind fields.
	Registry string `json:"registry,omitempty"`
	Image    string `json:"image,omitempty"`

	// System process kind fields. UnitTemplate is the fully rendered
	// systemd unit content; no templating happens inside the engine.
	UnitTemplate string `json:"unit_template,omitempty"`
	UnitName     string `json:"unit_name,omitempty"`

	TargetHosts []HostID          `json:"target_hosts"`
	Config      map[string]string `json:"config,omitempty"`
	ConfigFiles []ConfigFile      `json:"config_files,omitempty"`
	HealthCheck HealthCheckSpec   `json:"health_check"`
}

// ImageRef returns the full image reference for container services.
func (d ServiceDescriptor) ImageRef() string {
	return d.Registry + "/" + d.Image + ":" + d.Version
}

// PreviousImageRef returns the image reference of the rollback target.
func (d ServiceDescriptor) PreviousImageRef() string {
	return d.Registry + "/" + d.Image + ":" + d.PreviousVersion
}

// CanRollBack reports whether a rollback target is recorded.
func (d ServiceDescriptor) CanRollBack() bool {
	return d.PreviousVersion != ""
}

// Validate checks the descriptor for planning. All violations wrap
// ErrInvalidDescriptor so callers can classify with errors.Is.
func (d ServiceDescriptor) Validate() error {
	if len(d.TargetHosts) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidDescriptor, ErrNoTargetHosts)
	}
	seen := make(map[HostID]bool, len(d.TargetHosts))
	for _, h := range d.TargetHosts {
		if seen[h] {
			return fmt.Errorf("%w: %w: %s", ErrInvalidDescriptor, ErrDuplicateHost, h)
		}
		seen[h] = true
	}
	if d.Version == "" {
		return fmt.Errorf("%w: version is required", ErrInvalidDescriptor)
	}

	switch d.Kind {
	case KindContainer:
		if d.Image == "" {
			return fmt.Errorf("%w: %w", ErrInvalidDescriptor, ErrImageRequired)
		}
		if d.Registry == "" {
			return fmt.Errorf("%w: %w", ErrInvalidDescriptor, ErrRegistryRequired)
		}
	case KindSystemProcess:
		if d.UnitTemplate == "" {
			return fmt.Errorf("%w: %w", ErrInvalidDescriptor, ErrUnitTemplateEmpty)
		}
		if d.UnitName == "" {
			return fmt.Errorf("%w: unit name is required", ErrInvalidDescriptor)
		}
	default:
		return fmt.Errorf("%w: %w: %q", ErrInvalidDescriptor, ErrUnknownKind, d.Kind)
	}

	return nil
}
