package store

import (
	"context"
	"time"

	"github.com/artpar/rollout/internal/core/domain"
)

// =============================================================================
// Store Interface
// =============================================================================

// RunSummary is one row of deployment history, without the full report.
type RunSummary struct {
	ID          string
	Service     string
	Environment string
	Version     string
	Overall     domain.OverallStatus
	Aborted     bool
	HostCount   int
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Store defines the persistence interface for deployment history.
type Store interface {
	// SaveRun records a finished deployment run.
	SaveRun(ctx context.Context, report *domain.DeploymentReport) error

	// GetRun returns the full report for one run.
	GetRun(ctx context.Context, id string) (*domain.DeploymentReport, error)

	// ListRuns returns recent runs for a service in an environment, newest
	// first. Empty service or environment matches everything.
	ListRuns(ctx context.Context, service, environment string, limit int) ([]RunSummary, error)

	// LastRun returns the most recent run for a service in an environment.
	LastRun(ctx context.Context, service, environment string) (*domain.DeploymentReport, error)

	Close() error
}
