package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/rollout/internal/core/domain"
)

// =============================================================================
// Test Helpers
// =============================================================================

func setupTestStore(t *testing.T) Store {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func testReport(id, service, environment string, started time.Time) *domain.DeploymentReport {
	return &domain.DeploymentReport{
		ID: id,
		Descriptor: domain.ServiceDescriptor{
			Service:         service,
			Environment:     environment,
			Kind:            domain.KindContainer,
			Version:         "1.4.2",
			PreviousVersion: "1.4.1",
			Registry:        "r.example.com",
			Image:           "example/" + service,
			TargetHosts:     []domain.HostID{"h1", "h2"},
		},
		Outcomes: map[domain.HostID]domain.DeploymentOutcome{
			"h1": {Host: "h1", FinalState: domain.StateSucceeded, Attempts: 1},
			"h2": {
				Host:       "h2",
				FinalState: domain.StateFailed,
				Attempts:   4,
				Errors: []domain.ErrorRecord{
					{State: domain.StateVerifying, Attempt: 4, Message: "service not healthy", Transient: true},
				},
			},
		},
		Overall:    domain.StatusPartialFailure,
		StartedAt:  started,
		FinishedAt: started.Add(90 * time.Second),
	}
}

// =============================================================================
// Save / Get Tests
// =============================================================================

func TestSaveRun_RoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	started := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveRun(ctx, testReport("run-1", "api", "prod", started)))

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "api", got.Descriptor.Service)
	assert.Equal(t, domain.StatusPartialFailure, got.Overall)
	require.Contains(t, got.Outcomes, domain.HostID("h2"))
	assert.Equal(t, 4, got.Outcomes["h2"].Attempts)
	require.Len(t, got.Outcomes["h2"].Errors, 1)
	assert.True(t, got.Outcomes["h2"].Errors[0].Transient)
}

func TestSaveRun_DuplicateID(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	started := time.Now().UTC()

	require.NoError(t, s.SaveRun(ctx, testReport("run-1", "api", "prod", started)))
	err := s.SaveRun(ctx, testReport("run-1", "api", "prod", started))

	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestGetRun_NotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.GetRun(context.Background(), "nope")

	assert.ErrorIs(t, err, ErrNotFound)
}

// =============================================================================
// List / Last Tests
// =============================================================================

func TestListRuns_FiltersAndOrder(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveRun(ctx, testReport("run-1", "api", "prod", base)))
	require.NoError(t, s.SaveRun(ctx, testReport("run-2", "api", "prod", base.Add(time.Hour))))
	require.NoError(t, s.SaveRun(ctx, testReport("run-3", "worker", "prod", base.Add(2*time.Hour))))

	runs, err := s.ListRuns(ctx, "api", "prod", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID) // newest first
	assert.Equal(t, "run-1", runs[1].ID)
	assert.Equal(t, 2, runs[0].HostCount)

	all, err := s.ListRuns(ctx, "", "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestLastRun(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveRun(ctx, testReport("run-1", "api", "prod", base)))
	require.NoError(t, s.SaveRun(ctx, testReport("run-2", "api", "prod", base.Add(time.Hour))))

	got, err := s.LastRun(ctx, "api", "prod")
	require.NoError(t, err)
	assert.Equal(t, "run-2", got.ID)

	_, err = s.LastRun(ctx, "api", "qa")
	assert.ErrorIs(t, err, ErrNotFound)
}
