package dockerexec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/rollout/internal/core/domain"
	"github.com/artpar/rollout/internal/core/plan"
	"github.com/artpar/rollout/internal/engine"
)

// =============================================================================
// Container Naming Tests
// =============================================================================

func TestContainerName_ScopedPerHost(t *testing.T) {
	assert.Equal(t, "api-h1", containerName("api", "h1"))
	assert.Equal(t, "api-h2", containerName("api", "h2"))
	assert.NotEqual(t, containerName("api", "h1"), containerName("api", "h2"))
}

// =============================================================================
// Unsupported Action Tests
// =============================================================================

// Host-filesystem actions never reach the daemon, so a zero-value executor
// is enough to exercise the classification.
func TestExecute_HostFilesystemActionsArePermanent(t *testing.T) {
	tests := []struct {
		name   string
		action plan.Action
	}{
		{"copy file", plan.Action{
			Kind:  plan.ActionCopyFile,
			Files: []domain.ConfigFile{{Path: "/etc/api/config.yaml", Content: "port: 8080\n"}},
		}},
		{"install unit", plan.Action{Kind: plan.ActionInstallUnit, Unit: "api.service"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Executor{}

			_, err := e.Execute(context.Background(), domain.HostID("h1"), tt.action)

			require.Error(t, err)
			assert.ErrorIs(t, err, ErrUnsupportedAction)
			assert.False(t, engine.IsTransient(err))

			var execErr *engine.ExecutionError
			require.ErrorAs(t, err, &execErr)
			assert.Equal(t, string(tt.action.Kind), execErr.Op)
			assert.Equal(t, domain.HostID("h1"), execErr.Host)
		})
	}
}
