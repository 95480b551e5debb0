package sshexec

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/artpar/rollout/internal/core/domain"
	"github.com/artpar/rollout/internal/core/plan"
)

// =============================================================================
// Command Builder Tests
// =============================================================================

func TestPullImageCommand(t *testing.T) {
	cmd := pullImageCommand("registry.example.com/api:1.4.2")

	assert.Equal(t, "docker pull 'registry.example.com/api:1.4.2'", cmd)
}

func TestStopContainerCommand_Idempotent(t *testing.T) {
	cmd := stopContainerCommand("api")

	assert.Contains(t, cmd, "docker rm -f 'api'")
	assert.Contains(t, cmd, "|| true")
}

func TestStartContainerCommand_SortedEnvAndPort(t *testing.T) {
	cmd := startContainerCommand(plan.Action{
		Kind:      plan.ActionStartContainer,
		Image:     "r.example.com/api:1.4.2",
		Container: "api",
		Env: map[string]string{
			"ZED":       "z",
			"LOG_LEVEL": "debug",
		},
		Health: domain.HealthCheckSpec{Port: 8080},
	})

	assert.Contains(t, cmd, "docker run -d --restart=always --name 'api'")
	assert.Contains(t, cmd, "-p 8080:8080")
	// Env is emitted in sorted key order.
	assert.Regexp(t, `-e 'LOG_LEVEL=debug'.*-e 'ZED=z'`, cmd)
	assert.Contains(t, cmd, "'r.example.com/api:1.4.2'")
}

func TestStartUnitCommand_RecordsVersionMarker(t *testing.T) {
	cmd := startUnitCommand("agent.service", "2.0.0")

	assert.Contains(t, cmd, "'/var/lib/rollout/agent.service.version'")
	assert.Contains(t, cmd, "systemctl restart 'agent.service'")
}

func TestShellQuote_EscapesSingleQuotes(t *testing.T) {
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
}

// =============================================================================
// Output Parsing Tests
// =============================================================================

func TestParseContainerStatus(t *testing.T) {
	tests := []struct {
		name        string
		output      string
		wantVersion string
		wantHealthy bool
	}{
		{"running no healthcheck", "r.example.com/api:1.4.2|running|none\n", "1.4.2", true},
		{"running healthy", "r.example.com/api:1.4.2|running|healthy", "1.4.2", true},
		{"running unhealthy", "r.example.com/api:1.4.2|running|unhealthy", "1.4.2", false},
		{"exited", "r.example.com/api:1.4.1|exited|none", "1.4.1", false},
		{"untagged image", "example/api|running|none", "", true},
		{"garbage", "no such container", "", false},
		{"empty", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, healthy := parseContainerStatus(tt.output)
			assert.Equal(t, tt.wantVersion, version)
			assert.Equal(t, tt.wantHealthy, healthy)
		})
	}
}

func TestParseUnitStatus(t *testing.T) {
	tests := []struct {
		name        string
		output      string
		wantVersion string
		wantHealthy bool
	}{
		{"active with version", "active|2.0.0\n", "2.0.0", true},
		{"active no marker", "active|", "", true},
		{"inactive", "inactive|1.9.0", "1.9.0", false},
		{"failed", "failed|2.0.0", "2.0.0", false},
		{"empty", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, healthy := parseUnitStatus(tt.output)
			assert.Equal(t, tt.wantVersion, version)
			assert.Equal(t, tt.wantHealthy, healthy)
		})
	}
}
