package sshexec

import (
	"fmt"
	"sort"
	"strings"

	"github.com/artpar/rollout/internal/core/plan"
)

// Paths used on target hosts. The version marker lets health queries
// report which unit version a host runs, since systemd has no notion of
// a deployed version.
const (
	unitDir        = "/etc/systemd/system"
	versionMarkDir = "/var/lib/rollout"
)

// =============================================================================
// Command Builders (pure)
// =============================================================================

// pullImageCommand pulls the image for a container deployment.
func pullImageCommand(image string) string {
	return "docker pull " + shellQuote(image)
}

// stopContainerCommand removes the named container. Removing a container
// that does not exist is not an error: stopping is idempotent.
func stopContainerCommand(name string) string {
	return fmt.Sprintf("docker rm -f %s >/dev/null 2>&1 || true", shellQuote(name))
}

// startContainerCommand replaces the named container with one running the
// given image. Env entries are emitted in sorted order so the command is
// deterministic.
func startContainerCommand(action plan.Action) string {
	var b strings.Builder
	b.WriteString(stopContainerCommand(action.Container))
	b.WriteString(" && docker run -d --restart=always --name ")
	b.WriteString(shellQuote(action.Container))

	keys := make([]string, 0, len(action.Env))
	for k := range action.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(" -e ")
		b.WriteString(shellQuote(k + "=" + action.Env[k]))
	}

	if action.Health.Port > 0 {
		fmt.Fprintf(&b, " -p %d:%d", action.Health.Port, action.Health.Port)
	}

	b.WriteString(" ")
	b.WriteString(shellQuote(action.Image))
	return b.String()
}

// containerHealthCommand inspects the named container. The output format is
// image|state|health, parsed by parseContainerStatus.
func containerHealthCommand(name string) string {
	format := "{{.Config.Image}}|{{.State.Status}}|{{if .State.Health}}{{.State.Health.Status}}{{else}}none{{end}}"
	return fmt.Sprintf("docker inspect --format '%s' %s", format, shellQuote(name))
}

// stopUnitCommand stops the unit. Stopping an unknown or inactive unit is
// not an error.
func stopUnitCommand(unit string) string {
	return fmt.Sprintf("systemctl stop %s >/dev/null 2>&1 || true", shellQuote(unit))
}

// startUnitCommand records the version marker and restarts the unit.
func startUnitCommand(unit, version string) string {
	return fmt.Sprintf("mkdir -p %s && printf '%%s' %s > %s && systemctl restart %s",
		versionMarkDir,
		shellQuote(version),
		shellQuote(versionMarkPath(unit)),
		shellQuote(unit),
	)
}

// installUnitCommand is the post-transfer step after the unit file is
// pushed: reload systemd and record the installed version.
func installUnitCommand(unit, version string) string {
	return fmt.Sprintf("systemctl daemon-reload && mkdir -p %s && printf '%%s' %s > %s",
		versionMarkDir,
		shellQuote(version),
		shellQuote(versionMarkPath(unit)),
	)
}

// unitHealthCommand reports active-state|version for the unit. is-active
// exits nonzero for inactive units, so the guard keeps the probe itself
// from failing on a host that simply is not running the service yet.
func unitHealthCommand(unit string) string {
	return fmt.Sprintf("printf '%%s|' \"$(systemctl is-active %s 2>/dev/null || true)\" && cat %s 2>/dev/null || true",
		shellQuote(unit),
		shellQuote(versionMarkPath(unit)),
	)
}

func versionMarkPath(unit string) string {
	return versionMarkDir + "/" + unit + ".version"
}

// shellQuote single-quotes s for POSIX shells.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// =============================================================================
// Output Parsing (pure)
// =============================================================================

// parseContainerStatus parses containerHealthCommand output into the
// observed version and health. The version is the image tag.
func parseContainerStatus(output string) (version string, healthy bool) {
	parts := strings.Split(strings.TrimSpace(output), "|")
	if len(parts) != 3 {
		return "", false
	}
	image, state, health := parts[0], parts[1], parts[2]

	if idx := strings.LastIndex(image, ":"); idx >= 0 {
		version = image[idx+1:]
	}
	healthy = state == "running" && (health == "none" || health == "healthy")
	return version, healthy
}

// parseUnitStatus parses unitHealthCommand output (active-state|version).
func parseUnitStatus(output string) (version string, healthy bool) {
	parts := strings.SplitN(strings.TrimSpace(output), "|", 2)
	if len(parts) == 0 {
		return "", false
	}
	healthy = parts[0] == "active"
	if len(parts) == 2 {
		version = strings.TrimSpace(parts[1])
	}
	return version, healthy
}
