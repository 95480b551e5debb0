// Package dockerexec implements the host executor capability against a local
// Docker daemon. Each target host maps to a distinctly named container on
// the one daemon, which makes multi-host plans runnable on a laptop: the
// batching, retry, and rollback machinery behaves exactly as it would
// against a real fleet.
//
// Only container actions are supported. File delivery and systemd unit
// actions need a real host filesystem, so descriptors with config files or
// of the system_process kind fail permanently with ErrUnsupportedAction;
// deploy those through the SSH executor instead.
package dockerexec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/artpar/rollout/internal/core/domain"
	"github.com/artpar/rollout/internal/core/plan"
	"github.com/artpar/rollout/internal/engine"
)

// =============================================================================
// Executor Errors
// =============================================================================

var (
	// ErrUnsupportedAction is returned for actions that only make sense on a
	// remote host, such as shell commands and systemd units.
	ErrUnsupportedAction = errors.New("action not supported by local docker executor")

	ErrConnectionFailed = errors.New("cannot connect to docker daemon")
)

// =============================================================================
// Executor
// =============================================================================

// Executor runs container actions against the local Docker daemon.
type Executor struct {
	cli    *client.Client
	logger *slog.Logger
}

// NewExecutor connects to the Docker daemon. An empty host uses the
// environment defaults (DOCKER_HOST etc).
func NewExecutor(host string, logger *slog.Logger) (*Executor, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	if _, err := cli.Ping(context.Background()); err != nil {
		cli.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{cli: cli, logger: logger.With("component", "dockerexec")}, nil
}

// Close closes the daemon connection.
func (e *Executor) Close() error {
	return e.cli.Close()
}

// containerName scopes the container to one simulated host so concurrent
// batch members do not collide on the shared daemon.
func containerName(name string, host domain.HostID) string {
	return fmt.Sprintf("%s-%s", name, host)
}

// Execute performs one action for one simulated host.
func (e *Executor) Execute(ctx context.Context, host domain.HostID, action plan.Action) (engine.ActionResult, error) {
	switch action.Kind {
	case plan.ActionPullImage:
		if err := e.pull(ctx, action.Image); err != nil {
			return engine.ActionResult{}, e.classify(action.Kind, host, err)
		}
		return engine.ActionResult{}, nil

	case plan.ActionStopContainer:
		if err := e.remove(ctx, containerName(action.Container, host)); err != nil {
			return engine.ActionResult{}, e.classify(action.Kind, host, err)
		}
		return engine.ActionResult{}, nil

	case plan.ActionStartContainer:
		if err := e.start(ctx, host, action); err != nil {
			return engine.ActionResult{}, e.classify(action.Kind, host, err)
		}
		return engine.ActionResult{Version: action.Version}, nil

	case plan.ActionQueryHealth:
		return e.queryHealth(ctx, host, action)

	case plan.ActionRunCommand:
		// The runtime probe is the daemon ping we already depend on.
		if _, err := e.cli.Ping(ctx); err != nil {
			return engine.ActionResult{}, engine.Transient(string(action.Kind), host, err)
		}
		return engine.ActionResult{}, nil

	default:
		return engine.ActionResult{}, engine.Permanent(string(action.Kind), host,
			fmt.Errorf("%w: %s", ErrUnsupportedAction, action.Kind))
	}
}

// =============================================================================
// Container Operations
// =============================================================================

func (e *Executor) pull(ctx context.Context, imageName string) error {
	reader, err := e.cli.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull %s: %w", imageName, err)
	}
	defer reader.Close()

	// Drain to completion: the pull runs while the stream is read.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("pull %s: %w", imageName, err)
	}
	return nil
}

// remove force-removes the container. A missing container is fine: stop is
// idempotent.
func (e *Executor) remove(ctx context.Context, name string) error {
	err := e.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("remove %s: %w", name, err)
	}
	return nil
}

func (e *Executor) start(ctx context.Context, host domain.HostID, action plan.Action) error {
	name := containerName(action.Container, host)
	if err := e.remove(ctx, name); err != nil {
		return err
	}

	config := &container.Config{
		Image: action.Image,
		Labels: map[string]string{
			"rollout.host":    string(host),
			"rollout.service": action.Container,
			"rollout.version": action.Version,
		},
	}

	keys := make([]string, 0, len(action.Env))
	for k := range action.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		config.Env = append(config.Env, k+"="+action.Env[k])
	}

	hostConfig := &container.HostConfig{
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyAlways},
	}
	if action.Health.Port > 0 {
		port := nat.Port(fmt.Sprintf("%d/tcp", action.Health.Port))
		config.ExposedPorts = nat.PortSet{port: struct{}{}}
		// The host port is left to the daemon: simulated hosts would
		// otherwise contend for the same port.
		hostConfig.PortBindings = nat.PortMap{port: []nat.PortBinding{{}}}
	}

	resp, err := e.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, name)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if err := e.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}

	e.logger.Debug("container started", "host", host, "name", name, "image", action.Image)
	return nil
}

func (e *Executor) queryHealth(ctx context.Context, host domain.HostID, action plan.Action) (engine.ActionResult, error) {
	name := containerName(action.Container, host)

	resp, err := e.cli.ContainerInspect(ctx, name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return engine.ActionResult{Healthy: false}, nil
		}
		return engine.ActionResult{}, e.classify(action.Kind, host, err)
	}

	healthy := resp.State.Running
	if resp.State.Health != nil {
		healthy = healthy && resp.State.Health.Status == "healthy"
	}

	version := resp.Config.Labels["rollout.version"]
	if version == "" {
		if idx := strings.LastIndex(resp.Config.Image, ":"); idx >= 0 {
			version = resp.Config.Image[idx+1:]
		}
	}
	return engine.ActionResult{Version: version, Healthy: healthy}, nil
}

// =============================================================================
// Error Classification
// =============================================================================

// classify maps daemon failures onto the retry taxonomy. Registry and
// daemon reachability problems are transient; everything else (bad image
// reference, invalid config) is permanent.
func (e *Executor) classify(kind plan.ActionKind, host domain.HostID, err error) error {
	op := string(kind)

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return engine.Transient(op, host, err)
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "Cannot connect to the Docker daemon"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "i/o timeout"),
		strings.Contains(msg, "TLS handshake timeout"):
		return engine.Transient(op, host, err)
	}

	return engine.Permanent(op, host, err)
}

var _ engine.HostExecutor = (*Executor)(nil)
