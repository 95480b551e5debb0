// Package sshexec implements the host executor capability over SSH: every
// action becomes a shell command (or file transfer) on the target host.
// The docker and systemctl binaries on the host do the actual work; this
// package is transport plus error classification.
package sshexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/artpar/rollout/internal/core/domain"
	"github.com/artpar/rollout/internal/core/plan"
	"github.com/artpar/rollout/internal/engine"
)

// =============================================================================
// Executor Errors
// =============================================================================

var (
	ErrUnknownHost   = errors.New("host not registered with executor")
	ErrUnknownAction = errors.New("unknown action kind")
)

// =============================================================================
// Config
// =============================================================================

// Config configures the SSH executor.
type Config struct {
	ConnectTimeout time.Duration // Default: 10 seconds
}

// DefaultConfig returns the default executor configuration.
func DefaultConfig() Config {
	return Config{ConnectTimeout: 10 * time.Second}
}

// =============================================================================
// Executor
// =============================================================================

// connection holds one host's spec and its cached SSH client.
type connection struct {
	host   domain.Host
	mu     sync.Mutex
	client *ssh.Client
	signer ssh.Signer
}

// Executor executes host actions over SSH. It is safe for concurrent use
// with distinct hosts: each host has its own connection and lock.
type Executor struct {
	conns  map[domain.HostID]*connection
	cfg    Config
	logger *slog.Logger
}

// NewExecutor creates an SSH executor for the given fleet.
func NewExecutor(hosts []domain.Host, cfg Config, logger *slog.Logger) *Executor {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	conns := make(map[domain.HostID]*connection, len(hosts))
	for _, h := range hosts {
		conns[h.ID] = &connection{host: h}
	}
	return &Executor{conns: conns, cfg: cfg, logger: logger.With("component", "sshexec")}
}

// Close closes every open SSH connection.
func (e *Executor) Close() error {
	var firstErr error
	for _, c := range e.conns {
		c.mu.Lock()
		if c.client != nil {
			if err := c.client.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
			c.client = nil
		}
		c.mu.Unlock()
	}
	return firstErr
}

// =============================================================================
// Execute
// =============================================================================

// Execute performs one action against one host.
func (e *Executor) Execute(ctx context.Context, host domain.HostID, action plan.Action) (engine.ActionResult, error) {
	conn, ok := e.conns[host]
	if !ok {
		return engine.ActionResult{}, engine.Permanent(string(action.Kind), host, ErrUnknownHost)
	}

	switch action.Kind {
	case plan.ActionRunCommand:
		out, err := e.run(ctx, conn, action.Command)
		if err != nil {
			return engine.ActionResult{}, e.classify(action.Kind, host, err)
		}
		return engine.ActionResult{Output: out}, nil

	case plan.ActionCopyFile:
		for _, f := range action.Files {
			if err := e.push(ctx, conn, f); err != nil {
				return engine.ActionResult{}, e.classify(action.Kind, host, err)
			}
		}
		return engine.ActionResult{}, nil

	case plan.ActionPullImage:
		out, err := e.run(ctx, conn, pullImageCommand(action.Image))
		if err != nil {
			// Pull failures are almost always registry reachability.
			return engine.ActionResult{}, engine.Transient(string(action.Kind), host, err)
		}
		return engine.ActionResult{Output: out}, nil

	case plan.ActionStopContainer:
		_, err := e.run(ctx, conn, stopContainerCommand(action.Container))
		if err != nil {
			return engine.ActionResult{}, e.classify(action.Kind, host, err)
		}
		return engine.ActionResult{}, nil

	case plan.ActionStartContainer:
		out, err := e.run(ctx, conn, startContainerCommand(action))
		if err != nil {
			return engine.ActionResult{}, e.classify(action.Kind, host, err)
		}
		return engine.ActionResult{Output: out, Version: action.Version}, nil

	case plan.ActionInstallUnit:
		if err := e.installUnit(ctx, conn, action); err != nil {
			return engine.ActionResult{}, e.classify(action.Kind, host, err)
		}
		return engine.ActionResult{Version: action.Version}, nil

	case plan.ActionStartUnit:
		_, err := e.run(ctx, conn, startUnitCommand(action.Unit, action.Version))
		if err != nil {
			return engine.ActionResult{}, e.classify(action.Kind, host, err)
		}
		return engine.ActionResult{Version: action.Version}, nil

	case plan.ActionStopUnit:
		_, err := e.run(ctx, conn, stopUnitCommand(action.Unit))
		if err != nil {
			return engine.ActionResult{}, e.classify(action.Kind, host, err)
		}
		return engine.ActionResult{}, nil

	case plan.ActionQueryHealth:
		return e.queryHealth(ctx, conn, host, action)

	default:
		return engine.ActionResult{}, engine.Permanent(string(action.Kind), host, ErrUnknownAction)
	}
}

// queryHealth probes the service. A host that simply is not running the
// service yet is a healthy=false result, not an error; only transport
// failures surface as errors.
func (e *Executor) queryHealth(ctx context.Context, conn *connection, host domain.HostID, action plan.Action) (engine.ActionResult, error) {
	var cmd string
	if action.Unit != "" {
		cmd = unitHealthCommand(action.Unit)
	} else {
		cmd = containerHealthCommand(action.Container)
	}

	out, err := e.run(ctx, conn, cmd)
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			// Container/unit does not exist on this host.
			return engine.ActionResult{Healthy: false}, nil
		}
		return engine.ActionResult{}, e.classify(action.Kind, host, err)
	}

	var version string
	var healthy bool
	if action.Unit != "" {
		version, healthy = parseUnitStatus(out)
	} else {
		version, healthy = parseContainerStatus(out)
	}

	if healthy && action.Health.Endpoint != "" {
		healthy = e.probeEndpoint(ctx, conn, action.Health)
	}
	return engine.ActionResult{Output: out, Version: version, Healthy: healthy}, nil
}

// probeEndpoint curls the health endpoint from the host itself.
func (e *Executor) probeEndpoint(ctx context.Context, conn *connection, hc domain.HealthCheckSpec) bool {
	timeout := int(hc.Timeout / time.Second)
	if timeout < 1 {
		timeout = 2
	}
	url := fmt.Sprintf("http://127.0.0.1:%d%s", hc.Port, hc.Endpoint)
	_, err := e.run(ctx, conn, fmt.Sprintf("curl -fsS -m %d %s >/dev/null", timeout, shellQuote(url)))
	return err == nil
}

// installUnit pushes the rendered unit file, then reloads systemd and
// records the version marker.
func (e *Executor) installUnit(ctx context.Context, conn *connection, action plan.Action) error {
	unitFile := domain.ConfigFile{
		Path:    path.Join(unitDir, action.Unit),
		Content: action.UnitContent,
		Mode:    0644,
	}
	if err := e.push(ctx, conn, unitFile); err != nil {
		return err
	}
	for _, f := range action.Files {
		if err := e.push(ctx, conn, f); err != nil {
			return err
		}
	}
	_, err := e.run(ctx, conn, installUnitCommand(action.Unit, action.Version))
	return err
}

// =============================================================================
// Connection Management
// =============================================================================

// dial establishes the SSH connection if not already connected.
func (e *Executor) dial(conn *connection) (*ssh.Client, error) {
	conn.mu.Lock()
	defer conn.mu.Unlock()

	if conn.client != nil {
		// Check if the connection is still alive.
		_, _, err := conn.client.SendRequest("keepalive@rollout", true, nil)
		if err == nil {
			return conn.client, nil
		}
		conn.client.Close()
		conn.client = nil
	}

	if conn.signer == nil {
		key, err := os.ReadFile(conn.host.KeyRef)
		if err != nil {
			return nil, fmt.Errorf("read SSH key for %s: %w", conn.host.ID, err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse SSH key for %s: %w", conn.host.ID, err)
		}
		conn.signer = signer
	}

	config := &ssh.ClientConfig{
		User:            conn.host.SSHUser,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(conn.signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // TODO: Store and verify host keys
		Timeout:         e.cfg.ConnectTimeout,
	}

	addr := net.JoinHostPort(conn.host.Address, strconv.Itoa(conn.host.SSHPort))
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("SSH dial %s: %w", addr, err)
	}

	conn.client = client
	return client, nil
}

// run executes one command on the host, honoring ctx for the overall
// duration. The session is closed on timeout, which aborts the remote
// command.
func (e *Executor) run(ctx context.Context, conn *connection, cmd string) (string, error) {
	client, err := e.dial(conn)
	if err != nil {
		return "", err
	}

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	e.logger.Debug("running command", "host", conn.host.ID, "cmd", cmd)

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case <-ctx.Done():
		session.Close()
		return "", ctx.Err()
	case err := <-done:
		if err != nil {
			msg := strings.TrimSpace(stderr.String())
			if msg != "" {
				return "", fmt.Errorf("%w: %s", err, msg)
			}
			return "", err
		}
		return stdout.String(), nil
	}
}

// push writes one file to the host via a shell redirect on stdin. Parent
// directories are created; the mode is applied after the write.
func (e *Executor) push(ctx context.Context, conn *connection, f domain.ConfigFile) error {
	mode := f.Mode
	if mode == 0 {
		mode = 0644
	}
	cmd := fmt.Sprintf("mkdir -p %s && cat > %s && chmod %o %s",
		shellQuote(path.Dir(f.Path)),
		shellQuote(f.Path),
		mode,
		shellQuote(f.Path),
	)

	client, err := e.dial(conn)
	if err != nil {
		return err
	}

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer session.Close()

	session.Stdin = strings.NewReader(f.Content)

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case <-ctx.Done():
		session.Close()
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("write %s: %w", f.Path, err)
		}
		return nil
	}
}

// =============================================================================
// Error Classification
// =============================================================================

// classify maps transport and command failures onto the retry taxonomy:
// connection problems and timeouts are transient, command exit failures
// are permanent.
func (e *Executor) classify(kind plan.ActionKind, host domain.HostID, err error) error {
	op := string(kind)

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return engine.Transient(op, host, err)
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return engine.Permanent(op, host, err)
	}

	var missingErr *ssh.ExitMissingError
	if errors.As(err, &missingErr) {
		// Session dropped without an exit status: connection trouble.
		return engine.Transient(op, host, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return engine.Transient(op, host, err)
	}

	if strings.Contains(err.Error(), "SSH dial") || strings.Contains(err.Error(), "create session") {
		return engine.Transient(op, host, err)
	}

	return engine.Permanent(op, host, err)
}
