package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	oklogrun "github.com/oklog/run"

	"github.com/artpar/rollout/internal/core/domain"
	"github.com/artpar/rollout/internal/core/plan"
	"github.com/artpar/rollout/internal/engine"
	"github.com/artpar/rollout/internal/shell/dockerexec"
	"github.com/artpar/rollout/internal/shell/resolver"
	"github.com/artpar/rollout/internal/shell/sshexec"
	"github.com/artpar/rollout/internal/shell/store"
)

// =============================================================================
// Deploy Command
// =============================================================================

func runDeploy(args []string) int {
	fs := flag.NewFlagSet("deploy", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	environment := fs.String("env", "", "Target environment (required)")
	service := fs.String("service", "", "Service to deploy (required)")
	registry := fs.String("registry", "", "Override the catalog registry")
	maxParallel := fs.Int("max-parallel", 1, "Max hosts deployed concurrently per batch")
	canaryFraction := fs.Float64("canary-fraction", 0, "Fraction of hosts in the canary batch (0 disables)")
	executorKind := fs.String("executor", "", "Executor kind: ssh or docker (default from config)")
	dryRun := fs.Bool("dry-run", false, "Print the plan without touching any host")
	fs.Parse(args)

	if *environment == "" || *service == "" {
		fmt.Fprintln(os.Stderr, "deploy: --env and --service are required")
		fs.Usage()
		return ExitConfigError
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return ExitConfigError
	}
	logger := SetupLogger(cfg)

	catalog, err := resolver.LoadCatalog(cfg.Catalog.Path)
	if err != nil {
		logger.Error("failed to load catalog", "path", cfg.Catalog.Path, "error", err)
		return ExitConfigError
	}

	desc, hosts, err := catalog.Resolve(*service, *environment)
	if err != nil {
		logger.Error("failed to resolve service", "service", *service, "env", *environment, "error", err)
		return ExitConfigError
	}
	if *registry != "" {
		desc.Registry = *registry
	}

	fleetPolicy := domain.FleetPolicy{
		MaxParallel:    *maxParallel,
		CanaryFraction: *canaryFraction,
	}
	p, err := plan.Plan(desc, fleetPolicy)
	if err != nil {
		logger.Error("planning failed", "error", err)
		return ExitConfigError
	}

	logger.Info("plan ready",
		"service", desc.Service,
		"env", desc.Environment,
		"version", desc.Version,
		"hosts", p.HostCount(),
		"batches", len(p.Batches),
	)

	if *dryRun {
		printPlan(p)
		return ExitSuccess
	}

	kind := cfg.Executor.Kind
	if *executorKind != "" {
		kind = *executorKind
	}
	executor, closeExec, err := buildExecutor(kind, cfg, hosts, logger)
	if err != nil {
		logger.Error("failed to create executor", "kind", kind, "error", err)
		return ExitConfigError
	}
	defer closeExec()

	report, err := executeRun(cfg, logger, executor, p)
	if err != nil {
		logger.Error("deployment could not start", "error", err)
		return ExitConfigError
	}

	saveReport(cfg, logger, report)
	printReport(report)

	switch report.Overall {
	case domain.StatusAllSucceeded:
		return ExitSuccess
	case domain.StatusRolledBack:
		return ExitRolledBack
	default:
		return ExitFailure
	}
}

// buildExecutor constructs the configured host executor.
func buildExecutor(kind string, cfg *Config, hosts []domain.Host, logger *slog.Logger) (engine.HostExecutor, func(), error) {
	switch kind {
	case "docker":
		exec, err := dockerexec.NewExecutor(cfg.Executor.DockerHost, logger)
		if err != nil {
			return nil, nil, err
		}
		return exec, func() { exec.Close() }, nil
	case "ssh":
		exec := sshexec.NewExecutor(hosts, sshexec.Config{ConnectTimeout: cfg.Executor.ConnectTimeout}, logger)
		return exec, func() { exec.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown executor kind %q", kind)
	}
}

// executeRun drives the coordinator under signal handling: INT/TERM cancels
// the run context, which stops new work while in-flight actions finish.
func executeRun(cfg *Config, logger *slog.Logger, executor engine.HostExecutor, p *plan.DeploymentPlan) (*domain.DeploymentReport, error) {
	coordinator := engine.NewFleetCoordinator(executor, logger,
		engine.WithMachineConfig(engine.MachineConfig{
			Retry: domain.RetryPolicy{
				Limit:     cfg.Retry.Limit,
				BaseDelay: cfg.Retry.BaseDelay,
				MaxDelay:  cfg.Retry.MaxDelay,
			},
			Timeouts: domain.TimeoutPolicy{
				Transition: cfg.Timeouts.Transition,
				Host:       cfg.Timeouts.Host,
				Verify:     cfg.Timeouts.Verify,
			},
			RollbackOnFailure: true,
		}),
	)
	abort := domain.AbortPolicy{
		FailureThreshold: cfg.Abort.FailureThreshold,
		RollbackOnAbort:  cfg.Abort.RollbackOnAbort,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var report *domain.DeploymentReport
	var runErr error

	var g oklogrun.Group
	g.Add(oklogrun.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))
	g.Add(func() error {
		report, runErr = coordinator.Run(ctx, p, abort)
		return runErr
	}, func(error) {
		cancel()
	})

	err := g.Run()
	var sig oklogrun.SignalError
	if errors.As(err, &sig) {
		logger.Warn("interrupted, finishing in-flight hosts", "signal", sig.Signal)
	}

	if report == nil {
		if runErr != nil {
			return nil, runErr
		}
		return nil, err
	}
	return report, nil
}

// =============================================================================
// Output
// =============================================================================

func printPlan(p *plan.DeploymentPlan) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "service:\t%s\n", p.Descriptor.Service)
	fmt.Fprintf(w, "environment:\t%s\n", p.Descriptor.Environment)
	fmt.Fprintf(w, "version:\t%s\n", p.Descriptor.Version)
	if p.Rollback != nil {
		fmt.Fprintf(w, "rollback to:\t%s\n", p.Descriptor.PreviousVersion)
	} else {
		fmt.Fprintf(w, "rollback to:\t(unavailable)\n")
	}
	for i, batch := range p.Batches {
		fmt.Fprintf(w, "batch %d:\t%s\n", i+1, joinHosts(batch))
	}
	w.Flush()
}

func joinHosts(hosts []domain.HostID) string {
	parts := make([]string, len(hosts))
	for i, h := range hosts {
		parts[i] = string(h)
	}
	return strings.Join(parts, ", ")
}

// printReport writes the per-host summary table.
func printReport(report *domain.DeploymentReport) {
	hosts := make([]string, 0, len(report.Outcomes))
	for h := range report.Outcomes {
		hosts = append(hosts, string(h))
	}
	sort.Strings(hosts)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "HOST\tSTATE\tATTEMPTS\tDURATION\tERROR")
	for _, h := range hosts {
		o := report.Outcomes[domain.HostID(h)]
		lastErr := ""
		if n := len(o.Errors); n > 0 {
			lastErr = o.Errors[n-1].Message
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			h, o.FinalState, o.Attempts, o.Duration.Round(time.Millisecond), lastErr)
	}
	fmt.Fprintf(w, "\noverall:\t%s\t(run %s, %s)\n",
		report.Overall, report.ID, report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	w.Flush()
}

// saveReport records the run in the history database. History is best
// effort: a broken database does not change the deployment's exit code.
func saveReport(cfg *Config, logger *slog.Logger, report *domain.DeploymentReport) {
	s, err := store.NewSQLiteStore(cfg.Database.DSN)
	if err != nil {
		logger.Warn("history store unavailable", "dsn", cfg.Database.DSN, "error", err)
		return
	}
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.SaveRun(ctx, report); err != nil && !errors.Is(err, store.ErrDuplicateID) {
		logger.Warn("failed to record run", "run", report.ID, "error", err)
	}
}
