package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/artpar/rollout/internal/shell/store"
)

// =============================================================================
// History Command
// =============================================================================

func runHistory(args []string) int {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	environment := fs.String("env", "", "Filter by environment")
	service := fs.String("service", "", "Filter by service")
	limit := fs.Int("limit", 20, "Max runs to show")
	fs.Parse(args)

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return ExitConfigError
	}

	s, err := store.NewSQLiteStore(cfg.Database.DSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "history store unavailable: %v\n", err)
		return ExitConfigError
	}
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	runs, err := s.ListRuns(ctx, *service, *environment, *limit)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		fmt.Fprintf(os.Stderr, "failed to list runs: %v\n", err)
		return ExitConfigError
	}
	if len(runs) == 0 {
		fmt.Println("no runs recorded")
		return ExitSuccess
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tSERVICE\tENV\tVERSION\tHOSTS\tOVERALL\tRUN")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Service, r.Environment, r.Version, r.HostCount, r.Overall, r.ID)
	}
	w.Flush()
	return ExitSuccess
}
