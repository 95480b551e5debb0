// Command rollout deploys versioned services to host fleets in controlled
// batches, with canary ordering, per-host retry, and rollback.
package main

import (
	"fmt"
	"os"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// Exit codes reported to the calling automation.
const (
	ExitSuccess     = 0 // every host converged
	ExitFailure     = 1 // partial failure or aborted run
	ExitRolledBack  = 2 // run aborted and rolled back
	ExitConfigError = 3 // configuration, resolution, or planning error
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return ExitConfigError
	}

	switch args[0] {
	case "deploy":
		return runDeploy(args[1:])
	case "history":
		return runHistory(args[1:])
	case "version", "--version", "-version":
		fmt.Printf("rollout %s (built %s)\n", Version, BuildTime)
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		usage()
		return ExitConfigError
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `Usage: rollout <command> [flags]

Commands:
  deploy    deploy a service to an environment
  history   show recent deployment runs
  version   print version and exit

Run 'rollout <command> -h' for command flags.
`)
}
