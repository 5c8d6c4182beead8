// chronicle is the command-line interface for the go-chronicle event store.
//
// Usage:
//
//	chronicle <command> [flags]
//
// Commands:
//
//	init        Create a chronicle.yaml configuration file
//	migrate     Create or upgrade the event store schema
//	stream      Show the events of one aggregate
//	events      Query the global event log
//	tail        Follow new events as they are committed
//	snapshots   Inspect and prune aggregate snapshots
//	diagnose    Run diagnostic checks on your setup
//	version     Show version information
//
// Examples:
//
//	# Point the CLI at a database
//	chronicle init --non-interactive --driver sqlite --url events.db
//
//	# Create the schema
//	chronicle migrate
//
//	# Show the last hour of orders as JSON
//	chronicle events --aggregate-type Order --since 1h -o json
//
//	# Follow the log and expose Prometheus metrics
//	chronicle tail --checkpoint ops --metrics-addr :9090
package main

import (
	"os"

	"github.com/AshkanYarmoradi/go-chronicle/cli/commands"
)

// Build information (set via ldflags)
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.BuildDate = buildDate

	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
