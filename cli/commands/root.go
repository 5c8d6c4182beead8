// Package commands provides the CLI command implementations for chronicle.
package commands

import (
	"fmt"
	"os"

	"github.com/AshkanYarmoradi/go-chronicle/cli/styles"
	"github.com/AshkanYarmoradi/go-chronicle/cli/ui"
	"github.com/spf13/cobra"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// NewRootCommand creates the root command for the chronicle CLI
func NewRootCommand() *cobra.Command {
	var noColor bool

	rootCmd := &cobra.Command{
		Use:   "chronicle",
		Short: "Event store toolkit for Go",
		Long: ui.SimpleBanner() + `

Chronicle inspects and operates event stores built with the chronicle
library on PostgreSQL, SQLite or in memory.

` + styles.Title.Render("Quick Start:") + `

  ` + styles.Code.Render("chronicle migrate") + `          Create or upgrade the schema
  ` + styles.Code.Render("chronicle stream ID") + `        Show the events of one aggregate
  ` + styles.Code.Render("chronicle events") + `           Query the global event log
  ` + styles.Code.Render("chronicle tail") + `             Follow new events as they are committed
  ` + styles.Code.Render("chronicle diagnose") + `         Check your setup

` + styles.Title.Render("Configuration:") + `

  Settings are read from ` + styles.Code.Render("chronicle.yaml") + ` in the current directory
  or a parent. ` + styles.Code.Render("CHRONICLE_DATABASE_URL") + ` overrides database.url.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				styles.DisableColors()
			}
		},
	}

	// Global flags
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to chronicle.yaml (default: search upwards)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log adapter activity to stderr")

	// Add subcommands
	rootCmd.AddCommand(NewInitCommand())
	rootCmd.AddCommand(NewMigrateCommand())
	rootCmd.AddCommand(NewStreamCommand())
	rootCmd.AddCommand(NewEventsCommand())
	rootCmd.AddCommand(NewTailCommand())
	rootCmd.AddCommand(NewSnapshotsCommand())
	rootCmd.AddCommand(NewDiagnoseCommand())
	rootCmd.AddCommand(NewVersionCommand(Version, Commit, BuildDate))

	return rootCmd
}

// Execute runs the root command
func Execute() error {
	rootCmd := NewRootCommand()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, styles.FormatError(err.Error()))
		return err
	}

	return nil
}
