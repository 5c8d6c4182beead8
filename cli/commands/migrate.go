package commands

import (
	"fmt"

	"github.com/AshkanYarmoradi/go-chronicle/adapters"
	"github.com/AshkanYarmoradi/go-chronicle/cli/styles"
	"github.com/AshkanYarmoradi/go-chronicle/cli/ui"
	"github.com/spf13/cobra"
)

// NewMigrateCommand creates the migrate command
func NewMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the event store schema",
		Long: `Create or upgrade the event store schema.

Migrations are idempotent: running them against an up to date schema
changes nothing.

Examples:
  chronicle migrate           # Apply all pending migrations
  chronicle migrate status    # Show the applied schema version`,
		Args: cobra.NoArgs,
		RunE: runMigrate,
	}

	cmd.AddCommand(newMigrateStatusCommand())

	return cmd
}

func runMigrate(cmd *cobra.Command, args []string) error {
	env, err := openEnv(cmd, envOptions{})
	if err != nil {
		return err
	}
	defer env.Close()

	out := cmd.OutOrStdout()

	migrator, ok := env.Backend.(adapters.Migrator)
	if !ok {
		fmt.Fprintln(out, styles.FormatInfo(env.Config.Database.Driver+" driver doesn't require migrations"))
		return nil
	}

	ctx := ensureContext(cmd.Context())
	return ui.RunTask(ctx, out, "Migrating "+env.Config.Database.Driver+" schema...", func() (string, error) {
		if err := migrator.Migrate(ctx); err != nil {
			return "", err
		}
		version, err := migrator.MigrationVersion(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Schema is at version %d", version), nil
	})
}

func newMigrateStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv(cmd, envOptions{})
			if err != nil {
				return err
			}
			defer env.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, styles.FormatKeyValue("Driver", env.Config.Database.Driver))

			migrator, ok := env.Backend.(adapters.Migrator)
			if !ok {
				fmt.Fprintln(out, styles.FormatKeyValue("Schema", "not applicable"))
				return nil
			}

			version, err := migrator.MigrationVersion(ensureContext(cmd.Context()))
			if err != nil {
				return err
			}

			status := "applied"
			if version == 0 {
				status = "pending"
			}
			fmt.Fprintln(out, styles.FormatKeyValue("Schema version", fmt.Sprint(version)))
			fmt.Fprintln(out, styles.FormatKeyValue("Status", "")+ui.StatusBadge(status))
			return nil
		},
	}
}
