package commands

import (
	"fmt"

	"github.com/AshkanYarmoradi/go-chronicle/cli/styles"
	"github.com/AshkanYarmoradi/go-chronicle/cli/ui"
	"github.com/spf13/cobra"
)

// NewSnapshotsCommand creates the snapshots command
func NewSnapshotsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "snapshots",
		Aliases: []string{"snapshot"},
		Short:   "Inspect and prune aggregate snapshots",
		Long: `Inspect and prune aggregate snapshots.

Examples:
  chronicle snapshots show order-123 --type Order
  chronicle snapshots cleanup order-123 --keep 2`,
	}

	cmd.AddCommand(newSnapshotsShowCommand())
	cmd.AddCommand(newSnapshotsCleanupCommand())

	return cmd
}

func newSnapshotsShowCommand() *cobra.Command {
	var (
		aggregateType string
		raw           bool
	)

	cmd := &cobra.Command{
		Use:   "show <aggregate-id>",
		Short: "Show the latest snapshot of an aggregate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv(cmd, envOptions{})
			if err != nil {
				return err
			}
			defer env.Close()

			out := cmd.OutOrStdout()

			snap, err := env.Store.SnapshotStore().LoadSnapshot(ensureContext(cmd.Context()), args[0], aggregateType)
			if err != nil {
				return err
			}
			if snap == nil {
				fmt.Fprintln(out, styles.FormatInfo("No snapshot for "+args[0]))
				return nil
			}

			fmt.Fprintln(out, styles.FormatKeyValue("Aggregate", snap.AggregateType+"/"+snap.AggregateID))
			fmt.Fprintln(out, styles.FormatKeyValue("Version", fmt.Sprint(snap.Version)))
			fmt.Fprintln(out, styles.FormatKeyValue("Encoding", snap.Encoding))
			fmt.Fprintln(out, styles.FormatKeyValue("Size", fmt.Sprintf("%d bytes", len(snap.State))))
			fmt.Fprintln(out, styles.FormatKeyValue("Created", snap.CreatedAt.UTC().Format("2006-01-02 15:04:05")))

			if raw {
				return nil
			}

			state, err := decodeState(snap, env.Config.Snapshots)
			if err != nil {
				return err
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, styles.Box.Render(state))
			return nil
		},
	}

	cmd.Flags().StringVar(&aggregateType, "type", "", "Aggregate type of the snapshot")
	cmd.Flags().BoolVar(&raw, "raw", false, "Only show snapshot metadata")

	return cmd
}

func newSnapshotsCleanupCommand() *cobra.Command {
	var (
		keep int
		yes  bool
	)

	cmd := &cobra.Command{
		Use:   "cleanup <aggregate-id>",
		Short: "Delete all but the most recent snapshots of an aggregate",
		Long: `Delete all but the most recent snapshots of an aggregate.

--keep defaults to snapshots.keep from chronicle.yaml.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv(cmd, envOptions{})
			if err != nil {
				return err
			}
			defer env.Close()

			out := cmd.OutOrStdout()

			if !cmd.Flags().Changed("keep") {
				keep = env.Config.Snapshots.Keep
			}
			if keep < 1 {
				return fmt.Errorf("--keep must be at least 1")
			}

			if !yes {
				if !ui.IsTerminal(out) {
					return fmt.Errorf("refusing to delete snapshots without --yes")
				}
				confirmed, err := ui.Confirm(
					fmt.Sprintf("Delete old snapshots of %s?", args[0]),
					fmt.Sprintf("The %d most recent snapshots are kept.", keep),
				)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, styles.FormatKeyValue("Delete old snapshots", ui.Confirmation(confirmed)))
				if !confirmed {
					fmt.Fprintln(out, styles.FormatInfo("Cleanup cancelled"))
					return nil
				}
			}

			removed, err := env.Store.SnapshotStore().CleanupSnapshots(ensureContext(cmd.Context()), args[0], keep)
			if err != nil {
				return err
			}

			fmt.Fprintln(out, styles.FormatSuccess(fmt.Sprintf("Removed %d snapshot(s) of %s", removed, args[0])))
			return nil
		},
	}

	cmd.Flags().IntVar(&keep, "keep", 0, "Snapshots to keep")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")

	return cmd
}
