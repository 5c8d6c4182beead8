package commands

import (
	"fmt"
	"time"

	"github.com/AshkanYarmoradi/go-chronicle/adapters"
	"github.com/spf13/cobra"
)

// NewStreamCommand creates the stream command
func NewStreamCommand() *cobra.Command {
	var (
		fromVersion int64
		toVersion   int64
		output      string
	)

	cmd := &cobra.Command{
		Use:   "stream <aggregate-id>",
		Short: "Show the events of one aggregate",
		Long: `Show the events of one aggregate in version order.

Examples:
  chronicle stream order-123                 # All events
  chronicle stream order-123 --from 5        # Versions 5 and later
  chronicle stream order-123 --output json   # Payloads included`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOutput(output); err != nil {
				return err
			}

			env, err := openEnv(cmd, envOptions{})
			if err != nil {
				return err
			}
			defer env.Close()

			events, err := env.Store.LoadStream(ensureContext(cmd.Context()), adapters.StreamQuery{
				AggregateID: args[0],
				FromVersion: fromVersion,
				ToVersion:   toVersion,
			})
			if err != nil {
				return err
			}

			return writeEvents(cmd.OutOrStdout(), events, output)
		},
	}

	cmd.Flags().Int64Var(&fromVersion, "from", 0, "First version to show")
	cmd.Flags().Int64Var(&toVersion, "to", 0, "Last version to show (0 = latest)")
	cmd.Flags().StringVarP(&output, "output", "o", OutputTable, "Output format: table, json or line")

	return cmd
}

// NewEventsCommand creates the events command
func NewEventsCommand() *cobra.Command {
	var (
		eventTypes    []string
		aggregateType string
		fromSeq       uint64
		toSeq         uint64
		since         string
		until         string
		limit         int
		output        string
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Query the global event log",
		Long: `Query events across all aggregates in global sequence order.

--since and --until take an RFC 3339 timestamp or a duration before now.

Examples:
  chronicle events --limit 20
  chronicle events --type OrderPlaced --type OrderShipped
  chronicle events --aggregate-type Order --since 1h --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOutput(output); err != nil {
				return err
			}
			if limit < 0 {
				return fmt.Errorf("--limit must not be negative")
			}

			now := time.Now()
			from, err := parseTime(since, now)
			if err != nil {
				return err
			}
			to, err := parseTime(until, now)
			if err != nil {
				return err
			}

			env, err := openEnv(cmd, envOptions{})
			if err != nil {
				return err
			}
			defer env.Close()

			events, err := env.Store.QueryEvents(ensureContext(cmd.Context()), adapters.EventQuery{
				AggregateType: aggregateType,
				EventTypes:    eventTypes,
				FromSequence:  fromSeq,
				ToSequence:    toSeq,
				FromTimestamp: from,
				ToTimestamp:   to,
				Limit:         limit,
			})
			if err != nil {
				return err
			}

			return writeEvents(cmd.OutOrStdout(), events, output)
		},
	}

	cmd.Flags().StringArrayVarP(&eventTypes, "type", "t", nil, "Event type to include (repeatable)")
	cmd.Flags().StringVarP(&aggregateType, "aggregate-type", "a", "", "Only events of this aggregate type")
	cmd.Flags().Uint64Var(&fromSeq, "from-seq", 0, "First global sequence")
	cmd.Flags().Uint64Var(&toSeq, "to-seq", 0, "Last global sequence (0 = latest)")
	cmd.Flags().StringVar(&since, "since", "", "Only events at or after this time")
	cmd.Flags().StringVar(&until, "until", "", "Only events at or before this time")
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "Maximum number of events (0 = no limit)")
	cmd.Flags().StringVarP(&output, "output", "o", OutputTable, "Output format: table, json or line")

	return cmd
}
