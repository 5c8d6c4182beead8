package commands

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	chronicle "github.com/AshkanYarmoradi/go-chronicle"
	"github.com/AshkanYarmoradi/go-chronicle/adapters"
	"github.com/AshkanYarmoradi/go-chronicle/cli/config"
	"github.com/AshkanYarmoradi/go-chronicle/cli/styles"
	"github.com/AshkanYarmoradi/go-chronicle/cli/ui"
	"github.com/spf13/cobra"
)

// ErrDiagnosticsFailed is returned when at least one check fails.
var ErrDiagnosticsFailed = errors.New("diagnostics failed")

// NewDiagnoseCommand creates the diagnose command
func NewDiagnoseCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Run diagnostic checks",
		Long: `Run diagnostic checks on your chronicle setup.

This command verifies:
  • Configuration file validity
  • Database connectivity
  • Schema version
  • Event log and snapshot statistics`,
		Aliases: []string{"diag", "doctor"},
		Args:    cobra.NoArgs,
		RunE:    runDiagnose,
	}

	return cmd
}

func runDiagnose(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, styles.Title.Render(styles.IconChronicle+" Running Diagnostics"))

	d := &diagnostics{cmd: cmd, ctx: ensureContext(cmd.Context())}
	defer d.close()

	checks := []DiagnosticCheck{
		{Name: "Go Version", Check: checkGoVersion},
		{Name: "Configuration", Check: d.checkConfiguration},
		{Name: "Database Connection", Check: d.checkDatabaseConnection},
		{Name: "Event Store Schema", Check: d.checkSchema},
		{Name: "Event Log", Check: d.checkEventLog},
	}

	results := make([]CheckResult, 0, len(checks))
	failed := false

	for i, check := range checks {
		fmt.Fprint(out, "  "+styles.FormatStep(i+1, len(checks), "Checking "+check.Name+"... "))

		result := check.Check()
		results = append(results, result)

		switch result.Status {
		case StatusOK:
			fmt.Fprintln(out, styles.SuccessStyle.Render("OK"))
		case StatusWarning:
			fmt.Fprintln(out, styles.WarningStyle.Render("WARNING"))
		default:
			fmt.Fprintln(out, styles.ErrorStyle.Render("FAILED"))
			failed = true
		}

		if result.Message != "" {
			fmt.Fprintf(out, "    %s\n", styles.Muted.Render(result.Message))
		}
	}

	if d.stats != nil && len(d.stats.EventTypes) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, styles.Subtitle.Render("Event Types:"))
		table := ui.NewTable("Type", "Count")
		for _, et := range d.stats.EventTypes {
			table.AddRow(et.Type, strconv.FormatInt(et.Count, 10))
		}
		fmt.Fprintln(out, table.Render())
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, ui.Divider(50))
	fmt.Fprintln(out)

	recommendations := make([]string, 0)
	for _, r := range results {
		if r.Recommendation != "" {
			recommendations = append(recommendations, r.Recommendation)
		}
	}

	if len(recommendations) == 0 {
		fmt.Fprintln(out, styles.FormatSuccess("All checks passed! Your chronicle setup is healthy."))
		return nil
	}

	fmt.Fprintln(out, styles.FormatWarning("Some checks failed or have warnings."))
	fmt.Fprintln(out)
	fmt.Fprintln(out, styles.Subtitle.Render("Recommendations:"))
	fmt.Fprint(out, ui.ListItems(recommendations))

	if failed {
		return ErrDiagnosticsFailed
	}
	return nil
}

// CheckStatus represents the status of a diagnostic check
type CheckStatus int

const (
	StatusOK CheckStatus = iota
	StatusWarning
	StatusError
)

// CheckResult represents the result of a diagnostic check
type CheckResult struct {
	Name           string
	Status         CheckStatus
	Message        string
	Recommendation string
}

// newCheckResult creates a CheckResult with the given name.
func newCheckResult(name string, status CheckStatus, message string) CheckResult {
	return CheckResult{Name: name, Status: status, Message: message}
}

// withRecommendation adds a recommendation to a CheckResult.
func (r CheckResult) withRecommendation(rec string) CheckResult {
	r.Recommendation = rec
	return r
}

// DiagnosticCheck represents a diagnostic check function
type DiagnosticCheck struct {
	Name  string
	Check func() CheckResult
}

// diagnostics carries state between checks. Later checks are skipped when
// an earlier one could not produce what they need.
type diagnostics struct {
	cmd     *cobra.Command
	ctx     context.Context
	cfg     *config.Config
	backend Backend
	stats   *adapters.StoreStats
}

func (d *diagnostics) close() {
	if d.backend != nil {
		_ = d.backend.Close()
	}
}

func checkGoVersion() CheckResult {
	return newCheckResult("Go Version", StatusOK, runtime.Version())
}

func (d *diagnostics) checkConfiguration() CheckResult {
	const name = "Configuration"

	cfg, err := loadConfig(d.cmd)
	if err != nil {
		return newCheckResult(name, StatusError, err.Error()).
			withRecommendation("Fix " + config.ConfigFileName + " or run 'chronicle init'")
	}
	d.cfg = cfg

	return newCheckResult(name, StatusOK, "Driver: "+cfg.Database.Driver)
}

func (d *diagnostics) checkDatabaseConnection() CheckResult {
	const name = "Database Connection"

	if d.cfg == nil {
		return newCheckResult(name, StatusWarning, "Skipped (no valid configuration)")
	}

	backend, err := openBackend(d.ctx, d.cfg.Database, false, newLogger(d.cmd))
	if err != nil {
		return newCheckResult(name, StatusError, err.Error()).
			withRecommendation("Verify database.url and that the server is reachable")
	}
	d.backend = backend

	if err := backend.Ping(d.ctx); err != nil {
		return newCheckResult(name, StatusError, err.Error()).
			withRecommendation("Check database server status")
	}

	if d.cfg.Database.Driver == config.DriverMemory {
		return newCheckResult(name, StatusOK, "Using in-memory driver (no connection needed)")
	}
	return newCheckResult(name, StatusOK, "Connected via "+d.cfg.Database.Driver)
}

func (d *diagnostics) checkSchema() CheckResult {
	const name = "Event Store Schema"

	if d.backend == nil {
		return newCheckResult(name, StatusWarning, "Skipped (no connection)")
	}

	migrator, ok := d.backend.(adapters.Migrator)
	if !ok {
		return newCheckResult(name, StatusOK, "Not applicable for "+d.cfg.Database.Driver)
	}

	version, err := migrator.MigrationVersion(d.ctx)
	if err != nil {
		return newCheckResult(name, StatusError, err.Error()).
			withRecommendation("Check database permissions")
	}
	if version == 0 {
		return newCheckResult(name, StatusWarning, "Schema not created").
			withRecommendation("Run 'chronicle migrate' to create tables")
	}
	return newCheckResult(name, StatusOK, fmt.Sprintf("Version %d", version))
}

func (d *diagnostics) checkEventLog() CheckResult {
	const name = "Event Log"

	if d.backend == nil {
		return newCheckResult(name, StatusWarning, "Skipped (no connection)")
	}

	stats, err := d.backend.Stats(d.ctx)
	if err != nil {
		if migrator, ok := d.backend.(adapters.Migrator); ok {
			if v, verr := migrator.MigrationVersion(d.ctx); verr == nil && v == 0 {
				return newCheckResult(name, StatusWarning, "Skipped (schema not created)")
			}
		}
		return newCheckResult(name, StatusError, err.Error())
	}
	d.stats = stats

	parts := []string{
		fmt.Sprintf("%d events", stats.TotalEvents),
		fmt.Sprintf("%d aggregates", stats.TotalAggregates),
		fmt.Sprintf("%d snapshots", stats.TotalSnapshots),
		fmt.Sprintf("head at #%d", stats.CurrentSequence),
	}
	return newCheckResult(name, StatusOK, strings.Join(parts, ", "))
}

// NewVersionCommand creates the version command
func NewVersionCommand(version, commit, date string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			fmt.Fprintln(out, ui.SimpleBanner())
			fmt.Fprintln(out)

			table := ui.NewTable("", "")
			table.AddRow("Version", version)
			table.AddRow("Library", chronicle.Version())
			table.AddRow("Commit", commit)
			table.AddRow("Built", date)
			table.AddRow("Go", runtime.Version())
			table.AddRow("OS/Arch", fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH))

			fmt.Fprintln(out, table.Render())

			return nil
		},
	}
}
