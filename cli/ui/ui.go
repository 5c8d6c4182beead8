// Package ui provides the terminal components of the chronicle CLI:
// a task spinner, tables, badges and confirmation prompts.
package ui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"

	"github.com/AshkanYarmoradi/go-chronicle/cli/styles"
)

// ErrCancelled is returned when the user aborts a task or a prompt.
var ErrCancelled = errors.New("cancelled")

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// =============================================================================
// Task spinner
// =============================================================================

// TaskFunc does the work behind a spinner and returns the success message.
type TaskFunc func() (string, error)

// TaskDoneMsg signals that the task behind a spinner has finished
type TaskDoneMsg struct {
	Result string
	Err    error
}

// TaskModel shows a spinner while a task runs.
type TaskModel struct {
	spinner  spinner.Model
	message  string
	run      TaskFunc
	quitting bool
	done     bool
	result   string
	err      error
}

// NewTask creates a spinner model for run.
func NewTask(message string, run TaskFunc) TaskModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(styles.Primary)

	return TaskModel{
		spinner: s,
		message: message,
		run:     run,
	}
}

func (m TaskModel) Init() tea.Cmd {
	run := m.run
	return tea.Batch(m.spinner.Tick, func() tea.Msg {
		result, err := run()
		return TaskDoneMsg{Result: result, Err: err}
	})
}

func (m TaskModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case TaskDoneMsg:
		m.done = true
		m.result = msg.Result
		m.err = msg.Err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m TaskModel) View() string {
	switch {
	case m.done && m.err != nil:
		return styles.FormatError(m.err.Error()) + "\n"
	case m.done:
		return styles.FormatSuccess(m.result) + "\n"
	case m.quitting:
		return styles.FormatWarning("Cancelled") + "\n"
	}
	return m.spinner.View() + " " + styles.Normal.Render(m.message) + "\n"
}

// Err returns the task error, or ErrCancelled if the user quit first.
func (m TaskModel) Err() error {
	if m.quitting && !m.done {
		return ErrCancelled
	}
	return m.err
}

// RunTask runs fn behind a spinner when out is a terminal. Otherwise it runs
// fn directly and prints the outcome once.
func RunTask(ctx context.Context, out io.Writer, message string, fn TaskFunc) error {
	if !IsTerminal(out) {
		result, err := fn()
		if err != nil {
			return err
		}
		fmt.Fprintln(out, styles.FormatSuccess(result))
		return nil
	}

	final, err := tea.NewProgram(NewTask(message, fn),
		tea.WithContext(ctx),
		tea.WithOutput(out),
	).Run()
	if err != nil {
		return err
	}
	return final.(TaskModel).Err()
}

// =============================================================================
// Tables
// =============================================================================

// Table collects rows and renders them with rounded borders.
type Table struct {
	headers []string
	rows    [][]string
}

// NewTable creates a new table with headers
func NewTable(headers ...string) *Table {
	return &Table{headers: headers}
}

// AddRow adds a row. Missing cells are left empty and extra cells dropped.
func (t *Table) AddRow(values ...string) {
	row := make([]string, len(t.headers))
	copy(row, values)
	t.rows = append(t.rows, row)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Render returns the formatted table string
func (t *Table) Render() string {
	if len(t.headers) == 0 {
		return ""
	}

	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(styles.Primary).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Foreground(styles.Text).Padding(0, 1)

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(styles.Border)).
		Headers(t.headers...).
		Rows(t.rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Render()
}

// =============================================================================
// Badges and text helpers
// =============================================================================

// StatusBadge returns a styled status badge
func StatusBadge(status string) string {
	badge := lipgloss.NewStyle().Padding(0, 1)

	switch strings.ToLower(status) {
	case "ok", "healthy", "up to date", "applied":
		badge = badge.Background(styles.Success).Foreground(lipgloss.Color("#000000"))
	case "pending", "behind", "skipped":
		badge = badge.Background(styles.Warning).Foreground(lipgloss.Color("#000000"))
	case "error", "failed", "unreachable":
		badge = badge.Background(styles.Error).Foreground(lipgloss.Color("#FFFFFF"))
	default:
		badge = badge.Background(styles.Surface).Foreground(styles.Text)
	}

	return badge.Render(status)
}

// SimpleBanner returns the one-line banner shown in help output.
func SimpleBanner() string {
	return styles.IconChronicle + " " + lipgloss.NewStyle().
		Bold(true).
		Foreground(styles.Primary).
		Render("chronicle") +
		" " +
		styles.Muted.Render("- event store toolkit for Go")
}

// Divider returns a horizontal divider line
func Divider(width int) string {
	return styles.Dim.Render(strings.Repeat("─", width))
}

// ListItems formats a list of items with bullets
func ListItems(items []string) string {
	var sb strings.Builder
	for _, item := range items {
		sb.WriteString(styles.Indent.Render(styles.Highlight.Render(styles.IconDot) + " " + item))
		sb.WriteString("\n")
	}
	return sb.String()
}

// =============================================================================
// Prompts
// =============================================================================

// Confirm asks a yes/no question and returns the answer. Aborting the prompt
// returns ErrCancelled.
func Confirm(title, description string) (bool, error) {
	var confirmed bool

	err := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Yes").
		Negative("No").
		Value(&confirmed).
		Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return false, ErrCancelled
	}
	if err != nil {
		return false, err
	}

	return confirmed, nil
}

// Confirmation returns a yes/no prompt result display
func Confirmation(confirmed bool) string {
	if confirmed {
		return styles.SuccessStyle.Render("Yes")
	}
	return styles.ErrorStyle.Render("No")
}
