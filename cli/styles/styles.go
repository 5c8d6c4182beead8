// Package styles provides the colors and text styles of the chronicle CLI.
package styles

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// Color palette
var (
	Primary      = lipgloss.Color("#D97706") // Amber
	PrimaryLight = lipgloss.Color("#FBBF24")
	Secondary    = lipgloss.Color("#0D9488") // Teal

	Success = lipgloss.Color("#10B981")
	Warning = lipgloss.Color("#F59E0B")
	Error   = lipgloss.Color("#EF4444")
	Info    = lipgloss.Color("#3B82F6")

	Text      = lipgloss.Color("#F9FAFB")
	TextMuted = lipgloss.Color("#9CA3AF")
	TextDim   = lipgloss.Color("#6B7280")
	Surface   = lipgloss.Color("#1F2937")
	Border    = lipgloss.Color("#374151")
)

// Text styles
var (
	Bold = lipgloss.NewStyle().Bold(true)

	// Title style for headers
	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(Primary).
		MarginBottom(1)

	Subtitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryLight)

	Normal = lipgloss.NewStyle().Foreground(Text)
	Muted  = lipgloss.NewStyle().Foreground(TextMuted)
	Dim    = lipgloss.NewStyle().Foreground(TextDim)

	// Highlight for important values
	Highlight = lipgloss.NewStyle().
			Bold(true).
			Foreground(Secondary)

	// Code style for inline commands
	Code = lipgloss.NewStyle().
		Foreground(PrimaryLight).
		Background(Surface).
		Padding(0, 1)

	// EventType renders event type names in listings
	EventType = lipgloss.NewStyle().Foreground(Secondary)

	// Sequence renders global sequence numbers
	Sequence = lipgloss.NewStyle().Foreground(TextMuted)
)

// Status styles
var (
	SuccessStyle = lipgloss.NewStyle().Foreground(Success)
	WarningStyle = lipgloss.NewStyle().Foreground(Warning)
	ErrorStyle   = lipgloss.NewStyle().Foreground(Error)
	InfoStyle    = lipgloss.NewStyle().Foreground(Info)
)

// Icons
const (
	IconSuccess   = "✓"
	IconError     = "✗"
	IconWarning   = "⚠"
	IconInfo      = "ℹ"
	IconArrow     = "→"
	IconDot       = "•"
	IconPending   = "◌"
	IconStream    = "⇶"
	IconDatabase  = "🗄️"
	IconChronicle = "📜"
)

func roundedBox(borderColor lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(borderColor).
		Padding(0, 1)
}

// Box styles
var (
	Box        = roundedBox(Border)
	BoxSuccess = roundedBox(Success)
	BoxError   = roundedBox(Error)
	BoxWarning = roundedBox(Warning)
)

// Layout helpers
var (
	Indent       = lipgloss.NewStyle().PaddingLeft(2)
	DoubleIndent = lipgloss.NewStyle().PaddingLeft(4)
)

// FormatSuccess formats a success message with icon
func FormatSuccess(msg string) string {
	return SuccessStyle.Render(IconSuccess) + " " + Normal.Render(msg)
}

// FormatError formats an error message with icon
func FormatError(msg string) string {
	return ErrorStyle.Render(IconError) + " " + Normal.Render(msg)
}

// FormatWarning formats a warning message with icon
func FormatWarning(msg string) string {
	return WarningStyle.Render(IconWarning) + " " + Normal.Render(msg)
}

// FormatInfo formats an info message with icon
func FormatInfo(msg string) string {
	return InfoStyle.Render(IconInfo) + " " + Normal.Render(msg)
}

// FormatStep formats a step in a process
func FormatStep(step, total int, msg string) string {
	stepStyle := lipgloss.NewStyle().
		Foreground(TextMuted).
		Width(8)
	return stepStyle.Render(fmt.Sprintf("[%d/%d]", step, total)) + " " + msg
}

// FormatKeyValue formats a key-value pair
func FormatKeyValue(key, value string) string {
	keyStyle := lipgloss.NewStyle().
		Foreground(TextMuted).
		Width(20)
	return keyStyle.Render(key+":") + " " + Highlight.Render(value)
}

// FormatEvent renders a one-line summary of a stored event:
// sequence, aggregate, version and type.
func FormatEvent(sequence uint64, aggregateID string, version int64, eventType string) string {
	return Sequence.Render(fmt.Sprintf("#%-6d", sequence)) + " " +
		Normal.Render(fmt.Sprintf("%s@%d", aggregateID, version)) + " " +
		EventType.Render(eventType)
}

// DisableColors disables all colors for terminals that don't support them.
// Call it before any output is rendered.
func DisableColors() {
	for _, c := range []*lipgloss.Color{
		&Primary, &PrimaryLight, &Secondary,
		&Success, &Warning, &Error, &Info,
		&Text, &TextMuted, &TextDim, &Surface, &Border,
	} {
		*c = lipgloss.Color("")
	}

	Title = Title.UnsetForeground()
	Subtitle = Subtitle.UnsetForeground()
	Normal = Normal.UnsetForeground()
	Muted = Muted.UnsetForeground()
	Dim = Dim.UnsetForeground()
	Highlight = Highlight.UnsetForeground()
	Code = Code.UnsetForeground().UnsetBackground()
	EventType = EventType.UnsetForeground()
	Sequence = Sequence.UnsetForeground()
	SuccessStyle = SuccessStyle.UnsetForeground()
	WarningStyle = WarningStyle.UnsetForeground()
	ErrorStyle = ErrorStyle.UnsetForeground()
	InfoStyle = InfoStyle.UnsetForeground()
}
