// Package ui renders scan output for the terminal: severity-colored
// finding lines, scan summaries, and catalog listings. Styling degrades
// to plain ASCII on dumb terminals and when NO_COLOR is set.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Color palette.
var (
	Primary   = lipgloss.Color("#2D7FF9") // brand blue
	Secondary = lipgloss.Color("#00D4AA")

	// Severity colors
	Critical = lipgloss.Color("#FF0000")
	High     = lipgloss.Color("#FF6B6B")
	Medium   = lipgloss.Color("#FFD93D")
	Low      = lipgloss.Color("#6BCB77")
	Info     = lipgloss.Color("#4D96FF")

	// Status colors
	Pass    = lipgloss.Color("#00D26A")
	Fail    = lipgloss.Color("#FF3838")
	Errored = lipgloss.Color("#FFB800")
	Muted   = lipgloss.Color("#6B7280")
)

// Pre-configured styles.
var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(Primary).
			Padding(0, 1)

	SectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Bold(true).
			MarginTop(1)

	LabelStyle = lipgloss.NewStyle().
			Foreground(Muted).
			Width(12)

	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Bold(true)

	PassStyle = lipgloss.NewStyle().
			Foreground(Pass).
			Bold(true)

	FailStyle = lipgloss.NewStyle().
			Foreground(Fail).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(Errored).
			Bold(true)

	MutedStyle = lipgloss.NewStyle().
			Foreground(Muted)

	NewBadgeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(Primary).
			Padding(0, 1)
)

// DisableColor forces plain ASCII output. Called when NO_COLOR is set or
// output is piped.
func DisableColor() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

// AutoColor applies the NO_COLOR convention at startup.
func AutoColor() {
	if os.Getenv("NO_COLOR") != "" || !UnicodeTerminal() {
		DisableColor()
	}
}

// SeverityStyle returns the style for a severity level.
func SeverityStyle(severity string) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	switch severity {
	case "critical":
		return base.Foreground(lipgloss.Color("#FFFFFF")).Background(Critical)
	case "high":
		return base.Foreground(lipgloss.Color("#FFFFFF")).Background(High)
	case "medium":
		return base.Foreground(lipgloss.Color("#000000")).Background(Medium)
	case "low":
		return base.Foreground(lipgloss.Color("#000000")).Background(Low)
	case "informational":
		return base.Foreground(lipgloss.Color("#FFFFFF")).Background(Info)
	default:
		return base.Foreground(Muted)
	}
}

// StatusStyle returns the style for a finding status.
func StatusStyle(status string) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)
	switch status {
	case "PASS":
		return base.Foreground(Pass)
	case "FAIL":
		return base.Foreground(Fail)
	case "ERROR":
		return base.Foreground(Errored)
	default:
		return base.Foreground(Muted)
	}
}
