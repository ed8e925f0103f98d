package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	accentColor = lipgloss.Color("#FC4C02")
	okColor     = lipgloss.Color("#22C55E")
	warnColor   = lipgloss.Color("#EAB308")
	failColor   = lipgloss.Color("#DC2626")
	dimColor    = lipgloss.Color("#71717A")
	brightColor = lipgloss.Color("#FAFAFA")
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).
			Foreground(brightColor).Background(accentColor).
			Padding(0, 1).MarginBottom(1)

	navStyle         = lipgloss.NewStyle().Foreground(dimColor).MarginBottom(1)
	navActiveStyle   = lipgloss.NewStyle().Bold(true).Foreground(accentColor)
	navInactiveStyle = lipgloss.NewStyle().Foreground(dimColor)

	cardTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(accentColor).MarginBottom(1)

	metricLabelStyle = lipgloss.NewStyle().Foreground(dimColor).Width(12)
	metricValueStyle = lipgloss.NewStyle().Bold(true).Foreground(brightColor)

	// activity list
	tableHeaderStyle = lipgloss.NewStyle().Bold(true).
				Foreground(accentColor).
				BorderBottom(true).BorderForeground(dimColor).
				Padding(0, 1)
	tableRowStyle      = lipgloss.NewStyle().Padding(0, 1)
	tableSelectedStyle = tableRowStyle.Bold(true).Background(accentColor).Foreground(brightColor)

	statusStyle  = lipgloss.NewStyle().Foreground(dimColor).MarginTop(1)
	errorStyle   = lipgloss.NewStyle().Foreground(failColor)
	successStyle = lipgloss.NewStyle().Foreground(okColor)
	warningStyle = lipgloss.NewStyle().Foreground(warnColor)

	progressDoneStyle = lipgloss.NewStyle().Foreground(okColor)
	progressTodoStyle = lipgloss.NewStyle().Foreground(dimColor)
)

// RenderMetric renders a sync counter with its label
func RenderMetric(label, value string) string {
	return metricLabelStyle.Render(label) + metricValueStyle.Render(value)
}

// RenderProgressBar renders pages fetched against the page budget.
// percent is clamped to [0, 1].
func RenderProgressBar(percent float64, width int) string {
	done := min(max(int(percent*float64(width)), 0), width)
	return progressDoneStyle.Render(strings.Repeat("█", done)) +
		progressTodoStyle.Render(strings.Repeat("░", width-done))
}
