// Package render writes questions, answers and progress to a terminal.
package render

import "github.com/charmbracelet/lipgloss"

// Color palette.
var (
	primaryColor = lipgloss.Color("#7C3AED") // Purple
	successColor = lipgloss.Color("#10B981") // Green
	warningColor = lipgloss.Color("#F59E0B") // Amber
	errorColor   = lipgloss.Color("#EF4444") // Red
	mutedColor   = lipgloss.Color("#6B7280") // Gray
	codeColor    = lipgloss.Color("#38BDF8") // Sky
)

var (
	statusStyle  = lipgloss.NewStyle().Foreground(mutedColor).Italic(true)
	successStyle = lipgloss.NewStyle().Foreground(successColor)
	warningStyle = lipgloss.NewStyle().Foreground(warningColor)
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor).Bold(true)

	codeStyle  = lipgloss.NewStyle().Foreground(codeColor)
	fenceStyle = lipgloss.NewStyle().Foreground(mutedColor)

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(primaryColor).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	scoreStyle  = cellStyle.Foreground(successColor).Align(lipgloss.Right)
)
