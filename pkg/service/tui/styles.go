package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("252")).
			Background(lipgloss.Color("236")).
			Padding(0, 1)

	selectedStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("25")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	normalStyle = lipgloss.NewStyle().
			Padding(0, 1)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242"))

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242"))

	agentStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("214"))

	// StatusStyles colors a session status tag. Shared with the CLI output.
	StatusStyles = map[string]lipgloss.Style{
		"active":    lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true),
		"completed": lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		"failed":    lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	}
)

// StatusTag renders status with its color. Padding around status is kept.
func StatusTag(status string) string {
	if style, ok := StatusStyles[strings.TrimSpace(status)]; ok {
		return style.Render(status)
	}
	return status
}

// Title renders a heading in the browser's title style
func Title(s string) string {
	return titleStyle.Render(s)
}

// Dim renders secondary text
func Dim(s string) string {
	return dimStyle.Render(s)
}
