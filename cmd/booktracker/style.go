package main

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	keyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("99")).
			Width(14)

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("10")).
		Bold(true)

	badStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

// row renders one "key value" line of a summary.
func row(key, value string) string {
	return keyStyle.Render(key) + value + "\n"
}
