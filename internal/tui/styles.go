package tui

import "github.com/charmbracelet/lipgloss"

// ─── Styles (Catppuccin Mocha) ──────────────────────────────────────────────────

var (
	purple  = lipgloss.Color("#CBA6F7")
	blue    = lipgloss.Color("#89B4FA")
	green   = lipgloss.Color("#A6E3A1")
	red     = lipgloss.Color("#F38BA8")
	yellow  = lipgloss.Color("#F9E2AF")
	txtClr  = lipgloss.Color("#CDD6F4")
	subtext = lipgloss.Color("#A6ADC8")
	overlay = lipgloss.Color("#6C7086")
	base    = lipgloss.Color("#1E1E2E")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(purple).
			Background(base).
			Padding(0, 1)

	errorStyle = lipgloss.NewStyle().
			Foreground(red)

	warnStyle = lipgloss.NewStyle().
			Foreground(yellow)

	successStyle = lipgloss.NewStyle().
			Foreground(green)

	dimStyle = lipgloss.NewStyle().
			Foreground(overlay)

	selectedItemStyle = lipgloss.NewStyle().
				Foreground(base).
				Background(purple).
				Bold(true).
				Padding(0, 1)

	unselectedItemStyle = lipgloss.NewStyle().
				Foreground(txtClr).
				Padding(0, 1)

	dialogTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(purple).
				Padding(0, 1)

	dialogBorder = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple).
			Padding(1, 2)

	taskBadge = lipgloss.NewStyle().
			Foreground(base).
			Background(purple).
			Padding(0, 1).
			Bold(true)

	modelBadge = lipgloss.NewStyle().
			Foreground(base).
			Background(blue).
			Padding(0, 1)

	providerBadge = lipgloss.NewStyle().
			Foreground(base).
			Background(green).
			Padding(0, 1)

	keybindStyle = lipgloss.NewStyle().
			Foreground(purple).
			Bold(true)

	descStyle = lipgloss.NewStyle().
			Foreground(subtext)
)
