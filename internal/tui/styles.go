package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorPrimary   = lipgloss.Color("#7C3AED")
	colorSecondary = lipgloss.Color("#06B6D4")
	colorSuccess   = lipgloss.Color("#10B981")
	colorWarning   = lipgloss.Color("#F59E0B")
	colorError     = lipgloss.Color("#EF4444")
	colorMuted     = lipgloss.Color("#6B7280")
	colorHighlight = lipgloss.Color("#374151")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary)

	settingsStyle = lipgloss.NewStyle().
			Foreground(colorSecondary).
			MarginBottom(1)

	selectedStyle = lipgloss.NewStyle().
			Background(colorHighlight).
			Foreground(lipgloss.Color("#FFFFFF")).
			Bold(true)

	channelStyle = lipgloss.NewStyle().
			Foreground(colorSecondary).
			Bold(true)

	dateStyle = lipgloss.NewStyle().
			Foreground(colorWarning)

	programStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#D1D5DB"))

	mutedStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	playingStyle = lipgloss.NewStyle().
			Foreground(colorSuccess).
			Bold(true)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#111827")).
			Foreground(lipgloss.Color("#9CA3AF")).
			PaddingLeft(1).
			PaddingRight(1)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(colorSuccess)

	infoStyle = lipgloss.NewStyle().
			Foreground(colorSecondary)

	searchPromptStyle = lipgloss.NewStyle().
				Foreground(colorPrimary).
				Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(colorMuted)
)
