package console

import "github.com/charmbracelet/lipgloss"

var (
	primaryColor = lipgloss.Color("#7C3AED")
	selfColor    = lipgloss.Color("#10B981")
	mutedColor   = lipgloss.Color("#9CA3AF")
	alertColor   = lipgloss.Color("#EF4444")
	activeBorder = lipgloss.Color("#F59E0B")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	mutedStyle = lipgloss.NewStyle().Foreground(mutedColor)

	badgeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(alertColor).
			Bold(true).
			Padding(0, 1)

	errorStyle = lipgloss.NewStyle().Foreground(alertColor).Bold(true)

	tabStyle       = lipgloss.NewStyle().Padding(0, 1).Foreground(mutedColor)
	activeTabStyle = lipgloss.NewStyle().Padding(0, 1).Bold(true).Underline(true).Foreground(primaryColor)

	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)

	selectedRowStyle = lipgloss.NewStyle().
				Foreground(selfColor).
				Bold(true).
				PaddingLeft(1).
				Border(lipgloss.NormalBorder(), false, false, false, true).
				BorderForeground(selfColor)

	rowStyle = lipgloss.NewStyle().PaddingLeft(2)

	ownMessageStyle   = lipgloss.NewStyle().Foreground(selfColor)
	otherMessageStyle = lipgloss.NewStyle().Foreground(primaryColor)
	typingStyle       = lipgloss.NewStyle().Foreground(mutedColor).Italic(true)

	onlineDot  = lipgloss.NewStyle().Foreground(selfColor).Render("●")
	offlineDot = lipgloss.NewStyle().Foreground(mutedColor).Render("○")
)
