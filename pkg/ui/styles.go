package ui

import (
	"sync/atomic"

	"github.com/charmbracelet/lipgloss"
)

var (
	neonCyan    = lipgloss.Color("#00FFFF")
	neonMagenta = lipgloss.Color("#FF00FF")
	neonGreen   = lipgloss.Color("#39FF14")
	neonYellow  = lipgloss.Color("#FFFF00")
	neonOrange  = lipgloss.Color("#FF6700")
	alertRed    = lipgloss.Color("#FF0000")
	dimWhite    = lipgloss.Color("#B0B0B0")

	cyanStyle    = lipgloss.NewStyle().Foreground(neonCyan)
	yellowStyle  = lipgloss.NewStyle().Foreground(neonYellow)
	redStyle     = lipgloss.NewStyle().Foreground(alertRed)
	greenStyle   = lipgloss.NewStyle().Foreground(neonGreen)
	magentaStyle = lipgloss.NewStyle().Foreground(neonMagenta)
	dimStyle     = lipgloss.NewStyle().Foreground(dimWhite).Faint(true)

	logoStyle = lipgloss.NewStyle().
			Foreground(neonCyan).
			Bold(true)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(neonMagenta).
			Padding(0, 2)

	titleStyle = lipgloss.NewStyle().
			Background(neonMagenta).
			Foreground(lipgloss.Color("#0A0E27")).
			Bold(true).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(neonCyan).
			Bold(true)

	progressBarStyle = lipgloss.NewStyle().
				Foreground(neonGreen)

	progressEmptyStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#333333"))
)

var colorEnabled atomic.Bool

func init() {
	colorEnabled.Store(true)
}

// SetColor switches styling on or off for everything the package prints.
func SetColor(enabled bool) {
	colorEnabled.Store(enabled)
}

func render(style lipgloss.Style, s string) string {
	if !colorEnabled.Load() {
		return s
	}
	return style.Render(s)
}

// progressStyle picks the bar colour for a completion percentage
func progressStyle(percentage float64) lipgloss.Style {
	switch {
	case percentage >= 80:
		return progressBarStyle.Foreground(neonGreen)
	case percentage >= 50:
		return progressBarStyle.Foreground(neonYellow)
	case percentage >= 30:
		return progressBarStyle.Foreground(neonOrange)
	default:
		return progressBarStyle.Foreground(neonMagenta)
	}
}
