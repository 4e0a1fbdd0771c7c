package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/sprite-ai/repolens/internal/model"
)

// Color palette.
var (
	colorRed       = lipgloss.Color("#ff5555")
	colorGreen     = lipgloss.Color("#50fa7b")
	colorYellow    = lipgloss.Color("#f1fa8c")
	colorBlue      = lipgloss.Color("#8be9fd")
	colorPurple    = lipgloss.Color("#bd93f9")
	colorDim       = lipgloss.Color("#6272a4")
	colorBgLight   = lipgloss.Color("#343746")
	colorFg        = lipgloss.Color("#f8f8f2")
	colorBorder    = lipgloss.Color("#44475a")
	colorHighlight = lipgloss.Color("#44475a")
	colorMark      = lipgloss.Color("#5a4a1f")
)

// Style definitions.
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(colorPurple).
			Bold(true)

	metaStyle = lipgloss.NewStyle().
			Foreground(colorDim)

	// Score tiles
	tileStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	// Insight list
	listStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	tabStyle = lipgloss.NewStyle().
			Foreground(colorDim).
			Padding(0, 1)

	tabActiveStyle = lipgloss.NewStyle().
			Foreground(colorFg).
			Background(colorHighlight).
			Bold(true).
			Padding(0, 1)

	cardTitleStyle = lipgloss.NewStyle().
			Foreground(colorFg).
			Bold(true)

	cardSelectedStyle = lipgloss.NewStyle().
				Background(colorHighlight)

	cardTextStyle = lipgloss.NewStyle().
			Foreground(colorFg)

	suggestionStyle = lipgloss.NewStyle().
			Foreground(colorDim)

	// Code view
	codeViewStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	fileHeaderStyle = lipgloss.NewStyle().
			Foreground(colorBlue).
			Bold(true).
			Padding(0, 0, 1, 0)

	lineNumberStyle = lipgloss.NewStyle().
			Foreground(colorDim).
			Width(5).
			Align(lipgloss.Right)

	markedLineStyle = lipgloss.NewStyle().
			Background(colorMark)

	// Status bar
	statusBarStyle = lipgloss.NewStyle().
			Foreground(colorFg).
			Background(colorBgLight).
			Padding(0, 1)

	helpBarStyle = lipgloss.NewStyle().
			Foreground(colorDim)
)

func tierColor(s model.UISeverity) lipgloss.Color {
	switch s {
	case model.SeverityError:
		return colorRed
	case model.SeverityWarning:
		return colorYellow
	case model.SeveritySuccess:
		return colorGreen
	default:
		return colorBlue
	}
}

func tierIcon(s model.UISeverity) string {
	switch s {
	case model.SeverityError:
		return "✖"
	case model.SeverityWarning:
		return "▲"
	case model.SeveritySuccess:
		return "✔"
	default:
		return "●"
	}
}
