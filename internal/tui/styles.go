package tui

import "github.com/charmbracelet/lipgloss"

// Color palette.
const (
	ColorHeader  = lipgloss.Color("12")
	ColorLabel   = lipgloss.Color("245")
	ColorOK      = lipgloss.Color("10")
	ColorWarning = lipgloss.Color("11")
	ColorError   = lipgloss.Color("9")
	ColorBorder  = lipgloss.Color("240")
)

// Layout constants.
const (
	defaultWidth  = 80
	borderPadding = 2
	labelWidth    = 12
)

// Text styles shared by the progress view and the run summary.
//
//nolint:gochecknoglobals // lipgloss styles are immutable values.
var (
	HeaderStyle  = lipgloss.NewStyle().Bold(true).Foreground(ColorHeader)
	LabelStyle   = lipgloss.NewStyle().Foreground(ColorLabel).Width(labelWidth)
	ValueStyle   = lipgloss.NewStyle()
	OKStyle      = lipgloss.NewStyle().Foreground(ColorOK).Bold(true)
	WarningStyle = lipgloss.NewStyle().Foreground(ColorWarning).Bold(true)
	ErrorStyle   = lipgloss.NewStyle().Foreground(ColorError).Bold(true)
	InfoStyle    = lipgloss.NewStyle().Foreground(ColorLabel).Italic(true)
	BoxStyle     = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(0, 1)
)
