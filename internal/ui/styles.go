package ui

import "github.com/charmbracelet/lipgloss"

// One-accent palette: teal for progress and success, with neutral
// grays for chrome. ANSI-256 codes so it degrades cleanly.
const (
	ColorAccent    = "43"  // teal, primary accent
	ColorAccentDim = "30"  // dimmed teal for inactive elements
	ColorWhite     = "255" // headers
	ColorGray      = "245" // labels, secondary text
	ColorDarkGray  = "238" // borders, separators
	ColorRed       = "196" // errors
	ColorYellow    = "220" // warnings
)

// Styles bundles the lipgloss styles the TUI renderer draws with.
type Styles struct {
	Header   lipgloss.Style
	Success  lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Dim      lipgloss.Style
	Stage    lipgloss.Style
	Active   lipgloss.Style
	Progress lipgloss.Style

	Border    lipgloss.Style
	Panel     lipgloss.Style
	Sparkline lipgloss.Style
	Speed     lipgloss.Style
	Label     lipgloss.Style
}

// DefaultStyles returns the colored TUI styling.
func DefaultStyles() Styles {
	accent := lipgloss.Color(ColorAccent)
	gray := lipgloss.Color(ColorGray)
	dark := lipgloss.Color(ColorDarkGray)

	return Styles{
		Header:   lipgloss.NewStyle().Bold(true).Foreground(accent),
		Success:  lipgloss.NewStyle().Foreground(accent),
		Warning:  lipgloss.NewStyle().Foreground(lipgloss.Color(ColorYellow)),
		Error:    lipgloss.NewStyle().Foreground(lipgloss.Color(ColorRed)),
		Dim:      lipgloss.NewStyle().Foreground(dark),
		Stage:    lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccentDim)),
		Active:   lipgloss.NewStyle().Bold(true).Foreground(accent),
		Progress: lipgloss.NewStyle().Foreground(accent),

		Border: lipgloss.NewStyle().Foreground(dark),
		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(dark).
			Padding(0, 1),
		Sparkline: lipgloss.NewStyle().Foreground(accent),
		Speed:     lipgloss.NewStyle().Foreground(gray),
		Label:     lipgloss.NewStyle().Foreground(gray),
	}
}

// NoColorStyles returns bare styles for NO_COLOR terminals.
func NoColorStyles() Styles {
	return Styles{
		Header:    lipgloss.NewStyle(),
		Success:   lipgloss.NewStyle(),
		Warning:   lipgloss.NewStyle(),
		Error:     lipgloss.NewStyle(),
		Dim:       lipgloss.NewStyle(),
		Stage:     lipgloss.NewStyle(),
		Active:    lipgloss.NewStyle(),
		Progress:  lipgloss.NewStyle(),
		Border:    lipgloss.NewStyle(),
		Panel:     lipgloss.NewStyle(),
		Sparkline: lipgloss.NewStyle(),
		Speed:     lipgloss.NewStyle(),
		Label:     lipgloss.NewStyle(),
	}
}

// GetStyles picks DefaultStyles or NoColorStyles.
func GetStyles(noColor bool) Styles {
	if noColor {
		return NoColorStyles()
	}
	return DefaultStyles()
}
