// Package output renders search results, index reports and status for the
// terminal, as styled text or JSON.
package output

import "github.com/charmbracelet/lipgloss"

// Color palette
const (
	ColorCyan     = "51"  // Queries, table labels
	ColorGreen    = "42"  // Scores, success
	ColorBlue     = "33"  // Links
	ColorWhite    = "255" // Headers, important text
	ColorGray     = "245" // Secondary text, previews
	ColorDarkGray = "238" // Box borders, separators
	ColorRed      = "196" // Errors
	ColorYellow   = "220" // Warnings
	ColorMagenta  = "170" // Table headers
)

// Styles holds all styles used for rendering.
type Styles struct {
	Header  lipgloss.Style
	Query   lipgloss.Style
	Score   lipgloss.Style
	Name    lipgloss.Style
	Link    lipgloss.Style
	Preview lipgloss.Style
	Dim     lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Label   lipgloss.Style

	Panel       lipgloss.Style
	TableHeader lipgloss.Style
	TableBorder lipgloss.Style
}

// DefaultStyles returns the colored styles.
func DefaultStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorGreen)),
		Query:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorCyan)),
		Score:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGreen)).Width(10).Align(lipgloss.Right),
		Name:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorWhite)),
		Link:    lipgloss.NewStyle().Foreground(lipgloss.Color(ColorBlue)),
		Preview: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
		Dim:     lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGreen)),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorYellow)),
		Error:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorRed)),
		Label:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorCyan)),

		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(ColorBlue)).
			Padding(0, 1),
		TableHeader: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorMagenta)).Padding(0, 1),
		TableBorder: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDarkGray)),
	}
}

// NoColorStyles returns styles without color, keeping layout.
func NoColorStyles() Styles {
	return Styles{
		Header:      lipgloss.NewStyle(),
		Query:       lipgloss.NewStyle(),
		Score:       lipgloss.NewStyle().Width(10).Align(lipgloss.Right),
		Name:        lipgloss.NewStyle(),
		Link:        lipgloss.NewStyle(),
		Preview:     lipgloss.NewStyle(),
		Dim:         lipgloss.NewStyle(),
		Success:     lipgloss.NewStyle(),
		Warning:     lipgloss.NewStyle(),
		Error:       lipgloss.NewStyle(),
		Label:       lipgloss.NewStyle(),
		Panel:       lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1),
		TableHeader: lipgloss.NewStyle().Padding(0, 1),
		TableBorder: lipgloss.NewStyle(),
	}
}

// GetStyles returns the appropriate styles based on color preference.
func GetStyles(noColor bool) Styles {
	if noColor {
		return NoColorStyles()
	}
	return DefaultStyles()
}
