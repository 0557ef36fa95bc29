// Package ui renders command-line output for fstext.
package ui

import "github.com/charmbracelet/lipgloss"

// Color palette.
const (
	ColorLime     = "154" // paths, headers
	ColorLimeDim  = "106" // scores
	ColorGray     = "245" // snippets
	ColorDarkGray = "238" // separators
	ColorRed      = "196" // errors
	ColorYellow   = "220" // highlighted terms
)

// Styles holds the styles used for search output.
type Styles struct {
	Header  lipgloss.Style
	Path    lipgloss.Style
	Score   lipgloss.Style
	Snippet lipgloss.Style
	Match   lipgloss.Style
	Dim     lipgloss.Style
	Error   lipgloss.Style
}

// DefaultStyles returns colored styles for terminal output.
func DefaultStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorLime)),
		Path:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorLime)),
		Score:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLimeDim)),
		Snippet: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
		Match:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorYellow)),
		Dim:     lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDarkGray)),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorRed)),
	}
}

// NoColorStyles returns unstyled components for plain output.
func NoColorStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle(),
		Path:    lipgloss.NewStyle(),
		Score:   lipgloss.NewStyle(),
		Snippet: lipgloss.NewStyle(),
		Match:   lipgloss.NewStyle(),
		Dim:     lipgloss.NewStyle(),
		Error:   lipgloss.NewStyle(),
	}
}
