package console

import "github.com/charmbracelet/lipgloss"

// Color palette
var (
	salmonPink  = lipgloss.Color("#FFB3BA") // primary accent
	mintGreen   = lipgloss.Color("#A8E6CF") // success
	mutedGray   = lipgloss.Color("#6B7280") // secondary text
	brightWhite = lipgloss.Color("#F9FAFB") // headings
	warnYellow  = lipgloss.Color("#FDE68A")
	errorRed    = lipgloss.Color("#F87171")
)

type styles struct {
	header  lipgloss.Style
	step    lipgloss.Style
	info    lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	err     lipgloss.Style
	muted   lipgloss.Style
}

// newStyles builds styles bound to r so color output follows the
// destination writer rather than stdout.
func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		header:  r.NewStyle().Bold(true).Foreground(brightWhite),
		step:    r.NewStyle().Foreground(salmonPink),
		info:    r.NewStyle().Foreground(salmonPink),
		success: r.NewStyle().Bold(true).Foreground(mintGreen),
		warning: r.NewStyle().Foreground(warnYellow),
		err:     r.NewStyle().Bold(true).Foreground(errorRed),
		muted:   r.NewStyle().Foreground(mutedGray),
	}
}
