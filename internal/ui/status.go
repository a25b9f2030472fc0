package ui

import "github.com/charmbracelet/lipgloss"

// Status colors, following the teacher's table.go palette convention
// (ColorAccent/ColorPass/ColorWarn/ColorMuted) whose definition site
// was absent from the retrieval pack.
var (
	ColorAccent = lipgloss.Color("12")
	ColorPass   = lipgloss.Color("10")
	ColorWarn   = lipgloss.Color("9")
	ColorMuted  = lipgloss.Color("8")
)

var (
	passStyle   = lipgloss.NewStyle().Bold(true).Foreground(ColorPass)
	failStyle   = lipgloss.NewStyle().Bold(true).Foreground(ColorWarn)
	mutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	accentStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
)

// Glyph renders a pass/fail/neutral status glyph, colorized when
// ShouldUseColor reports true and left as plain ASCII otherwise so
// piped output stays machine-readable.
func Glyph(pass bool) string {
	if !ShouldUseColor() {
		if pass {
			return "[ok]"
		}
		return "[fail]"
	}
	if pass {
		return passStyle.Render("[ok]")
	}
	return failStyle.Render("[fail]")
}

// Muted renders dimmed hint text, e.g. timestamps or secondary detail.
func Muted(s string) string {
	if !ShouldUseColor() {
		return s
	}
	return mutedStyle.Render(s)
}

// Accent renders emphasized text, e.g. a task id or command name.
func Accent(s string) string {
	if !ShouldUseColor() {
		return s
	}
	return accentStyle.Render(s)
}
