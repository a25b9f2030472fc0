// Package ui provides non-interactive terminal styling for status,
// doctor, and proof command output, grounded on the teacher's
// internal/ui/terminal.go TTY/NO_COLOR gating idiom. The teacher's
// interactive TUI surfaces (huh, bubbletea) have no place here — the
// spec's OUT OF SCOPE list excludes a full-screen dashboard.
package ui

import (
	"os"

	"golang.org/x/term"
)

// IsTerminal returns true if stdout is connected to a TTY.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// ShouldUseColor follows NO_COLOR/CLICOLOR conventions, falling back to
// TTY detection.
func ShouldUseColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("CLICOLOR") == "0" {
		return false
	}
	if os.Getenv("CLICOLOR_FORCE") != "" {
		return true
	}
	return IsTerminal()
}

// GetWidth returns the terminal width, or 80 if it cannot be determined.
func GetWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}
