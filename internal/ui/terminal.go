package ui

import (
	"os"
	"strings"

	"golang.org/x/term"
)

// envColor applies NO_COLOR, CLICOLOR_FORCE and CLICOLOR in that order.
// ok is false when none of them settles the question.
func envColor(getenv func(string) string) (use, ok bool) {
	if getenv("NO_COLOR") != "" {
		return false, true
	}
	if strings.TrimSpace(getenv("CLICOLOR_FORCE")) == "1" {
		return true, true
	}
	if strings.TrimSpace(getenv("CLICOLOR")) == "0" {
		return false, true
	}
	return false, false
}

// ColorEnabled reports whether ANSI colors should be written to f. The
// environment wins; otherwise f must be a terminal.
func ColorEnabled(f *os.File) bool {
	if use, ok := envColor(os.Getenv); ok {
		return use
	}
	return f != nil && term.IsTerminal(int(f.Fd()))
}

// ShouldUseColor is ColorEnabled for stdout.
func ShouldUseColor() bool { return ColorEnabled(os.Stdout) }
