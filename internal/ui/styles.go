package ui

import (
	"fmt"
	"strings"
)

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent  = 74  // blue
	colorCmd     = 250 // light gray
	colorMuted   = 245 // medium gray
	colorOnline  = 114 // green
	colorOffline = 173 // orange
	colorDelete  = 203 // red
)

var noColor bool

func render(code int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return render(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return render(colorMuted, s) }

// RenderCommand returns s styled as a command name (light gray).
func RenderCommand(s string) string { return render(colorCmd, s) }

// RenderEvent returns an event name colored by kind: presence transitions
// green and orange, deletions red, everything else in the accent color.
func RenderEvent(name string) string {
	switch {
	case name == "user.online":
		return render(colorOnline, name)
	case name == "user.offline":
		return render(colorOffline, name)
	case strings.HasSuffix(name, "deleted"):
		return render(colorDelete, name)
	case name == "presence.list":
		return render(colorMuted, name)
	}
	return render(colorAccent, name)
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}
