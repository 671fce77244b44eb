package ui

import (
	"fmt"

	"github.com/grnet/panoramix/internal/model"
)

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent = 74  // blue
	colorCmd    = 250 // light gray
	colorMuted  = 245 // medium gray
	colorPass   = 114 // green
	colorWarn   = 179 // amber
	colorFail   = 203 // red
)

var noColor bool

func render(color int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", color, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return render(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return render(colorMuted, s) }

// RenderCommand returns s styled as a command name (light gray).
func RenderCommand(s string) string { return render(colorCmd, s) }

// RenderWarn returns s in the warning (amber) color.
func RenderWarn(s string) string { return render(colorWarn, s) }

// RenderFail returns s in the failure (red) color.
func RenderFail(s string) string { return render(colorFail, s) }

// RenderState returns the name of state colored by liveness.
func RenderState(state model.State) string {
	switch state {
	case model.StateRunning:
		return render(colorAccent, state.String())
	case model.StateCompleted:
		return render(colorPass, state.String())
	default:
		return render(colorMuted, state.String())
	}
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}
