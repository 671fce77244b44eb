package main

import (
	"cmp"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/grnet/panoramix/internal/model"
	"github.com/grnet/panoramix/internal/ui"
	"github.com/spf13/cobra"
)

// helpRule styles every match of re in the help text.
type helpRule struct {
	re    *regexp.Regexp
	style func(groups []string) string
}

// helpRules run in order over Cobra's plain help. Each rule sees the output
// of the previous ones, so later patterns must not match escape codes.
var helpRules = []helpRule{
	// Group headers ("Stages:", "Live:"); "Usage:" stays plain.
	{regexp.MustCompile(`(?m)^([A-Z][^\n]*:)[ \t]*$`), func(g []string) string {
		if g[1] == "Usage:" {
			return g[0]
		}
		return ui.RenderAccent(g[1])
	}},
	// Command names in listings: two-space indent, name, gap, description.
	{regexp.MustCompile(`(?m)^(  )([a-z][\w-]*)(  +)`), func(g []string) string {
		return g[1] + ui.RenderCommand(g[2]) + g[3]
	}},
	// Stage liveness words in command descriptions.
	{regexp.MustCompile(`\b(pending|running|completed)\b`), func(g []string) string {
		return ui.RenderState(model.State(g[1]))
	}},
	// Backend state labels that offer the contribute action.
	{regexp.MustCompile(`\b[A-Z][A-Z_]{3,}\b`), func(g []string) string {
		if !model.CanAction(g[0]) {
			return g[0]
		}
		return ui.RenderWarn(g[0])
	}},
	// Flag value types.
	{regexp.MustCompile(`(--?[\w-]+[ \t]+)(strings|string|int|duration)\b`), func(g []string) string {
		return g[1] + ui.RenderMuted(g[2])
	}},
	{regexp.MustCompile(`\(default "[^"]*"\)`), func(g []string) string {
		return ui.RenderMuted(g[0])
	}},
}

// colorizedHelpFunc prints a command's description and usage, styled when
// the output is a terminal.
func colorizedHelpFunc() func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		text := helpText(cmd)
		if ui.ShouldUseColorFor(cmd.OutOrStdout()) {
			text = colorizeHelpOutput(text)
		}
		fmt.Fprint(cmd.OutOrStdout(), text)
	}
}

func helpText(cmd *cobra.Command) string {
	var b strings.Builder
	if desc := cmp.Or(cmd.Long, cmd.Short); desc != "" {
		b.WriteString(strings.TrimRightFunc(desc, unicode.IsSpace))
		b.WriteString("\n\n")
	}
	if cmd.Runnable() || cmd.HasSubCommands() {
		b.WriteString(cmd.UsageString())
	}
	return b.String()
}

func colorizeHelpOutput(s string) string {
	for _, r := range helpRules {
		s = r.re.ReplaceAllStringFunc(s, func(match string) string {
			return r.style(r.re.FindStringSubmatch(match))
		})
	}
	return s
}

// stateLegend is appended to the long help of commands that print stages.
var stateLegend = strings.TrimSpace(`
Each stage is pending, running or completed for a user. A running stage
whose label is FINISH, PROPOSE, TRANSITION, ENHANCE, CONSENT or CONFLICT
accepts a contribute.`)
