package main

import (
	"bytes"
	"fmt"
	"io"
	"regexp"

	"github.com/alfredjeanlab/tasknotify/internal/ui"
	"github.com/spf13/cobra"
)

var reEnvVar = regexp.MustCompile(`\bNOTIFY_[A-Z_]+\b`)

// helpRule styles every match of re. When group is non-zero only that
// submatch is styled and the rest of the match is kept as is.
type helpRule struct {
	re    *regexp.Regexp
	group int
	style func(string) string
}

// Applied in order over cobra's plain help text.
var helpRules = []helpRule{
	// Section headers such as "Service:" or "Flags:".
	{regexp.MustCompile(`(?m)^[A-Z][^\n]*:[ \t]*$`), 0, ui.RenderAccent},
	// Command names in the command lists.
	{regexp.MustCompile(`(?m)^  (\S+)  `), 1, ui.RenderCommand},
	// Flag value types, e.g. "--ttl duration".
	{regexp.MustCompile(`--?\S+\s+(string|int|duration|stringSlice)\b`), 1, ui.RenderMuted},
	{regexp.MustCompile(`\(default "[^"]*"\)`), 0, ui.RenderMuted},
	{reEnvVar, 0, ui.RenderAccent},
}

func (r helpRule) apply(s string) string {
	if r.group == 0 {
		return r.re.ReplaceAllStringFunc(s, r.style)
	}
	var out bytes.Buffer
	last := 0
	for _, m := range r.re.FindAllStringSubmatchIndex(s, -1) {
		start, end := m[2*r.group], m[2*r.group+1]
		out.WriteString(s[last:start])
		out.WriteString(r.style(s[start:end]))
		last = end
	}
	out.WriteString(s[last:])
	return out.String()
}

func colorizeHelpOutput(s string) string {
	for _, r := range helpRules {
		s = r.apply(s)
	}
	return s
}

// writeHelp writes cmd.Long followed by cobra's usage text.
func writeHelp(cmd *cobra.Command, w io.Writer) {
	orig := cmd.OutOrStdout()
	cmd.SetOut(w)
	defer cmd.SetOut(orig)
	if cmd.Long != "" {
		fmt.Fprintf(w, "%s\n\n", cmd.Long)
	}
	_ = cmd.Usage()
}

// colorizedHelpFunc renders help through colorizeHelpOutput when stdout
// takes color.
func colorizedHelpFunc() func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, _ []string) {
		if !ui.ShouldUseColor() {
			writeHelp(cmd, cmd.OutOrStdout())
			return
		}
		var buf bytes.Buffer
		writeHelp(cmd, &buf)
		fmt.Fprint(cmd.OutOrStdout(), colorizeHelpOutput(buf.String()))
	}
}
