// Package urfavecli contains utility functions for working with the urfave/cli
// package.
package urfavecli

import (
	cli "github.com/urfave/cli/v2"

	"go.afterglow.org/research/go/sklog"
)

// MarkdownDocTemplate is a drop-in replacement for cli.MarkdownDocTemplate
// that emits plain Markdown, without the pandoc man page header the default
// template starts with.
const MarkdownDocTemplate = `# NAME

{{ .App.Name }}{{ if .App.Usage }} - {{ .App.Usage }}{{ end }}

# SYNOPSIS

{{ .App.Name }}
{{ if .SynopsisArgs }}
` + "```" + `
{{ range $v := .SynopsisArgs }}{{ $v }}{{ end }}` + "```" + `
{{ end }}{{ if .App.Description }}
# DESCRIPTION

{{ .App.Description }}
{{ end }}
**Usage**:

` + "```" + `{{ if .App.UsageText }}
{{ .App.UsageText }}
{{ else }}
{{ .App.Name }} [GLOBAL OPTIONS] command [COMMAND OPTIONS] [ARGUMENTS...]
{{ end }}` + "```" + `
{{ if .GlobalArgs }}
# GLOBAL OPTIONS
{{ range $v := .GlobalArgs }}
{{ $v }}{{ end }}
{{ end }}{{ if .Commands }}
# COMMANDS
{{ range $v := .Commands }}
{{ $v }}{{ end }}{{ end }}`

// LogFlags logs the value of each flag in the context, which is useful when
// debugging command line applications.
func LogFlags(c *cli.Context) {
	if c.App != nil {
		for _, f := range c.App.Flags {
			logFlag(c, f)
		}
	}
	if c.Command != nil {
		for _, f := range c.Command.Flags {
			logFlag(c, f)
		}
	}
}

func logFlag(c *cli.Context, f cli.Flag) {
	name := f.Names()[0]
	sklog.Infof("Flags: --%s=%v", name, c.Value(name))
}
