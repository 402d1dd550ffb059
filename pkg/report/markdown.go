package report

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/openfroyo/cookbooks/pkg/engine"
	"github.com/openfroyo/cookbooks/pkg/policy"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// Markdown renders plan as a GitHub-flavoured markdown document.
func Markdown(plan *engine.Plan, guard *policy.Result) string {
	var b strings.Builder

	title := "Plan"
	if plan.Node != "" {
		title += " for " + plan.Node
	}
	fmt.Fprintf(&b, "# %s\n\n", cell(title))
	fmt.Fprintf(&b, "- **ID:** `%s`\n", plan.ID)
	fmt.Fprintf(&b, "- **Platform:** %s (%s)\n", cell(plan.Platform), cell(plan.Family))
	if len(plan.RunList) > 0 {
		fmt.Fprintf(&b, "- **Run list:** %s\n", cell(strings.Join(plan.RunList, ", ")))
	}
	fmt.Fprintf(&b, "- **Summary:** %s\n\n", summaryLine(plan))

	levels := map[string]int{}
	if plan.Graph != nil {
		for key, n := range plan.Graph.Nodes {
			levels[key] = n.Level
		}
	}

	b.WriteString("## Intents\n\n")
	b.WriteString("| # | Level | Kind | Name | Actions | Owner | Mode |\n")
	b.WriteString("|---:|---:|---|---|---|---|---|\n")
	for i, in := range plan.Intents {
		actions := make([]string, len(in.Actions))
		for j, a := range in.Actions {
			actions[j] = string(a)
		}
		owner := ""
		if in.Owner != "" || in.Group != "" {
			owner = in.Owner + ":" + in.Group
		}
		fmt.Fprintf(&b, "| %d | %d | %s | `%s` | %s | %s | %s |\n",
			i+1, levels[in.Key()], in.Kind, cell(in.Name), strings.Join(actions, ", "), cell(owner), cell(in.Mode))
	}

	if len(plan.Notifications) > 0 {
		b.WriteString("\n## Notifications\n\n")
		b.WriteString("| Source | Target | Action | Timing |\n")
		b.WriteString("|---|---|---|---|\n")
		for _, e := range plan.Notifications {
			fmt.Fprintf(&b, "| `%s` | `%s` | %s | %s |\n", cell(e.Source), cell(e.Target), e.Action, e.Timing)
		}
	}

	if guard != nil {
		b.WriteString("\n## Guard\n\n")
		if len(guard.Violations) == 0 {
			b.WriteString("No violations.\n")
		} else {
			if !guard.Allowed {
				b.WriteString("**Blocked.**\n\n")
			}
			for _, v := range guard.Violations {
				fmt.Fprintf(&b, "- **%s** `%s`: %s", v.Severity, v.Rule, cell(v.Message))
				if v.Intent != "" {
					fmt.Fprintf(&b, " (`%s`)", cell(v.Intent))
				}
				b.WriteString("\n")
			}
		}
	}

	return b.String()
}

// cell escapes text for a markdown table cell.
func cell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func renderHTML(w io.Writer, plan *engine.Plan, guard *policy.Result) error {
	var body bytes.Buffer
	if err := markdown.Convert([]byte(Markdown(plan, guard)), &body); err != nil {
		return fmt.Errorf("failed to render markdown: %w", err)
	}

	title := "Plan " + plan.ID
	_, err := fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>%s</title>
</head>
<body>
%s</body>
</html>
`, html.EscapeString(title), body.String())
	return err
}
