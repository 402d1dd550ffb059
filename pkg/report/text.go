package report

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/openfroyo/cookbooks/pkg/engine"
	"github.com/openfroyo/cookbooks/pkg/policy"
)

// styles holds the lipgloss styles for one output.
type styles struct {
	title    lipgloss.Style
	heading  lipgloss.Style
	dim      lipgloss.Style
	key      lipgloss.Style
	kinds    map[engine.Kind]lipgloss.Style
	severity map[policy.Severity]lipgloss.Style
	added    lipgloss.Style
	removed  lipgloss.Style
	modified lipgloss.Style
}

func newStyles(w io.Writer, color bool) styles {
	r := lipgloss.NewRenderer(w)
	if color {
		r.SetColorProfile(termenv.ANSI256)
	} else {
		r.SetColorProfile(termenv.Ascii)
	}

	fg := func(c string) lipgloss.Style { return r.NewStyle().Foreground(lipgloss.Color(c)) }

	return styles{
		title:   r.NewStyle().Bold(true),
		heading: r.NewStyle().Bold(true).Underline(true),
		dim:     fg("245"),
		key:     r.NewStyle(),
		kinds: map[engine.Kind]lipgloss.Style{
			engine.KindPackage:   fg("111"),
			engine.KindDirectory: fg("180"),
			engine.KindTemplate:  fg("150"),
			engine.KindService:   fg("213"),
			engine.KindExecute:   fg("209"),
		},
		severity: map[policy.Severity]lipgloss.Style{
			policy.SeverityInfo:     fg("75"),
			policy.SeverityWarning:  fg("214"),
			policy.SeverityError:    fg("196"),
			policy.SeverityCritical: fg("196").Bold(true),
		},
		added:    fg("114"),
		removed:  fg("203"),
		modified: fg("221"),
	}
}

func (s styles) kind(k engine.Kind) lipgloss.Style {
	if st, ok := s.kinds[k]; ok {
		return st
	}
	return s.key
}

func pad(s string, width int) string {
	if n := width - len(s); n > 0 {
		return s + strings.Repeat(" ", n)
	}
	return s
}

func renderText(w io.Writer, plan *engine.Plan, opts Options) error {
	st := newStyles(w, opts.Color)
	var b strings.Builder

	node := plan.Node
	if node == "" {
		node = "(unnamed node)"
	}
	fmt.Fprintf(&b, "%s %s\n", st.title.Render("Plan "+plan.ID), st.dim.Render("for "+node+" ("+plan.Platform+"/"+plan.Family+")"))
	if len(plan.RunList) > 0 {
		fmt.Fprintf(&b, "Run list: %s\n", strings.Join(plan.RunList, ", "))
	}
	b.WriteString("\n")

	levels := map[string]int{}
	if plan.Graph != nil {
		for key, n := range plan.Graph.Nodes {
			levels[key] = n.Level
		}
	}

	keyWidth := len("INTENT")
	for _, in := range plan.Intents {
		if n := len(in.Key()); n > keyWidth {
			keyWidth = n
		}
	}

	b.WriteString(st.heading.Render(fmt.Sprintf("%3s  %-5s  %s  %s", "#", "LEVEL", pad("INTENT", keyWidth), "ACTIONS")))
	b.WriteString("\n")
	for i, in := range plan.Intents {
		actions := make([]string, len(in.Actions))
		for j, a := range in.Actions {
			actions[j] = string(a)
		}
		detail := ""
		if in.Kind.IsFilesystem() && (in.Owner != "" || in.Mode != "") {
			detail = st.dim.Render(fmt.Sprintf("  %s:%s %s", in.Owner, in.Group, in.Mode))
		}
		fmt.Fprintf(&b, "%3d  %-5d  %s  %s%s\n",
			i+1, levels[in.Key()],
			st.kind(in.Kind).Render(pad(in.Key(), keyWidth)),
			strings.Join(actions, ", "),
			detail)
	}

	if len(plan.Notifications) > 0 {
		b.WriteString("\n" + st.heading.Render("Notifications") + "\n")
		for _, e := range plan.Notifications {
			fmt.Fprintf(&b, "  %s -> %s  %s\n", e.Source, e.Target, st.dim.Render(fmt.Sprintf("%s (%s)", e.Action, e.Timing)))
		}
	}

	if len(plan.Handlers) > 0 {
		b.WriteString("\n" + st.heading.Render("Handlers") + "\n")
		for _, h := range plan.Handlers {
			fmt.Fprintf(&b, "  %s %s %s <- %s\n", h.Action, h.Target, st.dim.Render(string(h.Timing)), strings.Join(h.Sources, ", "))
		}
	}

	if opts.Guard != nil {
		b.WriteString("\n")
		writeGuardText(&b, st, opts.Guard)
	}

	b.WriteString("\n" + summaryLine(plan) + "\n")

	_, err := io.WriteString(w, b.String())
	return err
}

func writeGuardText(b *strings.Builder, st styles, res *policy.Result) {
	if len(res.Violations) == 0 {
		fmt.Fprintf(b, "%s %s\n", st.heading.Render("Guard"), st.added.Render("passed"))
		return
	}
	verdict := st.added.Render("allowed")
	if !res.Allowed {
		verdict = st.removed.Render("blocked")
	}
	fmt.Fprintf(b, "%s %s, %d violation(s)\n", st.heading.Render("Guard"), verdict, len(res.Violations))
	for _, v := range res.Violations {
		sev, ok := st.severity[v.Severity]
		if !ok {
			sev = st.key
		}
		line := fmt.Sprintf("  %s %s: %s", sev.Render("["+string(v.Severity)+"]"), v.Rule, v.Message)
		if v.Intent != "" {
			line += st.dim.Render(" (" + v.Intent + ")")
		}
		b.WriteString(line + "\n")
	}
}

func summaryLine(plan *engine.Plan) string {
	s := plan.Summary
	kinds := make([]string, 0, len(s.ByKind))
	for k := range s.ByKind {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = fmt.Sprintf("%s %d", k, s.ByKind[engine.Kind(k)])
	}
	return fmt.Sprintf("%d intents (%s), %d notifications, %d levels, %d merged",
		s.Total, strings.Join(parts, ", "), s.Notifications, s.Levels, s.Merged)
}
