package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/openfroyo/cookbooks/pkg/engine"
	"github.com/openfroyo/cookbooks/pkg/stores"
)

// RenderDiff writes the changes between two plans, one per line.
func RenderDiff(w io.Writer, changes []engine.Change, color bool) error {
	st := newStyles(w, color)
	var b strings.Builder

	if len(changes) == 0 {
		b.WriteString("No changes.\n")
	}
	for _, c := range changes {
		switch c.Action {
		case engine.ChangeActionAdd:
			b.WriteString(st.added.Render("+ "+c.Intent) + "\n")
		case engine.ChangeActionRemove:
			b.WriteString(st.removed.Render("- "+c.Intent) + "\n")
		default:
			fmt.Fprintf(&b, "%s %s\n", st.modified.Render("~ "+c.Intent+"."+c.Field), st.dim.Render(
				fmt.Sprintf("%s -> %s", short(c.Before), short(c.After))))
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// short formats a changed value on one line.
func short(v interface{}) string {
	s := fmt.Sprintf("%v", v)
	s = strings.ReplaceAll(s, "\n", `\n`)
	if len(s) > 60 {
		s = s[:57] + "..."
	}
	return s
}

// RenderHistory writes plan records as a table, newest first.
func RenderHistory(w io.Writer, records []*stores.PlanRecord, color bool) error {
	st := newStyles(w, color)
	var b strings.Builder

	if len(records) == 0 {
		b.WriteString("No plans recorded.\n")
		_, err := io.WriteString(w, b.String())
		return err
	}

	nodeWidth := len("NODE")
	for _, r := range records {
		if len(r.Node) > nodeWidth {
			nodeWidth = len(r.Node)
		}
	}

	b.WriteString(st.heading.Render(fmt.Sprintf("%-12s  %s  %-8s  %7s  %6s  %8s  %s",
		"ID", pad("NODE", nodeWidth), "STATUS", "INTENTS", "NOTIFY", "BYTES", "CREATED")))
	b.WriteString("\n")
	for _, r := range records {
		id := r.ID
		if len(id) > 12 {
			id = id[:12]
		}
		status := st.added
		if r.Status == stores.PlanStatusBlocked {
			status = st.removed
		}
		fmt.Fprintf(&b, "%-12s  %s  %s  %7d  %6d  %8d  %s\n",
			id, pad(r.Node, nodeWidth), status.Render(pad(string(r.Status), 8)),
			r.Intents, r.Notifications, r.Size, r.CreatedAt.Local().Format(time.DateTime))
	}

	_, err := io.WriteString(w, b.String())
	return err
}
