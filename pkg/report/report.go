// Package report renders execution plans, plan diffs and plan history for
// people and for machines.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2/quick"
	"golang.org/x/term"

	"github.com/openfroyo/cookbooks/pkg/engine"
	"github.com/openfroyo/cookbooks/pkg/handoff"
	"github.com/openfroyo/cookbooks/pkg/policy"
)

// Format is an output format for a plan.
type Format string

const (
	FormatText     Format = "text"
	FormatJSON     Format = "json"
	FormatDOT      Format = "dot"
	FormatNDJSON   Format = "ndjson"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

var formats = []Format{FormatText, FormatJSON, FormatDOT, FormatNDJSON, FormatMarkdown, FormatHTML}

// Formats lists the supported format names.
func Formats() []string {
	out := make([]string, len(formats))
	for i, f := range formats {
		out[i] = string(f)
	}
	return out
}

// ParseFormat parses a format name.
func ParseFormat(s string) (Format, error) {
	for _, f := range formats {
		if string(f) == strings.ToLower(s) {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown format %q (want one of %s)", s, strings.Join(Formats(), ", "))
}

// Options tune rendering.
type Options struct {
	// Color enables ANSI styling for text output and syntax highlighting
	// for JSON. Other formats ignore it.
	Color bool

	// Guard is the guardrail result shown with the plan, if any.
	Guard *policy.Result
}

// ColorEnabled reports whether w is a terminal that should get color.
// NO_COLOR disables color regardless.
func ColorEnabled(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// Render writes plan to w in format.
func Render(ctx context.Context, w io.Writer, plan *engine.Plan, format Format, opts Options) error {
	if plan == nil {
		return fmt.Errorf("plan is nil")
	}

	switch format {
	case FormatText:
		return renderText(w, plan, opts)
	case FormatJSON:
		return renderJSON(w, plan, opts.Color)
	case FormatDOT:
		_, err := io.WriteString(w, engine.ToDOT(plan))
		return err
	case FormatNDJSON:
		return handoff.WritePlan(ctx, w, plan)
	case FormatMarkdown:
		_, err := io.WriteString(w, Markdown(plan, opts.Guard))
		return err
	case FormatHTML:
		return renderHTML(w, plan, opts.Guard)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

// WriteJSON writes v as indented JSON, highlighted when color is set.
func WriteJSON(w io.Writer, v interface{}, color bool) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	data = append(data, '\n')

	if color {
		return quick.Highlight(w, string(data), "json", "terminal256", "monokai")
	}
	_, err = w.Write(data)
	return err
}

func renderJSON(w io.Writer, plan *engine.Plan, color bool) error {
	return WriteJSON(w, plan, color)
}
