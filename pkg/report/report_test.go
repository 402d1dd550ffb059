package report

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/openfroyo/cookbooks/pkg/engine"
	"github.com/openfroyo/cookbooks/pkg/handoff"
	"github.com/openfroyo/cookbooks/pkg/policy"
	"github.com/openfroyo/cookbooks/pkg/stores"
)

func samplePlan(t *testing.T) *engine.Plan {
	t.Helper()

	conf := engine.Key(engine.KindTemplate, "/etc/rsyslog.conf")
	svc := engine.Key(engine.KindService, "rsyslog")
	plan, err := engine.NewPlanner().Plan(context.Background(),
		[]engine.Intent{
			{Kind: engine.KindPackage, Name: "rsyslog", Actions: []engine.Action{engine.ActionInstall}},
			{Kind: engine.KindDirectory, Name: "/etc/rsyslog.d", Actions: []engine.Action{engine.ActionCreate}, Owner: "root", Group: "root", Mode: "0755"},
			{Kind: engine.KindTemplate, Name: "/etc/rsyslog.conf", Actions: []engine.Action{engine.ActionCreate}, Owner: "root", Group: "root", Mode: "0644", Content: "$ModLoad imuxsock\n"},
			{Kind: engine.KindService, Name: "rsyslog", Actions: []engine.Action{engine.ActionEnable, engine.ActionStart}},
		},
		[]engine.NotificationEdge{{Source: conf, Target: svc, Action: engine.NotifyRestart, Timing: engine.TimingDelayed}},
		engine.WithNode("web1", "ubuntu", "debian"),
		engine.WithRunList([]string{"rsyslog::default"}),
	)
	if err != nil {
		t.Fatalf("failed to build plan: %v", err)
	}
	return plan
}

func TestParseFormat(t *testing.T) {
	for _, name := range Formats() {
		if _, err := ParseFormat(name); err != nil {
			t.Errorf("ParseFormat(%q) error = %v", name, err)
		}
	}
	if f, err := ParseFormat("JSON"); err != nil || f != FormatJSON {
		t.Errorf("ParseFormat(JSON) = %q, %v", f, err)
	}
	if _, err := ParseFormat("yaml"); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestRenderFormats(t *testing.T) {
	plan := samplePlan(t)
	guard := &policy.Result{
		Allowed: false,
		Violations: []policy.Violation{{
			Rule:     "no-world-writable",
			Intent:   "template[/etc/rsyslog.conf]",
			Message:  "mode 0666 is world writable",
			Severity: policy.SeverityError,
		}},
	}

	tests := []struct {
		format Format
		want   []string
	}{
		{FormatText, []string{
			"Plan " + plan.ID,
			"Run list: rsyslog::default",
			"package[rsyslog]",
			"root:root 0644",
			"template[/etc/rsyslog.conf] -> service[rsyslog]",
			"restart service[rsyslog] delayed <- template[/etc/rsyslog.conf]",
			"blocked, 1 violation(s)",
			"[error] no-world-writable",
			"4 intents (directory 1, package 1, service 1, template 1), 1 notifications",
		}},
		{FormatDOT, []string{"digraph", "service[rsyslog]"}},
		{FormatMarkdown, []string{
			"# Plan for web1",
			"| 4 | 1 | service | `rsyslog` | enable, start |",
			"| `template[/etc/rsyslog.conf]` | `service[rsyslog]` | restart | delayed |",
			"**Blocked.**",
		}},
		{FormatHTML, []string{"<!DOCTYPE html>", "<table>", "<h1>Plan for web1</h1>", "<strong>Blocked.</strong>"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			var buf bytes.Buffer
			if err := Render(context.Background(), &buf, plan, tt.format, Options{Guard: guard}); err != nil {
				t.Fatalf("Render() error = %v", err)
			}
			out := buf.String()
			for _, want := range tt.want {
				if !strings.Contains(out, want) {
					t.Errorf("output missing %q:\n%s", want, out)
				}
			}
		})
	}
}

func TestRenderTextHasNoEscapesWithoutColor(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(context.Background(), &buf, samplePlan(t), FormatText, Options{}); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "\x1b[") {
		t.Errorf("uncolored output contains ANSI escapes: %q", buf.String())
	}
}

func TestRenderJSON(t *testing.T) {
	plan := samplePlan(t)
	var buf bytes.Buffer
	if err := Render(context.Background(), &buf, plan, FormatJSON, Options{}); err != nil {
		t.Fatal(err)
	}

	var decoded engine.Plan
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not a plan: %v", err)
	}
	if decoded.ID != plan.ID || len(decoded.Intents) != 4 {
		t.Errorf("decoded plan = %s with %d intents", decoded.ID, len(decoded.Intents))
	}

	var colored bytes.Buffer
	if err := WriteJSON(&colored, plan, true); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(colored.String(), "\x1b[") {
		t.Error("highlighted JSON has no escapes")
	}
}

func TestRenderNDJSON(t *testing.T) {
	plan := samplePlan(t)
	var buf bytes.Buffer
	if err := Render(context.Background(), &buf, plan, FormatNDJSON, Options{}); err != nil {
		t.Fatal(err)
	}
	got, err := handoff.ReadPlan(context.Background(), &buf)
	if err != nil {
		t.Fatalf("ReadPlan() error = %v", err)
	}
	if got.ID != plan.ID {
		t.Errorf("ID = %s, want %s", got.ID, plan.ID)
	}
}

func TestRenderNilPlan(t *testing.T) {
	if err := Render(context.Background(), &bytes.Buffer{}, nil, FormatText, Options{}); err == nil {
		t.Fatal("expected error for nil plan")
	}
}

func TestRenderDiff(t *testing.T) {
	changes := []engine.Change{
		{Intent: "package[rsyslog-relp]", Action: engine.ChangeActionAdd},
		{Intent: "service[syslog]", Action: engine.ChangeActionRemove},
		{Intent: "template[/etc/rsyslog.conf]", Field: "mode", Before: "0644", After: "0600", Action: engine.ChangeActionModify},
	}

	var buf bytes.Buffer
	if err := RenderDiff(&buf, changes, false); err != nil {
		t.Fatal(err)
	}
	want := "+ package[rsyslog-relp]\n- service[syslog]\n~ template[/etc/rsyslog.conf].mode 0644 -> 0600\n"
	if buf.String() != want {
		t.Errorf("RenderDiff() =\n%q\nwant\n%q", buf.String(), want)
	}

	buf.Reset()
	_ = RenderDiff(&buf, nil, false)
	if buf.String() != "No changes.\n" {
		t.Errorf("empty diff = %q", buf.String())
	}
}

func TestRenderHistory(t *testing.T) {
	records := []*stores.PlanRecord{
		{ID: "0123456789abcdef", Node: "web1", Status: stores.PlanStatusPlanned, Intents: 4, Notifications: 1, Size: 300, CreatedAt: time.Now()},
		{ID: "fedcba9876543210", Node: "logserver", Status: stores.PlanStatusBlocked, Intents: 7, Notifications: 3, Size: 512, CreatedAt: time.Now()},
	}

	var buf bytes.Buffer
	if err := RenderHistory(&buf, records, false); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"0123456789ab  web1     ", "fedcba987654  logserver  blocked", "STATUS"} {
		if !strings.Contains(out, want) {
			t.Errorf("history missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	_ = RenderHistory(&buf, nil, false)
	if buf.String() != "No plans recorded.\n" {
		t.Errorf("empty history = %q", buf.String())
	}
}

func TestColorEnabled(t *testing.T) {
	if ColorEnabled(&bytes.Buffer{}) {
		t.Error("a buffer is not a terminal")
	}
	t.Setenv("NO_COLOR", "1")
	if ColorEnabled(nil) {
		t.Error("NO_COLOR should disable color")
	}
}
