package engine

import (
	"context"
	"reflect"
	"testing"
)

// smfPlan mirrors the service manifest chain: manifest -> import -> restart.
func smfPlan(t *testing.T) *Plan {
	t.Helper()

	intents := []Intent{
		tmpl("/etc/rsyslog.conf", "main"),
		tmpl("/var/svc/manifest/system/rsyslogd.xml", "manifest"),
		{Kind: KindExecute, Name: "import rsyslog manifest", Actions: []Action{ActionNothing}, Command: "svccfg import /var/svc/manifest/system/rsyslogd.xml"},
		svc("system/rsyslogd"),
	}
	edges := []NotificationEdge{
		restart("template[/etc/rsyslog.conf]", "service[system/rsyslogd]"),
		{Source: "template[/var/svc/manifest/system/rsyslogd.xml]", Target: "execute[import rsyslog manifest]", Action: NotifyRun, Timing: TimingImmediate},
		restart("execute[import rsyslog manifest]", "service[system/rsyslogd]"),
	}

	plan, err := NewPlanner().Plan(context.Background(), intents, edges)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	return plan
}

func TestPlan_Fire(t *testing.T) {
	tests := []struct {
		name    string
		changed []string
		want    []Firing
	}{
		{
			name:    "nothing changed",
			changed: nil,
			want:    []Firing{},
		},
		{
			name:    "config change restarts once",
			changed: []string{"template[/etc/rsyslog.conf]"},
			want: []Firing{
				{Target: "service[system/rsyslogd]", Action: NotifyRestart, Timing: TimingDelayed, Trigger: "template[/etc/rsyslog.conf]"},
			},
		},
		{
			name:    "manifest change propagates through import",
			changed: []string{"template[/var/svc/manifest/system/rsyslogd.xml]"},
			want: []Firing{
				{Target: "execute[import rsyslog manifest]", Action: NotifyRun, Timing: TimingImmediate, Trigger: "template[/var/svc/manifest/system/rsyslogd.xml]"},
				{Target: "service[system/rsyslogd]", Action: NotifyRestart, Timing: TimingDelayed, Trigger: "execute[import rsyslog manifest]"},
			},
		},
		{
			name:    "delayed restart collapses",
			changed: []string{"template[/etc/rsyslog.conf]", "template[/var/svc/manifest/system/rsyslogd.xml]"},
			want: []Firing{
				{Target: "execute[import rsyslog manifest]", Action: NotifyRun, Timing: TimingImmediate, Trigger: "template[/var/svc/manifest/system/rsyslogd.xml]"},
				{Target: "service[system/rsyslogd]", Action: NotifyRestart, Timing: TimingDelayed, Trigger: "template[/etc/rsyslog.conf]"},
			},
		},
	}

	plan := smfPlan(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := plan.Fire(tt.changed)
			if err != nil {
				t.Fatalf("Fire failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Expected firings %v, got %v", tt.want, got)
			}
		})
	}
}

func TestPlan_Fire_UnknownIntent(t *testing.T) {
	plan := smfPlan(t)

	if _, err := plan.Fire([]string{"package[nope]"}); !IsConfigurationError(err) {
		t.Errorf("Expected configuration error, got: %v", err)
	}
}

func TestPlan_Fire_DelayedChain(t *testing.T) {
	intents := []Intent{
		tmpl("/etc/a", "a"),
		{Kind: KindExecute, Name: "rebuild", Actions: []Action{ActionNothing}, Command: "make"},
		svc("a"),
	}
	edges := []NotificationEdge{
		{Source: "template[/etc/a]", Target: "execute[rebuild]", Action: NotifyRun, Timing: TimingDelayed},
		restart("execute[rebuild]", "service[a]"),
	}

	plan, err := NewPlanner().Plan(context.Background(), intents, edges)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	got, err := plan.Fire([]string{"template[/etc/a]"})
	if err != nil {
		t.Fatalf("Fire failed: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("Expected 2 firings, got %v", got)
	}
	if got[0].Target != "execute[rebuild]" || got[1].Target != "service[a]" {
		t.Errorf("Expected rebuild then restart, got %v", got)
	}
}
