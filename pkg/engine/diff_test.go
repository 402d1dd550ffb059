package engine

import (
	"context"
	"testing"
)

func TestDiffPlans(t *testing.T) {
	planner := NewPlanner()

	older, err := planner.Plan(context.Background(),
		[]Intent{pkg("rsyslog"), pkg("rsyslog-relp"), tmpl("/etc/rsyslog.conf", "v1"), svc("rsyslog")},
		[]NotificationEdge{restart("template[/etc/rsyslog.conf]", "service[rsyslog]")})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	newer, err := planner.Plan(context.Background(),
		[]Intent{pkg("rsyslog"), pkg("rsyslog-gnutls"), tmpl("/etc/rsyslog.conf", "v2"), svc("rsyslog")},
		nil)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	changes := DiffPlans(older, newer)

	type key struct {
		intent string
		field  string
		action ChangeAction
	}
	got := make(map[key]bool)
	for _, c := range changes {
		got[key{c.Intent, c.Field, c.Action}] = true
	}

	want := []key{
		{"package[rsyslog-relp]", "", ChangeActionRemove},
		{"package[rsyslog-gnutls]", "", ChangeActionAdd},
		{"template[/etc/rsyslog.conf]", "content", ChangeActionModify},
		{"template[/etc/rsyslog.conf]", "notifications", ChangeActionModify},
	}
	for _, w := range want {
		if !got[w] {
			t.Errorf("Expected change %+v in %+v", w, changes)
		}
	}

	if len(changes) != len(want) {
		t.Errorf("Expected %d changes, got %d: %+v", len(want), len(changes), changes)
	}

	if changes[0].Action != ChangeActionRemove {
		t.Errorf("Expected removals first, got %s", changes[0].Action)
	}
}

func TestDiffPlans_Identical(t *testing.T) {
	plan, err := NewPlanner().Plan(context.Background(), []Intent{pkg("a"), svc("a")}, nil)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	if changes := DiffPlans(plan, plan); len(changes) != 0 {
		t.Errorf("Expected no changes, got %+v", changes)
	}
}

func TestDiffPlans_NilOlder(t *testing.T) {
	plan, err := NewPlanner().Plan(context.Background(), []Intent{pkg("a")}, nil)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	changes := DiffPlans(nil, plan)
	if len(changes) != 1 || changes[0].Action != ChangeActionAdd {
		t.Errorf("Expected one add, got %+v", changes)
	}
}
