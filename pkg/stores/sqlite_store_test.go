package stores

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openfroyo/cookbooks/pkg/engine"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

// testPlan builds a small rsyslog client plan for node.
func testPlan(t *testing.T, node, serverIP string) *engine.Plan {
	t.Helper()

	intents := []engine.Intent{
		{Kind: engine.KindPackage, Name: "rsyslog", Actions: []engine.Action{engine.ActionInstall}},
		{
			Kind:    engine.KindTemplate,
			Name:    "/etc/rsyslog.d/49-remote.conf",
			Actions: []engine.Action{engine.ActionCreate},
			Owner:   "root",
			Group:   "root",
			Mode:    "0644",
			Content: "*.* @@" + serverIP + ":514\n",
		},
		{
			Kind:     engine.KindService,
			Name:     "rsyslog",
			Actions:  []engine.Action{engine.ActionEnable, engine.ActionStart},
			Supports: []engine.NotifyAction{engine.NotifyRestart, engine.NotifyReload},
		},
	}
	edges := []engine.NotificationEdge{{
		Source: engine.Key(engine.KindTemplate, "/etc/rsyslog.d/49-remote.conf"),
		Target: engine.Key(engine.KindService, "rsyslog"),
		Action: engine.NotifyRestart,
		Timing: engine.TimingDelayed,
	}}

	plan, err := engine.NewPlanner().Plan(context.Background(), intents, edges,
		engine.WithNode(node, "ubuntu", "debian"),
		engine.WithRunList([]string{"rsyslog::client"}))
	if err != nil {
		t.Fatalf("failed to build plan: %v", err)
	}
	return plan
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.HealthCheck(ctx); err == nil {
		t.Fatal("health check before Init should fail")
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestNewSQLiteStoreRequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"plans", "events"} {
		var count int
		err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	// Migrating twice is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migration failed: %v", err)
	}
}

func TestSaveAndGetPlan(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	plan := testPlan(t, "web1", "10.0.0.5")

	rec, err := store.SavePlan(ctx, plan, PlanStatusPlanned)
	if err != nil {
		t.Fatalf("SavePlan() error = %v", err)
	}
	if rec.Digest == "" || rec.Size == 0 {
		t.Fatalf("record missing digest or size: %+v", rec)
	}
	if rec.Intents != 3 || rec.Notifications != 1 {
		t.Errorf("counts = %d/%d, want 3/1", rec.Intents, rec.Notifications)
	}

	got, err := store.GetPlan(ctx, plan.ID)
	if err != nil {
		t.Fatalf("GetPlan() error = %v", err)
	}
	if got.Node != "web1" || got.Platform != "ubuntu" || got.Family != "debian" || got.Status != PlanStatusPlanned {
		t.Errorf("unexpected record: %+v", got)
	}
	if got.Digest != rec.Digest {
		t.Errorf("digest = %s, want %s", got.Digest, rec.Digest)
	}
	if got.Plan == nil || got.Plan.ID != plan.ID {
		t.Fatalf("decoded plan mismatch: %+v", got.Plan)
	}
	if len(got.Plan.Intents) != 3 || got.Plan.Intents[1].Content != plan.Intents[1].Content {
		t.Errorf("decoded intents differ: %+v", got.Plan.Intents)
	}
	if got.Plan.Summary.ByKind[engine.KindTemplate] != 1 {
		t.Errorf("decoded summary = %+v", got.Plan.Summary)
	}
	if changes := engine.DiffPlans(plan, got.Plan); len(changes) != 0 {
		t.Errorf("round trip changed plan: %+v", changes)
	}
	if err := engine.NewPlanner().ValidatePlan(ctx, got.Plan); err != nil {
		t.Errorf("decoded plan does not validate: %v", err)
	}

	byPrefix, err := store.GetPlan(ctx, plan.ID[:8])
	if err != nil {
		t.Fatalf("GetPlan(prefix) error = %v", err)
	}
	if byPrefix.ID != plan.ID {
		t.Errorf("GetPlan(prefix) = %s, want %s", byPrefix.ID, plan.ID)
	}
}

func TestSavePlanErrors(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.SavePlan(ctx, nil, PlanStatusPlanned); err == nil {
		t.Error("expected error for nil plan")
	}
	if _, err := store.SavePlan(ctx, testPlan(t, "web1", "10.0.0.5"), "applied"); err == nil {
		t.Error("expected error for invalid status")
	}
}

func TestSavePlanTwiceRefreshes(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	plan := testPlan(t, "web1", "10.0.0.5")

	if _, err := store.SavePlan(ctx, plan, PlanStatusPlanned); err != nil {
		t.Fatal(err)
	}
	if _, err := store.SavePlan(ctx, plan, PlanStatusBlocked); err != nil {
		t.Fatalf("re-saving identical plan failed: %v", err)
	}

	list, err := store.ListPlans(ctx, ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Status != PlanStatusBlocked {
		t.Fatalf("ListPlans() = %+v, want one blocked plan", list)
	}
}

func TestGetPlanNotFound(t *testing.T) {
	store := setupTestStore(t)

	for _, id := range []string{"", "does-not-exist"} {
		if _, err := store.GetPlan(context.Background(), id); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetPlan(%q) error = %v, want ErrNotFound", id, err)
		}
	}
}

func TestListAndLatestPlans(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	saved := []*engine.Plan{
		testPlan(t, "web1", "10.0.0.5"),
		testPlan(t, "web2", "10.0.0.5"),
		testPlan(t, "web1", "10.0.0.6"),
	}
	for _, p := range saved {
		if _, err := store.SavePlan(ctx, p, PlanStatusPlanned); err != nil {
			t.Fatal(err)
		}
		time.Sleep(time.Millisecond)
	}

	all, err := store.ListPlans(ctx, ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("ListPlans() returned %d plans, want 3", len(all))
	}
	if all[0].ID != saved[2].ID {
		t.Errorf("ListPlans() not newest first: %s", all[0].ID)
	}
	for _, rec := range all {
		if rec.Plan != nil {
			t.Error("ListPlans() should not decode payloads")
		}
		if rec.Size == 0 {
			t.Error("ListPlans() should report payload size")
		}
	}

	web1, err := store.ListPlans(ctx, ListOptions{Node: "web1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(web1) != 2 {
		t.Fatalf("ListPlans(web1) returned %d, want 2", len(web1))
	}

	paged, err := store.ListPlans(ctx, ListOptions{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(paged) != 1 || paged[0].ID != saved[1].ID {
		t.Errorf("paged ListPlans() = %+v", paged)
	}

	latest, err := store.LatestPlan(ctx, "web1")
	if err != nil {
		t.Fatalf("LatestPlan() error = %v", err)
	}
	if latest.ID != saved[2].ID || latest.Plan == nil {
		t.Errorf("LatestPlan() = %s, want %s", latest.ID, saved[2].ID)
	}

	if _, err := store.LatestPlan(ctx, "db1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("LatestPlan(db1) error = %v, want ErrNotFound", err)
	}
}

func TestDeletePlanCascadesEvents(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	plan := testPlan(t, "web1", "10.0.0.5")

	if _, err := store.SavePlan(ctx, plan, PlanStatusPlanned); err != nil {
		t.Fatal(err)
	}
	if err := store.AppendEvent(ctx, &Event{PlanID: &plan.ID, Node: "web1", Type: "plan.saved", Message: "saved"}); err != nil {
		t.Fatal(err)
	}

	if err := store.DeletePlan(ctx, plan.ID); err != nil {
		t.Fatalf("DeletePlan() error = %v", err)
	}
	if err := store.DeletePlan(ctx, plan.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeletePlan() error = %v, want ErrNotFound", err)
	}

	events, err := store.GetEvents(ctx, &plan.ID, "", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Errorf("events survived plan deletion: %+v", events)
	}
}

func TestEvents(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	plan := testPlan(t, "web1", "10.0.0.5")
	if _, err := store.SavePlan(ctx, plan, PlanStatusPlanned); err != nil {
		t.Fatal(err)
	}

	details := `{"rule":"world-writable"}`
	events := []*Event{
		{PlanID: &plan.ID, Node: "web1", Type: "plan.computed", Message: "3 intents"},
		{PlanID: &plan.ID, Node: "web1", Type: "policy.violation", Level: EventLevelWarning, Message: "mode", Details: &details},
		{Node: "web2", Type: "plan.failed", Level: EventLevelError, Message: "unknown platform"},
	}
	for _, e := range events {
		if err := store.AppendEvent(ctx, e); err != nil {
			t.Fatalf("AppendEvent() error = %v", err)
		}
		if e.ID == 0 {
			t.Error("AppendEvent() did not set ID")
		}
	}

	byPlan, err := store.GetEvents(ctx, &plan.ID, "", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(byPlan) != 2 || byPlan[0].Type != "plan.computed" || byPlan[0].Level != EventLevelInfo {
		t.Fatalf("GetEvents(plan) = %+v", byPlan)
	}
	if byPlan[1].Details == nil || *byPlan[1].Details != details {
		t.Errorf("details not preserved: %+v", byPlan[1])
	}

	byNode, err := store.GetEvents(ctx, nil, "web2", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(byNode) != 1 || byNode[0].PlanID != nil {
		t.Fatalf("GetEvents(web2) = %+v", byNode)
	}

	bad := &Event{Node: "web1", Type: "x", Level: "debug", Message: "m"}
	if err := store.AppendEvent(ctx, bad); err == nil {
		t.Error("expected check constraint failure for unknown level")
	}
}

func TestFileStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()
	plan := testPlan(t, "web1", "10.0.0.5")

	open := func() *SQLiteStore {
		s, err := NewSQLiteStore(Config{Path: path})
		if err != nil {
			t.Fatal(err)
		}
		if err := s.Init(ctx); err != nil {
			t.Fatal(err)
		}
		if err := s.Migrate(ctx); err != nil {
			t.Fatal(err)
		}
		return s
	}

	s := open()
	if _, err := s.SavePlan(ctx, plan, PlanStatusPlanned); err != nil {
		t.Fatal(err)
	}
	_ = s.Close()

	s = open()
	defer s.Close()
	rec, err := s.GetPlan(ctx, plan.ID)
	if err != nil {
		t.Fatalf("GetPlan() after reopen error = %v", err)
	}
	if rec.Plan.Node != "web1" {
		t.Errorf("reopened plan node = %s", rec.Plan.Node)
	}
}

func TestDecodeRejectsTamperedPayload(t *testing.T) {
	plan := testPlan(t, "web1", "10.0.0.5")
	payload, digest, err := encodePlan(plan)
	if err != nil {
		t.Fatal(err)
	}

	payload[len(payload)-1] ^= 0xff
	_, err = decodePlan(payload, digest)
	if err == nil || !strings.Contains(err.Error(), "digest mismatch") {
		t.Fatalf("decodePlan() error = %v, want digest mismatch", err)
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	a, da, err := encodePlan(testPlan(t, "web1", "10.0.0.5"))
	if err != nil {
		t.Fatal(err)
	}
	b, db, err := encodePlan(testPlan(t, "web1", "10.0.0.5"))
	if err != nil {
		t.Fatal(err)
	}
	if da != db || len(a) != len(b) {
		t.Fatalf("identical plans encoded differently: %s vs %s", da, db)
	}
}
