package commands

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openfroyo/cookbooks/pkg/stores"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand("test", "none", "today")
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append(args, "--no-color"))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeNode(t *testing.T, dir, name, serverIP string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	content := "name: web1\nplatform: ubuntu\nplatform_version: \"12.04\"\nrsyslog:\n  server_ip: " + serverIP + "\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPlatforms(t *testing.T) {
	out, err := run(t, "platforms")
	if err != nil {
		t.Fatalf("platforms error = %v", err)
	}
	for _, want := range []string{"FAMILY", "debian", "ubuntu", "smartos", "/opt/local/etc", "(smf)"} {
		if !strings.Contains(out, want) {
			t.Errorf("platforms output missing %q:\n%s", want, out)
		}
	}

	out, err = run(t, "platforms", "--json")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"platforms"`) || !strings.HasPrefix(strings.TrimSpace(out), "[") {
		t.Errorf("platforms --json output:\n%s", out)
	}
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	node := writeNode(t, dir, "web1.yaml", "10.0.0.1")

	out, err := run(t, "validate", node)
	if err != nil {
		t.Fatalf("validate error = %v", err)
	}
	if !strings.HasPrefix(out, "OK web1: ubuntu 12.04 (debian), 1 file(s), run list rsyslog::default") {
		t.Errorf("validate output = %q", out)
	}

	out, err = run(t, "validate", node, "--show")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"server_ip": "10.0.0.1"`) {
		t.Errorf("validate --show output:\n%s", out)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("platform: ubuntu\nrsyslog:\n  enable_tls: true\n  tls_ca_file: /ca.pem\n  protocol: udp\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, "validate", bad); err == nil {
		t.Error("expected validate to reject TLS over udp")
	}
}

func TestPlanHistoryDiffFire(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "history.db")

	out, err := run(t, "plan", writeNode(t, dir, "a.yaml", "10.0.0.1"), "--save", "--db", db)
	if err != nil {
		t.Fatalf("plan error = %v", err)
	}
	for _, want := range []string{"Plan ", "template[/etc/rsyslog.conf]", "Guard passed"} {
		if !strings.Contains(out, want) {
			t.Errorf("plan output missing %q:\n%s", want, out)
		}
	}

	if _, err := run(t, "plan", writeNode(t, dir, "b.yaml", "10.0.0.2"), "--save", "--db", db); err != nil {
		t.Fatalf("second plan error = %v", err)
	}

	out, err = run(t, "history", "--db", db)
	if err != nil {
		t.Fatalf("history error = %v", err)
	}
	if strings.Count(out, "web1") != 2 {
		t.Errorf("history should list two plans:\n%s", out)
	}

	out, err = run(t, "diff", "--db", db, "--node", "web1")
	if err != nil {
		t.Fatalf("diff error = %v", err)
	}
	if !strings.Contains(out, "~ template[/etc/rsyslog.conf].content") {
		t.Errorf("diff output:\n%s", out)
	}

	out, err = run(t, "fire", "latest", "template[/etc/rsyslog.conf]", "--db", db)
	if err != nil {
		t.Fatalf("fire error = %v", err)
	}
	if want := "1. service[rsyslog]:restart (delayed, from template[/etc/rsyslog.conf])\n"; out != want {
		t.Errorf("fire output = %q, want %q", out, want)
	}
	if _, err := run(t, "fire", "latest", "package[nope]", "--db", db); err == nil {
		t.Error("expected fire to reject an intent outside the plan")
	}

	out, err = run(t, "history", "show", "latest", "--format", "markdown", "--db", db)
	if err != nil {
		t.Fatalf("history show error = %v", err)
	}
	if !strings.HasPrefix(out, "# Plan for web1") {
		t.Errorf("history show output:\n%s", out)
	}

	out, err = run(t, "history", "events", "latest", "--db", db)
	if err != nil {
		t.Fatalf("history events error = %v", err)
	}
	if !strings.Contains(out, "plan.computed") || !strings.Contains(out, "plan.saved") {
		t.Errorf("history events output:\n%s", out)
	}

	if _, err := run(t, "history", "delete", "latest", "--db", db); err == nil {
		t.Error("delete takes IDs, not latest")
	}
	if _, err := run(t, "history", "show", "ffffffffffff", "--db", db); err == nil {
		t.Error("expected an error for an unknown plan")
	}
}

func TestPlanWritesFile(t *testing.T) {
	dir := t.TempDir()
	outFile := filepath.Join(dir, "web1.ndjson")

	out, err := run(t, "plan", writeNode(t, dir, "web1.yaml", "10.0.0.1"), "--format", "ndjson", "--out", outFile)
	if err != nil {
		t.Fatalf("plan error = %v", err)
	}
	if out != "" {
		t.Errorf("stdout should be empty with --out, got %q", out)
	}
	data, err := os.ReadFile(outFile)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if !strings.Contains(lines[0], `"PLAN"`) || !strings.Contains(lines[len(lines)-1], `"END"`) {
		t.Errorf("hand-off stream:\n%s", data)
	}
}

func TestPlanBlocked(t *testing.T) {
	dir := t.TempDir()
	rules := filepath.Join(dir, "rules")
	if err := os.Mkdir(rules, 0755); err != nil {
		t.Fatal(err)
	}
	rule := `# severity: error
package site.spool

import rego.v1

deny contains violation if {
	some intent in input.plan.intents
	intent.name == "/var/spool/rsyslog"
	violation := {"message": "spool must live on /srv", "intent": sprintf("directory[%s]", [intent.name])}
}
`
	if err := os.WriteFile(filepath.Join(rules, "spool.rego"), []byte(rule), 0644); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "plan", writeNode(t, dir, "web1.yaml", "10.0.0.1"), "--policy", rules)
	if !errors.Is(err, errBlocked) {
		t.Fatalf("plan error = %v, want errBlocked", err)
	}
	if !strings.Contains(out, "[error] spool: spool must live on /srv") {
		t.Errorf("blocked plan output:\n%s", out)
	}

	if _, err := run(t, "plan", writeNode(t, dir, "web1.yaml", "10.0.0.1"), "--skip-policy"); err != nil {
		t.Errorf("plan --skip-policy error = %v", err)
	}
}

func TestPlanRejectsUnknownFormat(t *testing.T) {
	dir := t.TempDir()
	if _, err := run(t, "plan", writeNode(t, dir, "web1.yaml", "10.0.0.1"), "--format", "yaml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestOpenStoreMigratesFreshDatabase(t *testing.T) {
	saved := dbPath
	t.Cleanup(func() { dbPath = saved })
	dbPath = filepath.Join(t.TempDir(), "history.db")

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		store, err := openStore(ctx)
		if err != nil {
			t.Fatalf("openStore #%d error = %v", i+1, err)
		}
		records, err := store.ListPlans(ctx, stores.ListOptions{})
		_ = store.Close()
		if err != nil {
			t.Fatalf("ListPlans after openStore #%d error = %v", i+1, err)
		}
		if len(records) != 0 {
			t.Errorf("fresh database has %d plans", len(records))
		}
	}

	out, err := run(t, "history", "--db", filepath.Join(t.TempDir(), "empty.db"))
	if err != nil {
		t.Fatalf("history on a new database error = %v", err)
	}
	if out != "No plans recorded.\n" {
		t.Errorf("history output = %q", out)
	}
}
