package policy

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openfroyo/cookbooks/pkg/attributes"
	"github.com/openfroyo/cookbooks/pkg/engine"
)

func resolve(t *testing.T, raw map[string]any) attributes.Snapshot {
	t.Helper()
	snap, err := attributes.Resolve(raw)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	return snap
}

func derive(t *testing.T, snap attributes.Snapshot) *Derivation {
	t.Helper()
	eng := NewEngine(zerolog.Nop())
	d, err := eng.Derive(context.Background(), snap)
	if err != nil {
		t.Fatalf("Derive failed: %v", err)
	}
	return d
}

func planFor(t *testing.T, d *Derivation) *engine.Plan {
	t.Helper()
	plan, err := engine.NewPlanner().Plan(context.Background(), d.Intents, d.Edges)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	return plan
}

func findIntent(d *Derivation, key string) (engine.Intent, int) {
	count := 0
	var found engine.Intent
	for _, in := range d.Intents {
		if in.Key() == key {
			found = in
			count++
		}
	}
	return found, count
}

func hasEdge(d *Derivation, want engine.NotificationEdge) bool {
	for _, e := range d.Edges {
		if e == want {
			return true
		}
	}
	return false
}

func keys(d *Derivation) []string {
	out := make([]string, len(d.Intents))
	for i, in := range d.Intents {
		out[i] = in.Key()
	}
	return out
}

func TestDerive_DebianDefaults(t *testing.T) {
	d := derive(t, resolve(t, map[string]any{
		"platform":         "ubuntu",
		"platform_version": "12.04",
	}))

	want := []string{
		"package[rsyslog]",
		"directory[/etc/rsyslog.d]",
		"directory[/var/spool/rsyslog]",
		"template[/etc/rsyslog.conf]",
		"template[/etc/rsyslog.d/50-default.conf]",
		"service[rsyslog]",
	}
	if got := keys(d); !reflect.DeepEqual(got, want) {
		t.Fatalf("intents = %v, want %v", got, want)
	}

	for _, dir := range []string{"directory[/etc/rsyslog.d]", "directory[/var/spool/rsyslog]"} {
		in, _ := findIntent(d, dir)
		if in.Owner != "root" || in.Group != "root" || in.Mode != "0755" {
			t.Errorf("%s = %s:%s %s, want root:root 0755", dir, in.Owner, in.Group, in.Mode)
		}
	}

	main, _ := findIntent(d, "template[/etc/rsyslog.conf]")
	if main.Owner != "root" || main.Group != "root" || main.Mode != "0644" {
		t.Errorf("main config = %s:%s %s, want root:root 0644", main.Owner, main.Group, main.Mode)
	}
	for _, line := range []string{"$ModLoad imuxsock", "$ModLoad imklog", "Configuration file for rsyslog v3"} {
		if !strings.Contains(main.Content, line) {
			t.Errorf("main config missing %q", line)
		}
	}
	if strings.Contains(main.Content, "$ModLoad imsolaris") {
		t.Error("linux main config loads imsolaris")
	}

	for _, target := range []string{"template[/etc/rsyslog.conf]", "template[/etc/rsyslog.d/50-default.conf]"} {
		edge := engine.NotificationEdge{Source: target, Target: "service[rsyslog]", Action: engine.NotifyRestart, Timing: engine.TimingDelayed}
		if !hasEdge(d, edge) {
			t.Errorf("missing edge %s", edge)
		}
	}

	svc, _ := findIntent(d, "service[rsyslog]")
	if !reflect.DeepEqual(svc.Actions, []engine.Action{engine.ActionEnable, engine.ActionStart}) {
		t.Errorf("service actions = %v, want [enable start]", svc.Actions)
	}
	if !reflect.DeepEqual(d.Recipes, []string{"rsyslog::default"}) {
		t.Errorf("recipes = %v", d.Recipes)
	}
}

func TestDerive_SmartOS(t *testing.T) {
	d := derive(t, resolve(t, map[string]any{
		"platform":         "smartos",
		"platform_version": "joyent_20130111T180733Z",
	}))

	if _, n := findIntent(d, "directory[/opt/local/etc/rsyslog.d]"); n != 1 {
		t.Fatalf("expected /opt/local/etc/rsyslog.d directory, intents %v", keys(d))
	}

	main, _ := findIntent(d, "template[/opt/local/etc/rsyslog.conf]")
	var loaded []string
	for _, line := range strings.Split(main.Content, "\n") {
		if mod, ok := strings.CutPrefix(line, "$ModLoad "); ok {
			loaded = append(loaded, mod)
		}
	}
	if want := []string{"immark", "imsolaris", "imtcp", "imudp"}; !reflect.DeepEqual(loaded, want) {
		t.Errorf("modules = %v, want %v", loaded, want)
	}

	rules, _ := findIntent(d, "template[/opt/local/etc/rsyslog.d/50-default.conf]")
	if rules.Source != "50-default.smartos.conf.tmpl" {
		t.Errorf("rules source = %s", rules.Source)
	}
	if !strings.Contains(rules.Content, "/var/adm/messages") {
		t.Error("smartos rules do not reference /var/adm/messages")
	}

	legacy, n := findIntent(d, "service[system-log]")
	if n != 1 || !reflect.DeepEqual(legacy.Actions, []engine.Action{engine.ActionDisable}) {
		t.Errorf("system-log = %v (count %d)", legacy.Actions, n)
	}
	if _, n := findIntent(d, "execute[import rsyslog manifest]"); n != 0 {
		t.Error("smartos should not import an SMF manifest")
	}
}

func TestDerive_RHEL(t *testing.T) {
	tests := []struct {
		name       string
		version    string
		wantLegacy bool
	}{
		{name: "rhel 5", version: "5.9", wantLegacy: true},
		{name: "rhel 6", version: "6.4", wantLegacy: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := derive(t, resolve(t, map[string]any{
				"platform":         "centos",
				"platform_version": tt.version,
			}))

			rules, _ := findIntent(d, "template[/etc/rsyslog.d/50-default.conf]")
			if !strings.Contains(rules.Content, "mail.*    -/var/log/maillog") {
				t.Errorf("rules do not route mail to -/var/log/maillog:\n%s", rules.Content)
			}

			legacy, n := findIntent(d, "service[syslog]")
			if tt.wantLegacy {
				want := []engine.Action{engine.ActionStop, engine.ActionDisable}
				if n != 1 || !reflect.DeepEqual(legacy.Actions, want) {
					t.Errorf("service[syslog] = %v (count %d), want %v", legacy.Actions, n, want)
				}
			} else if n != 0 {
				t.Errorf("unexpected service[syslog] on %s", tt.version)
			}
		})
	}
}

func TestDerive_OmniOSManifestChain(t *testing.T) {
	snap := resolve(t, map[string]any{
		"platform":         "omnios",
		"platform_version": "151006",
	})
	d := derive(t, snap)

	manifest := "template[/var/svc/manifest/system/rsyslogd.xml]"
	importer := "execute[import rsyslog manifest]"
	service := "service[system/rsyslogd]"

	if _, n := findIntent(d, manifest); n != 1 {
		t.Fatalf("missing %s in %v", manifest, keys(d))
	}
	exec, n := findIntent(d, importer)
	if n != 1 {
		t.Fatalf("missing %s", importer)
	}
	if !reflect.DeepEqual(exec.Actions, []engine.Action{engine.ActionNothing}) {
		t.Errorf("import actions = %v, want [nothing]", exec.Actions)
	}
	if !strings.HasPrefix(exec.Command, "svccfg import ") {
		t.Errorf("import command = %q", exec.Command)
	}

	if !hasEdge(d, engine.NotificationEdge{Source: manifest, Target: importer, Action: engine.NotifyRun, Timing: engine.TimingImmediate}) {
		t.Error("manifest does not notify the import")
	}
	if !hasEdge(d, engine.NotificationEdge{Source: importer, Target: service, Action: engine.NotifyRestart, Timing: engine.TimingDelayed}) {
		t.Error("import does not notify the service restart")
	}

	plan := planFor(t, d)
	firings, err := plan.Fire([]string{manifest})
	if err != nil {
		t.Fatalf("Fire failed: %v", err)
	}
	var got []string
	for _, f := range firings {
		got = append(got, f.Target+":"+string(f.Action))
	}
	want := []string{importer + ":run", service + ":restart"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("firings = %v, want %v", got, want)
	}
}

func TestDerive_TLSMisconfigurationIsFatal(t *testing.T) {
	snap := resolve(t, map[string]any{
		"platform": "ubuntu",
		"rsyslog": map[string]any{
			"enable_tls":  true,
			"tls_ca_file": "/etc/ssl/ca.pem",
		},
	})
	snap.Rsyslog.Protocol = "udp"

	d, err := NewEngine(zerolog.Nop()).Derive(context.Background(), snap)
	if err == nil {
		t.Fatal("expected configuration error")
	}
	if d != nil {
		t.Errorf("expected no derivation, got %d intents", len(d.Intents))
	}
	if !engine.IsConfigurationError(err) {
		t.Errorf("expected configuration error, got %v", err)
	}
	if !strings.Contains(err.Error(), "fatal misconfiguration") {
		t.Errorf("error = %v", err)
	}
}

func TestDerive_TLSMisconfigurationIgnoresRunList(t *testing.T) {
	tests := []struct {
		name    string
		runList []string
	}{
		{name: "empty run list", runList: nil},
		{name: "elasticsearch only", runList: []string{"elasticsearch::restart"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := resolve(t, map[string]any{
				"platform": "ubuntu",
				"rsyslog": map[string]any{
					"enable_tls":  true,
					"tls_ca_file": "/etc/ssl/ca.pem",
				},
			})
			snap.Rsyslog.Protocol = "relp"
			snap.RunList = tt.runList

			d, err := NewEngine(zerolog.Nop()).Derive(context.Background(), snap)
			if !engine.IsConfigurationError(err) {
				t.Fatalf("expected configuration error, got %v", err)
			}
			if d != nil {
				t.Errorf("expected no derivation, got %d intents", len(d.Intents))
			}
		})
	}
}

func TestDerive_TLSPackage(t *testing.T) {
	tests := []struct {
		name     string
		rsyslog  map[string]any
		wantTLS  bool
		wantLine string
	}{
		{
			name:    "tls without ca file over udp",
			rsyslog: map[string]any{"enable_tls": true, "protocol": "udp"},
			wantTLS: false,
		},
		{
			name:    "tls without ca file over tcp",
			rsyslog: map[string]any{"enable_tls": true, "protocol": "tcp"},
			wantTLS: false,
		},
		{
			name:    "ca file without tls",
			rsyslog: map[string]any{"tls_ca_file": "/etc/ssl/ca.pem", "protocol": "udp"},
			wantTLS: false,
		},
		{
			name:     "tls with ca file over tcp",
			rsyslog:  map[string]any{"enable_tls": true, "tls_ca_file": "/etc/ssl/ca.pem"},
			wantTLS:  true,
			wantLine: "$DefaultNetstreamDriverCAFile /etc/ssl/ca.pem",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := derive(t, resolve(t, map[string]any{"platform": "debian", "rsyslog": tt.rsyslog}))
			_, n := findIntent(d, "package[rsyslog-gnutls]")
			if (n == 1) != tt.wantTLS || n > 1 {
				t.Errorf("rsyslog-gnutls count = %d, want present=%v", n, tt.wantTLS)
			}
			if tt.wantLine != "" {
				main, _ := findIntent(d, "template[/etc/rsyslog.conf]")
				if !strings.Contains(main.Content, tt.wantLine) {
					t.Errorf("main config missing %q", tt.wantLine)
				}
			}
		})
	}
}

func TestDerive_RelpPackageOnce(t *testing.T) {
	tests := []struct {
		name    string
		runList []any
	}{
		{name: "default run list"},
		{name: "repeated recipe", runList: []any{"rsyslog", "recipe[rsyslog::default]"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := map[string]any{
				"platform": "ubuntu",
				"rsyslog":  map[string]any{"use_relp": true, "server_ip": "10.0.0.1"},
			}
			if tt.runList != nil {
				raw["run_list"] = tt.runList
			}
			d := derive(t, resolve(t, raw))
			if _, n := findIntent(d, "package[rsyslog-relp]"); n != 1 {
				t.Errorf("rsyslog-relp count = %d, want 1", n)
			}
			main, _ := findIntent(d, "template[/etc/rsyslog.conf]")
			if !strings.Contains(main.Content, ":omrelp:10.0.0.1:20514") {
				t.Errorf("main config does not forward over relp:\n%s", main.Content)
			}
		})
	}
}

func TestDerive_Deterministic(t *testing.T) {
	raws := []map[string]any{
		{"platform": "ubuntu"},
		{"platform": "smartos"},
		{"platform": "omnios", "rsyslog": map[string]any{"use_relp": true}},
		{"platform": "centos", "platform_version": "5.8", "run_list": []any{"rsyslog", "elasticsearch"}},
	}

	for _, raw := range raws {
		snap := resolve(t, raw)
		first, err := json.Marshal(derive(t, snap))
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		for i := 0; i < 5; i++ {
			again, err := json.Marshal(derive(t, snap))
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(first) != string(again) {
				t.Fatalf("derive is not deterministic for %v", raw)
			}
		}

		a := planFor(t, derive(t, snap))
		b := planFor(t, derive(t, snap))
		if !reflect.DeepEqual(a, b) {
			t.Errorf("plans differ for %v", raw)
		}
	}
}

func TestDerive_Elasticsearch(t *testing.T) {
	d := derive(t, resolve(t, map[string]any{
		"name":     "search01",
		"platform": "ubuntu",
		"run_list": []any{"elasticsearch::default", "elasticsearch::restart"},
	}))

	if want := []string{"elasticsearch::curl", "elasticsearch::default", "elasticsearch::restart"}; !reflect.DeepEqual(d.Recipes, want) {
		t.Errorf("recipes = %v, want %v", d.Recipes, want)
	}
	if _, n := findIntent(d, "package[curl]"); n != 1 {
		t.Errorf("curl declared %d times, want 1", n)
	}

	unpack, n := findIntent(d, "execute[unpack elasticsearch-0.90.5]")
	if n != 1 {
		t.Fatalf("missing unpack execute in %v", keys(d))
	}
	if unpack.Creates != "/usr/local/elasticsearch-0.90.5/bin/elasticsearch" {
		t.Errorf("creates = %s", unpack.Creates)
	}

	yml, _ := findIntent(d, "template[/usr/local/etc/elasticsearch/elasticsearch.yml]")
	if yml.Owner != "elasticsearch" || !strings.Contains(yml.Content, "node.name: search01") {
		t.Errorf("elasticsearch.yml = owner %s content:\n%s", yml.Owner, yml.Content)
	}

	plan := planFor(t, d)
	var restart *engine.Handler
	for i := range plan.Handlers {
		if plan.Handlers[i].Target == "service[elasticsearch]" {
			restart = &plan.Handlers[i]
		}
	}
	if restart == nil || restart.Timing != engine.TimingDelayed || len(restart.Sources) != 4 {
		t.Errorf("elasticsearch restart handler = %+v", restart)
	}
}

func TestDerive_RestartWithoutDefaultDangles(t *testing.T) {
	d := derive(t, resolve(t, map[string]any{
		"platform": "ubuntu",
		"run_list": []any{"elasticsearch::restart"},
	}))

	_, err := engine.NewPlanner().Plan(context.Background(), d.Intents, d.Edges)
	if engine.CodeOf(err) != engine.ErrCodeDanglingEdge {
		t.Errorf("expected dangling edge, got %v", err)
	}
}

func TestDerive_UnknownRecipe(t *testing.T) {
	snap := resolve(t, map[string]any{
		"platform": "ubuntu",
		"run_list": []any{"rsyslog", "nginx::default"},
	})

	d, err := NewEngine(zerolog.Nop()).Derive(context.Background(), snap)
	if d != nil {
		t.Error("expected no derivation")
	}
	if engine.CodeOf(err) != engine.ErrCodeUnknownRecipe {
		t.Errorf("expected unknown recipe, got %v", err)
	}
}

func TestDerive_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewEngine(zerolog.Nop()).Derive(ctx, resolve(t, map[string]any{"platform": "ubuntu"})); err == nil {
		t.Error("expected error from cancelled context")
	}
}

func TestRegistry_List(t *testing.T) {
	var names []string
	for _, r := range NewRegistry().List() {
		names = append(names, r.Name)
	}
	want := []string{"elasticsearch::curl", "elasticsearch::default", "elasticsearch::restart", "rsyslog::default"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("recipes = %v, want %v", names, want)
	}
}
