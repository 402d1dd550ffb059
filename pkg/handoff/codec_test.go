package handoff

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/openfroyo/cookbooks/pkg/engine"
)

func omniosPlan(t *testing.T) *engine.Plan {
	t.Helper()

	manifest := engine.Key(engine.KindTemplate, "/var/svc/manifest/system/rsyslogd.xml")
	importer := engine.Key(engine.KindExecute, "import rsyslog manifest")
	service := engine.Key(engine.KindService, "system/rsyslogd")

	intents := []engine.Intent{
		{Kind: engine.KindPackage, Name: "rsyslog", Actions: []engine.Action{engine.ActionInstall}},
		{Kind: engine.KindDirectory, Name: "/etc/rsyslog.d", Actions: []engine.Action{engine.ActionCreate}, Owner: "root", Group: "root", Mode: "0755"},
		{
			Kind:     engine.KindTemplate,
			Name:     "/var/svc/manifest/system/rsyslogd.xml",
			Actions:  []engine.Action{engine.ActionCreate},
			Source:   "rsyslog.xml.tmpl",
			Content:  "<service_bundle/>\n",
			Checksum: "abc",
			Owner:    "root",
			Group:    "root",
			Mode:     "0644",
		},
		{
			Kind:    engine.KindExecute,
			Name:    "import rsyslog manifest",
			Actions: []engine.Action{engine.ActionNothing},
			Command: "svccfg import /var/svc/manifest/system/rsyslogd.xml",
		},
		{
			Kind:     engine.KindService,
			Name:     "system/rsyslogd",
			Actions:  []engine.Action{engine.ActionEnable, engine.ActionStart},
			Supports: []engine.NotifyAction{engine.NotifyRestart, engine.NotifyReload},
		},
	}
	edges := []engine.NotificationEdge{
		{Source: manifest, Target: importer, Action: engine.NotifyRun, Timing: engine.TimingImmediate},
		{Source: importer, Target: service, Action: engine.NotifyRestart, Timing: engine.TimingDelayed},
	}

	plan, err := engine.NewPlanner().Plan(context.Background(), intents, edges,
		engine.WithNode("log1", "omnios", "omnios"),
		engine.WithRunList([]string{"rsyslog::default"}))
	if err != nil {
		t.Fatalf("failed to build plan: %v", err)
	}
	return plan
}

func encode(t *testing.T, plan *engine.Plan) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := WritePlan(context.Background(), &buf, plan); err != nil {
		t.Fatalf("WritePlan() error = %v", err)
	}
	return buf.Bytes()
}

func TestRoundTrip(t *testing.T) {
	plan := omniosPlan(t)
	stream := encode(t, plan)

	lines := strings.Split(strings.TrimSuffix(string(stream), "\n"), "\n")
	if want := 1 + len(plan.Intents) + len(plan.Notifications) + 1; len(lines) != want {
		t.Fatalf("stream has %d lines, want %d", len(lines), want)
	}

	got, err := ReadPlan(context.Background(), bytes.NewReader(stream))
	if err != nil {
		t.Fatalf("ReadPlan() error = %v", err)
	}
	if got.ID != plan.ID {
		t.Errorf("ID = %s, want %s", got.ID, plan.ID)
	}
	if changes := engine.DiffPlans(plan, got); len(changes) != 0 {
		t.Errorf("round trip changed plan: %+v", changes)
	}
	if len(got.Handlers) != len(plan.Handlers) {
		t.Errorf("handlers = %d, want %d", len(got.Handlers), len(plan.Handlers))
	}
}

func TestMessageOrder(t *testing.T) {
	plan := omniosPlan(t)
	dec := NewDecoder(bytes.NewReader(encode(t, plan)))

	var types []MessageType
	for {
		msg, err := dec.Decode()
		if err != nil {
			break
		}
		types = append(types, msg.Type)
	}

	want := []MessageType{MessageTypePlan}
	for range plan.Intents {
		want = append(want, MessageTypeIntent)
	}
	for range plan.Notifications {
		want = append(want, MessageTypeNotify)
	}
	want = append(want, MessageTypeEnd)

	if len(types) != len(want) {
		t.Fatalf("got %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("message %d = %s, want %s", i, types[i], want[i])
		}
	}
}

func TestIntentMessagesCarryGraph(t *testing.T) {
	plan := omniosPlan(t)
	dec := NewDecoder(bytes.NewReader(encode(t, plan)))
	_, _ = dec.Decode()

	byKey := map[string]IntentMessage{}
	for range plan.Intents {
		msg, err := dec.Decode()
		if err != nil {
			t.Fatal(err)
		}
		var im IntentMessage
		if err := json.Unmarshal(msg.Data, &im); err != nil {
			t.Fatal(err)
		}
		byKey[im.Key] = im
	}

	importer := byKey["execute[import rsyslog manifest]"]
	if importer.Command.Type != CommandTypeExec {
		t.Fatalf("importer command = %s", importer.Command.Type)
	}
	var params ExecParams
	if err := ParseParams(importer.Command.Params, &params); err != nil {
		t.Fatal(err)
	}
	if !params.Deferred || !strings.HasPrefix(params.Command, "svccfg import") {
		t.Errorf("exec params = %+v", params)
	}
	if importer.Level != 1 || len(importer.DependsOn) != 1 {
		t.Errorf("importer level/deps = %d/%v", importer.Level, importer.DependsOn)
	}

	service := byKey["service[system/rsyslogd]"]
	if service.Level != 2 {
		t.Errorf("service level = %d, want 2", service.Level)
	}
}

func TestDecodeRejects(t *testing.T) {
	good := string(encode(t, omniosPlan(t)))
	lines := strings.SplitAfter(good, "\n")
	lines = lines[:len(lines)-1] // trailing empty element

	tamper := func(f func([]string) []string) string {
		cp := append([]string(nil), lines...)
		return strings.Join(f(cp), "")
	}

	tests := []struct {
		name    string
		stream  string
		wantErr string
	}{
		{name: "empty", stream: "", wantErr: "empty stream"},
		{
			name:    "missing end",
			stream:  tamper(func(l []string) []string { return l[:len(l)-1] }),
			wantErr: "without END",
		},
		{
			name:    "starts with intent",
			stream:  tamper(func(l []string) []string { return l[1:] }),
			wantErr: "out of sequence",
		},
		{
			name: "edited content",
			stream: tamper(func(l []string) []string {
				l[3] = strings.Replace(l[3], "service_bundle", "service_bundlX", 1)
				return l
			}),
			wantErr: "checksum mismatch",
		},
		{
			name: "dropped intent",
			stream: tamper(func(l []string) []string {
				out := append([]string{}, l[:2]...)
				for i, s := range l[3:] {
					out = append(out, strings.Replace(s, `"seq":`+itoa(i+3), `"seq":`+itoa(i+2), 1))
				}
				return out
			}),
			wantErr: "index",
		},
		{name: "garbage", stream: "not json\n", wantErr: "unmarshal"},
		{name: "unknown type", stream: `{"type":"CMD","seq":0}` + "\n", wantErr: "invalid message"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadPlan(context.Background(), strings.NewReader(tt.stream))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("ReadPlan() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDecodeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ReadPlan(ctx, bytes.NewReader(encode(t, omniosPlan(t)))); err == nil {
		t.Fatal("expected context error")
	}
}

func TestCommandFor(t *testing.T) {
	tests := []struct {
		intent engine.Intent
		want   CommandType
	}{
		{engine.Intent{Kind: engine.KindPackage, Name: "rsyslog-relp"}, CommandTypePkgEnsure},
		{engine.Intent{Kind: engine.KindDirectory, Name: "/var/spool/rsyslog"}, CommandTypeFileMkdir},
		{engine.Intent{Kind: engine.KindTemplate, Name: "/etc/rsyslog.conf"}, CommandTypeFileWrite},
		{engine.Intent{Kind: engine.KindService, Name: "rsyslog"}, CommandTypeServiceEnsure},
		{engine.Intent{Kind: engine.KindExecute, Name: "x", Command: "true"}, CommandTypeExec},
	}
	for _, tt := range tests {
		cmd, err := CommandFor(tt.intent)
		if err != nil {
			t.Fatalf("CommandFor(%s) error = %v", tt.intent.Key(), err)
		}
		if cmd.Type != tt.want {
			t.Errorf("CommandFor(%s) = %s, want %s", tt.intent.Key(), cmd.Type, tt.want)
		}
	}

	if _, err := CommandFor(engine.Intent{Kind: "user", Name: "x"}); err == nil {
		t.Error("expected error for unknown kind")
	}

	svc, _ := CommandFor(engine.Intent{
		Kind:    engine.KindService,
		Name:    "syslog",
		Actions: []engine.Action{engine.ActionStop, engine.ActionDisable},
	})
	var p ServiceEnsureParams
	if err := ParseParams(svc.Params, &p); err != nil {
		t.Fatal(err)
	}
	if strings.Join(p.Actions, ",") != "stop,disable" {
		t.Errorf("service actions = %v", p.Actions)
	}
}

func itoa(i int) string {
	b, _ := json.Marshal(i)
	return string(b)
}
