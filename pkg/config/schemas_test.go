package config

import (
	"context"
	"testing"
)

func TestSchemaRegistry_RegisterAndGet(t *testing.T) {
	sr := NewSchemaRegistry()

	customSchema := `
#Site: {
	datacenter: string
	rack:       int & >0
}
`

	if err := sr.RegisterSchema("site", "#Site", customSchema); err != nil {
		t.Fatalf("failed to register schema: %v", err)
	}

	schema, ok := sr.GetSchema("site")
	if !ok {
		t.Fatal("expected to find site schema")
	}
	if schema.Err() != nil {
		t.Errorf("schema has errors: %v", schema.Err())
	}

	ctx := context.Background()
	if err := sr.ValidateAgainstSchema(ctx, "site", map[string]interface{}{"datacenter": "ams1", "rack": 4}); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}
	if err := sr.ValidateAgainstSchema(ctx, "site", map[string]interface{}{"datacenter": "ams1", "rack": 0}); err == nil {
		t.Error("expected rack 0 to be rejected")
	}
}

func TestSchemaRegistry_RegisterErrors(t *testing.T) {
	sr := NewSchemaRegistry()

	tests := []struct {
		name       string
		definition string
		schema     string
	}{
		{name: "syntax error", definition: "#A", schema: "#A: {"},
		{name: "missing definition", definition: "#B", schema: "#A: string"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := sr.RegisterSchema("bad", tt.definition, tt.schema); err == nil {
				t.Error("expected registration error")
			}
		})
	}
	if _, ok := sr.GetSchema("bad"); ok {
		t.Error("failed registration should not be stored")
	}
}

func TestSchemaRegistry_BuiltInSchemas(t *testing.T) {
	sr := NewSchemaRegistry()

	want := []string{"elasticsearch", "node", "rsyslog"}
	got := sr.ListSchemas()
	if len(got) != len(want) {
		t.Fatalf("expected schemas %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected schemas %v, got %v", want, got)
			break
		}
	}

	for _, name := range want {
		t.Run(name, func(t *testing.T) {
			schema, ok := sr.GetSchema(name)
			if !ok {
				t.Fatalf("built-in schema %s not found", name)
			}
			if schema.Err() != nil {
				t.Errorf("built-in schema %s has errors: %v", name, schema.Err())
			}
		})
	}
}

func TestSchemaRegistry_ValidateNode(t *testing.T) {
	sr := NewSchemaRegistry()
	ctx := context.Background()

	tests := []struct {
		name    string
		node    map[string]interface{}
		wantErr bool
	}{
		{
			name: "minimal node",
			node: map[string]interface{}{"platform": "ubuntu"},
		},
		{
			name: "full node",
			node: map[string]interface{}{
				"name":             "web01",
				"platform":         "centos",
				"platform_version": "6.5",
				"run_list":         []interface{}{"recipe[rsyslog::default]", "elasticsearch"},
				"rsyslog": map[string]interface{}{
					"server_ip":        "10.0.0.5",
					"protocol":         "udp",
					"port":             int64(514),
					"modules":          []interface{}{"imuxsock", "imklog"},
					"max_message_size": "64k",
				},
				"elasticsearch": map[string]interface{}{
					"version":      "0.90.5",
					"http_port":    int64(9200),
					"download_url": "https://example.org/es.tar.gz",
				},
			},
		},
		{
			name: "unrelated attributes are allowed",
			node: map[string]interface{}{
				"platform": "ubuntu",
				"ntp":      map[string]interface{}{"servers": []interface{}{"pool.ntp.org"}},
			},
		},
		{
			name:    "missing platform",
			node:    map[string]interface{}{"name": "web01"},
			wantErr: true,
		},
		{
			name:    "empty platform",
			node:    map[string]interface{}{"platform": ""},
			wantErr: true,
		},
		{
			name: "port out of range",
			node: map[string]interface{}{
				"platform": "ubuntu",
				"rsyslog":  map[string]interface{}{"port": int64(70000)},
			},
			wantErr: true,
		},
		{
			name: "unknown protocol",
			node: map[string]interface{}{
				"platform": "ubuntu",
				"rsyslog":  map[string]interface{}{"protocol": "sctp"},
			},
			wantErr: true,
		},
		{
			name: "misspelled rsyslog attribute",
			node: map[string]interface{}{
				"platform": "ubuntu",
				"rsyslog":  map[string]interface{}{"server_pi": "10.0.0.5"},
			},
			wantErr: true,
		},
		{
			name: "relative tls ca file",
			node: map[string]interface{}{
				"platform": "ubuntu",
				"rsyslog":  map[string]interface{}{"tls_ca_file": "certs/ca.pem"},
			},
			wantErr: true,
		},
		{
			name: "malformed run list entry",
			node: map[string]interface{}{
				"platform": "ubuntu",
				"run_list": []interface{}{"Rsyslog Default"},
			},
			wantErr: true,
		},
		{
			name: "non-http download url",
			node: map[string]interface{}{
				"platform":      "ubuntu",
				"elasticsearch": map[string]interface{}{"download_url": "ftp://example.org/es.tar.gz"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sr.ValidateNode(ctx, tt.node)
			if tt.wantErr && err == nil {
				t.Error("expected validation error, got none")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestSchemaRegistry_UnknownSchema(t *testing.T) {
	sr := NewSchemaRegistry()

	if err := sr.ValidateAgainstSchema(context.Background(), "missing", map[string]interface{}{}); err == nil {
		t.Error("expected error for unknown schema")
	}
}
