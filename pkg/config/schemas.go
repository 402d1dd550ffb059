package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for validation. Each schema is a CUE
// definition looked up by name.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	sr.registerBuiltInSchemas()

	return sr
}

// registerBuiltInSchemas registers the node attribute schemas.
func (sr *SchemaRegistry) registerBuiltInSchemas() {
	for name, def := range map[string]string{
		"node":          "#Node",
		"rsyslog":       "#Rsyslog",
		"elasticsearch": "#Elasticsearch",
	} {
		if err := sr.RegisterSchema(name, def, builtinNodeSchema); err != nil {
			panic(err)
		}
	}
}

// RegisterSchema compiles schema and registers its definition under name.
func (sr *SchemaRegistry) RegisterSchema(name, definition, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	def := val.LookupPath(cue.ParsePath(definition))
	if !def.Exists() {
		return fmt.Errorf("schema %s does not define %s", name, definition)
	}

	sr.schemas[name] = def
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ValidateNode validates a node attribute tree against the #Node schema.
func (sr *SchemaRegistry) ValidateNode(ctx context.Context, attrs map[string]interface{}) error {
	return sr.ValidateAgainstSchema(ctx, "node", attrs)
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// builtinNodeSchema describes the node attribute document. #Node stays open
// because Chef-style nodes carry many attributes no cookbook reads; the
// cookbook attribute blocks are closed so misspelled keys are caught.
const builtinNodeSchema = `
#Path: string & =~"^/"

#Port: int & >=1 & <=65535

#Recipe: string & =~"^(recipe\\[)?[a-z0-9_-]+(::[a-z0-9_-]+)?\\]?$"

#Rsyslog: {
	use_relp?:                  bool
	enable_tls?:                bool
	tls_ca_file?:               #Path
	protocol?:                  "tcp" | "udp"
	server_ip?:                 string
	port?:                      #Port
	relp_port?:                 #Port
	logs_to_forward?:           string
	modules?: [...string]
	max_message_size?:          =~"^[0-9]+[kKmM]?$"
	preserve_fqdn?:             bool
	repeated_msg_reduction?:    bool
	high_precision_timestamps?: bool
	priv_separation?:           bool
	user?:                      string
	group?:                     string
	service_name?:              string
	config_prefix?:             #Path
}

#Elasticsearch: {
	version?:      =~"^[0-9]+(\\.[0-9]+)*$"
	user?:         string
	dir?:          #Path
	conf_path?:    #Path
	data_path?:    #Path
	log_path?:     #Path
	pid_path?:     #Path
	cluster_name?: string
	node_name?:    string
	heap_size?:    =~"^[0-9]+[kKmMgG]?$"
	http_port?:    #Port
	download_url?: =~"^https?://"
}

#Node: {
	name?:             string
	platform:          string & !=""
	platform_version?: string
	platform_family?:  string
	run_list?: [...#Recipe]
	rsyslog?:       #Rsyslog
	elasticsearch?: #Elasticsearch
	...
}
`
