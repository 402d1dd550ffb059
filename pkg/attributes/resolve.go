package attributes

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/cookbooks/pkg/engine"
)

// Cookbook defaults.
const (
	DefaultRecipe              = "rsyslog::default"
	DefaultProtocol            = "tcp"
	DefaultPort                = 514
	DefaultRelpPort            = 20514
	DefaultLogsToForward       = "*.*"
	DefaultMaxMessageSize      = "2k"
	SpoolDir                   = "/var/spool/rsyslog"
	ManifestPath               = "/var/svc/manifest/system/rsyslogd.xml"
	DefaultElasticVersion      = "0.90.5"
	DefaultElasticUser         = "elasticsearch"
	DefaultElasticDir          = "/usr/local"
	DefaultElasticClusterName  = "elasticsearch"
	DefaultElasticHeapSize     = "1g"
	DefaultElasticHTTPPort     = 9200
	defaultElasticDownloadBase = "https://download.elasticsearch.org/elasticsearch/elasticsearch"
)

var recipePattern = regexp.MustCompile(`^[a-z0-9_-]+(::[a-z0-9_-]+)?$`)

// rawNode mirrors the node attribute document. Pointers mark attributes
// whose zero value differs from the cookbook default.
type rawNode struct {
	Name            string           `json:"name"`
	Platform        string           `json:"platform" validate:"required"`
	PlatformVersion string           `json:"platform_version"`
	PlatformFamily  string           `json:"platform_family"`
	RunList         []string         `json:"run_list" validate:"dive,recipe"`
	Rsyslog         rawRsyslog       `json:"rsyslog"`
	Elasticsearch   rawElasticsearch `json:"elasticsearch"`
}

type rawRsyslog struct {
	UseRelp                 bool     `json:"use_relp"`
	EnableTLS               bool     `json:"enable_tls"`
	TLSCAFile               string   `json:"tls_ca_file" validate:"omitempty,startswith=/"`
	Protocol                string   `json:"protocol" validate:"omitempty,oneof=tcp udp"`
	ServerIP                string   `json:"server_ip" validate:"omitempty,hostname_rfc1123|ip"`
	Port                    *int     `json:"port" validate:"omitempty,min=1,max=65535"`
	RelpPort                *int     `json:"relp_port" validate:"omitempty,min=1,max=65535"`
	LogsToForward           string   `json:"logs_to_forward"`
	Modules                 []string `json:"modules" validate:"dive,required"`
	MaxMessageSize          string   `json:"max_message_size" validate:"omitempty,alphanum"`
	PreserveFQDN            bool     `json:"preserve_fqdn"`
	RepeatedMsgReduction    *bool    `json:"repeated_msg_reduction"`
	HighPrecisionTimestamps bool     `json:"high_precision_timestamps"`
	PrivSeparation          bool     `json:"priv_separation"`
	User                    string   `json:"user"`
	Group                   string   `json:"group"`
	ServiceName             string   `json:"service_name"`
	ConfigPrefix            string   `json:"config_prefix" validate:"omitempty,startswith=/"`
}

type rawElasticsearch struct {
	Version     string `json:"version" validate:"omitempty,excludesall=/"`
	User        string `json:"user"`
	Dir         string `json:"dir" validate:"omitempty,startswith=/"`
	ConfPath    string `json:"conf_path" validate:"omitempty,startswith=/"`
	DataPath    string `json:"data_path" validate:"omitempty,startswith=/"`
	LogPath     string `json:"log_path" validate:"omitempty,startswith=/"`
	PidPath     string `json:"pid_path" validate:"omitempty,startswith=/"`
	ClusterName string `json:"cluster_name"`
	NodeName    string `json:"node_name"`
	HeapSize    string `json:"heap_size"`
	HTTPPort    *int   `json:"http_port" validate:"omitempty,min=1,max=65535"`
	DownloadURL string `json:"download_url" validate:"omitempty,url"`
}

// Resolver turns raw node attributes into snapshots.
type Resolver struct {
	validate *validator.Validate
}

// NewResolver creates a resolver with the attribute validation rules registered.
func NewResolver() *Resolver {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("recipe", func(fl validator.FieldLevel) bool {
		return recipePattern.MatchString(fl.Field().String())
	})
	return &Resolver{validate: v}
}

var defaultResolver = NewResolver()

// Resolve normalizes raw attributes with the default resolver.
func Resolve(raw map[string]any) (Snapshot, error) {
	return defaultResolver.Resolve(raw)
}

// Resolve normalizes raw node attributes into a Snapshot. It applies the
// cookbook defaults, resolves the platform family and computes paths.
// Contradictory input fails with a configuration error and a declared
// family missing from the platform table fails with an unknown platform error.
func (r *Resolver) Resolve(raw map[string]any) (Snapshot, error) {
	node, err := decode(raw)
	if err != nil {
		return Snapshot{}, err
	}

	// Chef-style run list entries: "recipe[rsyslog::default]".
	for i, entry := range node.RunList {
		if strings.HasPrefix(entry, "recipe[") && strings.HasSuffix(entry, "]") {
			node.RunList[i] = strings.TrimSuffix(strings.TrimPrefix(entry, "recipe["), "]")
		}
	}

	if err := r.validate.Struct(node); err != nil {
		return Snapshot{}, validationError(err)
	}

	family := node.PlatformFamily
	if family == "" {
		family = FamilyFor(node.Platform)
	}
	profile, err := LookupFamily(family)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		Node:            node.Name,
		Platform:        node.Platform,
		PlatformVersion: node.PlatformVersion,
		Major:           majorVersion(node.PlatformVersion),
		Family:          family,
		RunList:         append([]string(nil), node.RunList...),
		Profile:         profile,
		Rsyslog:         resolveRsyslog(node.Rsyslog, profile),
		Elasticsearch:   resolveElasticsearch(node.Elasticsearch, node.Name),
	}
	if len(snap.RunList) == 0 {
		snap.RunList = []string{DefaultRecipe}
	}
	for i, recipe := range snap.RunList {
		if !strings.Contains(recipe, "::") {
			snap.RunList[i] = recipe + "::default"
		}
	}

	if snap.Rsyslog.TLSRequested() && snap.Rsyslog.Protocol != "tcp" {
		return Snapshot{}, engine.NewConfigurationError(
			fmt.Sprintf("TLS with a CA file requires protocol tcp, got %s", snap.Rsyslog.Protocol), nil).
			WithDetail("protocol", snap.Rsyslog.Protocol).
			WithDetail("tls_ca_file", snap.Rsyslog.TLSCAFile)
	}

	prefix := profile.ConfigPrefix
	if node.Rsyslog.ConfigPrefix != "" {
		prefix = node.Rsyslog.ConfigPrefix
	}
	snap.Paths = Paths{
		ConfigPrefix: prefix,
		ConfigDir:    path.Join(prefix, "rsyslog.d"),
		SpoolDir:     SpoolDir,
		MainConfig:   path.Join(prefix, "rsyslog.conf"),
		RulesConfig:  path.Join(prefix, "rsyslog.d", "50-default.conf"),
	}
	if profile.SMF {
		snap.Paths.Manifest = ManifestPath
	}

	return snap, nil
}

// decode maps the generic attribute tree onto rawNode.
func decode(raw map[string]any) (rawNode, error) {
	var node rawNode
	if raw == nil {
		return node, engine.NewValidationError("node attributes are empty", nil)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return node, engine.NewValidationError("node attributes are not encodable", err)
	}
	if err := json.Unmarshal(data, &node); err != nil {
		return node, engine.NewValidationError("node attributes have the wrong shape", err)
	}
	return node, nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return engine.NewValidationError("attribute validation failed", err)
	}

	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
	}
	return engine.NewValidationError("invalid node attributes: "+strings.Join(fields, ", "), err).
		WithDetail("fields", fields)
}

func resolveRsyslog(raw rawRsyslog, profile FamilyProfile) Rsyslog {
	out := Rsyslog{
		UseRelp:                 raw.UseRelp,
		EnableTLS:               raw.EnableTLS,
		TLSCAFile:               raw.TLSCAFile,
		Protocol:                orDefault(raw.Protocol, DefaultProtocol),
		ServerIP:                raw.ServerIP,
		Port:                    intOrDefault(raw.Port, DefaultPort),
		RelpPort:                intOrDefault(raw.RelpPort, DefaultRelpPort),
		LogsToForward:           orDefault(raw.LogsToForward, DefaultLogsToForward),
		Modules:                 append([]string(nil), profile.Modules...),
		MaxMessageSize:          orDefault(raw.MaxMessageSize, DefaultMaxMessageSize),
		PreserveFQDN:            raw.PreserveFQDN,
		RepeatedMsgReduction:    true,
		HighPrecisionTimestamps: raw.HighPrecisionTimestamps,
		PrivSeparation:          raw.PrivSeparation,
		User:                    orDefault(raw.User, profile.User),
		Group:                   orDefault(raw.Group, profile.Group),
		ServiceName:             orDefault(raw.ServiceName, profile.ServiceName),
	}
	if len(raw.Modules) > 0 {
		out.Modules = append([]string(nil), raw.Modules...)
	}
	if raw.RepeatedMsgReduction != nil {
		out.RepeatedMsgReduction = *raw.RepeatedMsgReduction
	}
	return out
}

func resolveElasticsearch(raw rawElasticsearch, nodeName string) Elasticsearch {
	out := Elasticsearch{
		Version:     orDefault(raw.Version, DefaultElasticVersion),
		User:        orDefault(raw.User, DefaultElasticUser),
		Dir:         orDefault(raw.Dir, DefaultElasticDir),
		ClusterName: orDefault(raw.ClusterName, DefaultElasticClusterName),
		NodeName:    orDefault(raw.NodeName, nodeName),
		HeapSize:    orDefault(raw.HeapSize, DefaultElasticHeapSize),
		HTTPPort:    intOrDefault(raw.HTTPPort, DefaultElasticHTTPPort),
	}
	out.ConfPath = orDefault(raw.ConfPath, path.Join(out.Dir, "etc", "elasticsearch"))
	out.DataPath = orDefault(raw.DataPath, path.Join(out.Dir, "var", "data", "elasticsearch"))
	out.LogPath = orDefault(raw.LogPath, path.Join(out.Dir, "var", "log", "elasticsearch"))
	out.PidPath = orDefault(raw.PidPath, path.Join(out.Dir, "var", "run"))
	out.DownloadURL = orDefault(raw.DownloadURL,
		fmt.Sprintf("%s/elasticsearch-%s.tar.gz", defaultElasticDownloadBase, out.Version))
	return out
}

// majorVersion returns the leading integer of a version string, or -1 when
// the version does not start with a digit (e.g. "joyent_20130111T180733Z").
func majorVersion(version string) int {
	end := 0
	for end < len(version) && version[end] >= '0' && version[end] <= '9' {
		end++
	}
	if end == 0 {
		return -1
	}
	n, err := strconv.Atoi(version[:end])
	if err != nil {
		return -1
	}
	return n
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func intOrDefault(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}
