package attributes

import (
	"path"
)

// Snapshot is the normalized view of one node's attributes. It is created
// once per run by Resolve and never mutated afterwards.
type Snapshot struct {
	// Node is the node name, if known.
	Node string `json:"node,omitempty"`

	// Platform is the platform name (e.g. "ubuntu", "smartos").
	Platform string `json:"platform"`

	// PlatformVersion is the raw platform version string.
	PlatformVersion string `json:"platform_version"`

	// Major is the leading numeric component of the version, or -1.
	Major int `json:"major"`

	// Family is the resolved platform family.
	Family string `json:"family"`

	// RunList is the recipes to converge, in order.
	RunList []string `json:"run_list"`

	// Profile is the platform table row for Family.
	Profile FamilyProfile `json:"profile"`

	// Rsyslog holds the rsyslog cookbook attributes.
	Rsyslog Rsyslog `json:"rsyslog"`

	// Elasticsearch holds the elasticsearch cookbook attributes.
	Elasticsearch Elasticsearch `json:"elasticsearch"`

	// Paths are computed from the family and the attributes.
	Paths Paths `json:"paths"`
}

// HasRecipe reports whether the run list includes recipe.
func (s Snapshot) HasRecipe(recipe string) bool {
	for _, r := range s.RunList {
		if r == recipe {
			return true
		}
	}
	return false
}

// Rsyslog is the rsyslog cookbook attribute set.
type Rsyslog struct {
	UseRelp                 bool     `json:"use_relp"`
	EnableTLS               bool     `json:"enable_tls"`
	TLSCAFile               string   `json:"tls_ca_file,omitempty"`
	Protocol                string   `json:"protocol"`
	ServerIP                string   `json:"server_ip,omitempty"`
	Port                    int      `json:"port"`
	RelpPort                int      `json:"relp_port"`
	LogsToForward           string   `json:"logs_to_forward"`
	Modules                 []string `json:"modules"`
	MaxMessageSize          string   `json:"max_message_size"`
	PreserveFQDN            bool     `json:"preserve_fqdn"`
	RepeatedMsgReduction    bool     `json:"repeated_msg_reduction"`
	HighPrecisionTimestamps bool     `json:"high_precision_timestamps"`
	PrivSeparation          bool     `json:"priv_separation"`
	User                    string   `json:"user"`
	Group                   string   `json:"group"`
	ServiceName             string   `json:"service_name"`
}

// TLSRequested reports whether TLS was asked for with a CA file to verify against.
func (r Rsyslog) TLSRequested() bool {
	return r.EnableTLS && r.TLSCAFile != ""
}

// Elasticsearch is the elasticsearch cookbook attribute set.
type Elasticsearch struct {
	Version     string `json:"version"`
	User        string `json:"user"`
	Dir         string `json:"dir"`
	ConfPath    string `json:"conf_path"`
	DataPath    string `json:"data_path"`
	LogPath     string `json:"log_path"`
	PidPath     string `json:"pid_path"`
	ClusterName string `json:"cluster_name"`
	NodeName    string `json:"node_name"`
	HeapSize    string `json:"heap_size"`
	HTTPPort    int    `json:"http_port"`
	DownloadURL string `json:"download_url"`
}

// Home is the versioned install directory.
func (e Elasticsearch) Home() string {
	return path.Join(e.Dir, "elasticsearch-"+e.Version)
}

// Paths are the filesystem locations the recipes write to.
type Paths struct {
	ConfigPrefix string `json:"config_prefix"`
	ConfigDir    string `json:"config_dir"`
	SpoolDir     string `json:"spool_dir"`
	MainConfig   string `json:"main_config"`
	RulesConfig  string `json:"rules_config"`
	Manifest     string `json:"manifest,omitempty"`
}
