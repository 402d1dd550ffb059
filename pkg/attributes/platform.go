package attributes

import (
	"sort"

	"github.com/openfroyo/cookbooks/pkg/engine"
)

// DefaultFamily is the fallback family for platforms with no known mapping.
// It only supplies paths; nothing else is inferred for unknown platforms.
const DefaultFamily = "default"

// RulesVariant selects which default routing rules a family gets.
type RulesVariant string

const (
	// RulesLinux routes mail to its own file and emergencies to all users.
	RulesLinux RulesVariant = "linux"

	// RulesSmartOS routes everything worth keeping to /var/adm/messages.
	RulesSmartOS RulesVariant = "smartos"
)

// LegacyService is an older syslog daemon that must be shut off before
// rsyslog takes over.
type LegacyService struct {
	// Name is the service name.
	Name string `json:"name"`

	// Actions are applied in order.
	Actions []engine.Action `json:"actions"`

	// BelowMajor limits the intent to platform major versions below this
	// value. Zero applies it to every version.
	BelowMajor int `json:"below_major,omitempty"`
}

// AppliesTo reports whether the legacy service is present on the given
// platform major version. Unknown versions (-1) only match unbounded entries.
func (l LegacyService) AppliesTo(major int) bool {
	if l.BelowMajor == 0 {
		return true
	}
	return major >= 0 && major < l.BelowMajor
}

// FamilyProfile is one row of the platform table.
type FamilyProfile struct {
	// Family is the platform family name.
	Family string `json:"family"`

	// ConfigPrefix is the directory holding rsyslog.conf.
	ConfigPrefix string `json:"config_prefix"`

	// Modules are loaded by the main configuration, in order.
	Modules []string `json:"modules"`

	// MailLog is where the linux rules variant routes mail.* messages.
	MailLog string `json:"mail_log"`

	// Rules selects the default rules file content.
	Rules RulesVariant `json:"rules"`

	// Legacy lists services to shut off before rsyslog starts.
	Legacy []LegacyService `json:"legacy,omitempty"`

	// ServiceName is the rsyslog service name.
	ServiceName string `json:"service_name"`

	// SMF is true on platforms that import a service manifest.
	SMF bool `json:"smf"`

	// User and Group are the privileges rsyslog drops to.
	User  string `json:"user"`
	Group string `json:"group"`
}

func (p FamilyProfile) clone() FamilyProfile {
	out := p
	out.Modules = append([]string(nil), p.Modules...)
	out.Legacy = make([]LegacyService, 0, len(p.Legacy))
	for _, l := range p.Legacy {
		l.Actions = append([]engine.Action(nil), l.Actions...)
		out.Legacy = append(out.Legacy, l)
	}
	return out
}

var (
	linuxModules   = []string{"imuxsock", "imklog"}
	illumosModules = []string{"immark", "imsolaris", "imtcp", "imudp"}
)

// families is the platform table keyed by family.
var families = map[string]FamilyProfile{
	DefaultFamily: {
		ConfigPrefix: "/etc",
		Modules:      linuxModules,
		MailLog:      "/var/log/mail.log",
		Rules:        RulesLinux,
		ServiceName:  "rsyslog",
		User:         "root",
		Group:        "adm",
	},
	"debian": {
		ConfigPrefix: "/etc",
		Modules:      linuxModules,
		MailLog:      "/var/log/mail.log",
		Rules:        RulesLinux,
		ServiceName:  "rsyslog",
		User:         "syslog",
		Group:        "adm",
	},
	"rhel": {
		ConfigPrefix: "/etc",
		Modules:      linuxModules,
		MailLog:      "/var/log/maillog",
		Rules:        RulesLinux,
		Legacy: []LegacyService{
			{Name: "syslog", Actions: []engine.Action{engine.ActionStop, engine.ActionDisable}, BelowMajor: 6},
		},
		ServiceName: "rsyslog",
		User:        "root",
		Group:       "adm",
	},
	"fedora": {
		ConfigPrefix: "/etc",
		Modules:      linuxModules,
		MailLog:      "/var/log/maillog",
		Rules:        RulesLinux,
		ServiceName:  "rsyslog",
		User:         "root",
		Group:        "adm",
	},
	"suse": {
		ConfigPrefix: "/etc",
		Modules:      linuxModules,
		MailLog:      "/var/log/mail.log",
		Rules:        RulesLinux,
		ServiceName:  "rsyslog",
		User:         "root",
		Group:        "adm",
	},
	"arch": {
		ConfigPrefix: "/etc",
		Modules:      linuxModules,
		MailLog:      "/var/log/mail.log",
		Rules:        RulesLinux,
		ServiceName:  "rsyslog",
		User:         "root",
		Group:        "log",
	},
	"smartos": {
		ConfigPrefix: "/opt/local/etc",
		Modules:      illumosModules,
		MailLog:      "/var/log/mail.log",
		Rules:        RulesSmartOS,
		Legacy: []LegacyService{
			{Name: "system-log", Actions: []engine.Action{engine.ActionDisable}},
		},
		ServiceName: "rsyslog",
		User:        "root",
		Group:       "root",
	},
	"omnios": {
		ConfigPrefix: "/etc",
		Modules:      illumosModules,
		MailLog:      "/var/log/mail.log",
		Rules:        RulesLinux,
		Legacy: []LegacyService{
			{Name: "system-log", Actions: []engine.Action{engine.ActionDisable}},
		},
		ServiceName: "system/rsyslogd",
		SMF:         true,
		User:        "root",
		Group:       "root",
	},
}

// platformFamilies maps platform names to their family.
var platformFamilies = map[string]string{
	"ubuntu":     "debian",
	"debian":     "debian",
	"redhat":     "rhel",
	"centos":     "rhel",
	"scientific": "rhel",
	"amazon":     "rhel",
	"oracle":     "rhel",
	"fedora":     "fedora",
	"suse":       "suse",
	"opensuse":   "suse",
	"arch":       "arch",
	"smartos":    "smartos",
	"omnios":     "omnios",
}

// LookupFamily returns the profile of a declared family.
func LookupFamily(family string) (FamilyProfile, error) {
	p, ok := families[family]
	if !ok {
		return FamilyProfile{}, engine.NewUnknownPlatformError(family)
	}
	p = p.clone()
	p.Family = family
	return p, nil
}

// FamilyFor returns the family of a platform name, or DefaultFamily.
func FamilyFor(platform string) string {
	if f, ok := platformFamilies[platform]; ok {
		return f
	}
	return DefaultFamily
}

// Families lists every profile in the table, sorted by family name.
func Families() []FamilyProfile {
	names := make([]string, 0, len(families))
	for name := range families {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]FamilyProfile, 0, len(names))
	for _, name := range names {
		p, _ := LookupFamily(name)
		out = append(out, p)
	}
	return out
}

// PlatformsOf lists the platform names that map to family, sorted.
func PlatformsOf(family string) []string {
	out := make([]string, 0)
	for platform, f := range platformFamilies {
		if f == family {
			out = append(out, platform)
		}
	}
	sort.Strings(out)
	return out
}
