package policy

import (
	"fmt"

	"github.com/openfroyo/cookbooks/pkg/attributes"
	"github.com/openfroyo/cookbooks/pkg/engine"
)

const importManifest = "import rsyslog manifest"

func rsyslogRecipes() []Recipe {
	return []Recipe{
		{
			Name:        "rsyslog::default",
			Description: "Installs and configures rsyslog",
			Apply:       rsyslogDefault,
		},
	}
}

func rsyslogDefault(b *Builder, snap attributes.Snapshot) error {
	r := snap.Rsyslog
	service := engine.Key(engine.KindService, r.ServiceName)

	b.Package("rsyslog")
	if r.UseRelp {
		b.Package("rsyslog-relp")
	}
	if r.TLSRequested() {
		b.Package("rsyslog-gnutls")
	}

	b.Directory(snap.Paths.ConfigDir, "root", "root", "0755")
	b.Directory(snap.Paths.SpoolDir, "root", "root", "0755")

	if snap.Profile.SMF {
		b.Template(snap.Paths.Manifest, "rsyslogd.xml.tmpl", "root", "root", "0644").
			Expect(fmt.Sprintf("<service name='%s'", r.ServiceName)).
			Notifies(engine.NotifyRun, engine.Key(engine.KindExecute, importManifest), engine.TimingImmediate)
		b.Execute(importManifest, "svccfg import "+snap.Paths.Manifest, engine.ActionNothing).
			Notifies(engine.NotifyRestart, service, engine.TimingDelayed)
	}

	main := b.Template(snap.Paths.MainConfig, "rsyslog.conf.tmpl", "root", "root", "0644").
		Expect("Configuration file for rsyslog v3").
		Notifies(engine.NotifyRestart, service, engine.TimingDelayed)
	for _, mod := range r.Modules {
		main.Expect("$ModLoad " + mod)
	}
	if r.TLSRequested() {
		main.Expect("$DefaultNetstreamDriverCAFile " + r.TLSCAFile)
	}

	rules := b.Template(snap.Paths.RulesConfig, rulesSource(snap.Profile.Rules), "root", "root", "0644").
		Notifies(engine.NotifyRestart, service, engine.TimingDelayed)
	switch snap.Profile.Rules {
	case attributes.RulesSmartOS:
		rules.Expect("Default rules for rsyslog.", "/var/adm/messages")
	default:
		rules.Expect("*.emerg    *", "mail.*    -"+snap.Profile.MailLog)
	}

	for _, legacy := range snap.Profile.Legacy {
		if legacy.AppliesTo(snap.Major) {
			b.Service(legacy.Name, legacy.Actions...)
		}
	}

	b.Service(r.ServiceName, engine.ActionEnable, engine.ActionStart).
		Supports(engine.NotifyRestart, engine.NotifyReload, "status")

	return nil
}

func rulesSource(variant attributes.RulesVariant) string {
	if variant == attributes.RulesSmartOS {
		return "50-default.smartos.conf.tmpl"
	}
	return "50-default.conf.tmpl"
}
