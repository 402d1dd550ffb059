package policy

import (
	"fmt"
	"path"

	"github.com/openfroyo/cookbooks/pkg/attributes"
	"github.com/openfroyo/cookbooks/pkg/engine"
)

const elasticsearchService = "elasticsearch"

func elasticsearchRecipes() []Recipe {
	return []Recipe{
		{
			Name:        "elasticsearch::curl",
			Description: "Installs curl for downloads and the REST API",
			Apply: func(b *Builder, _ attributes.Snapshot) error {
				b.Package("curl")
				return nil
			},
		},
		{
			Name:        "elasticsearch::default",
			Description: "Installs elasticsearch from the release tarball and runs it as a service",
			Includes:    []string{"elasticsearch::curl"},
			Apply:       elasticsearchDefault,
		},
		{
			Name:        "elasticsearch::restart",
			Description: "Requests a delayed elasticsearch restart",
			Includes:    []string{"elasticsearch::curl"},
			Apply:       elasticsearchRestart,
		},
	}
}

func elasticsearchDefault(b *Builder, snap attributes.Snapshot) error {
	es := snap.Elasticsearch
	if es.Version == "" || es.Dir == "" {
		return engine.NewConfigurationError("elasticsearch version and dir are required", nil)
	}
	service := engine.Key(engine.KindService, elasticsearchService)
	home := es.Home()

	b.Directory(es.Dir, "root", "root", "0755")
	b.Execute(
		"unpack elasticsearch-"+es.Version,
		fmt.Sprintf("curl -sL %s | tar xz -C %s", es.DownloadURL, es.Dir),
		engine.ActionRun,
	).
		Creates(path.Join(home, "bin", "elasticsearch")).
		Notifies(engine.NotifyRestart, service, engine.TimingDelayed)

	for _, dir := range []string{es.ConfPath, es.DataPath, es.LogPath, es.PidPath} {
		b.Directory(dir, es.User, es.User, "0755")
	}

	b.Template(path.Join(es.ConfPath, "elasticsearch-env.sh"), "elasticsearch-env.sh.tmpl", es.User, es.User, "0755").
		Expect("ES_HOME='" + home + "'").
		Notifies(engine.NotifyRestart, service, engine.TimingDelayed)
	b.Template(path.Join(es.ConfPath, "elasticsearch.yml"), "elasticsearch.yml.tmpl", es.User, es.User, "0644").
		Expect("cluster.name: " + es.ClusterName).
		Notifies(engine.NotifyRestart, service, engine.TimingDelayed)
	b.Template("/etc/init.d/elasticsearch", "elasticsearch.init.tmpl", "root", "root", "0755").
		Expect("NAME=elasticsearch")

	b.Service(elasticsearchService, engine.ActionEnable, engine.ActionStart).
		Supports(engine.NotifyRestart, "status")
	return nil
}

// elasticsearchRestart only wires the notification. The service itself is
// declared by elasticsearch::default, so the edge dangles without it.
func elasticsearchRestart(b *Builder, _ attributes.Snapshot) error {
	b.Execute("request elasticsearch restart", "true", engine.ActionRun).
		Notifies(engine.NotifyRestart, engine.Key(engine.KindService, elasticsearchService), engine.TimingDelayed)
	return nil
}
