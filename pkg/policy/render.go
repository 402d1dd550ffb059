package policy

import (
	"bytes"
	"embed"
	"encoding/hex"
	"fmt"
	"sort"
	"text/template"

	"github.com/zeebo/blake3"

	"github.com/openfroyo/cookbooks/pkg/attributes"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(
	template.New("cookbooks").
		Funcs(template.FuncMap{
			"onoff":   onOff,
			"forward": forwardDirective,
		}).
		ParseFS(templateFS, "templates/*.tmpl"),
)

// Render renders a cookbook template against a snapshot.
func Render(source string, snap attributes.Snapshot) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, source, snap); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", source, err)
	}
	return buf.String(), nil
}

// Checksum returns the hex BLAKE3 digest backends compare against the file
// on disk before rewriting it.
func Checksum(content string) string {
	sum := blake3.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// TemplateSources lists the embedded template names.
func TemplateSources() []string {
	out := make([]string, 0)
	for _, t := range templates.Templates() {
		if t.Name() != "cookbooks" {
			out = append(out, t.Name())
		}
	}
	sort.Strings(out)
	return out
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

// forwardDirective builds the action line sending logs to the remote server.
func forwardDirective(r attributes.Rsyslog) string {
	switch {
	case r.UseRelp:
		return fmt.Sprintf("%s :omrelp:%s:%d", r.LogsToForward, r.ServerIP, r.RelpPort)
	case r.Protocol == "tcp":
		return fmt.Sprintf("%s @@%s:%d", r.LogsToForward, r.ServerIP, r.Port)
	default:
		return fmt.Sprintf("%s @%s:%d", r.LogsToForward, r.ServerIP, r.Port)
	}
}
