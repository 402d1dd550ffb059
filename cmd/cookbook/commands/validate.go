package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/cookbooks/pkg/attributes"
	"github.com/openfroyo/cookbooks/pkg/config"
	"github.com/openfroyo/cookbooks/pkg/engine"
	"github.com/openfroyo/cookbooks/pkg/policy"
	"github.com/openfroyo/cookbooks/pkg/report"
)

func newValidateCommand() *cobra.Command {
	var (
		override string
		show     bool
	)

	cmd := &cobra.Command{
		Use:   "validate <attributes>...",
		Short: "Validate node attribute files",
		Long: `Validate node attribute files without planning.

This command checks:
  - File syntax for CUE, YAML, JSON and JSONC
  - Conformance with the node schema
  - Override script evaluation
  - Platform and cookbook attribute resolution, including fatal
    misconfigurations such as TLS over udp
  - That every run list entry names a known recipe`,
		Example: `  # Validate a node file
  cookbook validate nodes/web1.yaml

  # Validate with overrides and print the resolved attributes
  cookbook validate site/ nodes/web1.yaml --override site.star --show`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			loader := config.NewLoader(log.Logger, 0)

			doc, err := loader.Load(ctx, args)
			if err != nil {
				return err
			}
			if override != "" {
				script, err := os.ReadFile(override)
				if err != nil {
					return engine.NewConfigurationError("failed to read override script", err).
						WithDetail("file", override)
				}
				if doc.Attributes, err = loader.ApplyOverrides(ctx, doc.Attributes, string(script)); err != nil {
					return err
				}
				doc.Overrides = override
			}
			if err := loader.Validate(ctx, doc); err != nil {
				return err
			}

			snap, err := attributes.Resolve(doc.Attributes)
			if err != nil {
				return err
			}
			d, err := policy.NewEngine(log.Logger).Derive(ctx, snap)
			if err != nil {
				return err
			}

			if show {
				return report.WriteJSON(cmd.OutOrStdout(), snap, colorFor(cmd))
			}

			node := snap.Node
			if node == "" {
				node = "(unnamed node)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK %s: %s %s (%s), %d file(s), run list %s, %d intents\n",
				node, snap.Platform, snap.PlatformVersion, snap.Family,
				len(doc.SourceFiles), strings.Join(d.Recipes, ", "), len(d.Intents))
			return nil
		},
	}

	cmd.Flags().StringVar(&override, "override", "", "Starlark override script")
	cmd.Flags().BoolVar(&show, "show", false, "print the resolved attributes as JSON")

	return cmd
}
