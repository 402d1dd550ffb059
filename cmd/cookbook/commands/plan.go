package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/cookbooks/pkg/converge"
	"github.com/openfroyo/cookbooks/pkg/report"
)

func newPlanCommand() *cobra.Command {
	var (
		format     = newFormatValue(report.FormatText)
		outFile    string
		save       bool
		watch      bool
		policies   []string
		skipPolicy bool
		override   string
		tel        telemetryOptions
	)

	cmd := &cobra.Command{
		Use:   "plan <attributes>...",
		Short: "Compute the convergence plan for a node",
		Long: `Compute the convergence plan for a node from its attribute files.

The plan:
  - Merges attribute files and directories in order, later files winning
  - Applies an optional Starlark override script
  - Resolves platform defaults and derives intents for the run list
  - Orders intents into dependency levels with notification handlers
  - Checks the result against the built-in and site guardrails

A plan blocked by a guardrail is still printed, and the command exits
non-zero.`,
		Example: `  # Show the plan for a node
  cookbook plan nodes/web1.yaml

  # Layer site defaults under a node file and apply overrides
  cookbook plan site/ nodes/web1.yaml --override site.star

  # Write the hand-off stream for a backend and record the plan
  cookbook plan nodes/web1.yaml --format ndjson --out web1.ndjson --save

  # Re-plan on every change and expose metrics
  cookbook plan nodes/web1.yaml --watch --metrics-addr :9090`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			f := format.Format()

			t, err := newTelemetry(cmd.Root().Version, tel)
			if err != nil {
				return fmt.Errorf("failed to set up telemetry: %w", err)
			}
			defer func() { _ = t.Shutdown(ctx) }()
			if err := t.Metrics.StartMetricsServer(ctx, log.Logger); err != nil {
				return err
			}

			opts := converge.Options{
				AttributePaths: args,
				OverrideFile:   override,
				PolicyPaths:    policies,
				SkipPolicy:     skipPolicy,
			}
			if save {
				store, err := openStore(ctx)
				if err != nil {
					return err
				}
				defer store.Close()
				opts.Store = store
			}

			runner, err := converge.NewRunner(ctx, t, opts)
			if err != nil {
				return err
			}

			log.Debug().
				Strs("attributes", args).
				Str("format", string(f)).
				Bool("save", save).
				Bool("watch", watch).
				Msg("Planning")

			render := func(res *converge.Result) error {
				var w io.Writer = cmd.OutOrStdout()
				color := colorFor(cmd)
				if outFile != "" {
					file, err := os.Create(outFile)
					if err != nil {
						return fmt.Errorf("failed to create %s: %w", outFile, err)
					}
					defer file.Close()
					w = file
					color = false
				}
				return report.Render(ctx, w, res.Plan, f, report.Options{Color: color, Guard: res.Guard})
			}

			if watch {
				return runner.Watch(ctx, func(trigger string, res *converge.Result, err error) {
					if err != nil {
						log.Error().Err(err).Str("trigger", trigger).Msg("Planning failed")
						return
					}
					if err := render(res); err != nil {
						log.Error().Err(err).Msg("Failed to write plan")
						return
					}
					log.Info().
						Str("trigger", trigger).
						Str("plan", res.Plan.ID).
						Str("status", string(res.Status)).
						Msg("Plan updated")
				})
			}

			res, err := runner.Run(ctx)
			if err != nil {
				return err
			}
			if err := render(res); err != nil {
				return err
			}
			if res.Record != nil {
				log.Info().Str("plan", res.Plan.ID).Str("db", dbPath).Msg("Plan saved")
			}
			if res.Blocked() {
				return errBlocked
			}
			return nil
		},
	}

	cmd.Flags().VarP(format, "format", "f", formatUsage())
	cmd.Flags().StringVarP(&outFile, "out", "o", "", "write the plan to a file instead of stdout")
	cmd.Flags().BoolVar(&save, "save", false, "record the plan in the history database")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-plan when attribute, override or policy files change")
	cmd.Flags().StringSliceVar(&policies, "policy", nil, "extra rego rule files or directories")
	cmd.Flags().BoolVar(&skipPolicy, "skip-policy", false, "do not evaluate guardrails")
	cmd.Flags().StringVar(&override, "override", "", "Starlark override script")
	cmd.Flags().StringVar(&tel.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().StringVar(&tel.tracing, "trace", "none", "trace exporter (none, stdout, otlp)")
	cmd.Flags().StringVar(&tel.endpoint, "otlp-endpoint", "localhost:4317", "OTLP collector endpoint")
	cmd.MarkFlagsMutuallyExclusive("policy", "skip-policy")

	return cmd
}
