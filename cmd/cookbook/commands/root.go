package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/openfroyo/cookbooks/pkg/report"
	"github.com/openfroyo/cookbooks/pkg/stores"
	"github.com/openfroyo/cookbooks/pkg/telemetry"
)

var (
	// Global flags
	verbose   bool
	logFormat string
	dbPath    string
	noColor   bool
)

// errBlocked is returned when the guard rejects a plan, so the process exits
// non-zero after the plan has been shown.
var errBlocked = errors.New("plan blocked by guard")

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cookbook",
		Short: "Plan rsyslog and Elasticsearch convergence for a node",
		Long: `cookbook turns a node's attribute files into an ordered, deterministic
convergence plan for the rsyslog and elasticsearch cookbooks.

Features:
  - Attribute files in CUE, YAML, JSON or JSONC, checked against a CUE schema
  - Site overrides in Starlark
  - Rego guardrails evaluated against every plan
  - Plan history in SQLite with diffs between runs
  - A line-delimited hand-off format for execution backends`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	defaultDB := os.Getenv("COOKBOOK_DB")
	if defaultDB == "" {
		defaultDB = "cookbook.db"
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format (console, json)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", defaultDB, "plan history database (env COOKBOOK_DB)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPlatformsCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newDiffCommand())
	rootCmd.AddCommand(newFireCommand())

	return rootCmd
}

// telemetryOptions are the per-command telemetry knobs.
type telemetryOptions struct {
	metricsAddr string
	tracing     string
	endpoint    string
}

func newTelemetry(version string, opts telemetryOptions) (*telemetry.Telemetry, error) {
	cfg := telemetry.DefaultConfig()
	if version != "" {
		cfg.ServiceVersion = version
	}
	cfg.Logging.Format = logFormat
	cfg.Logging.NoColor = noColor
	if verbose {
		cfg.Logging.Level = "debug"
	} else if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}

	cfg.Metrics.ListenAddress = opts.metricsAddr
	if opts.tracing != "" && opts.tracing != "none" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = opts.tracing
		cfg.Tracing.Endpoint = opts.endpoint
	}

	return telemetry.NewTelemetry(cfg)
}

// openStore opens the history database and applies pending migrations.
func openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: dbPath})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to open %s: %w", dbPath, err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate %s: %w", dbPath, err)
	}
	return store, nil
}

// colorFor reports whether output to cmd's stdout should be styled.
func colorFor(cmd *cobra.Command) bool {
	return !noColor && report.ColorEnabled(cmd.OutOrStdout())
}

// resolvePlanID maps "latest" and "previous" to stored plan IDs for node.
func resolvePlanID(ctx context.Context, store stores.Store, ref, node string) (string, error) {
	switch ref {
	case "latest", "previous":
		records, err := store.ListPlans(ctx, stores.ListOptions{Node: node, Limit: 2})
		if err != nil {
			return "", err
		}
		idx := 0
		if ref == "previous" {
			idx = 1
		}
		if len(records) <= idx {
			return "", fmt.Errorf("no %s plan recorded", ref)
		}
		return records[idx].ID, nil
	default:
		return ref, nil
	}
}

// formatValue is a --format flag that only accepts known report formats.
type formatValue report.Format

var _ pflag.Value = (*formatValue)(nil)

func newFormatValue(f report.Format) *formatValue {
	v := formatValue(f)
	return &v
}

func (f *formatValue) String() string { return string(*f) }

func (f *formatValue) Set(s string) error {
	parsed, err := report.ParseFormat(s)
	if err != nil {
		return err
	}
	*f = formatValue(parsed)
	return nil
}

func (f *formatValue) Type() string { return "format" }

func (f *formatValue) Format() report.Format { return report.Format(*f) }

func formatUsage() string {
	return "output format (" + strings.Join(report.Formats(), ", ") + ")"
}
