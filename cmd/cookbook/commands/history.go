package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/cookbooks/pkg/report"
	"github.com/openfroyo/cookbooks/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		node  string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded plans",
		Long: `List plans recorded with 'cookbook plan --save', newest first.

Plans are addressed by ID or by any unique ID prefix. "latest" and
"previous" name the two most recent plans, optionally for one node.`,
		Example: `  # List the most recent plans
  cookbook history

  # List plans for one node
  cookbook history --node web1

  # Show a recorded plan as markdown
  cookbook history show 3f2a --format markdown

  # Show what happened while planning
  cookbook history events latest`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.ListPlans(ctx, stores.ListOptions{Node: node, Limit: limit})
			if err != nil {
				return err
			}
			return report.RenderHistory(cmd.OutOrStdout(), records, colorFor(cmd))
		},
	}

	cmd.Flags().StringVar(&node, "node", "", "only plans for this node")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of plans")

	cmd.AddCommand(newHistoryShowCommand())
	cmd.AddCommand(newHistoryEventsCommand())
	cmd.AddCommand(newHistoryDeleteCommand())

	return cmd
}

func newHistoryShowCommand() *cobra.Command {
	var (
		format = newFormatValue(report.FormatText)
		node   string
	)

	cmd := &cobra.Command{
		Use:   "show <plan>",
		Short: "Show a recorded plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			id, err := resolvePlanID(ctx, store, args[0], node)
			if err != nil {
				return err
			}
			rec, err := store.GetPlan(ctx, id)
			if err != nil {
				return planLookupError(args[0], err)
			}
			return report.Render(ctx, cmd.OutOrStdout(), rec.Plan, format.Format(), report.Options{Color: colorFor(cmd)})
		},
	}

	cmd.Flags().VarP(format, "format", "f", formatUsage())
	cmd.Flags().StringVar(&node, "node", "", "node for latest and previous")

	return cmd
}

func newHistoryEventsCommand() *cobra.Command {
	var (
		node  string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "events [plan]",
		Short: "Show recorded planning events",
		Long: `Show the events recorded while planning. With a plan, only that plan's
events are shown; without one, every event is shown, including failed runs
that produced no plan.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			var planID *string
			if len(args) == 1 {
				id, err := resolvePlanID(ctx, store, args[0], node)
				if err != nil {
					return err
				}
				rec, err := store.GetPlan(ctx, id)
				if err != nil {
					return planLookupError(args[0], err)
				}
				planID = &rec.ID
			}

			events, err := store.GetEvents(ctx, planID, node, limit, 0)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(events) == 0 {
				_, err := fmt.Fprintln(out, "No events recorded.")
				return err
			}
			for _, e := range events {
				line := fmt.Sprintf("%s  %-7s  %-18s  %s", e.Timestamp.Local().Format(time.DateTime), e.Level, e.Type, e.Message)
				if e.Node != "" {
					line += "  node=" + e.Node
				}
				if e.Details != nil {
					line += "  " + *e.Details
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&node, "node", "", "only events for this node")
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "maximum number of events")

	return cmd
}

func newHistoryDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <plan>...",
		Short: "Delete recorded plans and their events",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			for _, ref := range args {
				rec, err := store.GetPlan(ctx, ref)
				if err != nil {
					return planLookupError(ref, err)
				}
				if err := store.DeletePlan(ctx, rec.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", rec.ID)
			}
			return nil
		},
	}
}

func planLookupError(ref string, err error) error {
	if errors.Is(err, stores.ErrNotFound) {
		return fmt.Errorf("no recorded plan matches %q", ref)
	}
	return err
}
