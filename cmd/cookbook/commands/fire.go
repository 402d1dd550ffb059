package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/cookbooks/pkg/report"
)

func newFireCommand() *cobra.Command {
	var (
		node       string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "fire <plan> <intent>...",
		Short: "Show the handlers a set of changed intents would run",
		Long: `Show the notification actions a backend runs when the given intents
change while converging a recorded plan. Immediate actions follow their
trigger; delayed actions run once each at the end.`,
		Example: `  # What runs when the main configuration changes
  cookbook fire latest 'template[/etc/rsyslog.conf]'`,
		Args: cobra.MinimumNArgs(2),
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

			firings, err := rec.Plan.Fire(args[1:])
			if err != nil {
				return err
			}

			if jsonOutput {
				return report.WriteJSON(cmd.OutOrStdout(), firings, colorFor(cmd))
			}
			out := cmd.OutOrStdout()
			if len(firings) == 0 {
				_, err := fmt.Fprintln(out, "No handlers fire.")
				return err
			}
			for i, f := range firings {
				fmt.Fprintf(out, "%d. %s\n", i+1, f)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&node, "node", "", "node for latest and previous")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	return cmd
}
