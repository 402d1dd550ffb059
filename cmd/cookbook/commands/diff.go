package commands

import (
	"github.com/spf13/cobra"

	"github.com/openfroyo/cookbooks/pkg/engine"
	"github.com/openfroyo/cookbooks/pkg/report"
)

func newDiffCommand() *cobra.Command {
	var node string

	cmd := &cobra.Command{
		Use:   "diff [old] [new]",
		Short: "Compare two recorded plans",
		Long: `Compare two recorded plans intent by intent. Without arguments the
previous plan is compared with the latest; with one argument that plan is
compared with the latest.`,
		Example: `  # What changed in the last run for web1
  cookbook diff --node web1

  # Compare two plans by ID prefix
  cookbook diff 3f2a 9c41`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			refs := []string{"previous", "latest"}
			copy(refs, args)

			plans := make([]*engine.Plan, 2)
			for i, ref := range refs {
				id, err := resolvePlanID(ctx, store, ref, node)
				if err != nil {
					return err
				}
				rec, err := store.GetPlan(ctx, id)
				if err != nil {
					return planLookupError(ref, err)
				}
				plans[i] = rec.Plan
			}

			return report.RenderDiff(cmd.OutOrStdout(), engine.DiffPlans(plans[0], plans[1]), colorFor(cmd))
		},
	}

	cmd.Flags().StringVar(&node, "node", "", "node for latest and previous")

	return cmd
}
