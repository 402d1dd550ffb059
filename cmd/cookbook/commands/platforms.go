package commands

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/openfroyo/cookbooks/pkg/attributes"
	"github.com/openfroyo/cookbooks/pkg/report"
)

func newPlatformsCommand() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "platforms",
		Short: "List supported platform families",
		Long: `List the platform table: every family, the platform names that map to
it, and the rsyslog defaults it supplies. Platforms missing from the table
fall back to the default family.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			families := attributes.Families()

			if jsonOutput {
				type row struct {
					attributes.FamilyProfile
					Platforms []string `json:"platforms"`
				}
				rows := make([]row, len(families))
				for i, f := range families {
					rows[i] = row{FamilyProfile: f, Platforms: attributes.PlatformsOf(f.Family)}
				}
				return report.WriteJSON(cmd.OutOrStdout(), rows, colorFor(cmd))
			}

			t := table.New().
				Border(lipgloss.NormalBorder()).
				StyleFunc(func(row, col int) lipgloss.Style {
					st := lipgloss.NewStyle().Padding(0, 1)
					if row == table.HeaderRow {
						st = st.Bold(true)
					}
					return st
				}).
				Headers("FAMILY", "PLATFORMS", "PREFIX", "SERVICE", "USER", "MODULES")
			for _, f := range families {
				platforms := strings.Join(attributes.PlatformsOf(f.Family), ", ")
				if platforms == "" {
					platforms = "-"
				}
				service := f.ServiceName
				if f.SMF {
					service += " (smf)"
				}
				t.Row(f.Family, platforms, f.ConfigPrefix, service, f.User+":"+f.Group, strings.Join(f.Modules, ", "))
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), t.Render())
			return err
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	return cmd
}
