package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"airlift-demo/internal/app"
	"airlift-demo/internal/asset"
	"airlift-demo/internal/domain"
)

func newMaterializeCmd(rt *runtime) *cobra.Command {
	var (
		stage     string
		selection []string
		partition string
	)
	cmd := &cobra.Command{
		Use:   "materialize",
		Short: "Materialize the assets of a stage in-process",
		Long: "Runs the selected executable assets of the stage, in dependency order, " +
			"then evaluates their checks. Without --select every executable asset runs.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			keys, err := asset.Keys(selection...)
			if err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), app.Deps{Cfg: rt.cfg, Logger: rt.logger}, stage)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			opts := asset.MaterializeOptions{Selection: keys, TriggerType: domain.TriggerTypeManual}
			if partition != "" {
				opts.PartitionKey = &partition
			}
			run, runErr := a.Materializer.Materialize(cmd.Context(), a.Stage.Defs, opts)
			if run == nil {
				return runErr
			}
			if err := printRun(rt, run); err != nil {
				return err
			}
			return runErr
		},
	}
	addStageFlag(cmd.Flags(), &stage)
	cmd.Flags().StringSliceVar(&selection, "select", nil, "Asset keys to materialize (repeatable)")
	cmd.Flags().StringVar(&partition, "partition", "", "Partition key (YYYY-MM-DD) for partitioned assets")
	return cmd
}

func printRun(rt *runtime, run *domain.Run) error {
	return rt.emit(run, []string{"unit", "assets", "status", "checks", "error"}, func() [][]string {
		rows := make([][]string, 0, len(run.Units))
		for _, u := range run.Units {
			checks := make([]string, 0, len(u.Checks))
			for _, c := range u.Checks {
				checks = append(checks, fmt.Sprintf("%s=%s", c.CheckName, c.Outcome))
			}
			rows = append(rows, []string{
				u.Name,
				strings.Join(u.AssetKeys, ","),
				u.Status,
				strings.Join(checks, ","),
				valueOr(u.ErrorMessage, ""),
			})
		}
		return rows
	})
}
