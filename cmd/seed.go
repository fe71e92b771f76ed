package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/adoption-cli/internal/fixture"
	"github.com/sells-group/adoption-cli/internal/store"
)

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load a plan with tasks and attributes from a YAML fixture",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		plan, err := fixture.Load(afero.NewOsFs(), seedFile)
		if err != nil {
			return err
		}

		return withStore(ctx, func(st store.Store) error {
			res, err := fixture.Seed(ctx, st, plan)
			if err != nil {
				return eris.Wrap(err, "seed")
			}
			zap.L().Info("seed complete",
				zap.String("plan_id", plan.PlanID),
				zap.Int("tasks", res.Tasks),
				zap.Int("attributes", res.Attributes),
				zap.Int("values", res.Values),
				zap.Int("catalog", res.Catalog),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "seeded plan %s: %d tasks, %d attributes, %d values, %d catalog items\n",
				plan.PlanID, res.Tasks, res.Attributes, res.Values, res.Catalog)
			return nil
		})
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedFile, "file", "", "path to plan YAML (required)")
	_ = seedCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(seedCmd)
}
