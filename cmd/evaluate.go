package main

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/sells-group/adoption-cli/internal/evaluation"
	"github.com/sells-group/adoption-cli/internal/importer"
	"github.com/sells-group/adoption-cli/internal/report"
	"github.com/sells-group/adoption-cli/internal/store"
)

var (
	evalPlanID string
	evalTaskID string
	evalForce  bool
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Re-evaluate task status from stored telemetry",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		force := evalForce
		if !cmd.Flags().Changed("force") {
			force = cfg.Evaluation.Force
		}
		return withStore(ctx, func(st store.Store) error {
			return runEvaluate(ctx, cmd.OutOrStdout(), newService(st, nil), evalPlanID, evalTaskID, force)
		})
	},
}

func runEvaluate(ctx context.Context, out io.Writer, svc *importer.Service, planID, taskID string, force bool) error {
	if taskID != "" {
		d, err := svc.Reevaluate(ctx, taskID, force)
		if err != nil {
			return err
		}
		report.Decisions(out, []evaluation.Decision{d})
		return nil
	}

	pe, err := svc.ReevaluatePlan(ctx, planID, force)
	if err != nil {
		return err
	}
	report.Decisions(out, pe.Decisions)
	report.Progress(out, pe.Progress)
	return nil
}

func init() {
	evaluateCmd.Flags().StringVar(&evalPlanID, "plan", "", "plan ID")
	evaluateCmd.Flags().StringVar(&evalTaskID, "task", "", "evaluate a single task")
	evaluateCmd.Flags().BoolVar(&evalForce, "force", false, "override manually set terminal statuses")
	evaluateCmd.MarkFlagsOneRequired("plan", "task")
	rootCmd.AddCommand(evaluateCmd)
}
