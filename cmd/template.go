package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/sells-group/adoption-cli/internal/store"
	"github.com/sells-group/adoption-cli/internal/workbook"
)

var (
	templatePlanID string
	templateOut    string
)

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Export a plan as an importable workbook",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		return withStore(ctx, func(st store.Store) error {
			snap, err := st.LoadSnapshot(ctx, templatePlanID)
			if err != nil {
				return eris.Wrapf(err, "load plan %s", templatePlanID)
			}
			if err := workbook.WriteFile(afero.NewOsFs(), templateOut, snap); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d tasks)\n", templateOut, len(snap.Tasks))
			return nil
		})
	},
}

func init() {
	templateCmd.Flags().StringVar(&templatePlanID, "plan", "", "plan ID (required)")
	templateCmd.Flags().StringVar(&templateOut, "out", "telemetry.xlsx", "output path")
	_ = templateCmd.MarkFlagRequired("plan")
	rootCmd.AddCommand(templateCmd)
}
