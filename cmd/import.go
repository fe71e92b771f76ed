package main

import (
	"context"
	"fmt"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/adoption-cli/internal/importer"
	"github.com/sells-group/adoption-cli/internal/report"
	"github.com/sells-group/adoption-cli/internal/store"
	"github.com/sells-group/adoption-cli/internal/workbook"
)

var (
	importPlanID  string
	importFile    string
	importYes     bool
	importVerbose bool
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Preview a telemetry workbook import and apply it with --yes",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		return withStore(ctx, func(st store.Store) error {
			return runImport(ctx, cmd.OutOrStdout(), afero.NewOsFs(), newService(st, nil), importOptions{
				planID:  importPlanID,
				file:    importFile,
				execute: importYes,
				verbose: importVerbose,
			})
		})
	},
}

type importOptions struct {
	planID  string
	file    string
	execute bool
	verbose bool
}

var errImportBlocked = eris.New("import blocked by validation errors")

func runImport(ctx context.Context, out io.Writer, fsys afero.Fs, svc *importer.Service, opts importOptions) error {
	data, err := workbook.ReadFile(fsys, opts.file)
	if err != nil {
		return err
	}

	dr, err := svc.Preview(ctx, opts.planID, data)
	if err != nil {
		return eris.Wrap(err, "preview import")
	}
	report.DryRun(out, dr, opts.verbose)

	if !dr.Valid {
		return errImportBlocked
	}
	if !opts.execute {
		fmt.Fprintln(out, "Dry run only; re-run with --yes to apply.")
		return nil
	}

	res, err := svc.Execute(ctx, dr.SessionID)
	if err != nil {
		return eris.Wrap(err, "execute import")
	}
	report.Import(out, res)
	if !res.Success {
		return eris.New("import failed; nothing was written")
	}

	zap.L().Info("import complete",
		zap.String("plan_id", opts.planID),
		zap.String("batch_id", res.BatchID),
		zap.Int("values", res.Stats.ValuesImported),
		zap.Int("status_changes", res.Stats.StatusChanges),
	)
	return nil
}

func init() {
	importCmd.Flags().StringVar(&importPlanID, "plan", "", "plan ID (required)")
	importCmd.Flags().StringVar(&importFile, "file", "", "path to .xlsx workbook (required)")
	importCmd.Flags().BoolVar(&importYes, "yes", false, "apply the import after a valid preview")
	importCmd.Flags().BoolVarP(&importVerbose, "verbose", "v", false, "list unchanged rows too")
	_ = importCmd.MarkFlagRequired("plan")
	_ = importCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(importCmd)
}
