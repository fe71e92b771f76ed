package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/adoption-cli/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(cmd.Context(), func(store.Store) error {
			zap.L().Info("schema up to date",
				zap.String("driver", cfg.Store.Driver),
			)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
