package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/adoption-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:          "adoption-cli",
	Short:        "Telemetry-driven task evaluation and workbook import",
	Long:         "Previews and applies telemetry workbook imports against adoption plans, and re-evaluates task status from telemetry success criteria.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		loaded, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		if err := config.InitLogger(loaded.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		cfg = loaded

		zap.L().Debug("config loaded",
			zap.String("command", cmd.Name()),
			zap.String("store_driver", cfg.Store.Driver),
		)
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
