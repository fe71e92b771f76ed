package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/adoption-cli/internal/api"
	"github.com/sells-group/adoption-cli/internal/progress"
	"github.com/sells-group/adoption-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the import and evaluation API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		return withStore(ctx, func(st store.Store) error {
			broker := progress.NewBroker(cfg.Import.ProgressRatePerSec)
			svc := newService(st, broker)
			handler := api.New(api.Config{
				Service:        svc,
				Broker:         broker,
				CORSOrigins:    cfg.Server.CORSOrigins,
				MaxUploadBytes: cfg.Server.MaxUploadBytes(),
				ForceEvaluate:  cfg.Evaluation.Force,
			})
			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", port),
				Handler:           handler,
				ReadHeaderTimeout: 10 * time.Second,
			}
			return runServer(ctx, srv, func(ctx context.Context) error {
				return svc.Sessions().Run(ctx, cfg.Import.SweepInterval())
			})
		})
	},
}

// runServer serves srv and runs the background workers until ctx is done
// or one of them fails, then shuts the server down.
func runServer(ctx context.Context, srv *http.Server, workers ...func(ctx context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		zap.L().Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	})
	for _, w := range workers {
		g.Go(func() error {
			if err := w(gctx); err != nil && !eris.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
