package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/adoption-cli/internal/evaluation"
	"github.com/sells-group/adoption-cli/internal/importer"
	"github.com/sells-group/adoption-cli/internal/session"
	"github.com/sells-group/adoption-cli/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		st, err := store.NewSQLite(cfg.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "postgres":
		st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
		if err != nil {
			return nil, err
		}
		return st, nil
	}
	return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
}

// withStore opens the configured store, runs its migrations, and closes it
// after fn.
func withStore(ctx context.Context, fn func(st store.Store) error) error {
	st, err := initStore(ctx)
	if err != nil {
		return eris.Wrap(err, "open store")
	}
	defer st.Close() //nolint:errcheck

	if err := st.Migrate(ctx); err != nil {
		return eris.Wrap(err, "migrate store")
	}
	return fn(st)
}

func newService(st store.Store, notify importer.Notifier) *importer.Service {
	engine := evaluation.NewEngine(nil)
	return importer.NewService(importer.Options{
		Store:    st,
		Sessions: session.New[*importer.DryRunResult](cfg.Import.Sessions()),
		Notifier: notify,
		Engine:   engine,
		Executor: importer.NewExecutor(st, engine, notify, cfg.Retry.Resilience()),
	})
}
