package postgres

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"trend_bot/internal/modules/config"
	"trend_bot/pkg/db"
)

// Module отдаёт *db.PgTxManager. Без DSN возвращается nil — журнал
// сделок тогда живёт в памяти.
func Module() fx.Option {
	return fx.Module("postgres",
		fx.Provide(
			func(ctx context.Context, cfg *config.Config) (*db.PgTxManager, error) {
				if cfg.DB == "" {
					return nil, nil
				}
				poolMaster, err := db.NewPool(ctx, db.PoolConfig{
					DSN: cfg.DB,
				})
				if err != nil {
					return nil, fmt.Errorf("failed to create poolMaster: %w", err)
				}

				if err = poolMaster.Ping(ctx); err != nil {
					return nil, err
				}

				return db.NewPgTxManager(poolMaster), nil
			},
		),
	)
}
