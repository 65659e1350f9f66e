package engine

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"

	"trend_bot/internal/exchange"
	"trend_bot/internal/modules/config"
	"trend_bot/internal/modules/engine/service"
	"trend_bot/pkg/logger"
)

// NewState строит стартовое состояние риска. В live-режиме баланс
// берём с биржи, в paper — из конфига.
func NewState(cfg *config.Config, gw exchange.Gateway, ctx context.Context) (*service.RiskState, error) {
	if cfg.Mode == config.ModeLive {
		bal, err := gw.Balance(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "initial balance")
		}
		logger.Info("[ENGINE] live balance %s", bal.StringFixed(2))
		return service.NewRiskState(bal), nil
	}
	return service.NewRiskState(decimal.NewFromFloat(cfg.Paper.InitialBalance)), nil
}

func Module() fx.Option {
	return fx.Module("engine",
		fx.Provide(
			NewState,
			service.NewRiskEngine,
			service.NewPositionManager,
			service.NewLoop,
		),
		fx.Invoke(func(lc fx.Lifecycle, l *service.Loop, ctx context.Context) {
			done := make(chan struct{})
			lc.Append(fx.Hook{
				OnStart: func(_ context.Context) error {
					go func() {
						defer close(done)
						if err := l.Run(ctx); err != nil {
							logger.Error("%v", errors.Wrap(err, "engine loop"))
						}
					}()
					return nil
				},
				OnStop: func(_ context.Context) error {
					// дожидаемся дренажа очереди и снапшота
					<-done
					return nil
				},
			})
		}),
	)
}
