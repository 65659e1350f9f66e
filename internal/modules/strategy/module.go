package strategy

import (
	"go.uber.org/fx"

	engineservice "trend_bot/internal/modules/engine/service"
	"trend_bot/internal/modules/market"
	"trend_bot/internal/modules/strategy/service"
)

func Module() fx.Option {
	return fx.Module("strategy",
		fx.Provide(
			service.NewEngines,
			service.NewHub,
			func(l *engineservice.Loop) service.SignalSink { return l },
			func(h *service.Hub) market.CandleConsumer { return h },
		),
	)
}
