package regime

import (
	"go.uber.org/fx"

	"trend_bot/internal/modules/regime/service"
)

func Module() fx.Option {
	return fx.Module("regime",
		fx.Provide(
			service.NewFilter,
		),
	)
}
