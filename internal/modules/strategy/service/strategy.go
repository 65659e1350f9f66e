package service

import "trend_bot/internal/models"

type Engine interface {
	// ok==true когда есть сигнал
	// becameReady==true когда ключ symbol/tf перешёл в "готов" после прогрева
	OnCandle(t models.CandleTick) (sig models.Signal, ok bool, becameReady bool)

	IsReady(symbol, tf string) bool
	Name() models.StrategyType
}
