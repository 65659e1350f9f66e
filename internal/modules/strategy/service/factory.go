package service

import (
	"trend_bot/internal/indicators"
	"trend_bot/internal/modules/config"
)

func NewEngines(cfg *config.Config) []Engine {
	return []Engine{
		NewMACDStrategy(indicators.DefaultParams()),
		NewSupResStrategy(20, 0.002),
	}
}
