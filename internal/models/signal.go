package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type StrategyType string

const (
	StrategyMACD    StrategyType = "macd"
	StrategySupRes  StrategyType = "suppres"
	StrategyUnknown StrategyType = ""
)

// Direction — направление сигнала/позиции.
type Direction string

const (
	DirectionNone  Direction = ""
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
	// DirectionClose — стратегия просит закрыть позицию по символу.
	DirectionClose Direction = "close"
)

// Opposite возвращает противоположное направление (для close-ордеров).
func (d Direction) Opposite() Direction {
	switch d {
	case DirectionLong:
		return DirectionShort
	case DirectionShort:
		return DirectionLong
	default:
		return DirectionNone
	}
}

// Signal — рекомендация стратегии по символу/таймфрейму.
// Иммутабелен после эмиссии, живёт один цикл обработки.
type Signal struct {
	Symbol    string
	Timeframe string
	Direction Direction
	Strategy  StrategyType
	// Strength — опциональная уверенность стратегии, 0..1.
	Strength float64
	// Price — цена закрытия свечи, на которой возник сигнал.
	Price decimal.Decimal
	// TakeProfit — целевой уровень от стратегии (ноль = не задан,
	// риск-движок посчитает сам от min_risk_reward_ratio).
	TakeProfit decimal.Decimal
	Reason     string
	At         time.Time
}
