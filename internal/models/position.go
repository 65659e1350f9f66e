package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionState — состояние стейт-машины стопа по позиции.
type PositionState int

const (
	// StateArmed — позиция открыта, стоит начальный стоп-лосс,
	// трейлинг ещё не активирован.
	StateArmed PositionState = iota
	// StateTrailing — трейлинг активирован, стоп двигается за ценой.
	StateTrailing
	StateClosed
)

func (s PositionState) String() string {
	switch s {
	case StateArmed:
		return "ARMED"
	case StateTrailing:
		return "TRAILING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Position — открытая позиция. Мутирует только PositionManager.
type Position struct {
	Symbol    string
	Direction Direction
	Entry     decimal.Decimal
	Quantity  decimal.Decimal
	Leverage  int

	// StopPrice — текущий стоп (начальный SL или трейлинг).
	// Инвариант: после активации трейлинга двигается только в сторону
	// уменьшения риска.
	StopPrice decimal.Decimal
	// TakeProfit — целевой уровень, ноль = не задан.
	TakeProfit decimal.Decimal

	// RiskAmount — зарезервированный денежный риск (quote currency).
	RiskAmount decimal.Decimal
	// ReservationID — токен резервации, освобождается ровно один раз
	// при закрытии позиции.
	ReservationID string

	State PositionState
	// HighWater — экстремум благоприятного хода: максимум цены для
	// лонга, минимум для шорта. Обновляется на каждом тике.
	HighWater decimal.Decimal

	Strategy StrategyType
	OpenedAt time.Time
}

// UnrealizedPnL считает нереализованный PnL по последней цене.
func (p *Position) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	diff := price.Sub(p.Entry)
	if p.Direction == DirectionShort {
		diff = diff.Neg()
	}
	return diff.Mul(p.Quantity)
}

// ExitReason — причина закрытия позиции.
type ExitReason string

const (
	ExitStopLoss     ExitReason = "stop_loss"
	ExitTrailingStop ExitReason = "trailing_stop"
	ExitSignal       ExitReason = "signal_close"
	ExitReconciled   ExitReason = "reconciled"
	ExitShutdown     ExitReason = "shutdown"
)

// ClosedTrade — запись о закрытой сделке для статистики.
type ClosedTrade struct {
	Symbol    string
	Direction Direction
	Strategy  StrategyType

	Entry    decimal.Decimal
	Exit     decimal.Decimal
	Quantity decimal.Decimal
	PnL      decimal.Decimal

	Reason   ExitReason
	OpenedAt time.Time
	ClosedAt time.Time
}

func (t ClosedTrade) Duration() time.Duration {
	return t.ClosedAt.Sub(t.OpenedAt)
}

// ExternalPosition — позиция в представлении биржи (для реконсиляции).
type ExternalPosition struct {
	Symbol    string
	Direction Direction
	Quantity  decimal.Decimal
	Entry     decimal.Decimal
	LastPrice decimal.Decimal
}
