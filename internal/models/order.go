package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderIntent — одобренная риск-движком заявка на открытие позиции.
// Ещё не подтверждена биржей: риск уже зарезервирован под ReservationID
// и обязан быть освобождён при reject/timeout.
type OrderIntent struct {
	ID        string
	Symbol    string
	Direction Direction
	Quantity  decimal.Decimal
	Leverage  int

	Entry      decimal.Decimal
	StopPrice  decimal.Decimal
	TakeProfit decimal.Decimal

	RiskAmount    decimal.Decimal
	ReservationID string

	Strategy  StrategyType
	CreatedAt time.Time
}

// Notional — стоимость позиции в quote currency.
func (o OrderIntent) Notional() decimal.Decimal {
	return o.Quantity.Mul(o.Entry)
}

// Fill — подтверждение исполнения от биржи (или из paper-эмуляции).
type Fill struct {
	OrderID  string
	Symbol   string
	Price    decimal.Decimal
	Quantity decimal.Decimal
	At       time.Time
}
