package service

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"trend_bot/internal/helper"
	"trend_bot/internal/models"
	"trend_bot/internal/modules/config"
	"trend_bot/pkg/logger"
)

// RiskState — агрегат открытых позиций и зарезервированного риска.
// Владелец один — событийный цикл движка; никаких ambient-глобалов,
// все мутации идут через него.
type RiskState struct {
	Balance       decimal.Decimal
	TotalRiskUsed decimal.Decimal
	Positions     map[string]*models.Position // symbol -> position

	// reservations: token -> зарезервированная сумма. Резервация
	// освобождается ровно один раз (reject/timeout/close).
	reservations map[string]decimal.Decimal
}

func NewRiskState(balance decimal.Decimal) *RiskState {
	return &RiskState{
		Balance:      balance,
		Positions:    make(map[string]*models.Position),
		reservations: make(map[string]decimal.Decimal),
	}
}

// Reserve атомарно (относительно цикла) добавляет amount к занятому
// риску и выдаёт токен.
func (rs *RiskState) Reserve(amount decimal.Decimal) string {
	token := uuid.NewString()
	rs.reservations[token] = amount
	rs.TotalRiskUsed = rs.TotalRiskUsed.Add(amount)
	return token
}

// Release освобождает резервацию по токену. Повторный вызов — ошибка,
// а не тихий no-op: двойное освобождение ломает учёт риска.
func (rs *RiskState) Release(token string) error {
	if token == "" {
		// позиция, принятая из реконсиляции, резервации не имеет
		return nil
	}
	amount, ok := rs.reservations[token]
	if !ok {
		return errors.Wrapf(models.ErrDoubleRelease, "token=%s", token)
	}
	delete(rs.reservations, token)
	rs.TotalRiskUsed = rs.TotalRiskUsed.Sub(amount)
	if rs.TotalRiskUsed.IsNegative() {
		rs.TotalRiskUsed = decimal.Zero
	}
	return nil
}

func (rs *RiskState) OpenCount() int { return len(rs.Positions) }

func (rs *RiskState) SymbolCount(symbol string) int {
	if _, ok := rs.Positions[symbol]; ok {
		return 1
	}
	return 0
}

// RiskEngine валидирует сигнал против лимитов и считает размер позиции.
// Вся денежная арифметика — decimal: двоичное округление не должно
// систематически съедать или раздувать бюджет риска.
type RiskEngine struct {
	cfg *config.Config
}

func NewRiskEngine(cfg *config.Config) *RiskEngine {
	return &RiskEngine{cfg: cfg}
}

// Evaluate выполняет полную цепочку риск-проверок и при
// успехе резервирует риск под будущий ордер. Вызывается только из
// сериализованного цикла: check-then-reserve здесь атомарен.
func (e *RiskEngine) Evaluate(sig models.Signal, longsPermitted bool, rs *RiskState) (*models.OrderIntent, error) {
	r := e.cfg.Risk

	// 1) гейт режима: при падающем BTC новые лонги запрещены,
	// независимо от остальных проверок
	if sig.Direction == models.DirectionLong && !longsPermitted {
		return nil, errors.Wrapf(models.ErrRegimeBlocked, "%s", sig.Symbol)
	}

	// 2) дубликат: по символу уже есть позиция (cap = 1 на символ)
	if rs.SymbolCount(sig.Symbol) >= r.MaxPositionsPerSymbol {
		return nil, errors.Wrapf(models.ErrPositionExists, "%s", sig.Symbol)
	}

	// 3) общий лимит позиций
	if rs.OpenCount() >= r.MaxPositions {
		return nil, errors.Wrapf(models.ErrMaxPositions, "%d open", rs.OpenCount())
	}

	if !rs.Balance.IsPositive() {
		return nil, models.ErrZeroBalance
	}
	entry := sig.Price
	if !entry.IsPositive() {
		return nil, errors.Errorf("signal %s: non-positive price %s", sig.Symbol, entry)
	}

	// 4) бюджет риска
	riskAmount := rs.Balance.Mul(helper.Pct(r.MaxRiskPerTrade))
	maxTotal := rs.Balance.Mul(helper.Pct(r.MaxRiskTotal))
	if rs.TotalRiskUsed.Add(riskAmount).GreaterThan(maxTotal) {
		return nil, errors.Wrapf(models.ErrRiskBudgetExceeded,
			"used=%s +%s > max=%s", rs.TotalRiskUsed, riskAmount, maxTotal)
	}

	// 5) сайзинг: полный ход до стопа стоит ровно riskAmount.
	// quantity = riskAmount * leverage / (entry * stopPct)
	stopFrac := helper.Pct(r.StopLossPercent)
	lev := decimal.NewFromInt(int64(r.Leverage))
	quantity := riskAmount.Mul(lev).Div(entry.Mul(stopFrac)).Round(8)
	if !quantity.IsPositive() {
		return nil, errors.Wrapf(models.ErrNotionalTooSmall, "%s: quantity=0", sig.Symbol)
	}

	quantity, err := e.boundNotional(sig.Symbol, entry, quantity, rs)
	if err != nil {
		return nil, err
	}

	// стоп от entry в сторону уменьшения риска
	dir := -1
	if sig.Direction == models.DirectionShort {
		dir = +1
	}
	stopPrice := helper.ApplyPct(entry, r.StopLossPercent, dir)

	// 6) risk/reward: цель от стратегии или производная от минимума
	riskDist := entry.Sub(stopPrice).Abs()
	takeProfit := sig.TakeProfit
	if takeProfit.IsZero() {
		rrDist := riskDist.Mul(decimal.NewFromFloat(r.MinRiskRewardRatio))
		if sig.Direction == models.DirectionShort {
			takeProfit = entry.Sub(rrDist)
		} else {
			takeProfit = entry.Add(rrDist)
		}
	}
	reward := takeProfit.Sub(entry).Abs()
	if riskDist.IsPositive() {
		rr := reward.Div(riskDist)
		if rr.LessThan(decimal.NewFromFloat(r.MinRiskRewardRatio)) {
			return nil, errors.Wrapf(models.ErrRiskRewardTooLow,
				"%s: rr=%s < %v", sig.Symbol, rr.StringFixed(2), r.MinRiskRewardRatio)
		}
	}

	// 7) принятие: резервируем риск. Освобождение — обязанность
	// вызывающего на каждом пути отказа после этой точки.
	token := rs.Reserve(riskAmount)

	logger.Info("[RISK] accept %s %s qty=%s entry=%s sl=%s tp=%s risk=%s used=%s",
		sig.Symbol, sig.Direction, quantity, entry, stopPrice, takeProfit,
		riskAmount, rs.TotalRiskUsed)

	return &models.OrderIntent{
		ID:            uuid.NewString(),
		Symbol:        sig.Symbol,
		Direction:     sig.Direction,
		Quantity:      quantity,
		Leverage:      r.Leverage,
		Entry:         entry,
		StopPrice:     stopPrice,
		TakeProfit:    takeProfit,
		RiskAmount:    riskAmount,
		ReservationID: token,
		Strategy:      sig.Strategy,
		CreatedAt:     time.Now(),
	}, nil
}

// boundNotional проверяет биржевые границы и плечо. По конфигурации
// либо ужимает размер, либо отклоняет (по умолчанию — отклоняет,
// молчаливый clamp только если явно включён).
func (e *RiskEngine) boundNotional(symbol string, entry, quantity decimal.Decimal, rs *RiskState) (decimal.Decimal, error) {
	r := e.cfg.Risk
	notional := quantity.Mul(entry)

	if r.MinNotional > 0 {
		min := decimal.NewFromFloat(r.MinNotional)
		if notional.LessThan(min) {
			if !r.ClampToLimits {
				return decimal.Zero, errors.Wrapf(models.ErrNotionalTooSmall,
					"%s: %s < %s", symbol, notional, min)
			}
			quantity = min.Div(entry).Round(8)
			notional = quantity.Mul(entry)
		}
	}

	// верхняя граница: биржевой максимум и максимум по плечу
	max := decimal.NewFromFloat(r.MaxNotional)
	levMax := rs.Balance.Mul(decimal.NewFromInt(int64(r.Leverage)))
	if max.IsZero() || levMax.LessThan(max) {
		max = levMax
	}
	if max.IsPositive() && notional.GreaterThan(max) {
		if !r.ClampToLimits {
			return decimal.Zero, errors.Wrapf(models.ErrNotionalTooLarge,
				"%s: %s > %s", symbol, notional, max)
		}
		quantity = max.Div(entry).Round(8)
	}
	return quantity, nil
}
