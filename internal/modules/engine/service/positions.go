package service

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"trend_bot/internal/helper"
	"trend_bot/internal/models"
	"trend_bot/internal/modules/config"
	"trend_bot/pkg/logger"
)

// PositionAction — что цикл должен сделать с позицией после обработки
// тика цены. Менеджер сам биржу не трогает, только решает.
type PositionAction struct {
	Close     bool
	Reason    models.ExitReason
	StopMoved bool
	ExitPrice decimal.Decimal // цена срабатывания стопа (для учёта)
}

// PositionManager ведёт жизненный цикл открытых позиций:
// подтверждение исполнения, трейлинг-стоп, закрытие, реконсиляция.
// Не потокобезопасен сам по себе — им владеет событийный цикл.
type PositionManager struct {
	cfg   *config.Config
	state *RiskState
	seen  map[string]struct{} // orderID исполнений, для идемпотентности
}

func NewPositionManager(cfg *config.Config, state *RiskState) *PositionManager {
	return &PositionManager{
		cfg:   cfg,
		state: state,
		seen:  make(map[string]struct{}),
	}
}

// OnFill переводит намерение в открытую позицию. Стоп пересчитывается
// от фактической цены исполнения, не от цены сигнала. Повторная
// доставка того же исполнения — no-op.
func (pm *PositionManager) OnFill(intent models.OrderIntent, fill models.Fill) *models.Position {
	if _, ok := pm.seen[fill.OrderID]; ok {
		logger.Info("[POS] duplicate fill ignored order=%s", fill.OrderID)
		return nil
	}
	pm.seen[fill.OrderID] = struct{}{}

	dir := -1
	if intent.Direction == models.DirectionShort {
		dir = +1
	}
	pos := &models.Position{
		Symbol:        intent.Symbol,
		Direction:     intent.Direction,
		Entry:         fill.Price,
		Quantity:      fill.Quantity,
		Leverage:      intent.Leverage,
		StopPrice:     helper.ApplyPct(fill.Price, pm.cfg.Risk.StopLossPercent, dir),
		TakeProfit:    intent.TakeProfit,
		RiskAmount:    intent.RiskAmount,
		ReservationID: intent.ReservationID,
		State:         models.StateArmed,
		HighWater:     fill.Price,
		Strategy:      intent.Strategy,
		OpenedAt:      fill.At,
	}
	pm.state.Positions[pos.Symbol] = pos

	logger.Info("[POS] open %s %s qty=%s entry=%s sl=%s",
		pos.Symbol, pos.Direction, pos.Quantity, pos.Entry, pos.StopPrice)
	metricPositionsOpen.Set(float64(pm.state.OpenCount()))
	return pos
}

// OnPriceUpdate прогоняет тик через машину состояний позиции.
// Порядок важен: сначала проверка стопа по текущему уровню, потом
// подтяжка. Выход всегда считается по стопу, действовавшему до тика.
func (pm *PositionManager) OnPriceUpdate(symbol string, price decimal.Decimal) PositionAction {
	pos, ok := pm.state.Positions[symbol]
	if !ok || pos.State == models.StateClosed {
		return PositionAction{}
	}

	if stopCrossed(pos, price) {
		reason := models.ExitStopLoss
		if pos.State == models.StateTrailing {
			reason = models.ExitTrailingStop
		}
		return PositionAction{Close: true, Reason: reason, ExitPrice: pos.StopPrice}
	}

	if !pm.cfg.Risk.TrailingStopEnabled {
		return PositionAction{}
	}

	moved := false
	switch pos.State {
	case models.StateArmed:
		if betterThan(pos, price, pos.HighWater) {
			pos.HighWater = price
		}
		// активация: цена ушла в профит на activation %
		act := helper.ApplyPct(pos.Entry, pm.cfg.Risk.TrailingStopActivation, profitDir(pos))
		if betterOrEqual(pos, pos.HighWater, act) {
			pos.State = models.StateTrailing
			moved = pm.tighten(pos)
			logger.Info("[POS] %s trailing armed hw=%s sl=%s", pos.Symbol, pos.HighWater, pos.StopPrice)
		}
	case models.StateTrailing:
		if betterThan(pos, price, pos.HighWater) {
			pos.HighWater = price
			moved = pm.tighten(pos)
		}
	}
	return PositionAction{StopMoved: moved}
}

// tighten подтягивает стоп на callback % от high-water. Стоп только
// улучшается: монотонность — инвариант машины.
func (pm *PositionManager) tighten(pos *models.Position) bool {
	candidate := helper.ApplyPct(pos.HighWater, pm.cfg.Risk.TrailingStopCallback, -profitDir(pos))
	if betterThan(pos, candidate, pos.StopPrice) {
		pos.StopPrice = candidate
		return true
	}
	return false
}

// OnClose финализирует позицию: снимает её из состояния, освобождает
// резервацию риска (ровно один раз) и отдаёт запись о сделке.
func (pm *PositionManager) OnClose(symbol string, exitPrice decimal.Decimal, reason models.ExitReason) (*models.ClosedTrade, error) {
	pos, ok := pm.state.Positions[symbol]
	if !ok {
		return nil, errors.Wrapf(models.ErrUnknownPosition, "%s", symbol)
	}
	pos.State = models.StateClosed
	delete(pm.state.Positions, symbol)

	if err := pm.state.Release(pos.ReservationID); err != nil {
		// учёт уже разъехался, дальше только громко жаловаться
		logger.Error("%v", errors.Wrapf(err, "release on close %s", symbol))
	}

	pnl := pos.UnrealizedPnL(exitPrice)
	pm.state.Balance = pm.state.Balance.Add(pnl)

	trade := &models.ClosedTrade{
		Symbol:    pos.Symbol,
		Direction: pos.Direction,
		Strategy:  pos.Strategy,
		Entry:     pos.Entry,
		Exit:      exitPrice,
		Quantity:  pos.Quantity,
		PnL:       pnl,
		Reason:    reason,
		OpenedAt:  pos.OpenedAt,
		ClosedAt:  time.Now(),
	}

	logger.Info("[POS] close %s %s exit=%s pnl=%s reason=%s balance=%s",
		pos.Symbol, pos.Direction, exitPrice, pnl.StringFixed(4), reason, pm.state.Balance.StringFixed(2))
	metricPositionsOpen.Set(float64(pm.state.OpenCount()))
	metricTradesClosed.WithLabelValues(string(reason)).Inc()
	metricPnL.Add(pnl.InexactFloat64())
	return trade, nil
}

// Reconcile сверяет локальное состояние с биржевой правдой.
// Биржа — источник истины: чего нет на бирже, того нет и у нас.
func (pm *PositionManager) Reconcile(external []models.ExternalPosition) []*models.ClosedTrade {
	bylive := make(map[string]models.ExternalPosition, len(external))
	for _, ep := range external {
		bylive[ep.Symbol] = ep
	}

	var closed []*models.ClosedTrade
	for symbol, pos := range pm.state.Positions {
		ep, ok := bylive[symbol]
		if !ok {
			// позиция исчезла (ликвидация, ручное закрытие):
			// закрываем локально по последнему стопу
			logger.Error("%v", errors.Errorf("reconcile: %s gone on exchange", symbol))
			if trade, err := pm.OnClose(symbol, pos.StopPrice, models.ExitReconciled); err == nil {
				closed = append(closed, trade)
			}
			continue
		}
		if !ep.Quantity.Equal(pos.Quantity) {
			logger.Info("[POS] reconcile %s qty %s -> %s", symbol, pos.Quantity, ep.Quantity)
			pos.Quantity = ep.Quantity
		}
	}

	// неизвестные позиции принимаем без резервации: их риск не наш
	for symbol, ep := range bylive {
		if _, ok := pm.state.Positions[symbol]; ok {
			continue
		}
		dir := -1
		if ep.Direction == models.DirectionShort {
			dir = +1
		}
		pm.state.Positions[symbol] = &models.Position{
			Symbol:    symbol,
			Direction: ep.Direction,
			Entry:     ep.Entry,
			Quantity:  ep.Quantity,
			Leverage:  pm.cfg.Risk.Leverage,
			StopPrice: helper.ApplyPct(ep.Entry, pm.cfg.Risk.StopLossPercent, dir),
			State:     models.StateArmed,
			HighWater: ep.Entry,
			OpenedAt:  time.Now(),
		}
		logger.Info("[POS] reconcile adopted %s %s qty=%s", symbol, ep.Direction, ep.Quantity)
	}
	metricPositionsOpen.Set(float64(pm.state.OpenCount()))
	return closed
}

// --- направление профита и сравнения, валидные для long и short ---

func profitDir(pos *models.Position) int {
	if pos.Direction == models.DirectionShort {
		return -1
	}
	return +1
}

// betterThan: a выгоднее b с точки зрения позиции
func betterThan(pos *models.Position, a, b decimal.Decimal) bool {
	if pos.Direction == models.DirectionShort {
		return a.LessThan(b)
	}
	return a.GreaterThan(b)
}

func betterOrEqual(pos *models.Position, a, b decimal.Decimal) bool {
	return a.Equal(b) || betterThan(pos, a, b)
}

func stopCrossed(pos *models.Position, price decimal.Decimal) bool {
	if pos.Direction == models.DirectionShort {
		return price.GreaterThanOrEqual(pos.StopPrice)
	}
	return price.LessThanOrEqual(pos.StopPrice)
}
