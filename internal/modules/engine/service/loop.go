package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"trend_bot/internal/exchange"
	"trend_bot/internal/models"
	"trend_bot/internal/modules/config"
	regimeservice "trend_bot/internal/modules/regime/service"
	"trend_bot/pkg/logger"
)

// Notifier — исходящие уведомления (telegram или stdout).
type Notifier interface {
	Sendf(format string, args ...interface{})
}

// TradeRecorder — журнал закрытых сделок.
type TradeRecorder interface {
	Record(ctx context.Context, trade *models.ClosedTrade) error
}

type evKind int

const (
	evSignal evKind = iota
	evPrice
	evFill
	evSubmitErr
	evCloseDone
	evReconcile
	evStats
)

type event struct {
	kind     evKind
	signal   models.Signal
	symbol   string
	price    decimal.Decimal
	intent   models.OrderIntent
	fill     models.Fill
	reason   models.ExitReason
	err      error
	external []models.ExternalPosition
	balance  decimal.Decimal
	hasBal   bool
}

// Loop — сериализованный цикл движка. Все мутации RiskState происходят
// в одной горутине: порядок событий и атомарность check-then-reserve
// обеспечиваются очередью, а не локами.
type Loop struct {
	cfg       *config.Config
	gw        exchange.Gateway
	risk      *RiskEngine
	positions *PositionManager
	state     *RiskState
	regime    *regimeservice.Filter
	notify    Notifier
	recorder  TradeRecorder

	events   chan event
	stopped  atomic.Bool
	inflight sync.WaitGroup

	// символы с ордером в полёте: сигнал по такому символу отклоняется
	// (первый пришедший выигрывает)
	pending map[string]struct{}

	// символы с уходящим закрытием: цикл не трогает позицию и не
	// открывает новую, пока результат не вернётся событием
	pendingClose map[string]struct{}

	stats statsAgg
}

type statsAgg struct {
	signals, accepted, rejected int
	closed                      int
	startedAt                   time.Time
}

func NewLoop(
	cfg *config.Config,
	gw exchange.Gateway,
	risk *RiskEngine,
	positions *PositionManager,
	state *RiskState,
	regime *regimeservice.Filter,
	notify Notifier,
	recorder TradeRecorder,
) *Loop {
	return &Loop{
		cfg:          cfg,
		gw:           gw,
		risk:         risk,
		positions:    positions,
		state:        state,
		regime:       regime,
		notify:       notify,
		recorder:     recorder,
		events:       make(chan event, 1024),
		pending:      make(map[string]struct{}),
		pendingClose: make(map[string]struct{}),
		stats:        statsAgg{startedAt: time.Now()},
	}
}

// OnSignal — вход для стратегий. После останова сигналы отбрасываются.
func (l *Loop) OnSignal(sig models.Signal) {
	if l.stopped.Load() {
		return
	}
	l.events <- event{kind: evSignal, signal: sig}
	metricQueueDepth.Set(float64(len(l.events)))
}

// OnPrice — вход для маркет-данных.
func (l *Loop) OnPrice(symbol string, price decimal.Decimal) {
	if l.stopped.Load() {
		return
	}
	l.events <- event{kind: evPrice, symbol: symbol, price: price}
}

// post — внутренние события (результаты сабмита, реконсиляция).
// Не отбрасываются никогда: без них разъедется учёт риска.
func (l *Loop) post(ev event) {
	l.events <- ev
}

// Run крутит цикл до отмены контекста, затем дожидается ордеров в
// полёте, дочитывает очередь и пишет снапшот открытых позиций.
func (l *Loop) Run(ctx context.Context) error {
	if l.cfg.Mode == config.ModeLive {
		go l.reconcileTicker(ctx)
	}
	if l.cfg.Trading.StatsInterval > 0 {
		go l.statsTicker(ctx)
	}

	for {
		select {
		case ev := <-l.events:
			l.handle(ctx, ev)
			metricQueueDepth.Set(float64(len(l.events)))
		case <-ctx.Done():
			return l.drain()
		}
	}
}

func (l *Loop) drain() error {
	l.stopped.Store(true)
	done := make(chan struct{})
	go func() {
		l.inflight.Wait()
		close(done)
	}()

	bg := context.Background()
	for {
		select {
		case ev := <-l.events:
			l.handle(bg, ev)
		case <-done:
			for {
				select {
				case ev := <-l.events:
					l.handle(bg, ev)
				default:
					logger.Info("[ENGINE] drained, %d positions left open", l.state.OpenCount())
					return l.writeSnapshot()
				}
			}
		}
	}
}

func (l *Loop) handle(ctx context.Context, ev event) {
	switch ev.kind {
	case evSignal:
		l.handleSignal(ctx, ev.signal)
	case evPrice:
		l.handlePrice(ctx, ev.symbol, ev.price)
	case evFill:
		delete(l.pending, ev.intent.Symbol)
		l.positions.OnFill(ev.intent, ev.fill)
		metricSignals.WithLabelValues("filled").Inc()
		l.notify.Sendf("▶️ %s %s qty=%s @ %s sl=%s",
			ev.intent.Symbol, ev.intent.Direction, ev.fill.Quantity, ev.fill.Price, ev.intent.StopPrice)
	case evSubmitErr:
		delete(l.pending, ev.intent.Symbol)
		if err := l.state.Release(ev.intent.ReservationID); err != nil {
			logger.Error("%v", errors.Wrap(err, "release after submit failure"))
		}
		metricSignals.WithLabelValues("submit_failed").Inc()
		logger.Error("%v", errors.Wrapf(ev.err, "submit %s %s", ev.intent.Symbol, ev.intent.Direction))
		l.notify.Sendf("⚠️ order %s %s failed: %v", ev.intent.Symbol, ev.intent.Direction, ev.err)
	case evCloseDone:
		l.finalizeClose(ctx, ev)
	case evReconcile:
		if ev.hasBal {
			l.state.Balance = ev.balance
		}
		for _, trade := range l.positions.Reconcile(ev.external) {
			l.record(ctx, trade)
		}
		metricBalance.Set(l.state.Balance.InexactFloat64())
	case evStats:
		l.reportStats()
	}
}

func (l *Loop) handleSignal(ctx context.Context, sig models.Signal) {
	l.stats.signals++

	if sig.Direction == models.DirectionClose {
		if _, ok := l.state.Positions[sig.Symbol]; ok {
			l.closePosition(ctx, sig.Symbol, sig.Price, models.ExitSignal)
		}
		return
	}

	if _, busy := l.pending[sig.Symbol]; busy {
		l.reject(sig, models.ErrConflictingSignal)
		return
	}
	// пока закрытие в полёте, риск по символу ещё занят: новый вход
	// возможен только после обработки результата закрытия
	if _, busy := l.pendingClose[sig.Symbol]; busy {
		l.reject(sig, models.ErrConflictingSignal)
		return
	}

	// противоположный сигнал по открытой позиции — это выход, не вход
	if pos, ok := l.state.Positions[sig.Symbol]; ok && pos.Direction == sig.Direction.Opposite() {
		l.closePosition(ctx, sig.Symbol, sig.Price, models.ExitSignal)
		return
	}

	intent, err := l.risk.Evaluate(sig, l.regime.LongsPermitted(), l.state)
	if err != nil {
		l.reject(sig, err)
		return
	}
	l.stats.accepted++

	if l.cfg.Mode == config.ModeLive {
		l.pending[sig.Symbol] = struct{}{}
		l.inflight.Add(1)
		go l.submit(*intent)
		return
	}
	// paper/backtest: исполнение синхронное, результат обрабатываем
	// на месте — слать самому себе в очередь из цикла нельзя
	fill, err := l.gw.Submit(ctx, *intent)
	if err != nil {
		l.handle(ctx, event{kind: evSubmitErr, intent: *intent, err: err})
		return
	}
	l.handle(ctx, event{kind: evFill, intent: *intent, fill: fill})
}

// submit выставляет ордер с таймаутом и одним ретраем. Любой исход
// возвращается в цикл событием: резервация освобождается там.
func (l *Loop) submit(intent models.OrderIntent) {
	defer l.inflight.Done()
	started := time.Now()

	span := opentracing.StartSpan("order.submit")
	span.SetTag("symbol", intent.Symbol)
	span.SetTag("direction", string(intent.Direction))
	defer span.Finish()

	ctx, cancel := context.WithTimeout(
		opentracing.ContextWithSpan(context.Background(), span), l.cfg.Submit.Timeout)
	defer cancel()

	fill, err := l.gw.Submit(ctx, intent)
	if err != nil && l.cfg.Submit.RetryOnce && !models.IsValidationRejection(err) {
		time.Sleep(l.cfg.Submit.Backoff)
		rctx, rcancel := context.WithTimeout(context.Background(), l.cfg.Submit.Timeout)
		fill, err = l.gw.Submit(rctx, intent)
		rcancel()
	}
	metricSubmitLatency.Observe(time.Since(started).Seconds())

	if err != nil {
		span.SetTag("error", true)
		// ордер мог пройти при оборванном ответе: таймаут трактуем как
		// отказ, реконсиляция подберёт позицию если она всё же открылась
		l.post(event{kind: evSubmitErr, intent: intent, err: err})
		return
	}
	l.post(event{kind: evFill, intent: intent, fill: fill})
}

func (l *Loop) handlePrice(ctx context.Context, symbol string, price decimal.Decimal) {
	act := l.positions.OnPriceUpdate(symbol, price)
	if act.Close {
		l.closePosition(ctx, symbol, act.ExitPrice, act.Reason)
	}
}

// closePosition инициирует закрытие. В live сетевой вызов уходит в
// горутину, результат возвращается событием: цикл не должен стоять на
// REST-вызове, пока у остальных символов тикают стопы.
func (l *Loop) closePosition(ctx context.Context, symbol string, refPrice decimal.Decimal, reason models.ExitReason) {
	pos, ok := l.state.Positions[symbol]
	if !ok {
		return
	}
	if _, busy := l.pendingClose[symbol]; busy {
		return
	}
	l.pendingClose[symbol] = struct{}{}

	if l.cfg.Mode == config.ModeLive {
		dir, qty := pos.Direction, pos.Quantity
		l.inflight.Add(1)
		go func() {
			defer l.inflight.Done()
			cctx, cancel := context.WithTimeout(context.Background(), l.cfg.Submit.Timeout)
			fill, err := l.gw.ClosePosition(cctx, symbol, dir, qty, refPrice)
			cancel()
			l.post(event{kind: evCloseDone, symbol: symbol, fill: fill, reason: reason, err: err})
		}()
		return
	}
	// paper/backtest: исполнение синхронное, результат на месте
	fill, err := l.gw.ClosePosition(ctx, symbol, pos.Direction, pos.Quantity, refPrice)
	l.handle(ctx, event{kind: evCloseDone, symbol: symbol, fill: fill, reason: reason, err: err})
}

func (l *Loop) finalizeClose(ctx context.Context, ev event) {
	delete(l.pendingClose, ev.symbol)
	if ev.err != nil {
		// позиция остаётся, стоп сработает снова на следующем тике
		logger.Error("%v", errors.Wrapf(ev.err, "close %s", ev.symbol))
		return
	}
	trade, err := l.positions.OnClose(ev.symbol, ev.fill.Price, ev.reason)
	if err != nil {
		// реконсиляция могла закрыть позицию, пока ордер был в полёте
		logger.Error("%v", errors.Wrapf(err, "finalize close %s", ev.symbol))
		return
	}
	l.stats.closed++
	l.record(ctx, trade)
	l.notify.Sendf("⏹ %s %s exit=%s pnl=%s (%s)",
		trade.Symbol, trade.Direction, trade.Exit, trade.PnL.StringFixed(4), ev.reason)
}

func (l *Loop) record(ctx context.Context, trade *models.ClosedTrade) {
	if l.recorder == nil {
		return
	}
	if err := l.recorder.Record(ctx, trade); err != nil {
		logger.Error("%v", errors.Wrapf(err, "record trade %s", trade.Symbol))
	}
}

func (l *Loop) reject(sig models.Signal, err error) {
	l.stats.rejected++
	reason := rejectReason(err)
	metricSignals.WithLabelValues("rejected").Inc()
	metricRejects.WithLabelValues(reason).Inc()
	logger.Info("[RISK] reject %s %s: %v", sig.Symbol, sig.Direction, err)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, models.ErrRegimeBlocked):
		return "regime"
	case errors.Is(err, models.ErrPositionExists):
		return "duplicate"
	case errors.Is(err, models.ErrConflictingSignal):
		return "conflict"
	case errors.Is(err, models.ErrMaxPositions):
		return "max_positions"
	case errors.Is(err, models.ErrRiskBudgetExceeded):
		return "risk_budget"
	case errors.Is(err, models.ErrNotionalTooSmall):
		return "notional_min"
	case errors.Is(err, models.ErrNotionalTooLarge):
		return "notional_max"
	case errors.Is(err, models.ErrRiskRewardTooLow):
		return "risk_reward"
	case errors.Is(err, models.ErrZeroBalance):
		return "zero_balance"
	default:
		return "other"
	}
}

// reconcileTicker периодически сверяет состояние с биржей. Сетевые
// вызовы делаются тут, в цикл уходит только готовый снимок.
func (l *Loop) reconcileTicker(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.Reconcile.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ev := event{kind: evReconcile}
			ext, err := l.gw.OpenPositions(ctx)
			if err != nil {
				logger.Error("%v", errors.Wrap(err, "reconcile: open positions"))
				continue
			}
			ev.external = ext
			if bal, err := l.gw.Balance(ctx); err == nil {
				ev.balance = bal
				ev.hasBal = true
			} else {
				logger.Error("%v", errors.Wrap(err, "reconcile: balance"))
			}
			if l.stopped.Load() {
				return
			}
			l.events <- ev
		}
	}
}

func (l *Loop) statsTicker(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.Trading.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if l.stopped.Load() {
				return
			}
			l.events <- event{kind: evStats}
		}
	}
}

func (l *Loop) reportStats() {
	uptime := time.Since(l.stats.startedAt).Round(time.Minute)
	msg := fmt.Sprintf("📊 up %s | signals %d (ok %d / rej %d) | open %d | closed %d | risk used %s | balance %s | btc %s",
		uptime, l.stats.signals, l.stats.accepted, l.stats.rejected,
		l.state.OpenCount(), l.stats.closed,
		l.state.TotalRiskUsed.StringFixed(2), l.state.Balance.StringFixed(2),
		l.regime.Trend())
	logger.Info("%s", msg)
	l.notify.Sendf("%s", msg)
}
