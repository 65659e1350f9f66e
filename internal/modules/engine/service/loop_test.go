package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trend_bot/internal/exchange"
	"trend_bot/internal/models"
	"trend_bot/internal/modules/config"
	regimeservice "trend_bot/internal/modules/regime/service"
)

type memRecorder struct {
	trades []*models.ClosedTrade
}

func (r *memRecorder) Record(_ context.Context, trade *models.ClosedTrade) error {
	r.trades = append(r.trades, trade)
	return nil
}

type silentNotifier struct{}

func (silentNotifier) Sendf(string, ...interface{}) {}

func bullishFilter(cfg *config.Config) *regimeservice.Filter {
	f := regimeservice.NewFilter(cfg)
	f.Update(models.IndicatorSnapshot{
		Symbol: "BTCUSDT", MAFast: 2, MASlow: 1,
		MACD: 1, MACDSignal: 0, RSI: 60, At: time.Now(),
	})
	return f
}

func newTestLoop(t *testing.T, cfg *config.Config) (*Loop, *exchange.PaperGateway, *memRecorder, *RiskState) {
	t.Helper()
	rs := NewRiskState(decimal.NewFromInt(10000))
	gw := exchange.NewPaperGateway(rs.Balance)
	rec := &memRecorder{}
	loop := NewLoop(cfg, gw, NewRiskEngine(cfg), NewPositionManager(cfg, rs), rs,
		bullishFilter(cfg), silentNotifier{}, rec)
	return loop, gw, rec, rs
}

func (l *Loop) feedSignal(ctx context.Context, sig models.Signal) {
	l.handle(ctx, event{kind: evSignal, signal: sig})
}

func (l *Loop) feedPrice(ctx context.Context, symbol string, price float64) {
	l.handle(ctx, event{kind: evPrice, symbol: symbol, price: decimal.NewFromFloat(price)})
}

func TestPaperSignalLifecycle(t *testing.T) {
	ctx := context.Background()
	loop, _, rec, rs := newTestLoop(t, testConfig())

	loop.feedSignal(ctx, longSignal("BTCUSDT", 50000))

	pos := rs.Positions["BTCUSDT"]
	require.NotNil(t, pos, "paper fill must open position inline")
	assert.True(t, rs.TotalRiskUsed.Equal(decimal.NewFromInt(100)))
	assert.True(t, pos.Quantity.Equal(decimal.NewFromFloat(0.6)))

	// рост на 1% активирует трейлинг, откат закрывает по стопу
	loop.feedPrice(ctx, "BTCUSDT", 50500)
	require.Equal(t, models.StateTrailing, pos.State)
	loop.feedPrice(ctx, "BTCUSDT", 50000)

	require.Len(t, rec.trades, 1)
	trade := rec.trades[0]
	assert.Equal(t, models.ExitTrailingStop, trade.Reason)
	// exit по стопу 50247.5, pnl = 247.5 * 0.6
	assert.True(t, trade.Exit.Equal(decimal.NewFromFloat(50247.5)), "exit=%s", trade.Exit)
	assert.True(t, trade.PnL.Equal(decimal.NewFromFloat(148.5)), "pnl=%s", trade.PnL)

	assert.True(t, rs.TotalRiskUsed.IsZero(), "reservation must be released on close")
	assert.Equal(t, 0, rs.OpenCount())
	assert.True(t, rs.Balance.Equal(decimal.NewFromFloat(10148.5)), "balance=%s", rs.Balance)
}

func TestSubmitRejectReleasesReservation(t *testing.T) {
	ctx := context.Background()
	loop, gw, rec, rs := newTestLoop(t, testConfig())
	gw.SetRejectHook(func(models.OrderIntent) error {
		return errors.Wrap(models.ErrSubmissionFailed, "insufficient margin")
	})

	loop.feedSignal(ctx, longSignal("BTCUSDT", 50000))

	assert.True(t, rs.TotalRiskUsed.IsZero(), "failed submit must roll back reservation")
	assert.Equal(t, 0, rs.OpenCount())
	assert.Empty(t, loop.pending)
	assert.Empty(t, rec.trades)
}

func TestOppositeSignalClosesPosition(t *testing.T) {
	ctx := context.Background()
	loop, _, rec, rs := newTestLoop(t, testConfig())

	loop.feedSignal(ctx, longSignal("BTCUSDT", 50000))
	require.Equal(t, 1, rs.OpenCount())

	short := longSignal("BTCUSDT", 50200)
	short.Direction = models.DirectionShort
	loop.feedSignal(ctx, short)

	// разворотный сигнал по открытой позиции — выход, не новый вход
	assert.Equal(t, 0, rs.OpenCount())
	require.Len(t, rec.trades, 1)
	assert.Equal(t, models.ExitSignal, rec.trades[0].Reason)
	assert.True(t, rec.trades[0].Exit.Equal(decimal.NewFromInt(50200)))
	assert.True(t, rs.TotalRiskUsed.IsZero())
}

func TestCloseDirectionSignal(t *testing.T) {
	ctx := context.Background()
	loop, _, rec, rs := newTestLoop(t, testConfig())

	loop.feedSignal(ctx, longSignal("BTCUSDT", 50000))

	closeSig := longSignal("BTCUSDT", 49900)
	closeSig.Direction = models.DirectionClose
	loop.feedSignal(ctx, closeSig)

	assert.Equal(t, 0, rs.OpenCount())
	require.Len(t, rec.trades, 1)
	assert.Equal(t, models.ExitSignal, rec.trades[0].Reason)

	// close без позиции — no-op
	loop.feedSignal(ctx, closeSig)
	assert.Len(t, rec.trades, 1)
}

func TestPendingSymbolConflicts(t *testing.T) {
	ctx := context.Background()
	loop, _, _, rs := newTestLoop(t, testConfig())
	loop.pending["BTCUSDT"] = struct{}{}

	loop.feedSignal(ctx, longSignal("BTCUSDT", 50000))

	assert.Equal(t, 0, rs.OpenCount())
	assert.True(t, rs.TotalRiskUsed.IsZero())
	assert.Equal(t, 1, loop.stats.rejected)
}

func TestRunDrainWritesSnapshot(t *testing.T) {
	cfg := testConfig()
	cfg.SnapshotFile = filepath.Join(t.TempDir(), "positions.yaml")
	loop, _, _, rs := newTestLoop(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	loop.OnSignal(longSignal("BTCUSDT", 50000))
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not drain")
	}

	// очередь дочитана до снапшота: позиция открыта и сохранена
	assert.Equal(t, 1, rs.OpenCount())
	assert.FileExists(t, cfg.SnapshotFile)

	// после останова вход закрыт
	loop.OnSignal(longSignal("ETHUSDT", 2000))
	assert.Equal(t, 1, rs.OpenCount())
}

// gatedGateway держит ClosePosition открытым, пока тест не отпустит
// release. Факт вызова виден через closeCalls.
type gatedGateway struct {
	closeCalls chan string
	release    chan struct{}
}

func (g *gatedGateway) Submit(_ context.Context, intent models.OrderIntent) (models.Fill, error) {
	return models.Fill{
		OrderID: intent.ID, Symbol: intent.Symbol,
		Price: intent.Entry, Quantity: intent.Quantity, At: time.Now(),
	}, nil
}

func (g *gatedGateway) ClosePosition(ctx context.Context, symbol string, _ models.Direction, qty, refPrice decimal.Decimal) (models.Fill, error) {
	g.closeCalls <- symbol
	select {
	case <-g.release:
	case <-ctx.Done():
		return models.Fill{}, ctx.Err()
	}
	return models.Fill{OrderID: symbol + "-close", Symbol: symbol, Price: refPrice, Quantity: qty, At: time.Now()}, nil
}

func (g *gatedGateway) Cancel(context.Context, string) error { return nil }

func (g *gatedGateway) Balance(context.Context) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (g *gatedGateway) OpenPositions(context.Context) ([]models.ExternalPosition, error) {
	return nil, nil
}

type chanRecorder struct {
	trades chan *models.ClosedTrade
}

func (r *chanRecorder) Record(_ context.Context, trade *models.ClosedTrade) error {
	r.trades <- trade
	return nil
}

func TestLiveCloseDoesNotStallLoop(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = config.ModeLive
	cfg.Submit.Timeout = 5 * time.Second
	cfg.Reconcile.Interval = time.Hour

	rs := NewRiskState(decimal.NewFromInt(10000))
	gw := &gatedGateway{closeCalls: make(chan string, 2), release: make(chan struct{})}
	pm := NewPositionManager(cfg, rs)
	rec := &chanRecorder{trades: make(chan *models.ClosedTrade, 2)}
	loop := NewLoop(cfg, gw, NewRiskEngine(cfg), pm, rs, bullishFilter(cfg), silentNotifier{}, rec)

	openLong(t, pm, "BTCUSDT", 50000)
	openLong(t, pm, "ETHUSDT", 2000)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	// стоп по BTC: закрытие уходит в горутину и висит на шлюзе
	loop.OnPrice("BTCUSDT", decimal.NewFromInt(49000))
	require.Equal(t, "BTCUSDT", <-gw.closeCalls)

	// пока закрытие в полёте, цикл обязан обслуживать другие символы
	loop.OnPrice("ETHUSDT", decimal.NewFromInt(1970))
	select {
	case sym := <-gw.closeCalls:
		assert.Equal(t, "ETHUSDT", sym)
	case <-time.After(2 * time.Second):
		t.Fatal("event loop stalled behind in-flight close")
	}

	// новый вход по символу с уходящим закрытием отклоняется
	loop.OnSignal(longSignal("BTCUSDT", 49000))

	close(gw.release)
	for i := 0; i < 2; i++ {
		select {
		case <-rec.trades:
		case <-time.After(2 * time.Second):
			t.Fatal("close result not finalized")
		}
	}

	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 0, rs.OpenCount())
	assert.True(t, rs.TotalRiskUsed.IsZero())
	assert.Empty(t, loop.pendingClose)
	assert.Equal(t, 1, loop.stats.rejected)
}

func TestReconcileEvent(t *testing.T) {
	ctx := context.Background()
	loop, _, rec, rs := newTestLoop(t, testConfig())

	loop.feedSignal(ctx, longSignal("BTCUSDT", 50000))
	require.Equal(t, 1, rs.OpenCount())

	// биржа говорит: позиций нет, баланс другой
	loop.handle(ctx, event{
		kind:    evReconcile,
		balance: decimal.NewFromInt(9500),
		hasBal:  true,
	})

	assert.Equal(t, 0, rs.OpenCount())
	require.Len(t, rec.trades, 1)
	assert.Equal(t, models.ExitReconciled, rec.trades[0].Reason)
	// баланс с биржи применился до pnl-коррекции закрытия
	assert.False(t, rs.Balance.Equal(decimal.NewFromInt(10000)))
}
