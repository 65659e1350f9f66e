package market

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"

	"trend_bot/internal/indicators"
	"trend_bot/internal/models"
	"trend_bot/internal/modules/config"
	engineservice "trend_bot/internal/modules/engine/service"
	healthservice "trend_bot/internal/modules/health/service"
	"trend_bot/internal/modules/market/service"
	regimeservice "trend_bot/internal/modules/regime/service"
	"trend_bot/pkg/logger"
)

func newCandlesChan() chan models.CandleTick {
	// общий буфер для свечей со всех таймфреймов
	return make(chan models.CandleTick, 1024)
}

// CandleConsumer — получатель закрытых свечей после раздачи
// маркет-данных (стратегический хаб).
type CandleConsumer interface {
	OnCandle(ctx context.Context, tick models.CandleTick)
}

// Module поднимает стример свечей Bybit и раздачу маркет-данных:
// движку — цены, фильтру режима — BTC-снапшоты, стратегиям — свечи.
func Module() fx.Option {
	return fx.Module("market",
		fx.Provide(
			service.NewClient,
			service.NewHistory,
			service.NewBook,
			newCandlesChan,
		),
		fx.Invoke(func(
			lc fx.Lifecycle,
			ctx context.Context,
			cfg *config.Config,
			client *service.Client,
			hist *service.History,
			book *service.Book,
			regime *regimeservice.Filter,
			loop *engineservice.Loop,
			consumer CandleConsumer,
			state *healthservice.State,
			candles chan models.CandleTick,
		) {
			lc.Append(fx.Hook{
				OnStart: func(startCtx context.Context) error {
					if cfg.Mode == config.ModeBacktest {
						// в бэктесте свечи льёт раннер из файла
						return nil
					}
					if err := warmup(startCtx, cfg, hist, book, regime); err != nil {
						return err
					}
					state.SetReady(true)
					streams := subscriptions(cfg)
					for tf, syms := range streams {
						go fanIn(ctx, client.StreamKlines(ctx, syms, tf), candles)
					}
					go dispatch(ctx, cfg, candles, book, regime, loop, consumer, state)
					return nil
				},
			})
		}),
	)
}

// subscriptions группирует символы по таймфреймам: один WS на таймфрейм.
// BTC-пара режима добавляется к своему таймфрейму.
func subscriptions(cfg *config.Config) map[string][]string {
	streams := make(map[string][]string)
	for _, tf := range cfg.Trading.Intervals {
		streams[tf] = append([]string(nil), cfg.Trading.Symbols...)
	}
	rtf := cfg.Regime.Timeframe
	found := false
	for _, s := range streams[rtf] {
		if s == cfg.Regime.Symbol {
			found = true
			break
		}
	}
	if !found {
		streams[rtf] = append(streams[rtf], cfg.Regime.Symbol)
	}
	return streams
}

// warmup прогревает буферы историей, чтобы индикаторы и фильтр режима
// были готовы с первого тика, а не после N свечей.
func warmup(ctx context.Context, cfg *config.Config, hist *service.History, book *service.Book, regime *regimeservice.Filter) error {
	params := RegimeParams(cfg)
	need := params.MinBars() + 10

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4) // не долбим REST всеми парами сразу

	for tf, syms := range subscriptions(cfg) {
		for _, symbol := range syms {
			tf, symbol := tf, symbol
			g.Go(func() error {
				bars, err := hist.Klines(gctx, symbol, tf, need)
				if err != nil {
					return errors.Wrapf(err, "warmup %s %s", symbol, tf)
				}
				book.Seed(symbol, tf, bars)
				logger.Info("[MARKET] warmup %s %s: %d bars", symbol, tf, len(bars))

				if symbol == cfg.Regime.Symbol && tf == cfg.Regime.Timeframe && len(bars) >= params.MinBars() {
					regime.Update(indicators.Compute(bars, params))
				}
				return nil
			})
		}
	}
	return g.Wait()
}

func fanIn(ctx context.Context, in <-chan models.CandleTick, out chan<- models.CandleTick) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- tick:
			case <-ctx.Done():
				return
			}
		}
	}
}

// dispatch — единая точка обработки закрытой свечи.
func dispatch(
	ctx context.Context,
	cfg *config.Config,
	candles <-chan models.CandleTick,
	book *service.Book,
	regime *regimeservice.Filter,
	loop *engineservice.Loop,
	consumer CandleConsumer,
	state *healthservice.State,
) {
	params := RegimeParams(cfg)
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-candles:
			if !ok {
				return
			}
			book.Add(tick)
			state.SetWSConnected(true)
			state.TouchTick(tick.End)

			if tick.Symbol == cfg.Regime.Symbol && tick.TimeframeRaw == cfg.Regime.Timeframe {
				bars := book.Bars(tick.Symbol, tick.TimeframeRaw)
				if len(bars) >= params.MinBars() {
					regime.Update(indicators.Compute(bars, params))
					state.SetTrend(regime.Trend().String())
				}
			}

			loop.OnPrice(tick.Symbol, decimal.NewFromFloat(tick.Close))
			if consumer != nil {
				consumer.OnCandle(ctx, tick)
			}
		}
	}
}

func RegimeParams(cfg *config.Config) indicators.Params {
	p := indicators.DefaultParams()
	r := cfg.Regime
	if r.MAFast > 0 {
		p.MAFast = r.MAFast
	}
	if r.MASlow > 0 {
		p.MASlow = r.MASlow
	}
	if r.MACDFast > 0 {
		p.MACDFast = r.MACDFast
	}
	if r.MACDSlow > 0 {
		p.MACDSlow = r.MACDSlow
	}
	if r.MACDSignal > 0 {
		p.MACDSignal = r.MACDSignal
	}
	if r.RSIPeriod > 0 {
		p.RSIPeriod = r.RSIPeriod
	}
	return p
}
