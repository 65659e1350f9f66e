package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	yaml "gopkg.in/yaml.v2"

	"trend_bot/internal/exchange"
	"trend_bot/internal/indicators"
	"trend_bot/internal/models"
	"trend_bot/internal/modules/config"
	engineservice "trend_bot/internal/modules/engine/service"
	"trend_bot/internal/modules/market"
	marketservice "trend_bot/internal/modules/market/service"
	regimeservice "trend_bot/internal/modules/regime/service"
	strategyservice "trend_bot/internal/modules/strategy/service"
	"trend_bot/internal/notify"
	"trend_bot/internal/repository"
	"trend_bot/pkg/logger"
)

// barRecord — свеча из файла прогона.
type barRecord struct {
	Symbol    string  `yaml:"symbol"`
	Timeframe string  `yaml:"timeframe"`
	Start     int64   `yaml:"start"` // unix ms
	Open      float64 `yaml:"open"`
	High      float64 `yaml:"high"`
	Low       float64 `yaml:"low"`
	Close     float64 `yaml:"close"`
	Volume    float64 `yaml:"volume"`
}

func loadBars(path string) ([]models.CandleTick, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var records []barRecord
	if err := yaml.Unmarshal(raw, &records); err != nil {
		return nil, err
	}
	bars := make([]models.CandleTick, 0, len(records))
	for _, r := range records {
		bars = append(bars, models.CandleTick{
			Symbol:       r.Symbol,
			Open:         r.Open,
			High:         r.High,
			Low:          r.Low,
			Close:        r.Close,
			Volume:       r.Volume,
			Start:        time.UnixMilli(r.Start),
			End:          time.UnixMilli(r.Start),
			TimeframeRaw: r.Timeframe,
		})
	}
	return bars, nil
}

func main() {
	barsPath := flag.String("bars", "bars.yaml", "yaml файл со свечами, по возрастанию времени")
	flag.Parse()

	if err := logger.Init(); err != nil {
		panic(err)
	}
	logger.SetServiceName("trend_bot_backtest")

	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatal("config: %v", err)
	}
	cfg.Mode = config.ModeBacktest

	bars, err := loadBars(*barsPath)
	if err != nil {
		logger.Fatal("load bars: %v", err)
	}
	logger.Info("[BT] %d bars loaded from %s", len(bars), *barsPath)

	gw := exchange.NewPaperGateway(decimal.NewFromFloat(cfg.Paper.InitialBalance))
	state := engineservice.NewRiskState(decimal.NewFromFloat(cfg.Paper.InitialBalance))
	regime := regimeservice.NewFilter(cfg)
	trades := repository.NewTrades(nil)

	loop := engineservice.NewLoop(
		cfg, gw,
		engineservice.NewRiskEngine(cfg),
		engineservice.NewPositionManager(cfg, state),
		state, regime,
		&notify.Stdout{},
		trades,
	)

	engines := strategyservice.NewEngines(cfg)
	hub := strategyservice.NewHub(cfg, loop, nil, engines)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	book := marketservice.NewBook()
	params := market.RegimeParams(cfg)
	for _, bar := range bars {
		book.Add(bar)
		if bar.Symbol == cfg.Regime.Symbol && bar.TimeframeRaw == cfg.Regime.Timeframe {
			series := book.Bars(bar.Symbol, bar.TimeframeRaw)
			if len(series) >= params.MinBars() {
				regime.Update(indicators.Compute(series, params))
			}
		}
		loop.OnPrice(bar.Symbol, decimal.NewFromFloat(bar.Close))
		hub.OnCandle(ctx, bar)
	}

	// дожидаемся обработки хвоста очереди и останавливаем цикл
	cancel()
	if err := <-done; err != nil {
		logger.Error("%v", err)
	}

	report(cfg, state, trades.All())
}

func report(cfg *config.Config, state *engineservice.RiskState, trades []*models.ClosedTrade) {
	initial := decimal.NewFromFloat(cfg.Paper.InitialBalance)
	pnl := state.Balance.Sub(initial)

	wins := 0
	for _, t := range trades {
		if t.PnL.IsPositive() {
			wins++
		}
	}
	winRate := 0.0
	if len(trades) > 0 {
		winRate = float64(wins) / float64(len(trades)) * 100
	}

	fmt.Printf("\n=== backtest report ===\n")
	fmt.Printf("trades:   %d (wins %d, win rate %.1f%%)\n", len(trades), wins, winRate)
	fmt.Printf("balance:  %s -> %s (pnl %s)\n", initial.StringFixed(2), state.Balance.StringFixed(2), pnl.StringFixed(2))
	fmt.Printf("open left: %d\n", state.OpenCount())
	for _, t := range trades {
		fmt.Printf("  %s %-5s %-8s entry=%s exit=%s pnl=%s dur=%s reason=%s\n",
			t.Symbol, t.Direction, t.Strategy,
			t.Entry.StringFixed(4), t.Exit.StringFixed(4), t.PnL.StringFixed(4),
			t.Duration().Round(time.Minute), t.Reason)
	}
}
