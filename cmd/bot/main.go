package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"

	"trend_bot/internal/exchange"
	"trend_bot/internal/modules/config"
	"trend_bot/internal/modules/engine"
	engineservice "trend_bot/internal/modules/engine/service"
	"trend_bot/internal/modules/health"
	"trend_bot/internal/modules/market"
	"trend_bot/internal/modules/postgres"
	"trend_bot/internal/modules/regime"
	"trend_bot/internal/modules/strategy"
	strategyservice "trend_bot/internal/modules/strategy/service"
	"trend_bot/internal/notify"
	"trend_bot/internal/repository"
	"trend_bot/pkg/logger"
	"trend_bot/pkg/tracing"
)

const serviceName = "trend_bot"

func newGateway(cfg *config.Config) exchange.Gateway {
	if cfg.Mode == config.ModeLive {
		return exchange.NewBybitGateway(cfg.Exchange.RESTHost, cfg.Exchange.APIKey, cfg.Exchange.APISecret)
	}
	return exchange.NewPaperGateway(decimal.NewFromFloat(cfg.Paper.InitialBalance))
}

func main() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	logger.SetServiceName(serviceName)
	tracing.SetServiceName(serviceName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app := fx.New(
		fx.Provide(
			func() context.Context { return ctx },
			newGateway,
			notify.NewNotifier,
			func(n notify.Notifier) engineservice.Notifier { return n },
			func(n notify.Notifier) strategyservice.Notifier { return n },
			repository.NewTrades,
			func(t *repository.Trades) engineservice.TradeRecorder { return t },
		),
		config.Module(),
		postgres.Module(),
		regime.Module(),
		engine.Module(),
		market.Module(),
		strategy.Module(),
		health.Module(),
		fx.Invoke(func(cfg *config.Config) error {
			if cfg.Jaeger.Host == "" {
				return nil
			}
			_, closeTracer, err := tracing.InitTracer(tracing.Config{
				Host: cfg.Jaeger.Host,
				Port: cfg.Jaeger.Port,
			})
			if err != nil {
				// трейсинг опционален, без агента просто едем дальше
				logger.Info("[MAIN] jaeger init failed: %v", err)
				return nil
			}
			_ = closeTracer
			return nil
		}),
	)

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startCancel()
	if err := app.Start(startCtx); err != nil {
		logger.Fatal("app start: %v", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("[MAIN] shutdown requested")
	// сначала гасим цикл движка: дренаж очереди и снапшот позиций
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		logger.Error("%v", err)
	}
}
