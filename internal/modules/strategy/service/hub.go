package service

import (
	"context"
	"sync"

	"trend_bot/internal/models"
	"trend_bot/internal/modules/config"
	"trend_bot/pkg/logger"
)

// SignalSink — приёмник сигналов (движок риска).
type SignalSink interface {
	OnSignal(sig models.Signal)
}

type Notifier interface {
	Sendf(format string, args ...interface{})
}

// Hub раздаёт закрытые свечи по стратегиям и пробрасывает их сигналы
// в движок. Свечи не торговых таймфреймов (BTC для фильтра режима)
// до стратегий не доходят.
type Hub struct {
	cfg     *config.Config
	sink    SignalSink
	n       Notifier
	engines []Engine

	tradedTF  map[string]bool
	tradedSym map[string]bool

	mu         sync.Mutex
	readyCnt   int
	expectCnt  int
	warmupDone bool
}

func NewHub(cfg *config.Config, sink SignalSink, n Notifier, engines []Engine) *Hub {
	tfs := make(map[string]bool, len(cfg.Trading.Intervals))
	for _, tf := range cfg.Trading.Intervals {
		tfs[tf] = true
	}
	syms := make(map[string]bool, len(cfg.Trading.Symbols))
	for _, s := range cfg.Trading.Symbols {
		syms[s] = true
	}
	return &Hub{
		cfg:       cfg,
		sink:      sink,
		n:         n,
		engines:   engines,
		tradedTF:  tfs,
		tradedSym: syms,
		expectCnt: len(cfg.Trading.Intervals) * len(cfg.Trading.Symbols) * len(engines),
	}
}

func (h *Hub) OnCandle(ctx context.Context, t models.CandleTick) {
	if !h.tradedTF[t.TimeframeRaw] || !h.tradedSym[t.Symbol] {
		return
	}

	for _, e := range h.engines {
		sig, ok, becameReady := e.OnCandle(t)
		if becameReady {
			h.onBecameReady(e, t)
		}
		if !ok {
			continue
		}
		logger.Info("[STRAT] %s %s %s %s @ %s", sig.Strategy, sig.Symbol, sig.Timeframe, sig.Direction, sig.Price)
		h.sink.OnSignal(sig)
	}
}

func (h *Hub) onBecameReady(e Engine, t models.CandleTick) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.readyCnt++
	logger.Info("[STRAT] %s ready %s %s (%d/%d)", e.Name(), t.Symbol, t.TimeframeRaw, h.readyCnt, h.expectCnt)

	if !h.warmupDone && h.readyCnt >= h.expectCnt {
		h.warmupDone = true
		if h.n != nil {
			h.n.Sendf("✅ warmup finished: %d/%d ready", h.readyCnt, h.expectCnt)
		}
	}
}
