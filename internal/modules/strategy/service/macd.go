package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"trend_bot/internal/helper"
	"trend_bot/internal/indicators"
	"trend_bot/internal/models"
)

const barsDepth = 300

// MACDStrategy — сигнал на пересечении линии MACD и сигнальной.
// Бычий кросс (гистограмма из минуса в плюс) — long, медвежий — short.
// Один сигнал на смену стороны, как и в остальных стратегиях.
type MACDStrategy struct {
	mu sync.Mutex

	params indicators.Params

	closes   map[string][]float64
	lastHist map[string]float64
	hasHist  map[string]bool
	lastSide map[string]models.Direction
	ready    map[string]bool
}

func NewMACDStrategy(params indicators.Params) *MACDStrategy {
	return &MACDStrategy{
		params:   params,
		closes:   map[string][]float64{},
		lastHist: map[string]float64{},
		hasHist:  map[string]bool{},
		lastSide: map[string]models.Direction{},
		ready:    map[string]bool{},
	}
}

func (s *MACDStrategy) Name() models.StrategyType { return models.StrategyMACD }

func (s *MACDStrategy) IsReady(symbol, tf string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready[helper.EvalKey(symbol, helper.NormTF(tf), string(models.StrategyMACD))]
}

func (s *MACDStrategy) OnCandle(t models.CandleTick) (models.Signal, bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := helper.EvalKey(t.Symbol, helper.NormTF(t.TimeframeRaw), string(models.StrategyMACD))
	closes := append(s.closes[key], t.Close)
	if len(closes) > barsDepth {
		closes = closes[len(closes)-barsDepth:]
	}
	s.closes[key] = closes

	need := s.params.MACDSlow + s.params.MACDSignal
	if len(closes) < need {
		return models.Signal{}, false, false
	}

	becameReady := false
	if !s.ready[key] {
		s.ready[key] = true
		becameReady = true
	}

	_, _, hist := indicators.MACD(closes, s.params.MACDFast, s.params.MACDSlow, s.params.MACDSignal)
	prev, had := s.lastHist[key], s.hasHist[key]
	s.lastHist[key] = hist
	s.hasHist[key] = true
	if !had {
		return models.Signal{}, false, becameReady
	}

	var side models.Direction
	switch {
	case prev <= 0 && hist > 0:
		side = models.DirectionLong
	case prev >= 0 && hist < 0:
		side = models.DirectionShort
	default:
		return models.Signal{}, false, becameReady
	}
	if side == s.lastSide[key] {
		return models.Signal{}, false, becameReady
	}
	s.lastSide[key] = side

	return models.Signal{
		Symbol:    t.Symbol,
		Timeframe: t.TimeframeRaw,
		Direction: side,
		Strategy:  models.StrategyMACD,
		Strength:  strengthFromHist(hist, t.Close),
		Price:     decimal.NewFromFloat(t.Close),
		Reason:    fmt.Sprintf("MACD cross %s hist=%.6f", side, hist),
		At:        time.Now(),
	}, true, becameReady
}

// strengthFromHist — грубая нормировка гистограммы к цене, 0..1.
func strengthFromHist(hist, price float64) float64 {
	if price <= 0 {
		return 0
	}
	v := hist / price * 1000
	if v < 0 {
		v = -v
	}
	if v > 1 {
		v = 1
	}
	return v
}
