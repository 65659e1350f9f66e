package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"trend_bot/internal/helper"
	"trend_bot/internal/models"
)

// SupResStrategy — отбой от уровней поддержки/сопротивления.
// Уровни — экстремумы последних lookback свечей. Вход у поддержки с
// целью на сопротивлении (и наоборот), так что сигнал сразу несёт
// take-profit и риск-движку есть что проверять на risk/reward.
type SupResStrategy struct {
	mu sync.Mutex

	lookback  int
	proximity float64 // близость к уровню в долях (0.002 = 0.2%)

	bars     map[string][]models.CandleTick
	lastSide map[string]models.Direction
	ready    map[string]bool
}

func NewSupResStrategy(lookback int, proximity float64) *SupResStrategy {
	if lookback <= 0 {
		lookback = 20
	}
	if proximity <= 0 {
		proximity = 0.002
	}
	return &SupResStrategy{
		lookback:  lookback,
		proximity: proximity,
		bars:      map[string][]models.CandleTick{},
		lastSide:  map[string]models.Direction{},
		ready:     map[string]bool{},
	}
}

func (s *SupResStrategy) Name() models.StrategyType { return models.StrategySupRes }

func (s *SupResStrategy) IsReady(symbol, tf string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready[helper.EvalKey(symbol, helper.NormTF(tf), string(models.StrategySupRes))]
}

func (s *SupResStrategy) OnCandle(t models.CandleTick) (models.Signal, bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := helper.EvalKey(t.Symbol, helper.NormTF(t.TimeframeRaw), string(models.StrategySupRes))
	bars := append(s.bars[key], t)
	if len(bars) > barsDepth {
		bars = bars[len(bars)-barsDepth:]
	}
	s.bars[key] = bars

	if len(bars) < s.lookback+1 {
		return models.Signal{}, false, false
	}

	becameReady := false
	if !s.ready[key] {
		s.ready[key] = true
		becameReady = true
	}

	// уровни по предыдущим lookback свечам, текущая не участвует
	window := bars[len(bars)-1-s.lookback : len(bars)-1]
	support, resistance := window[0].Low, window[0].High
	for _, b := range window[1:] {
		if b.Low < support {
			support = b.Low
		}
		if b.High > resistance {
			resistance = b.High
		}
	}
	if resistance <= support {
		return models.Signal{}, false, becameReady
	}

	var side models.Direction
	var target float64
	switch {
	// отбой от поддержки: low коснулся зоны, свеча закрылась вверх
	case t.Low <= support*(1+s.proximity) && t.Close > t.Open:
		side, target = models.DirectionLong, resistance
	// отбой от сопротивления: high коснулся зоны, свеча закрылась вниз
	case t.High >= resistance*(1-s.proximity) && t.Close < t.Open:
		side, target = models.DirectionShort, support
	default:
		return models.Signal{}, false, becameReady
	}
	if side == s.lastSide[key] {
		return models.Signal{}, false, becameReady
	}
	s.lastSide[key] = side

	rangeWidth := resistance - support
	return models.Signal{
		Symbol:     t.Symbol,
		Timeframe:  t.TimeframeRaw,
		Direction:  side,
		Strategy:   models.StrategySupRes,
		Strength:   strengthFromHist(rangeWidth, t.Close),
		Price:      decimal.NewFromFloat(t.Close),
		TakeProfit: decimal.NewFromFloat(target),
		Reason:     fmt.Sprintf("bounce %s sup=%.4f res=%.4f", side, support, resistance),
		At:         time.Now(),
	}, true, becameReady
}
