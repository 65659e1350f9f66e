package service

import (
	"sync"
	"time"

	"trend_bot/internal/helper"
	"trend_bot/internal/models"
	"trend_bot/internal/modules/config"
	"trend_bot/pkg/logger"
)

// Filter — глобальный фильтр режима рынка по тренду BTC.
// Read-mostly, single-writer: Update вызывается движком на закрытии
// BTC-свечи, LongsPermitted читают эвалюаторы.
type Filter struct {
	cfg *config.Config

	mu          sync.RWMutex
	trend       models.Trend
	lastUpdated time.Time

	now func() time.Time
}

func NewFilter(cfg *config.Config) *Filter {
	return &Filter{
		cfg:   cfg,
		trend: models.TrendNeutral,
		now:   time.Now,
	}
}

// Update пересчитывает тренд по свежему снапшоту BTC-индикаторов.
// Три под-сигнала: MA fast vs slow, MACD vs signal, RSI vs midpoint.
func (f *Filter) Update(snap models.IndicatorSnapshot) {
	bullish, bearish := 0, 0

	vote := func(up bool, down bool) {
		if up {
			bullish++
		} else if down {
			bearish++
		}
	}
	vote(snap.MAFast > snap.MASlow, snap.MAFast < snap.MASlow)
	vote(snap.MACD > snap.MACDSignal, snap.MACD < snap.MACDSignal)
	mid := f.cfg.Regime.RSIMidpoint
	vote(snap.RSI > mid, snap.RSI < mid)

	next := models.TrendNeutral
	if f.cfg.Regime.RequireAll {
		// "up" только при полном согласии; медвежье большинство — "down"
		switch {
		case bullish == 3:
			next = models.TrendUp
		case bearish >= 2:
			next = models.TrendDown
		}
	} else {
		switch {
		case bullish >= 2:
			next = models.TrendUp
		case bearish >= 2:
			next = models.TrendDown
		}
	}

	f.mu.Lock()
	prev := f.trend
	f.trend = next
	f.lastUpdated = snap.At
	f.mu.Unlock()

	if prev != next {
		logger.Info("[REGIME] %s: %s -> %s (bull=%d bear=%d rsi=%.1f)",
			snap.Symbol, prev, next, bullish, bearish, snap.RSI)
	}
}

func (f *Filter) Trend() models.Trend {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.trend
}

// LongsPermitted — гейт для новых лонгов. При падающем BTC — false.
// Без снапшота или со старым снапшотом — тоже false (fail safe,
// стратегия не должна торговать вслепую).
func (f *Filter) LongsPermitted() bool {
	f.mu.RLock()
	trend, updated := f.trend, f.lastUpdated
	f.mu.RUnlock()

	if updated.IsZero() {
		return false
	}
	if stale := f.staleWindow(); stale > 0 && f.now().Sub(updated) > stale {
		logger.Warn("[REGIME] snapshot stale (%s), blocking longs", f.now().Sub(updated))
		return false
	}
	return trend != models.TrendDown
}

// staleWindow — эффективное окно свежести. Снапшот обновляется только
// на закрытии бара режимного таймфрейма, поэтому окно не может быть
// короче двух баров: иначе здоровый часовой фид считался бы протухшим
// большую часть часа.
func (f *Filter) staleWindow() time.Duration {
	stale := f.cfg.Regime.Staleness
	if floor := 2 * helper.TFDuration(f.cfg.Regime.Timeframe); floor > stale {
		stale = floor
	}
	return stale
}
