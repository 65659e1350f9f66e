package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trend_bot/internal/indicators"
	"trend_bot/internal/models"
	"trend_bot/internal/modules/config"
)

type memSink struct {
	signals []models.Signal
}

func (s *memSink) OnSignal(sig models.Signal) { s.signals = append(s.signals, sig) }

type memNotifier struct {
	msgs []string
}

func (n *memNotifier) Sendf(format string, args ...interface{}) {
	n.msgs = append(n.msgs, fmt.Sprintf(format, args...))
}

func hubConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Trading.Symbols = []string{"BTCUSDT"}
	cfg.Trading.Intervals = []string{"5m"}
	return cfg
}

func TestHubFiltersUntradedCandles(t *testing.T) {
	sink := &memSink{}
	s := NewMACDStrategy(indicators.Params{MACDFast: 3, MACDSlow: 6, MACDSignal: 3})
	hub := NewHub(hubConfig(), sink, nil, []Engine{s})
	ctx := context.Background()

	// BTC-свеча фильтра режима (1h не торгуется) до стратегий не доходит
	for _, c := range vShape() {
		bar := candle("BTCUSDT", c)
		bar.TimeframeRaw = "1h"
		hub.OnCandle(ctx, bar)
	}
	assert.False(t, s.IsReady("BTCUSDT", "1h"))
	assert.Empty(t, sink.signals)

	// неторгуемый символ тоже
	hub.OnCandle(ctx, candle("DOGEUSDT", 100))
	assert.Empty(t, sink.signals)
}

func TestHubFansOutAndCollects(t *testing.T) {
	sink := &memSink{}
	s := NewMACDStrategy(indicators.Params{MACDFast: 3, MACDSlow: 6, MACDSignal: 3})
	hub := NewHub(hubConfig(), sink, nil, []Engine{s})
	ctx := context.Background()

	for _, c := range vShape() {
		hub.OnCandle(ctx, candle("BTCUSDT", c))
	}
	require.Len(t, sink.signals, 2)
	assert.Equal(t, models.DirectionLong, sink.signals[0].Direction)
	assert.Equal(t, models.DirectionShort, sink.signals[1].Direction)
}

func TestHubWarmupNotification(t *testing.T) {
	sink := &memSink{}
	n := &memNotifier{}
	engines := []Engine{
		NewMACDStrategy(indicators.Params{MACDFast: 3, MACDSlow: 6, MACDSignal: 3}),
		NewSupResStrategy(5, 0.002),
	}
	hub := NewHub(hubConfig(), sink, n, engines)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		hub.OnCandle(ctx, candle("BTCUSDT", 100+float64(i)))
	}

	// уведомление о конце прогрева приходит ровно один раз
	require.Len(t, n.msgs, 1)
	assert.Contains(t, n.msgs[0], "warmup finished")
}
