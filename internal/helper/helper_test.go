package helper

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestNormTF(t *testing.T) {
	cases := map[string]string{
		"60":        "1h",
		"1H":        "1h",
		"kline.240": "4h",
		" 5 ":       "5m",
		"15m":       "15m",
		"D":         "1d",
		"3m":        "3m", // незнакомое значение проходит как есть
	}
	for in, want := range cases {
		assert.Equal(t, want, NormTF(in), "in=%q", in)
	}
}

func TestTFDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"5m":  5 * time.Minute,
		"60":  time.Hour,
		"4h":  4 * time.Hour,
		"D":   24 * time.Hour,
		"wat": 0,
	}
	for in, want := range cases {
		assert.Equal(t, want, TFDuration(in), "in=%q", in)
	}
}

func TestPct(t *testing.T) {
	// 1% без двоичной грязи: ровно 0.01
	assert.True(t, Pct(1.0).Equal(decimal.NewFromFloat(0.01)))
	assert.True(t, Pct(0.5).Equal(decimal.NewFromFloat(0.005)))
	assert.True(t, Pct(0).IsZero())
}

func TestApplyPct(t *testing.T) {
	price := decimal.NewFromInt(50000)

	down := ApplyPct(price, 1.0, -1)
	assert.True(t, down.Equal(decimal.NewFromInt(49500)), "down=%s", down)

	up := ApplyPct(price, 1.0, +1)
	assert.True(t, up.Equal(decimal.NewFromInt(50500)), "up=%s", up)

	same := ApplyPct(price, 0, +1)
	assert.True(t, same.Equal(price))
}

func TestRoundToTick(t *testing.T) {
	assert.Equal(t, 50000.0, RoundDownToTick(50000.4, 0.5))
	assert.Equal(t, 50000.5, RoundUpToTick(50000.1, 0.5))
	// нулевой тик — цена как есть
	assert.Equal(t, 123.45, RoundDownToTick(123.45, 0))
}

func TestEvalKey(t *testing.T) {
	assert.Equal(t, "BTCUSDT::5m::macd", EvalKey("BTCUSDT", "5m", "macd"))
}
