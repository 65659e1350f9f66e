package indicators

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"trend_bot/internal/models"
)

func TestSMA(t *testing.T) {
	assert.Equal(t, 4.0, SMA([]float64{1, 2, 3, 4, 5}, 3))
	assert.Equal(t, 3.0, SMA([]float64{1, 2, 3, 4, 5}, 5))
	// данных меньше периода — ноль, не частичная средняя
	assert.Equal(t, 0.0, SMA([]float64{1, 2}, 3))
	assert.Equal(t, 0.0, SMA(nil, 3))
}

func TestEMA(t *testing.T) {
	// константный ряд не двигает экспоненту
	assert.Equal(t, 7.0, EMA([]float64{7, 7, 7, 7, 7}, 3))

	// seed = SMA([2,2]) = 2, дальше k=2/3: 2 -> 2 -> 2+2/3*2
	assert.InDelta(t, 3.3333, EMA([]float64{2, 2, 2, 4}, 2), 1e-4)

	assert.Nil(t, EMASeries([]float64{1, 2}, 3))
}

func TestMACDFlatSeries(t *testing.T) {
	values := make([]float64, 10)
	for i := range values {
		values[i] = 100
	}
	macd, sig, hist := MACD(values, 3, 5, 2)
	assert.Equal(t, 0.0, macd)
	assert.Equal(t, 0.0, sig)
	assert.Equal(t, 0.0, hist)
}

func TestMACDTrendSign(t *testing.T) {
	up := make([]float64, 60)
	for i := range up {
		up[i] = 100 + float64(i)
	}
	macd, _, _ := MACD(up, 12, 26, 9)
	assert.Greater(t, macd, 0.0, "fast EMA must lead on a rising series")

	down := make([]float64, 60)
	for i := range down {
		down[i] = 200 - float64(i)
	}
	macd, _, _ = MACD(down, 12, 26, 9)
	assert.Less(t, macd, 0.0)

	m, s, h := MACD([]float64{1, 2, 3}, 12, 26, 9)
	assert.Zero(t, m)
	assert.Zero(t, s)
	assert.Zero(t, h)
}

func TestRSI(t *testing.T) {
	// только росты — нет потерь, RSI упирается в 100
	assert.Equal(t, 100.0, RSI([]float64{1, 2, 3, 4, 5}, 3))
	// только падения
	assert.Equal(t, 0.0, RSI([]float64{5, 4, 3, 2, 1}, 3))
	// period=2: gain 1,1 потом loss 1 со сглаживанием — ровно 50
	assert.InDelta(t, 50.0, RSI([]float64{1, 2, 3, 2}, 2), 1e-9)

	assert.Equal(t, 0.0, RSI([]float64{1, 2}, 3))
}

func TestATRConstantRange(t *testing.T) {
	bars := make([]models.CandleTick, 20)
	for i := range bars {
		bars[i] = models.CandleTick{High: 12, Low: 10, Close: 11}
	}
	// диапазон каждой свечи 2 и гэпов нет: ATR сходится к 2
	assert.InDelta(t, 2.0, ATR(bars, 14), 1e-9)
	assert.Equal(t, 0.0, ATR(bars[:5], 14))
}

func TestMinBars(t *testing.T) {
	assert.Equal(t, 50, DefaultParams().MinBars())

	p := Params{MASlow: 10, MACDSlow: 26, MACDSignal: 9, RSIPeriod: 14}
	assert.Equal(t, 35, p.MinBars())
}

func TestCompute(t *testing.T) {
	end := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	bars := make([]models.CandleTick, 60)
	for i := range bars {
		px := 100 + float64(i)
		bars[i] = models.CandleTick{
			Symbol:       "BTCUSDT",
			TimeframeRaw: "1h",
			Open:         px - 0.5,
			High:         px + 1,
			Low:          px - 1,
			Close:        px,
			End:          end.Add(time.Duration(i) * time.Hour),
		}
	}

	snap := Compute(bars, DefaultParams())
	assert.Equal(t, "BTCUSDT", snap.Symbol)
	assert.Equal(t, "1h", snap.Timeframe)
	assert.Equal(t, bars[len(bars)-1].End, snap.At)
	assert.Equal(t, 159.0, snap.Close)

	// восходящий ряд: быстрая средняя выше медленной, RSI у потолка
	assert.Greater(t, snap.MAFast, snap.MASlow)
	assert.Greater(t, snap.MACD, 0.0)
	assert.Equal(t, 100.0, snap.RSI)
	assert.Greater(t, snap.ATR, 0.0)

	assert.Equal(t, models.IndicatorSnapshot{}, Compute(nil, DefaultParams()))
}
