// Package indicators — чистые функции расчёта индикаторов по свечам.
// Никакого состояния: вход — срез закрытых свечей, выход — значения.
package indicators

import (
	"trend_bot/internal/models"
)

// Params — периоды для расчёта снапшота.
type Params struct {
	MAFast     int
	MASlow     int
	MACDFast   int
	MACDSlow   int
	MACDSignal int
	RSIPeriod  int
	ATRPeriod  int
}

func DefaultParams() Params {
	return Params{
		MAFast:     20,
		MASlow:     50,
		MACDFast:   12,
		MACDSlow:   26,
		MACDSignal: 9,
		RSIPeriod:  14,
		ATRPeriod:  14,
	}
}

// MinBars — сколько свечей нужно для полного снапшота.
func (p Params) MinBars() int {
	n := p.MASlow
	if m := p.MACDSlow + p.MACDSignal; m > n {
		n = m
	}
	if p.RSIPeriod+1 > n {
		n = p.RSIPeriod + 1
	}
	return n
}

// SMA — простая скользящая средняя последних period значений.
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	var sum float64
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}

// EMASeries — экспоненциальная средняя по всему срезу.
// Первое значение инициализируется как SMA(period).
func EMASeries(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	out := make([]float64, 0, len(values)-period+1)
	seed := SMA(values[:period], period)
	out = append(out, seed)
	k := 2.0 / float64(period+1)
	prev := seed
	for _, v := range values[period:] {
		prev = prev + k*(v-prev)
		out = append(out, prev)
	}
	return out
}

// EMA — последнее значение EMASeries.
func EMA(values []float64, period int) float64 {
	s := EMASeries(values, period)
	if len(s) == 0 {
		return 0
	}
	return s[len(s)-1]
}

// MACD возвращает линию MACD, сигнальную линию и гистограмму.
func MACD(values []float64, fast, slow, signal int) (macd, sig, hist float64) {
	if len(values) < slow+signal {
		return 0, 0, 0
	}
	fastS := EMASeries(values, fast)
	slowS := EMASeries(values, slow)
	if len(fastS) == 0 || len(slowS) == 0 {
		return 0, 0, 0
	}
	// выравниваем хвосты: slow короче
	n := len(slowS)
	macdLine := make([]float64, n)
	for i := 0; i < n; i++ {
		macdLine[i] = fastS[len(fastS)-n+i] - slowS[i]
	}
	sigS := EMASeries(macdLine, signal)
	if len(sigS) == 0 {
		return macdLine[n-1], 0, 0
	}
	macd = macdLine[n-1]
	sig = sigS[len(sigS)-1]
	return macd, sig, macd - sig
}

// RSI по Уайлдеру: сглаженные средние gain/loss.
func RSI(values []float64, period int) float64 {
	if period <= 0 || len(values) < period+1 {
		return 0
	}
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		d := values[i] - values[i-1]
		if d > 0 {
			avgGain += d
		} else {
			avgLoss -= d
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	for i := period + 1; i < len(values); i++ {
		d := values[i] - values[i-1]
		var g, l float64
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		avgGain = (avgGain*float64(period-1) + g) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + l) / float64(period)
	}
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// ATR — средний истинный диапазон по свечам.
func ATR(bars []models.CandleTick, period int) float64 {
	if period <= 0 || len(bars) < period+1 {
		return 0
	}
	trs := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		h, l, pc := bars[i].High, bars[i].Low, bars[i-1].Close
		tr := h - l
		if d := abs(h - pc); d > tr {
			tr = d
		}
		if d := abs(l - pc); d > tr {
			tr = d
		}
		trs = append(trs, tr)
	}
	// сглаживание Уайлдера
	var atr float64
	for _, v := range trs[:period] {
		atr += v
	}
	atr /= float64(period)
	for _, v := range trs[period:] {
		atr = (atr*float64(period-1) + v) / float64(period)
	}
	return atr
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// Compute собирает полный снапшот по свечам одного символа/таймфрейма.
// bars должны быть упорядочены по времени, последняя — самая свежая.
func Compute(bars []models.CandleTick, p Params) models.IndicatorSnapshot {
	if len(bars) == 0 {
		return models.IndicatorSnapshot{}
	}
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	last := bars[len(bars)-1]

	macd, sig, hist := MACD(closes, p.MACDFast, p.MACDSlow, p.MACDSignal)
	return models.IndicatorSnapshot{
		Symbol:     last.Symbol,
		Timeframe:  last.TimeframeRaw,
		Close:      last.Close,
		MAFast:     SMA(closes, p.MAFast),
		MASlow:     SMA(closes, p.MASlow),
		MACD:       macd,
		MACDSignal: sig,
		MACDHist:   hist,
		RSI:        RSI(closes, p.RSIPeriod),
		ATR:        ATR(bars, p.ATRPeriod),
		At:         last.End,
	}
}
