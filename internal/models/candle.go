package models

import "time"

// CandleTick — закрытая свеча OHLCV из стрима/истории.
type CandleTick struct {
	Symbol       string
	Open         float64
	High         float64
	Low          float64
	Close        float64
	Volume       float64
	Start        time.Time
	End          time.Time
	TimeframeRaw string
}

type Trend int

const (
	TrendNeutral Trend = iota
	TrendUp
	TrendDown
)

func (t Trend) String() string {
	switch t {
	case TrendUp:
		return "up"
	case TrendDown:
		return "down"
	default:
		return "neutral"
	}
}

// IndicatorSnapshot — значения индикаторов по символу/таймфрейму
// на момент закрытия последней свечи. Чистые данные, без состояния.
type IndicatorSnapshot struct {
	Symbol    string
	Timeframe string

	Close  float64
	MAFast float64
	MASlow float64

	MACD       float64
	MACDSignal float64
	MACDHist   float64

	RSI float64
	ATR float64

	At time.Time
}
