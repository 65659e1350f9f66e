package helper

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

func NormTF(raw string) string {
	s := strings.TrimSpace(strings.ToLower(raw))
	s = strings.TrimPrefix(s, "kline.")
	switch s {
	case "60", "60m", "1h":
		return "1h"
	case "240", "4h":
		return "4h"
	case "15", "15m":
		return "15m"
	case "5", "5m":
		return "5m"
	case "1", "1m":
		return "1m"
	case "d", "1d":
		return "1d"
	default:
		return s
	}
}

// TFDuration — длительность одного бара таймфрейма ("1h" -> time.Hour).
// Неизвестный формат даёт 0.
func TFDuration(raw string) time.Duration {
	s := NormTF(raw)
	if s == "1d" {
		return 24 * time.Hour
	}
	if n := len(s); n > 1 {
		if v, err := strconv.Atoi(s[:n-1]); err == nil && v > 0 {
			switch s[n-1] {
			case 'm':
				return time.Duration(v) * time.Minute
			case 'h':
				return time.Duration(v) * time.Hour
			}
		}
	}
	return 0
}

// EvalKey — ключ эвалюатора стратегии: symbol × timeframe × strategy.
func EvalKey(symbol, tf, strategy string) string {
	return symbol + "::" + tf + "::" + strategy
}

func RoundDownToTick(px, tick float64) float64 {
	if tick <= 0 {
		return px
	}
	steps := math.Floor(px/tick + 1e-12)
	return steps * tick
}

func RoundUpToTick(px, tick float64) float64 {
	if tick <= 0 {
		return px
	}
	steps := math.Ceil(px/tick - 1e-12)
	return steps * tick
}

// Pct переводит процент [0,100] в десятичную долю без двоичного
// округления (1.0 -> 0.01).
func Pct(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Div(decimal.NewFromInt(100))
}

// ApplyPct сдвигает цену на pct процентов: dir=+1 вверх, dir=-1 вниз.
func ApplyPct(price decimal.Decimal, pct float64, dir int) decimal.Decimal {
	one := decimal.NewFromInt(1)
	d := Pct(pct)
	if dir < 0 {
		return price.Mul(one.Sub(d))
	}
	return price.Mul(one.Add(d))
}
