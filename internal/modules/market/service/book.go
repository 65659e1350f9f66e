package service

import (
	"sync"

	"trend_bot/internal/models"
)

const defaultDepth = 300

// Book — буфер последних закрытых свечей по ключу символ/таймфрейм.
// Стратегиям и режимному фильтру хватает хвоста в пару сотен баров.
type Book struct {
	mu    sync.RWMutex
	depth int
	bars  map[string][]models.CandleTick
}

func NewBook() *Book {
	return &Book{
		depth: defaultDepth,
		bars:  make(map[string][]models.CandleTick),
	}
}

func key(symbol, tf string) string { return symbol + "/" + tf }

// Seed заливает историю целиком (прогрев при старте).
func (b *Book) Seed(symbol, tf string, bars []models.CandleTick) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := key(symbol, tf)
	if len(bars) > b.depth {
		bars = bars[len(bars)-b.depth:]
	}
	b.bars[k] = append([]models.CandleTick(nil), bars...)
}

// Add дописывает закрытую свечу, отбрасывая дубликаты по времени старта.
func (b *Book) Add(tick models.CandleTick) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := key(tick.Symbol, tick.TimeframeRaw)
	cur := b.bars[k]
	if n := len(cur); n > 0 && !tick.Start.After(cur[n-1].Start) {
		return
	}
	cur = append(cur, tick)
	if len(cur) > b.depth {
		cur = cur[len(cur)-b.depth:]
	}
	b.bars[k] = cur
}

// Bars отдаёт копию хвоста, безопасную для чтения вне лока.
func (b *Book) Bars(symbol, tf string) []models.CandleTick {
	b.mu.RLock()
	defer b.mu.RUnlock()
	cur := b.bars[key(symbol, tf)]
	out := make([]models.CandleTick, len(cur))
	copy(out, cur)
	return out
}

func (b *Book) Len(symbol, tf string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.bars[key(symbol, tf)])
}
