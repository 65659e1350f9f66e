package exchange

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"trend_bot/internal/models"
	"trend_bot/pkg/logger"
)

// PaperGateway — эмуляция биржи: мгновенные филы по цене интента,
// баланс в памяти. Используется в режимах paper и backtest.
type PaperGateway struct {
	mu       sync.Mutex
	balance  decimal.Decimal
	open     map[string]models.ExternalPosition // symbol -> position
	rejectFn func(models.OrderIntent) error     // хук для тестов
}

func NewPaperGateway(initialBalance decimal.Decimal) *PaperGateway {
	return &PaperGateway{
		balance: initialBalance,
		open:    make(map[string]models.ExternalPosition),
	}
}

func (g *PaperGateway) Submit(_ context.Context, intent models.OrderIntent) (models.Fill, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.rejectFn != nil {
		if err := g.rejectFn(intent); err != nil {
			return models.Fill{}, err
		}
	}

	g.open[intent.Symbol] = models.ExternalPosition{
		Symbol:    intent.Symbol,
		Direction: intent.Direction,
		Quantity:  intent.Quantity,
		Entry:     intent.Entry,
		LastPrice: intent.Entry,
	}

	logger.Info("[PAPER] fill %s %s qty=%s @ %s",
		intent.Symbol, intent.Direction, intent.Quantity, intent.Entry)

	return models.Fill{
		OrderID:  uuid.NewString(),
		Symbol:   intent.Symbol,
		Price:    intent.Entry,
		Quantity: intent.Quantity,
		At:       time.Now(),
	}, nil
}

func (g *PaperGateway) ClosePosition(_ context.Context, symbol string, dir models.Direction, qty, refPrice decimal.Decimal) (models.Fill, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	pos, ok := g.open[symbol]
	if ok {
		// PnL на баланс по фактической цене закрытия
		diff := refPrice.Sub(pos.Entry)
		if dir == models.DirectionShort {
			diff = diff.Neg()
		}
		g.balance = g.balance.Add(diff.Mul(qty))
		delete(g.open, symbol)
	}

	return models.Fill{
		OrderID:  uuid.NewString(),
		Symbol:   symbol,
		Price:    refPrice,
		Quantity: qty,
		At:       time.Now(),
	}, nil
}

func (g *PaperGateway) Cancel(_ context.Context, _ string) error { return nil }

func (g *PaperGateway) Balance(_ context.Context) (decimal.Decimal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balance, nil
}

func (g *PaperGateway) OpenPositions(_ context.Context) ([]models.ExternalPosition, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]models.ExternalPosition, 0, len(g.open))
	for _, p := range g.open {
		out = append(out, p)
	}
	return out, nil
}

// SetRejectHook подменяет поведение Submit (эмуляция reject/timeout).
func (g *PaperGateway) SetRejectHook(fn func(models.OrderIntent) error) {
	g.mu.Lock()
	g.rejectFn = fn
	g.mu.Unlock()
}

// DropPosition убирает позицию без фила — эмуляция внешнего закрытия
// (ликвидация), которое движок должен реконсилировать.
func (g *PaperGateway) DropPosition(symbol string) {
	g.mu.Lock()
	delete(g.open, symbol)
	g.mu.Unlock()
}
