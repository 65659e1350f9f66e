package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"trend_bot/internal/models"
)

// Gateway — контракт исполнения ордеров. Движок один и тот же во всех
// режимах, отличается только реализация: paper (эмуляция), live (Bybit),
// backtest (paper поверх исторических свечей).
type Gateway interface {
	// Submit отправляет одобренный OrderIntent. Возвращает Fill либо
	// ошибку (reject/timeout) — в этом случае вызывающий обязан
	// откатить резервацию риска.
	Submit(ctx context.Context, intent models.OrderIntent) (models.Fill, error)

	// ClosePosition закрывает позицию маркет-ордером. refPrice — текущая
	// цена для эмуляции; live-реализация её игнорирует.
	ClosePosition(ctx context.Context, symbol string, dir models.Direction, qty, refPrice decimal.Decimal) (models.Fill, error)

	Cancel(ctx context.Context, orderID string) error

	Balance(ctx context.Context) (decimal.Decimal, error)

	// OpenPositions — позиции глазами биржи, source of truth для
	// реконсиляции (ликвидации, ручные закрытия).
	OpenPositions(ctx context.Context) ([]models.ExternalPosition, error)
}
