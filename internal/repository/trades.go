package repository

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"trend_bot/internal/models"
	"trend_bot/pkg/db"
	"trend_bot/pkg/logger"
)

// Trades — журнал закрытых сделок поверх postgres, с фолбэком в
// память когда база не сконфигурирована.
type Trades struct {
	db *db.PgTxManager

	mu   sync.RWMutex
	data []*models.ClosedTrade
}

func NewTrades(txm *db.PgTxManager) *Trades {
	if txm == nil {
		logger.Info("[REPO] postgres не настроен, журнал сделок в памяти")
	}
	return &Trades{db: txm}
}

const insertTradeSQL = `
INSERT INTO closed_trades
	(symbol, direction, strategy, entry, exit, quantity, pnl, reason, opened_at, closed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

func (t *Trades) Record(ctx context.Context, trade *models.ClosedTrade) (err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "repository.Record")
		}
	}()

	t.mu.Lock()
	t.data = append(t.data, trade)
	t.mu.Unlock()

	if t.db == nil {
		return nil
	}
	return t.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctxTx, insertTradeSQL,
			trade.Symbol,
			string(trade.Direction),
			string(trade.Strategy),
			trade.Entry.String(),
			trade.Exit.String(),
			trade.Quantity.String(),
			trade.PnL.String(),
			string(trade.Reason),
			trade.OpenedAt,
			trade.ClosedAt,
		)
		return err
	})
}

// All — накопленные за сессию сделки (отчёт бэктеста, статистика).
func (t *Trades) All() []*models.ClosedTrade {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*models.ClosedTrade, len(t.data))
	copy(out, t.data)
	return out
}
