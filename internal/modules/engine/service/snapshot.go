package service

import (
	"os"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"

	"trend_bot/pkg/logger"
)

// snapshotRecord — позиция в файле снапшота. Decimal сериализуем
// строками: yaml не знает про внутренности decimal.Decimal.
type snapshotRecord struct {
	Symbol     string `yaml:"symbol"`
	Direction  string `yaml:"direction"`
	Entry      string `yaml:"entry"`
	Quantity   string `yaml:"quantity"`
	StopPrice  string `yaml:"stop_price"`
	TakeProfit string `yaml:"take_profit"`
	RiskAmount string `yaml:"risk_amount"`
	State      string `yaml:"state"`
	HighWater  string `yaml:"high_water"`
	Strategy   string `yaml:"strategy"`
	OpenedAt   string `yaml:"opened_at"`
}

type snapshotFile struct {
	Balance   string           `yaml:"balance"`
	Positions []snapshotRecord `yaml:"positions"`
}

// writeSnapshot сохраняет открытые позиции при останове, чтобы после
// рестарта реконсиляция имела от чего отталкиваться.
func (l *Loop) writeSnapshot() error {
	path := l.cfg.SnapshotFile
	if path == "" {
		return nil
	}

	snap := snapshotFile{Balance: l.state.Balance.String()}
	for _, pos := range l.state.Positions {
		snap.Positions = append(snap.Positions, snapshotRecord{
			Symbol:     pos.Symbol,
			Direction:  string(pos.Direction),
			Entry:      pos.Entry.String(),
			Quantity:   pos.Quantity.String(),
			StopPrice:  pos.StopPrice.String(),
			TakeProfit: pos.TakeProfit.String(),
			RiskAmount: pos.RiskAmount.String(),
			State:      pos.State.String(),
			HighWater:  pos.HighWater.String(),
			Strategy:   string(pos.Strategy),
			OpenedAt:   pos.OpenedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	raw, err := yaml.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "marshal snapshot")
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return errors.Wrapf(err, "write snapshot %s", path)
	}
	logger.Info("[ENGINE] snapshot written to %s (%d positions)", path, len(snap.Positions))
	return nil
}
