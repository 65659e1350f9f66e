package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики движка. Регистрируются в default registry, отдаются
// health-сервером на /metrics.
var (
	metricSignals = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trend_bot",
		Subsystem: "engine",
		Name:      "signals_total",
		Help:      "Обработанные сигналы по исходу",
	}, []string{"outcome"})

	metricRejects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trend_bot",
		Subsystem: "engine",
		Name:      "rejects_total",
		Help:      "Отклонённые сигналы по причине",
	}, []string{"reason"})

	metricPositionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "trend_bot",
		Subsystem: "engine",
		Name:      "positions_open",
		Help:      "Открытые позиции",
	})

	metricTradesClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trend_bot",
		Subsystem: "engine",
		Name:      "trades_closed_total",
		Help:      "Закрытые сделки по причине выхода",
	}, []string{"reason"})

	metricPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "trend_bot",
		Subsystem: "engine",
		Name:      "pnl_usdt_total",
		Help:      "Накопленный реализованный PnL",
	})

	metricBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "trend_bot",
		Subsystem: "engine",
		Name:      "balance_usdt",
		Help:      "Текущий учётный баланс",
	})

	metricSubmitLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "trend_bot",
		Subsystem: "engine",
		Name:      "submit_seconds",
		Help:      "Латентность выставления ордера",
		Buckets:   prometheus.DefBuckets,
	})

	metricQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "trend_bot",
		Subsystem: "engine",
		Name:      "queue_depth",
		Help:      "Глубина входной очереди событий",
	})
)
