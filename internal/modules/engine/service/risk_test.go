package service

import (
	"os"
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trend_bot/internal/models"
	"trend_bot/internal/modules/config"
	"trend_bot/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func testConfig() *config.Config {
	cfg := &config.Config{Mode: config.ModePaper}
	cfg.Risk.MaxPositions = 5
	cfg.Risk.MaxPositionsPerSymbol = 1
	cfg.Risk.MaxRiskPerTrade = 1.0
	cfg.Risk.MaxRiskTotal = 5.0
	cfg.Risk.MinRiskRewardRatio = 2.0
	cfg.Risk.Leverage = 3
	cfg.Risk.StopLossPercent = 1.0
	cfg.Risk.TrailingStopEnabled = true
	cfg.Risk.TrailingStopActivation = 1.0
	cfg.Risk.TrailingStopCallback = 0.5
	cfg.Risk.MinNotional = 5.0
	cfg.Paper.InitialBalance = 10000.0
	return cfg
}

func longSignal(symbol string, price float64) models.Signal {
	return models.Signal{
		Symbol:    symbol,
		Timeframe: "5m",
		Direction: models.DirectionLong,
		Strategy:  models.StrategyMACD,
		Price:     decimal.NewFromFloat(price),
	}
}

func TestEvaluateSizing(t *testing.T) {
	cfg := testConfig()
	e := NewRiskEngine(cfg)
	rs := NewRiskState(decimal.NewFromInt(10000))

	intent, err := e.Evaluate(longSignal("BTCUSDT", 50000), true, rs)
	require.NoError(t, err)
	require.NotNil(t, intent)

	// 1% от 10000 = 100; qty = 100*3 / (50000*0.01) = 0.6
	assert.True(t, intent.RiskAmount.Equal(decimal.NewFromInt(100)), "risk=%s", intent.RiskAmount)
	assert.True(t, intent.Quantity.Equal(decimal.NewFromFloat(0.6)), "qty=%s", intent.Quantity)
	assert.True(t, intent.StopPrice.Equal(decimal.NewFromInt(49500)), "sl=%s", intent.StopPrice)
	assert.NotEmpty(t, intent.ReservationID)
	assert.True(t, rs.TotalRiskUsed.Equal(decimal.NewFromInt(100)))
}

func TestEvaluateRegimeGate(t *testing.T) {
	e := NewRiskEngine(testConfig())
	rs := NewRiskState(decimal.NewFromInt(10000))

	_, err := e.Evaluate(longSignal("BTCUSDT", 50000), false, rs)
	assert.ErrorIs(t, err, models.ErrRegimeBlocked)

	// шорты гейт не трогает
	sig := longSignal("BTCUSDT", 50000)
	sig.Direction = models.DirectionShort
	intent, err := e.Evaluate(sig, false, rs)
	require.NoError(t, err)
	// стоп для шорта выше входа
	assert.True(t, intent.StopPrice.Equal(decimal.NewFromInt(50500)), "sl=%s", intent.StopPrice)
}

func TestEvaluateDuplicateSymbol(t *testing.T) {
	e := NewRiskEngine(testConfig())
	rs := NewRiskState(decimal.NewFromInt(10000))
	rs.Positions["BTCUSDT"] = &models.Position{Symbol: "BTCUSDT", Direction: models.DirectionLong}

	_, err := e.Evaluate(longSignal("BTCUSDT", 50000), true, rs)
	assert.ErrorIs(t, err, models.ErrPositionExists)
}

func TestEvaluateMaxPositions(t *testing.T) {
	cfg := testConfig()
	cfg.Risk.MaxPositions = 2
	e := NewRiskEngine(cfg)
	rs := NewRiskState(decimal.NewFromInt(10000))
	rs.Positions["AAAUSDT"] = &models.Position{}
	rs.Positions["BBBUSDT"] = &models.Position{}

	_, err := e.Evaluate(longSignal("CCCUSDT", 100), true, rs)
	assert.ErrorIs(t, err, models.ErrMaxPositions)
}

func TestEvaluateRiskBudgetExhaustion(t *testing.T) {
	e := NewRiskEngine(testConfig())
	rs := NewRiskState(decimal.NewFromInt(10000))

	// 5 сигналов по 1% заполняют бюджет 5% целиком
	symbols := []string{"AUSDT", "BUSDT", "CUSDT", "DUSDT", "EUSDT"}
	for _, s := range symbols {
		intent, err := e.Evaluate(longSignal(s, 50000), true, rs)
		require.NoError(t, err, s)
		rs.Positions[s] = &models.Position{Symbol: s, RiskAmount: intent.RiskAmount}
	}
	assert.True(t, rs.TotalRiskUsed.Equal(decimal.NewFromInt(500)))

	cfgWide := testConfig()
	cfgWide.Risk.MaxPositions = 10
	eWide := NewRiskEngine(cfgWide)
	_, err := eWide.Evaluate(longSignal("FUSDT", 50000), true, rs)
	assert.ErrorIs(t, err, models.ErrRiskBudgetExceeded)
}

func TestEvaluateRiskReward(t *testing.T) {
	e := NewRiskEngine(testConfig())
	rs := NewRiskState(decimal.NewFromInt(10000))

	// цель 50500 при стопе 49500: rr = 1 < 2
	sig := longSignal("BTCUSDT", 50000)
	sig.TakeProfit = decimal.NewFromInt(50500)
	_, err := e.Evaluate(sig, true, rs)
	assert.ErrorIs(t, err, models.ErrRiskRewardTooLow)
	assert.True(t, rs.TotalRiskUsed.IsZero(), "отказ не должен резервировать риск")

	// цель 51000: rr = 2, ровно на пороге — проходит
	sig.TakeProfit = decimal.NewFromInt(51000)
	_, err = e.Evaluate(sig, true, rs)
	assert.NoError(t, err)
}

func TestEvaluateDerivedTakeProfit(t *testing.T) {
	e := NewRiskEngine(testConfig())
	rs := NewRiskState(decimal.NewFromInt(10000))

	intent, err := e.Evaluate(longSignal("BTCUSDT", 50000), true, rs)
	require.NoError(t, err)
	// без цели от стратегии: entry + riskDist*minRR = 50000 + 500*2
	assert.True(t, intent.TakeProfit.Equal(decimal.NewFromInt(51000)), "tp=%s", intent.TakeProfit)
}

func TestEvaluateZeroBalance(t *testing.T) {
	e := NewRiskEngine(testConfig())
	rs := NewRiskState(decimal.Zero)

	_, err := e.Evaluate(longSignal("BTCUSDT", 50000), true, rs)
	assert.ErrorIs(t, err, models.ErrZeroBalance)
}

func TestEvaluateNotionalBounds(t *testing.T) {
	t.Run("reject below min", func(t *testing.T) {
		cfg := testConfig()
		cfg.Risk.MinNotional = 100000
		e := NewRiskEngine(cfg)
		rs := NewRiskState(decimal.NewFromInt(10000))

		_, err := e.Evaluate(longSignal("BTCUSDT", 50000), true, rs)
		assert.ErrorIs(t, err, models.ErrNotionalTooSmall)
	})

	t.Run("clamp above max", func(t *testing.T) {
		cfg := testConfig()
		cfg.Risk.MaxNotional = 15000
		cfg.Risk.ClampToLimits = true
		e := NewRiskEngine(cfg)
		rs := NewRiskState(decimal.NewFromInt(10000))

		intent, err := e.Evaluate(longSignal("BTCUSDT", 50000), true, rs)
		require.NoError(t, err)
		// 0.6*50000=30000 ужимается до 15000 -> qty 0.3
		assert.True(t, intent.Quantity.Equal(decimal.NewFromFloat(0.3)), "qty=%s", intent.Quantity)
	})

	t.Run("reject above max", func(t *testing.T) {
		cfg := testConfig()
		cfg.Risk.MaxNotional = 15000
		e := NewRiskEngine(cfg)
		rs := NewRiskState(decimal.NewFromInt(10000))

		_, err := e.Evaluate(longSignal("BTCUSDT", 50000), true, rs)
		assert.ErrorIs(t, err, models.ErrNotionalTooLarge)
	})
}

func TestReservationReleaseExactlyOnce(t *testing.T) {
	rs := NewRiskState(decimal.NewFromInt(10000))
	token := rs.Reserve(decimal.NewFromInt(100))
	require.True(t, rs.TotalRiskUsed.Equal(decimal.NewFromInt(100)))

	require.NoError(t, rs.Release(token))
	assert.True(t, rs.TotalRiskUsed.IsZero())

	err := rs.Release(token)
	assert.True(t, errors.Is(err, models.ErrDoubleRelease))

	// пустой токен (позиция из реконсиляции) — no-op
	assert.NoError(t, rs.Release(""))
}

func TestValidationRejectionClass(t *testing.T) {
	e := NewRiskEngine(testConfig())
	rs := NewRiskState(decimal.NewFromInt(10000))

	_, err := e.Evaluate(longSignal("BTCUSDT", 50000), false, rs)
	assert.True(t, models.IsValidationRejection(err))
	assert.False(t, models.IsValidationRejection(models.ErrSubmissionFailed))
}
