package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	configFilePathENV = "CONFIG_FILE"
	envPrefix         = "BOT"
)

// Mode — режим работы движка. Сам движок везде одинаковый,
// отличается только реализация Execution Gateway.
type Mode string

const (
	ModePaper    Mode = "paper"
	ModeLive     Mode = "live"
	ModeBacktest Mode = "backtest"
)

type Config struct {
	Mode Mode `mapstructure:"mode"`

	DB string `mapstructure:"db_dsn"`

	Telegram struct {
		Token  string `mapstructure:"token"`
		ChatID int64  `mapstructure:"chat_id"`
	} `mapstructure:"telegram"`

	Exchange struct {
		APIKey    string `mapstructure:"api_key"`
		APISecret string `mapstructure:"api_secret"`
		RESTHost  string `mapstructure:"rest_host"`
		WSHost    string `mapstructure:"ws_host"`
		Testnet   bool   `mapstructure:"testnet"`
	} `mapstructure:"exchange"`

	Trading struct {
		Symbols   []string `mapstructure:"symbols"`
		Intervals []string `mapstructure:"intervals"`
		// StrategyInterval — период переоценки стратегий.
		StrategyInterval time.Duration `mapstructure:"strategy_interval"`
		StatsInterval    time.Duration `mapstructure:"stats_interval"`
	} `mapstructure:"trading"`

	// Risk — лимиты и сайзинг, проценты в [0,100].
	Risk struct {
		MaxPositions          int     `mapstructure:"max_positions"`
		MaxPositionsPerSymbol int     `mapstructure:"max_positions_per_symbol"`
		MaxRiskPerTrade       float64 `mapstructure:"max_risk_per_trade"`
		MaxRiskTotal          float64 `mapstructure:"max_risk_total"`
		MinRiskRewardRatio    float64 `mapstructure:"min_risk_reward_ratio"`
		Leverage              int     `mapstructure:"leverage"`
		StopLossPercent       float64 `mapstructure:"stop_loss_percent"`

		TrailingStopEnabled    bool    `mapstructure:"trailing_stop_enabled"`
		TrailingStopActivation float64 `mapstructure:"trailing_stop_activation"`
		TrailingStopCallback   float64 `mapstructure:"trailing_stop_callback"`

		// Биржевые границы нотионала. ClampToLimits=true — ужимаем
		// размер вместо отказа.
		MinNotional   float64 `mapstructure:"min_notional"`
		MaxNotional   float64 `mapstructure:"max_notional"`
		ClampToLimits bool    `mapstructure:"clamp_to_limits"`
	} `mapstructure:"risk"`

	Regime struct {
		Symbol    string `mapstructure:"symbol"`
		Timeframe string `mapstructure:"timeframe"`

		MAFast     int `mapstructure:"ma_fast"`
		MASlow     int `mapstructure:"ma_slow"`
		MACDFast   int `mapstructure:"macd_fast"`
		MACDSlow   int `mapstructure:"macd_slow"`
		MACDSignal int `mapstructure:"macd_signal"`
		RSIPeriod  int `mapstructure:"rsi_period"`
		// RSIMidpoint — нейтральная середина RSI для голосования.
		RSIMidpoint float64 `mapstructure:"rsi_midpoint"`

		// RequireAll: "up" только при согласии всех трёх под-сигналов.
		// false — достаточно большинства.
		RequireAll bool `mapstructure:"require_all"`

		// Staleness — окно свежести BTC-снапшота; старше — блокируем лонги.
		// Фильтр поднимает окно минимум до двух баров Timeframe, потому что
		// снапшот обновляется только на закрытии бара.
		Staleness time.Duration `mapstructure:"staleness"`
	} `mapstructure:"regime"`

	Paper struct {
		InitialBalance float64 `mapstructure:"initial_balance"`
	} `mapstructure:"paper"`

	Submit struct {
		Timeout time.Duration `mapstructure:"timeout"`
		// RetryOnce — один повтор с backoff при SubmissionFailure.
		RetryOnce bool          `mapstructure:"retry_once"`
		Backoff   time.Duration `mapstructure:"backoff"`
	} `mapstructure:"submit"`

	Reconcile struct {
		Interval time.Duration `mapstructure:"interval"`
	} `mapstructure:"reconcile"`

	Health struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"health"`

	Jaeger struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
	} `mapstructure:"jaeger"`

	// SnapshotFile — куда сбрасываем открытые позиции при остановке.
	SnapshotFile string `mapstructure:"snapshot_file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", string(ModePaper))

	v.SetDefault("exchange.rest_host", "https://api.bybit.com")
	v.SetDefault("exchange.ws_host", "wss://stream.bybit.com/v5/public/linear")

	v.SetDefault("trading.symbols", []string{"BTCUSDT", "ETHUSDT"})
	v.SetDefault("trading.intervals", []string{"5m", "15m"})
	v.SetDefault("trading.strategy_interval", "60s")
	v.SetDefault("trading.stats_interval", "1h")

	v.SetDefault("risk.max_positions", 5)
	v.SetDefault("risk.max_positions_per_symbol", 1)
	v.SetDefault("risk.max_risk_per_trade", 1.0)
	v.SetDefault("risk.max_risk_total", 5.0)
	v.SetDefault("risk.min_risk_reward_ratio", 2.0)
	v.SetDefault("risk.leverage", 1)
	v.SetDefault("risk.stop_loss_percent", 1.0)
	v.SetDefault("risk.trailing_stop_enabled", true)
	v.SetDefault("risk.trailing_stop_activation", 1.0)
	v.SetDefault("risk.trailing_stop_callback", 0.5)
	v.SetDefault("risk.min_notional", 5.0)
	v.SetDefault("risk.max_notional", 0.0) // 0 = без верхней границы
	v.SetDefault("risk.clamp_to_limits", false)

	v.SetDefault("regime.symbol", "BTCUSDT")
	v.SetDefault("regime.timeframe", "1h")
	v.SetDefault("regime.ma_fast", 20)
	v.SetDefault("regime.ma_slow", 50)
	v.SetDefault("regime.macd_fast", 12)
	v.SetDefault("regime.macd_slow", 26)
	v.SetDefault("regime.macd_signal", 9)
	v.SetDefault("regime.rsi_period", 14)
	v.SetDefault("regime.rsi_midpoint", 50.0)
	v.SetDefault("regime.require_all", true)
	v.SetDefault("regime.staleness", "2h")

	v.SetDefault("paper.initial_balance", 10000.0)

	v.SetDefault("submit.timeout", "10s")
	v.SetDefault("submit.retry_once", true)
	v.SetDefault("submit.backoff", "2s")

	v.SetDefault("reconcile.interval", "30s")

	v.SetDefault("health.addr", ":8080")
	v.SetDefault("jaeger.host", "127.0.0.1")
	v.SetDefault("jaeger.port", 6831)

	v.SetDefault("snapshot_file", "positions_snapshot.yaml")
}

func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	name := os.Getenv(configFilePathENV)
	if name == "" {
		name = "values_local.yaml"
	}
	v.SetConfigFile("configs/" + name)
	if err := v.ReadInConfig(); err != nil {
		// конфиг-файл опционален: дефолты + env достаточно для paper
		if !os.IsNotExist(errors.Cause(err)) {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, errors.Wrap(err, "read config file")
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	for name, p := range map[string]float64{
		"max_risk_per_trade":       c.Risk.MaxRiskPerTrade,
		"max_risk_total":           c.Risk.MaxRiskTotal,
		"stop_loss_percent":        c.Risk.StopLossPercent,
		"trailing_stop_activation": c.Risk.TrailingStopActivation,
		"trailing_stop_callback":   c.Risk.TrailingStopCallback,
	} {
		if p < 0 || p > 100 {
			return errors.Errorf("risk.%s must be in [0,100], got %v", name, p)
		}
	}
	if c.Risk.Leverage <= 0 {
		return errors.New("risk.leverage must be a positive integer")
	}
	if c.Risk.MaxRiskPerTrade > c.Risk.MaxRiskTotal {
		return errors.New("risk.max_risk_per_trade exceeds risk.max_risk_total")
	}
	if len(c.Trading.Symbols) == 0 {
		return errors.New("trading.symbols is empty")
	}
	switch c.Mode {
	case ModePaper, ModeLive, ModeBacktest:
	default:
		return errors.Errorf("unknown mode %q", c.Mode)
	}
	return nil
}
