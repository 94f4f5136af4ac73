package ops

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"papertrader/internal/candle"
	"papertrader/internal/core"
	"papertrader/internal/history"
	"papertrader/internal/monitor"
	"papertrader/internal/og"
	"papertrader/internal/risk"
	"papertrader/internal/session"
	"papertrader/internal/simulator"
	"papertrader/internal/sink"
	"papertrader/internal/stoploss"
	"papertrader/internal/strategy"
)

const envPrefix = "PAPERTRADER"

// Config mirrors the YAML config layout. Every key can be overridden by PAPERTRADER_<PATH>,
// with dots replaced by underscores.
type Config struct {
	Date       string            `mapstructure:"date"`
	Speed      float64           `mapstructure:"speed"`
	Simulator  SimulatorConfig   `mapstructure:"simulator"`
	Session    SessionConfig     `mapstructure:"session"`
	Risk       RiskConfig        `mapstructure:"risk"`
	StopLoss   StopLossConfig    `mapstructure:"stoploss"`
	Order      OrderConfig       `mapstructure:"order"`
	Engine     EngineConfig      `mapstructure:"engine"`
	Warmup     WarmupConfig      `mapstructure:"warmup"`
	History    history.Config    `mapstructure:"history"`
	Sinks      sink.Config       `mapstructure:"sinks"`
	Monitor    monitor.Config    `mapstructure:"monitor"`
	Pyroscope  PyroscopeConfig   `mapstructure:"pyroscope"`
	Snapshot   SnapshotConfig    `mapstructure:"snapshot"`
	Strategies []strategy.Config `mapstructure:"strategies"`
}

// SimulatorConfig holds tick synthesis parameters.
type SimulatorConfig struct {
	TicksPerCandle     int     `mapstructure:"ticks_per_candle"`
	Seed               int64   `mapstructure:"seed"`
	NoiseSigmaPct      float64 `mapstructure:"noise_sigma_pct"`
	SmoothingAlpha     float64 `mapstructure:"smoothing_alpha"`
	ExtremeProbability float64 `mapstructure:"extreme_probability"`
	ExtremeRangePct    float64 `mapstructure:"extreme_range_pct"`
	SpreadPct          float64 `mapstructure:"spread_pct"`
}

// SessionConfig holds session clock times.
type SessionConfig struct {
	WarningTime   string `mapstructure:"warning_time"`
	SquareOffTime string `mapstructure:"square_off_time"`
	Location      string `mapstructure:"location"`
}

// RiskConfig holds pre-trade limits and the emergency halt.
type RiskConfig struct {
	MaxPositionSize         float64       `mapstructure:"max_position_size"`
	MaxPositionsPerStrategy int           `mapstructure:"max_positions_per_strategy"`
	MaxTotalPositions       int           `mapstructure:"max_total_positions"`
	MaxDailyLoss            float64       `mapstructure:"max_daily_loss"`
	MaxDailyLossPct         float64       `mapstructure:"max_daily_loss_pct"`
	FixedLotSize            int64         `mapstructure:"fixed_lot_size"`
	EstimatedLossPct        float64       `mapstructure:"estimated_loss_pct"`
	DuplicateWindow         time.Duration `mapstructure:"duplicate_window"`
}

// StopLossConfig holds the trailing policy.
type StopLossConfig struct {
	Type          string  `mapstructure:"type"`
	FixedPct      float64 `mapstructure:"fixed_pct"`
	ATRMultiplier float64 `mapstructure:"atr_multiplier"`
	MABufferPct   float64 `mapstructure:"ma_buffer_pct"`
	InitialPct    float64 `mapstructure:"initial_pct"`
	FinalPct      float64 `mapstructure:"final_pct"`
	DecayMinutes  float64 `mapstructure:"decay_minutes"`
}

// OrderConfig holds the paper account and fill model.
type OrderConfig struct {
	InitialCapital float64 `mapstructure:"initial_capital"`
	MinSlippagePct float64 `mapstructure:"min_slippage_pct"`
	MaxSlippagePct float64 `mapstructure:"max_slippage_pct"`
	PriceDecimals  int32   `mapstructure:"price_decimals"`
	Seed           int64   `mapstructure:"seed"`
}

// EngineConfig holds pipeline options.
type EngineConfig struct {
	IndicatorTimeframe time.Duration   `mapstructure:"indicator_timeframe"`
	Timeframes         []time.Duration `mapstructure:"timeframes"`
	HistorySize        int             `mapstructure:"history_size"`
	ATRPeriod          int             `mapstructure:"atr_period"`
	MAPeriod           int             `mapstructure:"ma_period"`
	RecentTrades       int             `mapstructure:"recent_trades"`
	SkipTickEvents     bool            `mapstructure:"skip_tick_events"`
}

// WarmupConfig holds the warmup floor.
type WarmupConfig struct {
	MinCandles int `mapstructure:"min_candles"`
}

// PyroscopeConfig enables continuous profiling.
type PyroscopeConfig struct {
	Enabled         bool              `mapstructure:"enabled"`
	ServerAddress   string            `mapstructure:"server_address"`
	ApplicationName string            `mapstructure:"application_name"`
	Tags            map[string]string `mapstructure:"tags"`
}

// SnapshotConfig sets where the end of session snapshot is written.
type SnapshotConfig struct {
	Path string `mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("speed", 1.0)

	v.SetDefault("session.warning_time", "15:00")
	v.SetDefault("session.square_off_time", "15:15")
	v.SetDefault("session.location", "Asia/Kolkata")

	v.SetDefault("risk.max_position_size", 100_000.0)
	v.SetDefault("risk.max_positions_per_strategy", 3)
	v.SetDefault("risk.max_total_positions", 10)
	v.SetDefault("risk.max_daily_loss", 5_000.0)
	v.SetDefault("risk.max_daily_loss_pct", 0.0)
	v.SetDefault("risk.fixed_lot_size", 0)
	v.SetDefault("risk.estimated_loss_pct", 0.0)
	v.SetDefault("risk.duplicate_window", "5s")

	v.SetDefault("stoploss.type", stoploss.TypeFixedPct.String())

	v.SetDefault("order.initial_capital", 1_000_000.0)
	v.SetDefault("order.min_slippage_pct", 0.0005)
	v.SetDefault("order.max_slippage_pct", 0.001)
	v.SetDefault("order.price_decimals", 2)

	v.SetDefault("engine.indicator_timeframe", "1m")
	v.SetDefault("engine.timeframes", []string{"1m", "5m", "15m"})
	v.SetDefault("engine.history_size", 500)
	v.SetDefault("engine.skip_tick_events", false)

	v.SetDefault("warmup.min_candles", 50)

	v.SetDefault("history.driver", history.DriverSQLite)
	v.SetDefault("history.path", "data/ohlcv.db")

	v.SetDefault("sinks.queue_size", 8192)
	v.SetDefault("sinks.write_timeout", "2s")
	v.SetDefault("sinks.journal.enabled", true)
	v.SetDefault("sinks.journal.dir", "data/journal")
	v.SetDefault("sinks.nats.enabled", false)
	v.SetDefault("sinks.nats.url", "nats://localhost:4222")
	v.SetDefault("sinks.nats.subject_prefix", "papertrader")
	v.SetDefault("sinks.store.enabled", false)

	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.addr", ":8080")

	v.SetDefault("pyroscope.enabled", false)
	v.SetDefault("pyroscope.server_address", "http://localhost:4040")
	v.SetDefault("pyroscope.application_name", "papertrader")

	v.SetDefault("snapshot.path", "data/positions.json")
}

// Load reads .env (when present), then the YAML file at path, then PAPERTRADER_* variables.
// An empty path looks for papertrader.yaml in . and ./config and tolerates its absence.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("papertrader")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the parts of the config that no component validates on construction.
func (c Config) Validate() error {
	if c.Speed < 0 {
		return fmt.Errorf("invalid config: speed must be >= 0")
	}
	if c.Date != "" {
		if _, err := time.Parse("2006-01-02", c.Date); err != nil {
			return fmt.Errorf("invalid config: date %q: %w", c.Date, err)
		}
	}
	if _, err := stoploss.ParseType(c.StopLoss.Type); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Warmup.MinCandles < 0 {
		return fmt.Errorf("invalid config: warmup.min_candles must be >= 0")
	}
	if err := c.History.Validate(); err != nil {
		return err
	}
	if err := c.Sinks.Validate(); err != nil {
		return err
	}
	if len(c.Strategies) == 0 {
		return fmt.Errorf("invalid config: no strategies configured")
	}
	return nil
}

// SimulatorConfig resolves the simulator parameters at the configured speed.
func (c Config) SimulatorConfig() simulator.Config {
	return simulator.Config{
		TicksPerCandle:     c.Simulator.TicksPerCandle,
		Speed:              c.Speed,
		Seed:               c.Simulator.Seed,
		NoiseSigmaPct:      c.Simulator.NoiseSigmaPct,
		SmoothingAlpha:     c.Simulator.SmoothingAlpha,
		ExtremeProbability: c.Simulator.ExtremeProbability,
		ExtremeRangePct:    c.Simulator.ExtremeRangePct,
		SpreadPct:          c.Simulator.SpreadPct,
	}
}

func (c Config) SessionConfig() session.Config {
	return session.Config{
		WarningTime:   c.Session.WarningTime,
		SquareOffTime: c.Session.SquareOffTime,
		Location:      c.Session.Location,
	}
}

func (c Config) RiskConfig() risk.Config {
	return risk.Config{
		MaxPositionSize:         c.Risk.MaxPositionSize,
		MaxPositionsPerStrategy: c.Risk.MaxPositionsPerStrategy,
		MaxTotalPositions:       c.Risk.MaxTotalPositions,
		MaxDailyLoss:            c.Risk.MaxDailyLoss,
		FixedLotSize:            c.Risk.FixedLotSize,
		EstimatedLossPct:        c.Risk.EstimatedLossPct,
	}
}

// EmergencyConfig shares the daily loss limit with the risk manager; the percentage limit is
// measured against the initial capital.
func (c Config) EmergencyConfig() risk.EmergencyConfig {
	return risk.EmergencyConfig{
		MaxDailyLoss:    c.Risk.MaxDailyLoss,
		MaxDailyLossPct: c.Risk.MaxDailyLossPct,
		Capital:         c.Order.InitialCapital,
	}
}

func (c Config) StopLossConfig() (stoploss.Config, error) {
	t, err := stoploss.ParseType(c.StopLoss.Type)
	if err != nil {
		return stoploss.Config{}, err
	}
	cfg := stoploss.DefaultConfig(t)
	if c.StopLoss.FixedPct > 0 {
		cfg.FixedPct = c.StopLoss.FixedPct
	}
	if c.StopLoss.ATRMultiplier > 0 {
		cfg.ATRMultiplier = c.StopLoss.ATRMultiplier
	}
	if c.StopLoss.MABufferPct > 0 {
		cfg.MABufferPct = c.StopLoss.MABufferPct
	}
	if c.StopLoss.InitialPct > 0 {
		cfg.InitialPct = c.StopLoss.InitialPct
	}
	if c.StopLoss.FinalPct > 0 {
		cfg.FinalPct = c.StopLoss.FinalPct
	}
	if c.StopLoss.DecayMinutes > 0 {
		cfg.DecayMinutes = c.StopLoss.DecayMinutes
	}
	return cfg, nil
}

func (c Config) OrderConfig() og.Config {
	return og.Config{InitialCapital: c.Order.InitialCapital}
}

func (c Config) BrokerConfig() og.SimBrokerConfig {
	return og.SimBrokerConfig{
		MinSlippagePct: c.Order.MinSlippagePct,
		MaxSlippagePct: c.Order.MaxSlippagePct,
		PriceDecimals:  c.Order.PriceDecimals,
		Seed:           c.Order.Seed,
	}
}

func (c Config) EngineConfig() core.EngineConfig {
	return core.EngineConfig{
		IndicatorTimeframe: c.Engine.IndicatorTimeframe,
		ATRPeriod:          c.Engine.ATRPeriod,
		MAPeriod:           c.Engine.MAPeriod,
		RecentTrades:       c.Engine.RecentTrades,
		SkipTickEvents:     c.Engine.SkipTickEvents,
	}
}

// AggregatorConfig always includes the indicator timeframe among the aggregated ones.
func (c Config) AggregatorConfig(loc *time.Location) candle.Config {
	frames := append([]time.Duration(nil), c.Engine.Timeframes...)
	if tf := c.Engine.IndicatorTimeframe; tf > 0 {
		found := false
		for _, f := range frames {
			if f == tf {
				found = true
				break
			}
		}
		if !found {
			frames = append(frames, tf)
		}
	}
	return candle.Config{Timeframes: frames, HistorySize: c.Engine.HistorySize, Location: loc}
}
