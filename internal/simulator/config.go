package simulator

import (
	"fmt"
	"time"
)

const (
	defaultTicksPerCandle     = 12
	defaultCandleInterval     = time.Minute
	defaultNoiseSigmaPct      = 0.0005
	defaultSmoothingAlpha     = 0.3
	defaultExtremeProbability = 0.3
	defaultExtremeRangePct    = 0.02
	defaultClipBufferPct      = 0.001
	defaultSpreadPct          = 0.001
)

// Config controls tick synthesis and pacing.
type Config struct {
	TicksPerCandle int
	// Speed scales pacing; 1 is real time, 0 disables sleeping.
	Speed          float64
	CandleInterval time.Duration
	// Seed of 0 seeds from the wall clock.
	Seed int64

	NoiseSigmaPct      float64
	SmoothingAlpha     float64
	ExtremeProbability float64
	ExtremeRangePct    float64
	ClipBufferPct      float64
	SpreadPct          float64
}

// DefaultConfig returns the baseline synthesis parameters at the given speed.
func DefaultConfig(speed float64) Config {
	return Config{Speed: speed}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.TicksPerCandle == 0 {
		c.TicksPerCandle = defaultTicksPerCandle
	}
	if c.CandleInterval == 0 {
		c.CandleInterval = defaultCandleInterval
	}
	if c.NoiseSigmaPct == 0 {
		c.NoiseSigmaPct = defaultNoiseSigmaPct
	}
	if c.SmoothingAlpha == 0 {
		c.SmoothingAlpha = defaultSmoothingAlpha
	}
	if c.ExtremeProbability == 0 {
		c.ExtremeProbability = defaultExtremeProbability
	}
	if c.ExtremeRangePct == 0 {
		c.ExtremeRangePct = defaultExtremeRangePct
	}
	if c.ClipBufferPct == 0 {
		c.ClipBufferPct = defaultClipBufferPct
	}
	if c.SpreadPct == 0 {
		c.SpreadPct = defaultSpreadPct
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UTC().UnixNano()
	}
	return c
}

// Validate checks if the config is usable.
func (c Config) Validate() error {
	if c.TicksPerCandle <= 0 {
		return fmt.Errorf("invalid simulator config: TicksPerCandle must be > 0")
	}
	if c.Speed < 0 {
		return fmt.Errorf("invalid simulator config: Speed must be >= 0")
	}
	if c.CandleInterval <= 0 {
		return fmt.Errorf("invalid simulator config: CandleInterval must be > 0")
	}
	if c.NoiseSigmaPct < 0 {
		return fmt.Errorf("invalid simulator config: NoiseSigmaPct must be >= 0")
	}
	if c.SmoothingAlpha <= 0 || c.SmoothingAlpha > 1 {
		return fmt.Errorf("invalid simulator config: SmoothingAlpha must be in (0, 1]")
	}
	if c.ExtremeProbability < 0 || c.ExtremeProbability > 1 {
		return fmt.Errorf("invalid simulator config: ExtremeProbability must be between 0 and 1")
	}
	if c.ClipBufferPct < 0 || c.ClipBufferPct >= 0.5 {
		return fmt.Errorf("invalid simulator config: ClipBufferPct must be in [0, 0.5)")
	}
	if c.SpreadPct < 0 {
		return fmt.Errorf("invalid simulator config: SpreadPct must be >= 0")
	}
	return nil
}

// TickInterval is the simulated time between consecutive ticks of one candle.
func (c Config) TickInterval() time.Duration {
	return c.CandleInterval / time.Duration(c.TicksPerCandle)
}

// PaceInterval is the wall-clock sleep between sub-intervals.
func (c Config) PaceInterval() time.Duration {
	if c.Speed <= 0 {
		return 0
	}
	return time.Duration(float64(c.TickInterval()) / c.Speed)
}
