// Package mdg generates synthetic 1m candle sessions for seeding the history store.
package mdg

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"papertrader/internal/schema"
)

// Config controls the random walk.
type Config struct {
	Symbols    []string
	BasePrice  float64
	Volatility float64 // per-minute stddev of returns
	Drift      float64 // per-minute mean return
	BaseVolume int64
	TickSize   float64
	Open       time.Duration // offset from local midnight
	Close      time.Duration
	Location   *time.Location
	Seed       int64
}

func (c Config) withDefaults() Config {
	if c.BasePrice == 0 {
		c.BasePrice = 100
	}
	if c.Volatility == 0 {
		c.Volatility = 0.001
	}
	if c.BaseVolume == 0 {
		c.BaseVolume = 1000
	}
	if c.TickSize == 0 {
		c.TickSize = 0.05
	}
	if c.Open == 0 {
		c.Open = 9*time.Hour + 15*time.Minute
	}
	if c.Close == 0 {
		c.Close = 15*time.Hour + 30*time.Minute
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	return c
}

// Validate checks if the config is usable.
func (c Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("invalid generator config: no symbols")
	}
	if c.BasePrice <= 0 || c.Volatility < 0 || c.BaseVolume <= 0 || c.TickSize <= 0 {
		return fmt.Errorf("invalid generator config: price, volume and tick size must be > 0")
	}
	if c.Close <= c.Open || c.Close > 24*time.Hour {
		return fmt.Errorf("invalid generator config: session %s-%s is empty", c.Open, c.Close)
	}
	return nil
}

// Generator creates continuous random-walk sessions; each day opens at the previous close.
type Generator struct {
	cfg  Config
	rng  *rand.Rand
	last map[string]float64
}

// NewGenerator creates a generator. Symbols start at BasePrice scaled by their position.
func NewGenerator(cfg Config) (*Generator, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g := &Generator{
		cfg:  cfg,
		rng:  rand.New(rand.NewSource(cfg.Seed)),
		last: make(map[string]float64, len(cfg.Symbols)),
	}
	for i, sym := range cfg.Symbols {
		g.last[sym] = g.round(cfg.BasePrice * (1 + 0.25*float64(i)))
	}
	return g, nil
}

// Day generates one session of 1m candles for every symbol, ordered by start then symbol.
func (g *Generator) Day(day time.Time) []schema.Candle {
	y, m, d := day.In(g.cfg.Location).Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, g.cfg.Location)
	minutes := int((g.cfg.Close - g.cfg.Open) / time.Minute)

	out := make([]schema.Candle, 0, minutes*len(g.cfg.Symbols))
	for i := 0; i < minutes; i++ {
		start := midnight.Add(g.cfg.Open + time.Duration(i)*time.Minute)
		for _, sym := range g.cfg.Symbols {
			out = append(out, g.next(sym, start))
		}
	}
	return out
}

func (g *Generator) next(symbol string, start time.Time) schema.Candle {
	open := g.last[symbol]
	ret := g.cfg.Drift + g.cfg.Volatility*g.rng.NormFloat64()
	closePrice := g.round(math.Max(open*(1+ret), g.cfg.TickSize))
	wick := math.Abs(g.cfg.Volatility * g.rng.NormFloat64() * open / 2)
	high := g.round(math.Max(open, closePrice) + wick)
	low := g.round(math.Max(math.Min(open, closePrice)-wick, g.cfg.TickSize))
	g.last[symbol] = closePrice

	volume := g.cfg.BaseVolume/2 + g.rng.Int63n(g.cfg.BaseVolume)
	return schema.Candle{
		Symbol:    symbol,
		Timeframe: time.Minute,
		Start:     start,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
		Complete:  true,
	}
}

func (g *Generator) round(price float64) float64 {
	ticks := math.Round(price / g.cfg.TickSize)
	return math.Round(ticks*g.cfg.TickSize*100) / 100
}
