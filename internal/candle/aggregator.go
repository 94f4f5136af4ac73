// Package candle buckets ticks into per-timeframe forming and closed candles.
package candle

import (
	"fmt"
	"sort"
	"time"

	"papertrader/internal/schema"
)

const defaultHistorySize = 500

var defaultTimeframes = []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute}

// Config controls aggregation behavior.
type Config struct {
	Timeframes  []time.Duration
	HistorySize int
	// Location anchors bucket boundaries to local midnight.
	Location *time.Location
}

func (c Config) withDefaults() Config {
	if len(c.Timeframes) == 0 {
		c.Timeframes = defaultTimeframes
	}
	if c.HistorySize == 0 {
		c.HistorySize = defaultHistorySize
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	return c
}

// Validate checks if the config is usable.
func (c Config) Validate() error {
	for _, tf := range c.Timeframes {
		if tf <= 0 {
			return fmt.Errorf("invalid candle config: timeframe must be > 0")
		}
		if (24*time.Hour)%tf != 0 {
			return fmt.Errorf("invalid candle config: timeframe %s does not divide a day", tf)
		}
	}
	if c.HistorySize <= 0 {
		return fmt.Errorf("invalid candle config: HistorySize must be > 0")
	}
	return nil
}

type seriesKey struct {
	symbol    string
	timeframe time.Duration
}

type series struct {
	forming *schema.Candle
	history *ring
}

// Aggregator holds one forming candle and a bounded closed history per (symbol, timeframe).
// It is driven by the single pipeline goroutine and is not safe for concurrent use.
type Aggregator struct {
	cfg       Config
	series    map[seriesKey]*series
	callbacks []func(schema.Candle)
}

// NewAggregator validates the config and creates an aggregator.
func NewAggregator(cfg Config) (*Aggregator, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Aggregator{
		cfg:    cfg,
		series: make(map[seriesKey]*series),
	}, nil
}

// Timeframes returns the configured timeframes.
func (a *Aggregator) Timeframes() []time.Duration {
	return append([]time.Duration(nil), a.cfg.Timeframes...)
}

// OnClosed registers a callback invoked for every candle frozen by a live tick.
func (a *Aggregator) OnClosed(fn func(schema.Candle)) {
	if fn != nil {
		a.callbacks = append(a.callbacks, fn)
	}
}

// OnTick folds a tick into every timeframe and returns the candles it closed.
func (a *Aggregator) OnTick(tick schema.Tick) []schema.Candle {
	var closed []schema.Candle
	for _, tf := range a.cfg.Timeframes {
		s := a.get(tick.Symbol, tf)
		bucket := a.bucket(tick.Timestamp, tf)

		if s.forming != nil && !s.forming.Start.Equal(bucket) {
			c := a.freeze(s)
			closed = append(closed, c)
		}

		if s.forming == nil {
			s.forming = &schema.Candle{
				Symbol:    tick.Symbol,
				Timeframe: tf,
				Start:     bucket,
				Open:      tick.Price,
				High:      tick.Price,
				Low:       tick.Price,
				Close:     tick.Price,
				Volume:    tick.Volume,
			}
			continue
		}

		f := s.forming
		if tick.Price > f.High {
			f.High = tick.Price
		}
		if tick.Price < f.Low {
			f.Low = tick.Price
		}
		f.Close = tick.Price
		f.Volume += tick.Volume
	}

	for _, c := range closed {
		for _, fn := range a.callbacks {
			fn(c)
		}
	}
	return closed
}

// Seed appends historical candles to the closed history without invoking callbacks.
func (a *Aggregator) Seed(symbol string, timeframe time.Duration, candles []schema.Candle) {
	s := a.get(symbol, timeframe)
	sorted := append([]schema.Candle(nil), candles...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})
	for _, c := range sorted {
		c.Symbol = symbol
		c.Timeframe = timeframe
		c.Complete = true
		s.history.push(c)
	}
}

// SeedBars resamples finer historical candles into every configured timeframe and seeds them.
func (a *Aggregator) SeedBars(symbol string, candles []schema.Candle) {
	sorted := append([]schema.Candle(nil), candles...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})
	for _, tf := range a.cfg.Timeframes {
		a.Seed(symbol, tf, a.resample(sorted, tf))
	}
}

func (a *Aggregator) resample(sorted []schema.Candle, timeframe time.Duration) []schema.Candle {
	var out []schema.Candle
	for _, c := range sorted {
		start := a.bucket(c.Start, timeframe)
		if n := len(out); n > 0 && out[n-1].Start.Equal(start) {
			last := &out[n-1]
			if c.High > last.High {
				last.High = c.High
			}
			if c.Low < last.Low {
				last.Low = c.Low
			}
			last.Close = c.Close
			last.Volume += c.Volume
			continue
		}
		out = append(out, schema.Candle{
			Start:  start,
			Open:   c.Open,
			High:   c.High,
			Low:    c.Low,
			Close:  c.Close,
			Volume: c.Volume,
		})
	}
	return out
}

// Forming returns a copy of the forming candle.
func (a *Aggregator) Forming(symbol string, timeframe time.Duration) (schema.Candle, bool) {
	s, ok := a.series[seriesKey{symbol, timeframe}]
	if !ok || s.forming == nil {
		return schema.Candle{}, false
	}
	return *s.forming, true
}

// History returns up to n most recent closed candles, oldest first. n <= 0 returns all.
func (a *Aggregator) History(symbol string, timeframe time.Duration, n int) []schema.Candle {
	s, ok := a.series[seriesKey{symbol, timeframe}]
	if !ok {
		return nil
	}
	return s.history.last(n)
}

// Flush freezes every forming candle, invoking callbacks.
func (a *Aggregator) Flush() []schema.Candle {
	keys := make([]seriesKey, 0, len(a.series))
	for k, s := range a.series {
		if s.forming != nil {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].symbol != keys[j].symbol {
			return keys[i].symbol < keys[j].symbol
		}
		return keys[i].timeframe < keys[j].timeframe
	})

	closed := make([]schema.Candle, 0, len(keys))
	for _, k := range keys {
		closed = append(closed, a.freeze(a.series[k]))
	}
	for _, c := range closed {
		for _, fn := range a.callbacks {
			fn(c)
		}
	}
	return closed
}

func (a *Aggregator) freeze(s *series) schema.Candle {
	c := *s.forming
	c.Complete = true
	s.history.push(c)
	s.forming = nil
	return c
}

func (a *Aggregator) get(symbol string, timeframe time.Duration) *series {
	key := seriesKey{symbol, timeframe}
	s, ok := a.series[key]
	if !ok {
		s = &series{history: newRing(a.cfg.HistorySize)}
		a.series[key] = s
	}
	return s
}

func (a *Aggregator) bucket(ts time.Time, timeframe time.Duration) time.Time {
	local := ts.In(a.cfg.Location)
	y, m, d := local.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, a.cfg.Location)
	return midnight.Add(local.Sub(midnight).Truncate(timeframe))
}
