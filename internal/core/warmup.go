package core

import (
	"sort"

	"github.com/yanun0323/logs"

	"papertrader/internal/schema"
	"papertrader/internal/strategy"
)

const defaultMinWarmup = 50

// WarmupReport summarizes one warmup pass.
type WarmupReport struct {
	Required   int            `json:"required"`
	Candles    int            `json:"candles"`
	PerSymbol  map[string]int `json:"per_symbol"`
	Warmed     []string       `json:"warmed"`
	Incomplete []string       `json:"incomplete,omitempty"`
}

// WarmupManager primes strategies with earlier candles.
type WarmupManager struct {
	minimum int
}

// NewWarmupManager creates a warmup manager; minimum <= 0 uses the default floor.
func NewWarmupManager(minimum int) *WarmupManager {
	if minimum <= 0 {
		minimum = defaultMinWarmup
	}
	return &WarmupManager{minimum: minimum}
}

// RequiredWarmup returns the largest declared requirement, floored at the minimum.
func (w *WarmupManager) RequiredWarmup(strategies []strategy.Strategy) int {
	required := w.minimum
	for _, s := range strategies {
		if n := s.RequiredWarmup(); n > required {
			required = n
		}
	}
	return required
}

// WarmupStrategies feeds all candles, merged into one chronological sequence across symbols,
// to every strategy, then marks each strategy warmed up. Strategies drop symbols they do not read.
// Strategies with fewer candles than they declare are still marked and reported as incomplete.
func (w *WarmupManager) WarmupStrategies(strategies []strategy.Strategy, candles []schema.Candle) WarmupReport {
	merged := append([]schema.Candle(nil), candles...)
	sort.SliceStable(merged, func(i, j int) bool {
		if !merged[i].Start.Equal(merged[j].Start) {
			return merged[i].Start.Before(merged[j].Start)
		}
		return merged[i].Symbol < merged[j].Symbol
	})

	report := WarmupReport{
		Required:  w.RequiredWarmup(strategies),
		Candles:   len(merged),
		PerSymbol: make(map[string]int),
	}
	for _, c := range merged {
		report.PerSymbol[c.Symbol]++
	}

	for _, c := range merged {
		for _, s := range strategies {
			s.OnWarmupCandle(c)
		}
	}

	for _, s := range strategies {
		s.SetWarmedUp(true)
		report.Warmed = append(report.Warmed, s.ID())
		for _, sym := range s.Symbols() {
			if report.PerSymbol[sym] < s.RequiredWarmup() {
				logs.Warnf("strategy %s warmed with %d/%d candles of %s", s.ID(), report.PerSymbol[sym], s.RequiredWarmup(), sym)
				report.Incomplete = append(report.Incomplete, s.ID()+"/"+sym)
			}
		}
	}
	logs.Infof("warmup done: %d candles, %d strategies, required %d", report.Candles, len(strategies), report.Required)
	return report
}

// Tail keeps the last n candles of every symbol, preserving input order.
func (w *WarmupManager) Tail(candles []schema.Candle, n int) []schema.Candle {
	if n <= 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, c := range candles {
		counts[c.Symbol]++
	}
	out := make([]schema.Candle, 0, len(candles))
	seen := make(map[string]int)
	for _, c := range candles {
		seen[c.Symbol]++
		if counts[c.Symbol]-seen[c.Symbol] < n {
			out = append(out, c)
		}
	}
	return out
}
