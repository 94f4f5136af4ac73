package simulator

import (
	"math"
	"math/rand"
	"time"

	"papertrader/internal/schema"
)

// synthesizer turns one candle into K ticks.
type synthesizer struct {
	cfg Config
	rng *rand.Rand
}

func (s *synthesizer) ticks(c schema.Candle) []schema.Tick {
	k := s.cfg.TicksPerCandle
	prices := s.prices(c, k)
	volumes := s.volumes(c.Volume, k)
	step := s.cfg.TickInterval()

	out := make([]schema.Tick, k)
	for i := 0; i < k; i++ {
		price := prices[i]
		half := price * s.cfg.SpreadPct / 2
		out[i] = schema.Tick{
			Symbol:    c.Symbol,
			Timestamp: c.Start.Add(step * time.Duration(i)),
			Price:     price,
			Bid:       price - half,
			Ask:       price + half,
			Volume:    volumes[i],
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
		}
	}
	return out
}

// waypoints picks the price path through the candle.
func (s *synthesizer) waypoints(c schema.Candle) []float64 {
	touch := s.rng.Float64() < s.cfg.ExtremeProbability
	if !touch || c.Open <= 0 || (c.High-c.Low)/c.Open <= s.cfg.ExtremeRangePct {
		return []float64{c.Open, c.Close}
	}
	if c.Close >= c.Open {
		return []float64{c.Open, c.Low, c.High, c.Close}
	}
	return []float64{c.Open, c.High, c.Low, c.Close}
}

func (s *synthesizer) prices(c schema.Candle, k int) []float64 {
	span := c.High - c.Low
	if span <= 0 {
		out := make([]float64, k)
		for i := range out {
			out[i] = c.Close
		}
		return out
	}

	path := interpolate(s.waypoints(c), k)
	for i, p := range path {
		path[i] = p + s.rng.NormFloat64()*s.cfg.NoiseSigmaPct*p
	}

	alpha := s.cfg.SmoothingAlpha
	for i := 1; i < len(path); i++ {
		path[i] = alpha*path[i] + (1-alpha)*path[i-1]
	}

	buffer := span * s.cfg.ClipBufferPct
	lo, hi := c.Low+buffer, c.High-buffer
	for i, p := range path {
		path[i] = math.Min(math.Max(p, lo), hi)
	}
	return path
}

// volumes splits total across k ticks with exponential weights, summing exactly to total.
func (s *synthesizer) volumes(total int64, k int) []int64 {
	out := make([]int64, k)
	if total <= 0 {
		return out
	}
	weights := make([]float64, k)
	sum := 0.0
	for i := range weights {
		weights[i] = s.rng.ExpFloat64()
		sum += weights[i]
	}
	var assigned int64
	for i, w := range weights {
		out[i] = int64(math.Floor(float64(total) * w / sum))
		assigned += out[i]
	}
	out[k-1] += total - assigned
	return out
}

// interpolate places k points evenly along a piecewise linear path.
func interpolate(points []float64, k int) []float64 {
	out := make([]float64, k)
	if k == 1 {
		out[0] = points[len(points)-1]
		return out
	}
	segments := len(points) - 1
	for i := 0; i < k; i++ {
		pos := float64(i) / float64(k-1) * float64(segments)
		seg := int(pos)
		if seg >= segments {
			seg = segments - 1
		}
		frac := pos - float64(seg)
		out[i] = points[seg] + (points[seg+1]-points[seg])*frac
	}
	return out
}
