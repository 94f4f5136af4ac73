package obs

import (
	"sync/atomic"
)

// RoundGenerator hands out increasing ids for signal rounds, so every trade
// and risk decision of one tick can be correlated in logs and sinks.
type RoundGenerator struct {
	next uint64
}

// NewRoundGenerator returns a generator starting after seed.
func NewRoundGenerator(seed uint64) *RoundGenerator {
	return &RoundGenerator{next: seed}
}

// Next returns the next round id.
func (g *RoundGenerator) Next() uint64 {
	if g == nil {
		return 0
	}
	return atomic.AddUint64(&g.next, 1)
}

// Last returns the most recent round id.
func (g *RoundGenerator) Last() uint64 {
	if g == nil {
		return 0
	}
	return atomic.LoadUint64(&g.next)
}
