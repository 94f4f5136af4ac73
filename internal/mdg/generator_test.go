package mdg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratorDay(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	g, err := NewGenerator(Config{Symbols: []string{"AAA", "BBB"}, Location: loc, Seed: 7})
	require.NoError(t, err)

	day := time.Date(2024, 3, 4, 0, 0, 0, 0, loc)
	candles := g.Day(day)
	require.Len(t, candles, 375*2)

	first := candles[0]
	assert.Equal(t, "AAA", first.Symbol)
	assert.Equal(t, "BBB", candles[1].Symbol)
	assert.Equal(t, time.Date(2024, 3, 4, 9, 15, 0, 0, loc), first.Start)
	assert.Equal(t, time.Date(2024, 3, 4, 15, 29, 0, 0, loc), candles[len(candles)-1].Start)

	prev := map[string]float64{}
	for _, c := range candles {
		if c.High < c.Open || c.High < c.Close || c.Low > c.Open || c.Low > c.Close || c.Low <= 0 {
			t.Fatalf("inconsistent candle %+v", c)
		}
		if p, ok := prev[c.Symbol]; ok && p != c.Open {
			t.Fatalf("gap in %s at %s: prev close %v open %v", c.Symbol, c.Start, p, c.Open)
		}
		prev[c.Symbol] = c.Close
		assert.True(t, c.Complete)
		assert.Positive(t, c.Volume)
	}

	next := g.Day(day.AddDate(0, 0, 1))
	assert.Equal(t, prev["AAA"], next[0].Open, "next session opens at the previous close")
}

func TestGeneratorIsDeterministic(t *testing.T) {
	build := func() []float64 {
		g, err := NewGenerator(Config{Symbols: []string{"AAA"}, Seed: 42})
		require.NoError(t, err)
		var out []float64
		for _, c := range g.Day(time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC))[:20] {
			out = append(out, c.Close)
		}
		return out
	}
	assert.Equal(t, build(), build())
}

func TestConfigValidate(t *testing.T) {
	testCases := []struct {
		desc string
		cfg  Config
	}{
		{desc: "no symbols", cfg: Config{}},
		{desc: "negative price", cfg: Config{Symbols: []string{"A"}, BasePrice: -1}},
		{desc: "empty session", cfg: Config{Symbols: []string{"A"}, Open: 10 * time.Hour, Close: 9 * time.Hour}},
	}
	for _, tc := range testCases {
		if _, err := NewGenerator(tc.cfg); err == nil {
			t.Fatalf("%s: expected error", tc.desc)
		}
	}
}
