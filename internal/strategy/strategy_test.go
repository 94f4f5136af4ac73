package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrader/internal/schema"
	"papertrader/pkg/exception"
)

var t0 = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func testParams() RSIMAParams {
	p := DefaultRSIMAParams()
	p.RSIPeriod = 3
	p.MAPeriod = 4
	p.Window = 4
	p.Budget = 1000
	return p
}

func warm(s *RSIMA, symbol string, closes ...float64) {
	for i, c := range closes {
		s.OnWarmupCandle(schema.Candle{
			Symbol:    symbol,
			Timeframe: time.Minute,
			Start:     t0.Add(time.Duration(i-len(closes)) * time.Minute),
			Open:      c, High: c, Low: c, Close: c, Volume: 100,
			Complete: true,
		})
	}
}

func TestBaseRefusesSignalsUntilWarm(t *testing.T) {
	b := NewBase("s1", []string{"AAA", "AAA", ""})
	assert.Equal(t, []string{"AAA"}, b.Symbols())
	assert.False(t, b.Emit(schema.Signal{Symbol: "AAA"}))
	assert.Empty(t, b.Signals())

	b.SetWarmedUp(true)
	assert.True(t, b.Emit(schema.Signal{Symbol: "AAA"}))
	sigs := b.Signals()
	require.Len(t, sigs, 1)
	assert.Equal(t, "s1", sigs[0].StrategyID)

	b.ClearSignals()
	assert.Empty(t, b.Signals())
}

func TestBaseHoldingsAverageIn(t *testing.T) {
	b := NewBase("s1", []string{"AAA"})
	b.AddPosition("AAA", 10, 100, t0)
	b.AddPosition("AAA", 30, 104, t0.Add(time.Minute))
	h, ok := b.Position("AAA")
	require.True(t, ok)
	assert.Equal(t, int64(40), h.Quantity)
	assert.InDelta(t, 103.0, h.EntryPrice, 1e-9)
	assert.Equal(t, t0, h.EntryTime)

	b.ReducePosition("AAA", 15)
	h, _ = b.Position("AAA")
	assert.Equal(t, int64(25), h.Quantity)
	b.ReducePosition("AAA", 25)
	_, ok = b.Position("AAA")
	assert.False(t, ok)
}

func TestBaseSquareOff(t *testing.T) {
	b := NewBase("s1", []string{"AAA", "BBB"})
	b.AddPosition("BBB", 5, 50, t0)
	b.AddPosition("AAA", 2, 100, t0)
	b.ObservePrice("AAA", 101)

	sigs := b.SquareOff("TIME_SQUARE_OFF", t0.Add(time.Hour))
	require.Len(t, sigs, 2)
	assert.Equal(t, "AAA", sigs[0].Symbol)
	assert.Equal(t, 101.0, sigs[0].Price)
	assert.Equal(t, 50.0, sigs[1].Price)
	for _, sig := range sigs {
		assert.Equal(t, schema.ActionSell, sig.Action)
		assert.Equal(t, schema.PriorityHigh, sig.Priority)
		assert.Equal(t, "TIME_SQUARE_OFF", sig.Reason)
	}
	assert.Empty(t, b.Signals(), "square off must not enqueue")
}

func TestRSIMAEntry(t *testing.T) {
	s := NewRSIMAWithParams("s1", []string{"AAA"}, testParams())
	require.NoError(t, s.Initialize())
	assert.Equal(t, 4, s.RequiredWarmup())

	warm(s, "AAA", 100, 99, 98, 97)
	assert.Empty(t, s.Signals(), "warmup must never emit")

	tick := schema.Tick{Symbol: "AAA", Timestamp: t0, Price: 99}
	require.NoError(t, s.OnTick(tick))
	assert.Empty(t, s.Signals(), "unwarmed strategy must not emit")

	s.SetWarmedUp(true)
	require.NoError(t, s.OnTick(tick))
	sigs := s.Signals()
	require.Len(t, sigs, 1)
	assert.Equal(t, schema.ActionBuy, sigs[0].Action)
	assert.Equal(t, int64(10), sigs[0].Quantity)
	assert.Equal(t, ReasonRSIOversoldBuy, sigs[0].Reason)
	assert.Contains(t, sigs[0].Indicators, "rsi")

	s.ClearSignals()
	require.NoError(t, s.OnTick(schema.Tick{Symbol: "AAA", Timestamp: t0, Price: 98}))
	assert.Empty(t, s.Signals(), "price below MA must not enter")

	require.NoError(t, s.OnTick(schema.Tick{Symbol: "ZZZ", Timestamp: t0, Price: 99}))
	assert.Empty(t, s.Signals(), "unsubscribed symbol")

	testCases := []struct {
		desc      string
		minVolume float64
		entry     bool
	}{
		{desc: "volume above the floor", minVolume: 99.5, entry: true},
		{desc: "volume equal to the floor", minVolume: 100, entry: false},
		{desc: "volume below the floor", minVolume: 150, entry: false},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			p := testParams()
			p.MinVolume = tc.minVolume
			s := NewRSIMAWithParams("s1", []string{"AAA"}, p)
			warm(s, "AAA", 100, 99, 98, 97)
			s.SetWarmedUp(true)
			sig := s.CheckEntryConditions("AAA", schema.Tick{Symbol: "AAA", Timestamp: t0, Price: 99})
			if (sig != nil) != tc.entry {
				t.Fatalf("entry = %t, want %t", sig != nil, tc.entry)
			}
		})
	}
}

func TestRSIMAWarmupIgnoresOtherSymbols(t *testing.T) {
	s := NewRSIMAWithParams("s1", []string{"AAA"}, testParams())
	warm(s, "ZZZ", 100, 99, 98, 97)
	_, _, ok := s.Indicators("ZZZ")
	assert.False(t, ok)
	_, seen := s.LastPrice("ZZZ")
	assert.False(t, seen)
}

func TestRSIMAMinimumQuantity(t *testing.T) {
	s := NewRSIMAWithParams("s1", []string{"AAA"}, testParams())
	warm(s, "AAA", 5000, 4990, 4980, 4970)
	s.SetWarmedUp(true)
	sig := s.CheckEntryConditions("AAA", schema.Tick{Symbol: "AAA", Timestamp: t0, Price: 4990})
	require.NotNil(t, sig)
	assert.Equal(t, int64(1), sig.Quantity)
}

func TestRSIMAExit(t *testing.T) {
	testCases := []struct {
		desc   string
		closes []float64
		at     time.Duration
		price  float64
		reason string
	}{
		{"hard stop before min hold", []float64{100, 99, 98, 97}, time.Minute, 97.9, ReasonStopLoss},
		{"held too briefly", []float64{100, 99, 98, 97}, time.Minute, 104, ""},
		{"target after min hold", []float64{100, 99, 98, 97}, 6 * time.Minute, 103.5, ReasonTarget},
		{"overbought in profit", []float64{97, 98, 99, 100}, 6 * time.Minute, 101, ReasonRSIOverbought},
		{"overbought at a loss", []float64{97, 98, 99, 100}, 6 * time.Minute, 99.5, ""},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			s := NewRSIMAWithParams("s1", []string{"AAA"}, testParams())
			warm(s, "AAA", tc.closes...)
			s.SetWarmedUp(true)
			s.AddPosition("AAA", 10, 100, t0)

			require.NoError(t, s.OnTick(schema.Tick{Symbol: "AAA", Timestamp: t0.Add(tc.at), Price: tc.price}))
			sigs := s.Signals()
			if tc.reason == "" {
				assert.Empty(t, sigs)
				return
			}
			require.Len(t, sigs, 1)
			assert.Equal(t, schema.ActionSell, sigs[0].Action)
			assert.Equal(t, int64(10), sigs[0].Quantity)
			assert.Equal(t, tc.reason, sigs[0].Reason)
		})
	}
}

func TestRSIMAIgnoresOtherTimeframes(t *testing.T) {
	s := NewRSIMAWithParams("s1", []string{"AAA"}, testParams())
	s.OnCandleComplete(schema.Candle{Symbol: "AAA", Timeframe: 5 * time.Minute, Close: 1})
	_, _, ok := s.Indicators("AAA")
	assert.False(t, ok)
	assert.Empty(t, s.windows["AAA"])
}

func TestBuild(t *testing.T) {
	cfgs := []Config{
		{ID: "a", Class: RSIMAClass, Symbols: []string{"AAA"}, Enabled: true, Params: Params{"rsi_period": "7", "min_hold": "2m"}},
		{ID: "b", Class: "nope", Symbols: []string{"AAA"}, Enabled: true},
		{ID: "c", Class: RSIMAClass, Symbols: []string{"AAA"}, Enabled: false},
		{ID: "a", Class: RSIMAClass, Symbols: []string{"BBB"}, Enabled: true},
		{ID: "d", Class: RSIMAClass, Enabled: true},
		{ID: "e", Class: RSIMAClass, Symbols: []string{"AAA"}, Enabled: true, Params: Params{"oversold": 80}},
	}
	out, err := Build(cfgs)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].ID())

	rsima, ok := out[0].(*RSIMA)
	require.True(t, ok)
	assert.Equal(t, 7, rsima.Params().RSIPeriod)
	assert.Equal(t, 2*time.Minute, rsima.Params().MinHold)

	_, err = Build(cfgs[1:3])
	require.ErrorIs(t, err, exception.ErrNoStrategies)

	_, err = BuildOne(cfgs[1])
	require.ErrorIs(t, err, exception.ErrUnknownStrategy)
	assert.Equal(t, []string{RSIMAClass}, Classes())
}

func TestParams(t *testing.T) {
	p := Params{"f": "1.5", "i": 3.0, "d": 90, "bad": "x"}
	f, err := p.Float("f", 0)
	require.NoError(t, err)
	assert.Equal(t, 1.5, f)

	i, err := p.Int("i", 0)
	require.NoError(t, err)
	assert.Equal(t, 3, i)

	d, err := p.Duration("d", 0)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	def, err := p.Int("missing", 9)
	require.NoError(t, err)
	assert.Equal(t, 9, def)

	_, err = p.Float("bad", 0)
	require.ErrorIs(t, err, exception.ErrInvalidStrategyParam)
}
