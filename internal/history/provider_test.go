package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrader/internal/schema"
	"papertrader/pkg/exception"
)

func kolkata(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	return loc
}

func bar(symbol string, at time.Time, close float64) schema.Candle {
	return schema.Candle{Symbol: symbol, Timeframe: time.Minute, Start: at,
		Open: close, High: close + 1, Low: close - 1, Close: close, Volume: 100, Complete: true}
}

func fixtureCandles(loc *time.Location) []schema.Candle {
	d1 := time.Date(2024, 3, 1, 9, 15, 0, 0, loc)
	d2 := time.Date(2024, 3, 4, 9, 15, 0, 0, loc)
	return []schema.Candle{
		bar("AAA", d1, 100),
		bar("AAA", d1.Add(time.Minute), 101),
		bar("BBB", d2.Add(time.Minute), 51),
		bar("AAA", d2.Add(time.Minute), 103),
		bar("AAA", d2, 102),
		bar("BBB", d2, 50),
		// 20:30 UTC on the 3rd is the 4th in Kolkata.
		bar("CCC", time.Date(2024, 3, 3, 20, 30, 0, 0, time.UTC), 10),
	}
}

type storeProvider interface {
	Provider
	Writer
}

func runProviderContract(t *testing.T, p storeProvider, loc *time.Location) {
	ctx := context.Background()

	stats, err := p.GetStatistics(ctx)
	require.NoError(t, err)
	assert.Empty(t, stats.Dates)
	assert.Empty(t, stats.Symbols)

	require.NoError(t, p.Store(ctx, fixtureCandles(loc)))

	day := time.Date(2024, 3, 4, 0, 0, 0, 0, loc)
	got, err := p.GetData(ctx, day, []string{"AAA", "BBB"})
	require.NoError(t, err)
	require.Len(t, got, 4)
	order := make([]string, 0, len(got))
	for _, c := range got {
		order = append(order, c.Symbol+c.Start.In(loc).Format("1504"))
		assert.Equal(t, time.Minute, c.Timeframe)
		assert.True(t, c.Complete)
	}
	assert.Equal(t, []string{"AAA0915", "BBB0915", "AAA0916", "BBB0916"}, order)
	assert.Equal(t, 102.0, got[0].Close)
	assert.Equal(t, int64(100), got[0].Volume)

	local, err := p.GetData(ctx, day, []string{"CCC"})
	require.NoError(t, err)
	require.Len(t, local, 1, "days are keyed in the provider location")

	_, err = p.GetData(ctx, time.Date(2024, 3, 2, 0, 0, 0, 0, loc), []string{"AAA"})
	require.ErrorIs(t, err, exception.ErrNoData)
	_, err = p.GetData(ctx, day, []string{"ZZZ"})
	require.ErrorIs(t, err, exception.ErrNoData)
	_, err = p.GetData(ctx, day, nil)
	require.ErrorIs(t, err, exception.ErrNoSymbols)

	stats, err = p.GetStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-03-01", "2024-03-04"}, stats.Dates)
	require.Len(t, stats.Symbols, 3)
	aaa := stats.Symbols[0]
	assert.Equal(t, "AAA", aaa.Symbol)
	assert.Equal(t, 2, aaa.Days)
	assert.Equal(t, int64(4), aaa.Candles)
	assert.True(t, aaa.First.Equal(time.Date(2024, 3, 1, 9, 15, 0, 0, loc)))
	assert.True(t, aaa.Last.Equal(time.Date(2024, 3, 4, 9, 16, 0, 0, loc)))

	prev, ok := stats.PreviousDate(day)
	require.True(t, ok)
	assert.Equal(t, "2024-03-01", prev)
	_, ok = stats.PreviousDate(time.Date(2024, 3, 1, 0, 0, 0, 0, loc))
	assert.False(t, ok)
	assert.True(t, stats.HasDate(day))

	// same symbol and start replaces the row
	require.NoError(t, p.Store(ctx, []schema.Candle{bar("AAA", time.Date(2024, 3, 4, 9, 15, 0, 0, loc), 120)}))
	got, err = p.GetData(ctx, day, []string{"AAA"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 120.0, got[0].Close)

	bad := bar("AAA", day, 100)
	bad.Low = bad.High + 1
	require.ErrorIs(t, p.Store(ctx, []schema.Candle{bad}), exception.ErrInvalidCandle)
}

func TestMemoryProvider(t *testing.T) {
	loc := kolkata(t)
	p := NewMemoryProvider(loc)
	defer p.Close()
	runProviderContract(t, p, loc)
}

func TestParseDay(t *testing.T) {
	loc := kolkata(t)
	day, err := ParseDay("2024-03-04", loc)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-04", DayKey(day, loc))
	assert.Equal(t, loc, day.Location())

	_, err = ParseDay("04/03/2024", loc)
	require.ErrorIs(t, err, exception.ErrInvalidArgument)
}

func TestCheckCandle(t *testing.T) {
	at := time.Date(2024, 3, 4, 9, 15, 0, 0, time.UTC)
	testCases := []struct {
		desc   string
		mutate func(c *schema.Candle)
		ok     bool
	}{
		{desc: "valid", mutate: func(*schema.Candle) {}, ok: true},
		{desc: "empty symbol", mutate: func(c *schema.Candle) { c.Symbol = "" }},
		{desc: "zero start", mutate: func(c *schema.Candle) { c.Start = time.Time{} }},
		{desc: "close above high", mutate: func(c *schema.Candle) { c.Close = c.High + 1 }},
		{desc: "open below low", mutate: func(c *schema.Candle) { c.Open = c.Low - 1 }},
		{desc: "non positive", mutate: func(c *schema.Candle) { c.Low, c.Open, c.Close = 0, 0, 0 }},
	}
	for _, tc := range testCases {
		c := bar("AAA", at, 10)
		tc.mutate(&c)
		err := checkCandle(c)
		if tc.ok != (err == nil) {
			t.Fatalf("%s: unexpected result %v", tc.desc, err)
		}
	}
}
