// Package history serves recorded 1-minute candles to the replay.
//
// # Module
//
// A Provider answers two questions: which candles exist for one trading day, and which days
// are covered at all. Days are keyed as YYYY-MM-DD in the provider's location, so a candle
// belongs to the session day it was traded on regardless of the UTC date.
//
// # Source
//
//   - sqlite file (modernc.org/sqlite, pure go)
//   - postgres (gorm)
//   - memory (tests and synthetic runs)
//
// # Produce
//
//   - []schema.Candle sorted by start time, then symbol
//   - Statistics with the covered days and per-symbol coverage
package history

import (
	"context"
	"sort"
	"time"

	"github.com/yanun0323/errors"

	"papertrader/internal/schema"
	"papertrader/pkg/exception"
)

const dayLayout = "2006-01-02"

// Provider reads historical candles.
type Provider interface {
	// GetData returns every 1-minute candle of the requested symbols traded on date.
	// It returns exception.ErrNoData when nothing matches.
	GetData(ctx context.Context, date time.Time, symbols []string) ([]schema.Candle, error)
	// GetStatistics reports which days and symbols are covered.
	GetStatistics(ctx context.Context) (Statistics, error)
	Close() error
}

// Writer stores candles, replacing rows with the same symbol and start time.
type Writer interface {
	Store(ctx context.Context, candles []schema.Candle) error
}

// Coverage describes the recorded range of one symbol.
type Coverage struct {
	Symbol  string    `json:"symbol"`
	First   time.Time `json:"first"`
	Last    time.Time `json:"last"`
	Days    int       `json:"days"`
	Candles int64     `json:"candles"`
}

// Statistics summarizes a provider's data.
type Statistics struct {
	Dates   []string   `json:"dates"`
	Symbols []Coverage `json:"symbols"`
}

// PreviousDate returns the latest covered day strictly before date.
func (s Statistics) PreviousDate(date time.Time) (string, bool) {
	key := date.Format(dayLayout)
	i := sort.SearchStrings(s.Dates, key)
	if i == 0 {
		return "", false
	}
	return s.Dates[i-1], true
}

// HasDate reports whether date is covered.
func (s Statistics) HasDate(date time.Time) bool {
	key := date.Format(dayLayout)
	i := sort.SearchStrings(s.Dates, key)
	return i < len(s.Dates) && s.Dates[i] == key
}

// ParseDay parses a YYYY-MM-DD key as midnight in loc.
func ParseDay(key string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	day, err := time.ParseInLocation(dayLayout, key, loc)
	if err != nil {
		return time.Time{}, errors.Wrapf(exception.ErrInvalidArgument, "parse day %q: %s", key, err)
	}
	return day, nil
}

// DayKey returns the YYYY-MM-DD key of t in loc.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(dayLayout)
}

func checkSymbols(symbols []string) error {
	if len(symbols) == 0 {
		return exception.ErrNoSymbols
	}
	return nil
}

func checkCandle(c schema.Candle) error {
	switch {
	case c.Symbol == "":
		return errors.Wrap(exception.ErrInvalidCandle, "empty symbol")
	case c.Start.IsZero():
		return errors.Wrapf(exception.ErrInvalidCandle, "%s: zero start", c.Symbol)
	case c.Low > c.High, c.Open < c.Low, c.Open > c.High, c.Close < c.Low, c.Close > c.High:
		return errors.Wrapf(exception.ErrInvalidCandle, "%s %s: ohlc out of range", c.Symbol, c.Start.Format(time.RFC3339))
	case c.Low <= 0:
		return errors.Wrapf(exception.ErrInvalidCandle, "%s %s: non-positive price", c.Symbol, c.Start.Format(time.RFC3339))
	}
	return nil
}

func sortCandles(candles []schema.Candle) {
	sort.SliceStable(candles, func(i, j int) bool {
		if !candles[i].Start.Equal(candles[j].Start) {
			return candles[i].Start.Before(candles[j].Start)
		}
		return candles[i].Symbol < candles[j].Symbol
	})
}

func noData(date time.Time, symbols []string) error {
	return errors.Wrapf(exception.ErrNoData, "%s %v", date.Format(dayLayout), symbols)
}

func symbolSet(symbols []string) map[string]struct{} {
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		set[s] = struct{}{}
	}
	return set
}

func minuteCandle(symbol string, start time.Time, open, high, low, close float64, volume int64) schema.Candle {
	return schema.Candle{
		Symbol:    symbol,
		Timeframe: time.Minute,
		Start:     start,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    volume,
		Complete:  true,
	}
}
