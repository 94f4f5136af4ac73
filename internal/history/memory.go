package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"papertrader/internal/schema"
)

type memoryKey struct {
	symbol string
	start  int64
}

// MemoryProvider keeps candles in process.
type MemoryProvider struct {
	mu      sync.RWMutex
	loc     *time.Location
	candles map[memoryKey]schema.Candle
}

var (
	_ Provider = (*MemoryProvider)(nil)
	_ Writer   = (*MemoryProvider)(nil)
)

// NewMemoryProvider creates an empty provider keyed by days in loc (UTC when nil).
func NewMemoryProvider(loc *time.Location) *MemoryProvider {
	if loc == nil {
		loc = time.UTC
	}
	return &MemoryProvider{loc: loc, candles: make(map[memoryKey]schema.Candle)}
}

// Store validates and stores candles.
func (p *MemoryProvider) Store(_ context.Context, candles []schema.Candle) error {
	for _, c := range candles {
		if err := checkCandle(c); err != nil {
			return err
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range candles {
		p.candles[memoryKey{symbol: c.Symbol, start: c.Start.UnixMilli()}] = minuteCandle(
			c.Symbol, c.Start.In(p.loc), c.Open, c.High, c.Low, c.Close, c.Volume)
	}
	return nil
}

func (p *MemoryProvider) GetData(ctx context.Context, date time.Time, symbols []string) ([]schema.Candle, error) {
	if err := checkSymbols(symbols); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	want := symbolSet(symbols)
	key := DayKey(date, p.loc)

	p.mu.RLock()
	out := make([]schema.Candle, 0)
	for k, c := range p.candles {
		if _, ok := want[k.symbol]; ok && DayKey(c.Start, p.loc) == key {
			out = append(out, c)
		}
	}
	p.mu.RUnlock()

	if len(out) == 0 {
		return nil, noData(date, symbols)
	}
	sortCandles(out)
	return out, nil
}

func (p *MemoryProvider) GetStatistics(ctx context.Context) (Statistics, error) {
	if err := ctx.Err(); err != nil {
		return Statistics{}, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	dates := make(map[string]struct{})
	perSymbol := make(map[string]*Coverage)
	symbolDays := make(map[string]map[string]struct{})
	for k, c := range p.candles {
		day := DayKey(c.Start, p.loc)
		dates[day] = struct{}{}

		cov, ok := perSymbol[k.symbol]
		if !ok {
			cov = &Coverage{Symbol: k.symbol, First: c.Start, Last: c.Start}
			perSymbol[k.symbol] = cov
			symbolDays[k.symbol] = make(map[string]struct{})
		}
		if c.Start.Before(cov.First) {
			cov.First = c.Start
		}
		if c.Start.After(cov.Last) {
			cov.Last = c.Start
		}
		cov.Candles++
		symbolDays[k.symbol][day] = struct{}{}
	}

	stats := Statistics{Dates: make([]string, 0, len(dates)), Symbols: make([]Coverage, 0, len(perSymbol))}
	for d := range dates {
		stats.Dates = append(stats.Dates, d)
	}
	sort.Strings(stats.Dates)
	for sym, cov := range perSymbol {
		cov.Days = len(symbolDays[sym])
		stats.Symbols = append(stats.Symbols, *cov)
	}
	sort.Slice(stats.Symbols, func(i, j int) bool { return stats.Symbols[i].Symbol < stats.Symbols[j].Symbol })
	return stats, nil
}

func (p *MemoryProvider) Close() error { return nil }
