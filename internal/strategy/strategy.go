// Package strategy defines the pluggable strategy contract, shared bookkeeping and the reference implementation.
package strategy

import (
	"sort"
	"time"

	"papertrader/internal/schema"
)

// Strategy consumes ticks and candles and emits signals once warmed up.
// Implementations are driven by a single goroutine.
type Strategy interface {
	ID() string
	Symbols() []string
	Subscribed(symbol string) bool
	Active() bool

	Initialize() error
	OnTick(tick schema.Tick) error
	// OnWarmupCandle updates indicators only and never emits signals.
	// It receives every warmup candle, including symbols outside Symbols().
	OnWarmupCandle(candle schema.Candle)
	OnCandleComplete(candle schema.Candle)

	CheckEntryConditions(symbol string, tick schema.Tick) *schema.Signal
	CheckExitConditions(symbol string, tick schema.Tick) *schema.Signal

	AddPosition(symbol string, quantity int64, price float64, at time.Time)
	RemovePosition(symbol string)
	ReducePosition(symbol string, quantity int64)
	Positions() map[string]Holding

	Signals() []schema.Signal
	ClearSignals()

	WarmedUp() bool
	SetWarmedUp(warmed bool)
	RequiredWarmup() int

	// SquareOff returns forced high priority SELL signals for every open position.
	SquareOff(reason string, at time.Time) []schema.Signal
}

// Holding is a strategy's own view of one open position.
type Holding struct {
	Quantity   int64
	EntryPrice float64
	EntryTime  time.Time
}

// Checker evaluates entry and exit conditions for Dispatch.
type Checker interface {
	CheckEntryConditions(symbol string, tick schema.Tick) *schema.Signal
	CheckExitConditions(symbol string, tick schema.Tick) *schema.Signal
}

// Base implements the bookkeeping half of Strategy.
type Base struct {
	id         string
	symbols    []string
	subscribed map[string]struct{}
	active     bool
	warmedUp   bool

	positions map[string]Holding
	lastPrice map[string]float64
	signals   []schema.Signal
}

// NewBase creates active bookkeeping for the given symbols.
func NewBase(id string, symbols []string) *Base {
	subscribed := make(map[string]struct{}, len(symbols))
	unique := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		if _, ok := subscribed[sym]; ok || sym == "" {
			continue
		}
		subscribed[sym] = struct{}{}
		unique = append(unique, sym)
	}
	return &Base{
		id:         id,
		symbols:    unique,
		subscribed: subscribed,
		active:     true,
		positions:  make(map[string]Holding),
		lastPrice:  make(map[string]float64),
	}
}

func (b *Base) ID() string { return b.id }

func (b *Base) Symbols() []string { return append([]string(nil), b.symbols...) }

func (b *Base) Subscribed(symbol string) bool {
	_, ok := b.subscribed[symbol]
	return ok
}

func (b *Base) Active() bool { return b.active }

// SetActive enables or disables tick dispatch for the strategy.
func (b *Base) SetActive(active bool) { b.active = active }

func (b *Base) WarmedUp() bool { return b.warmedUp }

func (b *Base) SetWarmedUp(warmed bool) { b.warmedUp = warmed }

func (b *Base) AddPosition(symbol string, quantity int64, price float64, at time.Time) {
	if quantity <= 0 {
		return
	}
	h, ok := b.positions[symbol]
	if !ok {
		b.positions[symbol] = Holding{Quantity: quantity, EntryPrice: price, EntryTime: at}
		return
	}
	total := h.Quantity + quantity
	h.EntryPrice = (h.EntryPrice*float64(h.Quantity) + price*float64(quantity)) / float64(total)
	h.Quantity = total
	b.positions[symbol] = h
}

func (b *Base) RemovePosition(symbol string) {
	delete(b.positions, symbol)
}

// ReducePosition lowers a holding after a partial exit, removing it at zero.
func (b *Base) ReducePosition(symbol string, quantity int64) {
	h, ok := b.positions[symbol]
	if !ok {
		return
	}
	h.Quantity -= quantity
	if h.Quantity <= 0 {
		delete(b.positions, symbol)
		return
	}
	b.positions[symbol] = h
}

// Position returns the holding for symbol.
func (b *Base) Position(symbol string) (Holding, bool) {
	h, ok := b.positions[symbol]
	return h, ok
}

func (b *Base) Positions() map[string]Holding {
	out := make(map[string]Holding, len(b.positions))
	for k, v := range b.positions {
		out[k] = v
	}
	return out
}

func (b *Base) Signals() []schema.Signal {
	return append([]schema.Signal(nil), b.signals...)
}

func (b *Base) ClearSignals() {
	b.signals = b.signals[:0]
}

// Emit queues a signal. It refuses while the strategy is not warmed up.
func (b *Base) Emit(sig schema.Signal) bool {
	if !b.warmedUp {
		return false
	}
	if sig.StrategyID == "" {
		sig.StrategyID = b.id
	}
	b.signals = append(b.signals, sig)
	return true
}

// ObservePrice records the latest traded price for a symbol.
func (b *Base) ObservePrice(symbol string, price float64) {
	if price > 0 {
		b.lastPrice[symbol] = price
	}
}

// LastPrice returns the latest observed price for a symbol.
func (b *Base) LastPrice(symbol string) (float64, bool) {
	p, ok := b.lastPrice[symbol]
	return p, ok
}

// Dispatch runs the standard tick flow: exit checks for held symbols, entry checks otherwise.
func (b *Base) Dispatch(tick schema.Tick, checker Checker) {
	b.ObservePrice(tick.Symbol, tick.Price)
	if !b.warmedUp || !b.Subscribed(tick.Symbol) {
		return
	}
	if _, held := b.positions[tick.Symbol]; held {
		if sig := checker.CheckExitConditions(tick.Symbol, tick); sig != nil {
			b.Emit(*sig)
		}
		return
	}
	if sig := checker.CheckEntryConditions(tick.Symbol, tick); sig != nil {
		b.Emit(*sig)
	}
}

func (b *Base) SquareOff(reason string, at time.Time) []schema.Signal {
	symbols := make([]string, 0, len(b.positions))
	for sym := range b.positions {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	out := make([]schema.Signal, 0, len(symbols))
	for _, sym := range symbols {
		h := b.positions[sym]
		price, ok := b.lastPrice[sym]
		if !ok {
			price = h.EntryPrice
		}
		out = append(out, schema.Signal{
			StrategyID: b.id,
			Action:     schema.ActionSell,
			Symbol:     sym,
			Price:      price,
			Quantity:   h.Quantity,
			Timestamp:  at,
			Reason:     reason,
			Priority:   schema.PriorityHigh,
		})
	}
	return out
}
