package state

import (
	"sort"
	"time"

	"github.com/yanun0323/errors"

	"papertrader/internal/schema"
)

var (
	ErrOrderNotFilled = errors.New("position: order not filled")
	ErrNoPosition     = errors.New("position: no open position")
	ErrOversell       = errors.New("position: sell exceeds held quantity")
)

type key struct {
	strategyID string
	symbol     string
}

// Result is the effect of one order on the book.
type Result struct {
	Position    schema.Position
	RealizedPnL float64
	Closed      bool
}

// PositionManager keeps one blended lot per (strategy, symbol).
type PositionManager struct {
	positions map[key]*schema.Position
	realized  float64
	marks     map[string]float64
}

// NewPositionManager creates an empty book.
func NewPositionManager() *PositionManager {
	return &PositionManager{
		positions: make(map[key]*schema.Position),
		marks:     make(map[string]float64),
	}
}

// Update folds a filled order into the book.
// BUY opens or averages in at the volume-weighted price. SELL reduces at an unchanged
// average and realizes (exit - average) x qty; the row is deleted at zero.
func (m *PositionManager) Update(order schema.Order) (Result, error) {
	if order.Status != schema.OrderStatusFilled || order.FilledQuantity <= 0 {
		return Result{}, errors.Wrapf(ErrOrderNotFilled, "order %s", order.ID)
	}
	k := key{strategyID: order.StrategyID, symbol: order.Symbol}
	qty := order.FilledQuantity
	price := order.FilledPrice
	m.marks[order.Symbol] = price

	switch order.Action {
	case schema.ActionBuy:
		p, ok := m.positions[k]
		if !ok {
			p = &schema.Position{
				StrategyID:   order.StrategyID,
				Symbol:       order.Symbol,
				AveragePrice: price,
				OpenedAt:     order.FilledAt,
			}
			m.positions[k] = p
		} else {
			total := p.Quantity + qty
			p.AveragePrice = (p.AveragePrice*float64(p.Quantity) + price*float64(qty)) / float64(total)
		}
		p.Quantity += qty
		p.CurrentPrice = price
		p.PnL = (p.CurrentPrice - p.AveragePrice) * float64(p.Quantity)
		return Result{Position: *p}, nil

	case schema.ActionSell:
		p, ok := m.positions[k]
		if !ok {
			return Result{}, errors.Wrapf(ErrNoPosition, "%s %s", order.StrategyID, order.Symbol)
		}
		if qty > p.Quantity {
			return Result{}, errors.Wrapf(ErrOversell, "%s %s sell %d held %d", order.StrategyID, order.Symbol, qty, p.Quantity)
		}
		pnl := (price - p.AveragePrice) * float64(qty)
		m.realized += pnl
		p.Quantity -= qty
		p.CurrentPrice = price
		p.PnL = (p.CurrentPrice - p.AveragePrice) * float64(p.Quantity)
		res := Result{Position: *p, RealizedPnL: pnl}
		if p.Quantity == 0 {
			delete(m.positions, k)
			res.Closed = true
		}
		return res, nil

	default:
		return Result{}, errors.Errorf("position: unknown action %s", order.Action)
	}
}

// MarkPrice revalues every position on symbol.
func (m *PositionManager) MarkPrice(symbol string, price float64) {
	if price <= 0 {
		return
	}
	m.marks[symbol] = price
	for k, p := range m.positions {
		if k.symbol != symbol {
			continue
		}
		p.CurrentPrice = price
		p.PnL = (price - p.AveragePrice) * float64(p.Quantity)
	}
}

// LastPrice returns the last mark of symbol.
func (m *PositionManager) LastPrice(symbol string) (float64, bool) {
	p, ok := m.marks[symbol]
	return p, ok
}

// Position returns the row of (strategyID, symbol).
func (m *PositionManager) Position(strategyID, symbol string) (schema.Position, bool) {
	p, ok := m.positions[key{strategyID: strategyID, symbol: symbol}]
	if !ok {
		return schema.Position{}, false
	}
	return *p, true
}

// ForStrategy returns the rows of strategyID keyed by symbol.
func (m *PositionManager) ForStrategy(strategyID string) map[string]schema.Position {
	out := make(map[string]schema.Position)
	for k, p := range m.positions {
		if k.strategyID == strategyID {
			out[k.symbol] = *p
		}
	}
	return out
}

// Positions returns every row sorted by strategy then symbol.
func (m *PositionManager) Positions() []schema.Position {
	out := make([]schema.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StrategyID != out[j].StrategyID {
			return out[i].StrategyID < out[j].StrategyID
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// Count returns the number of open rows.
func (m *PositionManager) Count() int {
	return len(m.positions)
}

// RealizedPnL returns the P&L realized by closed quantity.
func (m *PositionManager) RealizedPnL() float64 {
	return m.realized
}

// UnrealizedPnL returns the mark-to-market P&L of open rows.
func (m *PositionManager) UnrealizedPnL() float64 {
	total := 0.0
	for _, p := range m.positions {
		total += p.PnL
	}
	return total
}

// Summary builds the sink record of the book.
func (m *PositionManager) Summary() schema.PositionSnapshot {
	return schema.PositionSnapshot{
		Positions:     m.Positions(),
		RealizedPnL:   m.realized,
		UnrealizedPnL: m.UnrealizedPnL(),
	}
}

// ApplySnapshot replaces the book with a snapshot.
func (m *PositionManager) ApplySnapshot(snapshot Snapshot) {
	m.positions = make(map[key]*schema.Position, len(snapshot.Positions))
	m.marks = make(map[string]float64)
	for _, p := range snapshot.Positions {
		row := p
		m.positions[key{strategyID: p.StrategyID, symbol: p.Symbol}] = &row
		if p.CurrentPrice > 0 {
			m.marks[p.Symbol] = p.CurrentPrice
		}
	}
	m.realized = snapshot.RealizedPnL
}

// Snapshot builds a snapshot of the book at ts.
func (m *PositionManager) Snapshot(ts time.Time) Snapshot {
	sum := m.Summary()
	return Snapshot{
		Timestamp:     ts,
		Positions:     sum.Positions,
		RealizedPnL:   sum.RealizedPnL,
		UnrealizedPnL: sum.UnrealizedPnL,
	}
}
