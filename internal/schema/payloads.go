package schema

import (
	"fmt"
	"time"
)

// Tick is one synthetic sub-candle price event.
type Tick struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Volume    int64     `json:"volume"`

	// parent candle
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// Candle is one OHLCV bar. Start is the bucket-start timestamp.
type Candle struct {
	Symbol    string        `json:"symbol"`
	Timeframe time.Duration `json:"timeframe"`
	Start     time.Time     `json:"start"`
	Open      float64       `json:"open"`
	High      float64       `json:"high"`
	Low       float64       `json:"low"`
	Close     float64       `json:"close"`
	Volume    int64         `json:"volume"`
	Complete  bool          `json:"complete"`
}

// Action describes signal and order direction.
type Action uint16

const (
	ActionUnknown Action = iota
	ActionBuy
	ActionSell
)

func (a Action) String() string {
	switch a {
	case ActionBuy:
		return "BUY"
	case ActionSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the action by name.
func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText decodes BUY/SELL.
func (a *Action) UnmarshalText(text []byte) error {
	switch string(text) {
	case "BUY":
		*a = ActionBuy
	case "SELL":
		*a = ActionSell
	case "UNKNOWN":
		*a = ActionUnknown
	default:
		return fmt.Errorf("unknown action: %s", text)
	}
	return nil
}

// Priority orders signals inside one round.
type Priority uint16

const (
	PriorityNormal Priority = iota
	PriorityHigh
)

// Signal is a strategy's proposed instruction, prior to risk validation.
type Signal struct {
	StrategyID string             `json:"strategy_id"`
	Action     Action             `json:"action"`
	Symbol     string             `json:"symbol"`
	Price      float64            `json:"price"`
	Quantity   int64              `json:"quantity"`
	Timestamp  time.Time          `json:"timestamp"`
	Reason     string             `json:"reason"`
	Priority   Priority           `json:"priority"`
	Indicators map[string]float64 `json:"indicators,omitempty"`
}

// Notional returns price x quantity.
func (s Signal) Notional() float64 {
	return s.Price * float64(s.Quantity)
}

// OrderStatus is the externally visible order outcome.
type OrderStatus uint16

const (
	OrderStatusUnknown OrderStatus = iota
	OrderStatusPending
	OrderStatusFilled
	OrderStatusRejected
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusPending:
		return "PENDING"
	case OrderStatusFilled:
		return "FILLED"
	case OrderStatusRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the status by name.
func (s OrderStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status by name.
func (s *OrderStatus) UnmarshalText(text []byte) error {
	for _, st := range []OrderStatus{OrderStatusUnknown, OrderStatusPending, OrderStatusFilled, OrderStatusRejected} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown order status: %s", text)
}

// Order is append-only once filled.
type Order struct {
	ID             string      `json:"order_id"`
	StrategyID     string      `json:"strategy_id"`
	Symbol         string      `json:"symbol"`
	Action         Action      `json:"action"`
	RequestedPrice float64     `json:"requested_price"`
	FilledPrice    float64     `json:"filled_price"`
	Quantity       int64       `json:"quantity"`
	FilledQuantity int64       `json:"filled_quantity"`
	Status         OrderStatus `json:"status"`
	Reason         string      `json:"reason,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	FilledAt       time.Time   `json:"filled_at,omitempty"`
}

// Position is one row per (strategy, symbol).
type Position struct {
	StrategyID   string    `json:"strategy_id"`
	Symbol       string    `json:"symbol"`
	Quantity     int64     `json:"quantity"`
	AveragePrice float64   `json:"average_price"`
	CurrentPrice float64   `json:"current_price"`
	PnL          float64   `json:"pnl"`
	OpenedAt     time.Time `json:"opened_at"`
}

// Value returns the position market value at the current price.
func (p Position) Value() float64 {
	return p.CurrentPrice * float64(p.Quantity)
}

// Trade is the sink record for an executed order.
type Trade struct {
	Round       uint64  `json:"round"`
	Order       Order   `json:"order"`
	RealizedPnL float64 `json:"realized_pnl"`
	Reason      string  `json:"reason"`
}

// PositionSnapshot is the sink record for the position book.
type PositionSnapshot struct {
	Positions     []Position `json:"positions"`
	RealizedPnL   float64    `json:"realized_pnl"`
	UnrealizedPnL float64    `json:"unrealized_pnl"`
}

// StopLossUpdate is the sink record for a stop-loss change.
type StopLossUpdate struct {
	StrategyID   string  `json:"strategy_id"`
	Symbol       string  `json:"symbol"`
	Type         string  `json:"type"`
	State        string  `json:"state"`
	EntryPrice   float64 `json:"entry_price"`
	HighestPrice float64 `json:"highest_price"`
	PreviousSL   float64 `json:"previous_sl"`
	CurrentSL    float64 `json:"current_sl"`
}

// RiskDecision is the sink record for a rejected or adjusted signal.
type RiskDecision struct {
	Round            uint64 `json:"round"`
	Signal           Signal `json:"signal"`
	Approved         bool   `json:"approved"`
	Reason           string `json:"reason,omitempty"`
	AdjustedQuantity int64  `json:"adjusted_quantity,omitempty"`
}

// SessionEvent is the sink record for session transitions.
type SessionEvent struct {
	State  string `json:"state"`
	Detail string `json:"detail,omitempty"`
}
