/*
OrderManager turns approved signals into orders against a broker.

# Module
  - unique order ids
  - cash ledger with exact decimal arithmetic
  - rejection when there is no reference price or not enough cash

# Source
 1. risk-approved signals from the pipeline

# Produce
  - FILLED / REJECTED / PENDING orders, never an error
*/
package og

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"papertrader/internal/schema"
	"papertrader/pkg/exception"
)

const defaultInitialCapital = 1_000_000

// Config controls the order manager.
type Config struct {
	InitialCapital float64
}

func (c Config) withDefaults() Config {
	if c.InitialCapital == 0 {
		c.InitialCapital = defaultInitialCapital
	}
	return c
}

// Validate checks if the config is usable.
func (c Config) Validate() error {
	if c.InitialCapital <= 0 {
		return errors.Wrap(exception.ErrInvalidArgument, "invalid order config: InitialCapital must be > 0")
	}
	return nil
}

// OrderManager executes signals and keeps an append-only order history.
type OrderManager struct {
	cfg    Config
	broker Broker
	sm     *StateMachine
	cash   decimal.Decimal
	orders []schema.Order
	index  map[string]int
	newID  func() string
}

// NewOrderManager creates an order manager over broker.
func NewOrderManager(cfg Config, broker Broker) (*OrderManager, error) {
	if broker == nil {
		return nil, exception.ErrOrderNilBroker
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &OrderManager{
		cfg:    cfg,
		broker: broker,
		sm:     NewStateMachine(),
		cash:   decimal.NewFromFloat(cfg.InitialCapital),
		index:  make(map[string]int),
		newID:  func() string { return uuid.NewString() },
	}, nil
}

// ExecuteSignal submits sig and always returns an order.
func (m *OrderManager) ExecuteSignal(ctx context.Context, sig schema.Signal) schema.Order {
	order := schema.Order{
		ID:             m.newID(),
		StrategyID:     sig.StrategyID,
		Symbol:         sig.Symbol,
		Action:         sig.Action,
		RequestedPrice: sig.Price,
		Quantity:       sig.Quantity,
		Status:         schema.OrderStatusPending,
		Reason:         sig.Reason,
		CreatedAt:      sig.Timestamp,
	}
	if err := m.sm.Open(order.ID); err != nil {
		logs.Errorf("open order %s, err: %+v", order.ID, err)
		order.Status = schema.OrderStatusRejected
		order.Reason = err.Error()
		return m.append(order)
	}

	switch {
	case sig.Action != schema.ActionBuy && sig.Action != schema.ActionSell:
		return m.reject(order, exception.ErrOrderUnknownAction)
	case sig.Quantity <= 0:
		return m.reject(order, exception.ErrOrderInvalidQuantity)
	case sig.Price <= 0:
		return m.reject(order, exception.ErrOrderNoReferencePrice)
	case sig.Action == schema.ActionBuy && m.cost(sig.Price, sig.Quantity).GreaterThan(m.cash):
		return m.reject(order, exception.ErrOrderInsufficientFunds)
	}

	filled, err := m.broker.Submit(ctx, order)
	if err != nil {
		return m.reject(order, err)
	}
	filled.ID = order.ID

	switch filled.Status {
	case schema.OrderStatusFilled:
		if filled.FilledQuantity <= 0 {
			filled.FilledQuantity = filled.Quantity
		}
		cost := m.cost(filled.FilledPrice, filled.FilledQuantity)
		if filled.Action == schema.ActionBuy && cost.GreaterThan(m.cash) {
			return m.reject(order, exception.ErrOrderInsufficientFunds)
		}
		if err := m.sm.Fill(order.ID, filled.FilledQuantity); err != nil {
			return m.reject(order, err)
		}
		if filled.Action == schema.ActionBuy {
			m.cash = m.cash.Sub(cost)
		} else {
			m.cash = m.cash.Add(cost)
		}
	case schema.OrderStatusRejected:
		_ = m.sm.Reject(order.ID)
	default:
		filled.Status = schema.OrderStatusPending
		_ = m.sm.Submit(order.ID)
	}
	return m.append(filled)
}

// Cash returns the available cash.
func (m *OrderManager) Cash() float64 {
	return m.cash.InexactFloat64()
}

// InitialCapital returns the configured starting cash.
func (m *OrderManager) InitialCapital() float64 {
	return m.cfg.InitialCapital
}

// History returns a copy of every order in submission order.
func (m *OrderManager) History() []schema.Order {
	return append([]schema.Order(nil), m.orders...)
}

// Order looks an order up by id.
func (m *OrderManager) Order(id string) (schema.Order, bool) {
	i, ok := m.index[id]
	if !ok {
		return schema.Order{}, false
	}
	return m.orders[i], true
}

// State returns the state machine view of an order.
func (m *OrderManager) State(id string) (OrderState, bool) {
	return m.sm.State(id)
}

func (m *OrderManager) reject(order schema.Order, cause error) schema.Order {
	logs.Warnf("order %s %s %d %s rejected, err: %+v", order.Action, order.Symbol, order.Quantity, order.StrategyID, cause)
	_ = m.sm.Reject(order.ID)
	order.Status = schema.OrderStatusRejected
	order.Reason = cause.Error()
	order.FilledPrice = 0
	order.FilledQuantity = 0
	return m.append(order)
}

func (m *OrderManager) append(order schema.Order) schema.Order {
	m.index[order.ID] = len(m.orders)
	m.orders = append(m.orders, order)
	return order
}

func (m *OrderManager) cost(price float64, qty int64) decimal.Decimal {
	return decimal.NewFromFloat(price).Mul(decimal.NewFromInt(qty))
}
