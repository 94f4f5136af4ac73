package og

import (
	"errors"

	"papertrader/internal/schema"
)

var (
	ErrDuplicateOrder    = errors.New("order already exists")
	ErrUnknownOrder      = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid order state transition")
	ErrInvalidFill       = errors.New("invalid fill quantity")
)

// OrderState tracks the lifecycle of an order.
type OrderState uint16

const (
	OrderStateUnknown OrderState = iota
	OrderStateNew
	OrderStatePending
	OrderStateFilled
	OrderStateRejected
)

func (s OrderState) String() string {
	switch s {
	case OrderStateNew:
		return "NEW"
	case OrderStatePending:
		return "PENDING"
	case OrderStateFilled:
		return "FILLED"
	case OrderStateRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// Status maps the internal state to the external order status.
func (s OrderState) Status() schema.OrderStatus {
	switch s {
	case OrderStateNew, OrderStatePending:
		return schema.OrderStatusPending
	case OrderStateFilled:
		return schema.OrderStatusFilled
	case OrderStateRejected:
		return schema.OrderStatusRejected
	default:
		return schema.OrderStatusUnknown
	}
}

// StateMachine tracks order states by id.
type StateMachine struct {
	states map[string]OrderState
}

// NewStateMachine creates an empty state machine.
func NewStateMachine() *StateMachine {
	return &StateMachine{states: make(map[string]OrderState)}
}

// State returns the current state of an order.
func (m *StateMachine) State(id string) (OrderState, bool) {
	s, ok := m.states[id]
	return s, ok
}

// Open registers a new order in New state.
func (m *StateMachine) Open(id string) error {
	if id == "" {
		return ErrUnknownOrder
	}
	if _, ok := m.states[id]; ok {
		return ErrDuplicateOrder
	}
	m.states[id] = OrderStateNew
	return nil
}

// Submit moves a New order to Pending.
func (m *StateMachine) Submit(id string) error {
	return m.transition(id, OrderStatePending)
}

// Fill moves an open order to Filled.
func (m *StateMachine) Fill(id string, qty int64) error {
	if qty <= 0 {
		return ErrInvalidFill
	}
	return m.transition(id, OrderStateFilled)
}

// Reject moves an open order to Rejected.
func (m *StateMachine) Reject(id string) error {
	return m.transition(id, OrderStateRejected)
}

// Len returns the number of tracked orders.
func (m *StateMachine) Len() int {
	return len(m.states)
}

func (m *StateMachine) transition(id string, next OrderState) error {
	cur, ok := m.states[id]
	if !ok {
		return ErrUnknownOrder
	}
	if isTerminal(cur) {
		return ErrInvalidTransition
	}
	if cur == OrderStatePending && next == OrderStatePending {
		return ErrInvalidTransition
	}
	m.states[id] = next
	return nil
}

func isTerminal(state OrderState) bool {
	switch state {
	case OrderStateFilled, OrderStateRejected:
		return true
	default:
		return false
	}
}
