package core

import (
	"fmt"
	"sort"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"papertrader/internal/schema"
	"papertrader/internal/strategy"
	"papertrader/pkg/exception"
)

// Manager holds the strategies of a session and dispatches to them in insertion order.
type Manager struct {
	strategies []strategy.Strategy
	byID       map[string]strategy.Strategy
	onFailure  func(strategyID string, err error)
}

// NewManager creates an empty strategy manager.
func NewManager() *Manager {
	return &Manager{byID: make(map[string]strategy.Strategy)}
}

// OnFailure registers a callback for isolated strategy errors.
func (m *Manager) OnFailure(fn func(strategyID string, err error)) {
	m.onFailure = fn
}

// Add registers an initialized strategy.
func (m *Manager) Add(s strategy.Strategy) error {
	if s == nil {
		return errors.Wrap(exception.ErrNilInstance, "strategy")
	}
	if _, ok := m.byID[s.ID()]; ok {
		return errors.Wrapf(exception.ErrDuplicateStrategy, "id %s", s.ID())
	}
	m.byID[s.ID()] = s
	m.strategies = append(m.strategies, s)
	return nil
}

// Remove drops a strategy by id.
func (m *Manager) Remove(id string) bool {
	if _, ok := m.byID[id]; !ok {
		return false
	}
	delete(m.byID, id)
	for i, s := range m.strategies {
		if s.ID() == id {
			m.strategies = append(m.strategies[:i], m.strategies[i+1:]...)
			break
		}
	}
	return true
}

// Get looks a strategy up by id.
func (m *Manager) Get(id string) (strategy.Strategy, bool) {
	s, ok := m.byID[id]
	return s, ok
}

// Strategies returns the registered strategies in insertion order.
func (m *Manager) Strategies() []strategy.Strategy {
	return append([]strategy.Strategy(nil), m.strategies...)
}

// Len returns the number of strategies.
func (m *Manager) Len() int {
	return len(m.strategies)
}

// Symbols returns the union of subscribed symbols, sorted.
func (m *Manager) Symbols() []string {
	seen := make(map[string]struct{})
	for _, s := range m.strategies {
		for _, sym := range s.Symbols() {
			seen[sym] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for sym := range seen {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// ProcessTick dispatches tick to every active strategy subscribed to its symbol
// and returns how many were invoked. A failing strategy does not affect the others.
func (m *Manager) ProcessTick(tick schema.Tick) int {
	n := 0
	for _, s := range m.strategies {
		if !s.Active() || !s.Subscribed(tick.Symbol) {
			continue
		}
		n++
		s := s
		m.guard(s.ID(), func() error { return s.OnTick(tick) })
	}
	return n
}

// OnCandleComplete forwards a closed candle to subscribed strategies.
func (m *Manager) OnCandleComplete(c schema.Candle) {
	for _, s := range m.strategies {
		if !s.Active() || !s.Subscribed(c.Symbol) {
			continue
		}
		s := s
		m.guard(s.ID(), func() error {
			s.OnCandleComplete(c)
			return nil
		})
	}
}

// AllSignals concatenates every strategy's pending queue.
func (m *Manager) AllSignals() []schema.Signal {
	var out []schema.Signal
	for _, s := range m.strategies {
		out = append(out, s.Signals()...)
	}
	return out
}

// ClearAllSignals resets every pending queue.
func (m *Manager) ClearAllSignals() {
	for _, s := range m.strategies {
		s.ClearSignals()
	}
}

// SquareOffAll collects forced SELL signals for every open strategy position.
func (m *Manager) SquareOffAll(reason string, at time.Time) []schema.Signal {
	var out []schema.Signal
	for _, s := range m.strategies {
		s := s
		m.guard(s.ID(), func() error {
			out = append(out, s.SquareOff(reason, at)...)
			return nil
		})
	}
	return out
}

func (m *Manager) guard(id string, fn func() error) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.Wrap(exception.ErrStrategyPanic, fmt.Sprint(r))
			}
		}()
		return fn()
	}()
	if err == nil {
		return
	}
	logs.Errorf("strategy %s failed, err: %+v", id, err)
	if m.onFailure != nil {
		m.onFailure(id, err)
	}
}
