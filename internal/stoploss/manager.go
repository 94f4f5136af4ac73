// Package stoploss keeps one monotonic trailing stop per (strategy, symbol).
package stoploss

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/yanun0323/errors"
)

// Type selects the trailing policy.
type Type uint16

const (
	TypeFixedPct Type = iota
	TypeATR
	TypeMA
	TypeTimeDecay
)

func (t Type) String() string {
	switch t {
	case TypeFixedPct:
		return "FIXED_PCT"
	case TypeATR:
		return "ATR"
	case TypeMA:
		return "MA"
	case TypeTimeDecay:
		return "TIME_DECAY"
	default:
		return "UNKNOWN"
	}
}

// ParseType resolves a policy name.
func ParseType(name string) (Type, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "", "FIXED_PCT":
		return TypeFixedPct, nil
	case "ATR":
		return TypeATR, nil
	case "MA":
		return TypeMA, nil
	case "TIME_DECAY":
		return TypeTimeDecay, nil
	default:
		return 0, fmt.Errorf("unknown stop loss type: %s", name)
	}
}

// State is the per-row lifecycle. A HIT row stays HIT until removed.
type State uint16

const (
	StateActive State = iota
	StateHit
)

func (s State) String() string {
	if s == StateHit {
		return "HIT"
	}
	return "ACTIVE"
}

// Config holds the parameters of every policy.
type Config struct {
	Type Type

	FixedPct float64

	ATRMultiplier float64

	MABufferPct float64

	InitialPct   float64
	FinalPct     float64
	DecayMinutes float64
}

// DefaultConfig returns baseline parameters for the given policy.
func DefaultConfig(t Type) Config {
	return Config{
		Type:          t,
		FixedPct:      0.02,
		ATRMultiplier: 2,
		MABufferPct:   0.005,
		InitialPct:    0.03,
		FinalPct:      0.01,
		DecayMinutes:  60,
	}
}

// Validate checks if the config is usable.
func (c Config) Validate() error {
	if c.FixedPct <= 0 || c.FixedPct >= 1 {
		return fmt.Errorf("invalid stop loss config: FixedPct must be in (0, 1)")
	}
	switch c.Type {
	case TypeFixedPct:
	case TypeATR:
		if c.ATRMultiplier <= 0 {
			return fmt.Errorf("invalid stop loss config: ATRMultiplier must be > 0")
		}
	case TypeMA:
		if c.MABufferPct < 0 || c.MABufferPct >= 1 {
			return fmt.Errorf("invalid stop loss config: MABufferPct must be in [0, 1)")
		}
	case TypeTimeDecay:
		if c.InitialPct <= 0 || c.InitialPct >= 1 || c.FinalPct <= 0 || c.FinalPct >= 1 {
			return fmt.Errorf("invalid stop loss config: decay percentages must be in (0, 1)")
		}
		if c.DecayMinutes <= 0 {
			return fmt.Errorf("invalid stop loss config: DecayMinutes must be > 0")
		}
	default:
		return fmt.Errorf("invalid stop loss config: unknown type %d", c.Type)
	}
	return nil
}

// Inputs are the caller-supplied indicator values for ATR and MA policies.
type Inputs struct {
	ATR float64
	MA  float64
}

// Stop is one trailing stop row.
type Stop struct {
	StrategyID   string
	Symbol       string
	Type         Type
	State        State
	EntryPrice   float64
	HighestPrice float64
	CurrentSL    float64
	EntryTime    time.Time
	UpdatedAt    time.Time

	lastATR float64
}

type key struct {
	strategyID string
	symbol     string
}

var (
	ErrExists   = errors.New("stop loss: already exists")
	ErrNotFound = errors.New("stop loss: not found")
)

// Manager owns the stop rows. It is driven by the pipeline goroutine only.
type Manager struct {
	cfg   Config
	stops map[key]*Stop
}

// NewManager validates the config and creates an empty manager.
func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{cfg: cfg, stops: make(map[key]*Stop)}, nil
}

// Config returns the manager policy config.
func (m *Manager) Config() Config {
	return m.cfg
}

// Add opens an ACTIVE stop for a new position and returns its initial level.
func (m *Manager) Add(strategyID, symbol string, entryPrice float64, at time.Time, in Inputs) (Stop, error) {
	k := key{strategyID, symbol}
	if _, ok := m.stops[k]; ok {
		return Stop{}, errors.Wrapf(ErrExists, "%s/%s", strategyID, symbol)
	}
	if entryPrice <= 0 {
		return Stop{}, errors.Errorf("stop loss: entry price must be > 0, got %v", entryPrice)
	}

	s := &Stop{
		StrategyID:   strategyID,
		Symbol:       symbol,
		Type:         m.cfg.Type,
		State:        StateActive,
		EntryPrice:   entryPrice,
		HighestPrice: entryPrice,
		EntryTime:    at,
		UpdatedAt:    at,
		lastATR:      in.ATR,
	}
	s.CurrentSL = m.initial(s, in)
	m.stops[k] = s
	return *s, nil
}

func (m *Manager) initial(s *Stop, in Inputs) float64 {
	fallback := s.EntryPrice * (1 - m.cfg.FixedPct)
	switch m.cfg.Type {
	case TypeATR:
		if in.ATR > 0 {
			return s.EntryPrice - in.ATR*m.cfg.ATRMultiplier
		}
	case TypeMA:
		if in.MA > 0 {
			if sl := in.MA * (1 - m.cfg.MABufferPct); sl < s.EntryPrice {
				return sl
			}
		}
	case TypeTimeDecay:
		return s.EntryPrice * (1 - m.cfg.InitialPct)
	}
	return fallback
}

// Update folds a new price into the row and tightens the stop when the candidate is strictly higher.
// It returns the current stop level and whether it changed.
func (m *Manager) Update(strategyID, symbol string, price float64, at time.Time, in Inputs) (float64, bool, error) {
	s, ok := m.stops[key{strategyID, symbol}]
	if !ok {
		return 0, false, errors.Wrapf(ErrNotFound, "%s/%s", strategyID, symbol)
	}
	if s.State != StateActive {
		return s.CurrentSL, false, nil
	}
	if price > s.HighestPrice {
		s.HighestPrice = price
	}
	if in.ATR > 0 {
		s.lastATR = in.ATR
	}

	candidate, ok := m.candidate(s, at, in)
	if !ok || candidate <= s.CurrentSL {
		return s.CurrentSL, false, nil
	}
	s.CurrentSL = candidate
	s.UpdatedAt = at
	return candidate, true, nil
}

func (m *Manager) candidate(s *Stop, at time.Time, in Inputs) (float64, bool) {
	switch s.Type {
	case TypeFixedPct:
		return s.EntryPrice * (1 - m.cfg.FixedPct), true
	case TypeATR:
		if s.lastATR <= 0 {
			return 0, false
		}
		return s.HighestPrice - s.lastATR*m.cfg.ATRMultiplier, true
	case TypeMA:
		if in.MA <= 0 {
			return 0, false
		}
		return in.MA * (1 - m.cfg.MABufferPct), true
	case TypeTimeDecay:
		elapsed := at.Sub(s.EntryTime).Minutes()
		frac := elapsed / m.cfg.DecayMinutes
		if frac < 0 {
			frac = 0
		}
		if frac > 1 {
			frac = 1
		}
		pct := m.cfg.InitialPct + (m.cfg.FinalPct-m.cfg.InitialPct)*frac
		return s.HighestPrice * (1 - pct), true
	default:
		return 0, false
	}
}

// IsHit reports price <= current stop and latches the row to HIT.
func (m *Manager) IsHit(strategyID, symbol string, price float64) bool {
	s, ok := m.stops[key{strategyID, symbol}]
	if !ok {
		return false
	}
	if s.State == StateHit {
		return true
	}
	if price <= s.CurrentSL {
		s.State = StateHit
		return true
	}
	return false
}

// Remove deletes the row.
func (m *Manager) Remove(strategyID, symbol string) bool {
	k := key{strategyID, symbol}
	if _, ok := m.stops[k]; !ok {
		return false
	}
	delete(m.stops, k)
	return true
}

// Get returns a copy of the row.
func (m *Manager) Get(strategyID, symbol string) (Stop, bool) {
	s, ok := m.stops[key{strategyID, symbol}]
	if !ok {
		return Stop{}, false
	}
	return *s, true
}

// ForSymbol returns the rows on symbol ordered by strategy.
func (m *Manager) ForSymbol(symbol string) []Stop {
	var out []Stop
	for k, s := range m.stops {
		if k.symbol == symbol {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StrategyID < out[j].StrategyID })
	return out
}

// All returns every row ordered by (strategy, symbol).
func (m *Manager) All() []Stop {
	out := make([]Stop, 0, len(m.stops))
	for _, s := range m.stops {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StrategyID != out[j].StrategyID {
			return out[i].StrategyID < out[j].StrategyID
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// Len returns the number of rows.
func (m *Manager) Len() int {
	return len(m.stops)
}
