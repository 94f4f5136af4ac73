package risk

import (
	"fmt"
	"time"

	"github.com/yanun0323/logs"

	"papertrader/internal/schema"
)

// Reason is a coarse reason code for risk decisions.
type Reason uint16

const (
	ReasonNone Reason = iota
	ReasonInvalidSignal
	ReasonTradingHalted
	ReasonEmergencyHalt
	ReasonDuplicate
	ReasonMaxPositionSize
	ReasonMaxPositionsPerStrategy
	ReasonMaxTotalPositions
	ReasonLossBudget
	ReasonNewEntriesBlocked
	ReasonNoPosition
)

var reasonNames = [...]string{
	ReasonNone:                    "NONE",
	ReasonInvalidSignal:           "INVALID_SIGNAL",
	ReasonTradingHalted:           "DAILY_LOSS_LIMIT",
	ReasonEmergencyHalt:           "EMERGENCY_EXIT_ACTIVE",
	ReasonDuplicate:               "DUPLICATE_ORDER",
	ReasonMaxPositionSize:         "MAX_POSITION_SIZE",
	ReasonMaxPositionsPerStrategy: "MAX_POSITIONS_PER_STRATEGY",
	ReasonMaxTotalPositions:       "MAX_TOTAL_POSITIONS",
	ReasonLossBudget:              "LOSS_BUDGET_EXCEEDED",
	ReasonNewEntriesBlocked:       "NEW_ENTRIES_BLOCKED",
	ReasonNoPosition:              "NO_POSITION",
}

func (r Reason) String() string {
	if int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return fmt.Sprintf("reason(%d)", uint16(r))
}

// Reasons lists every reason code, for metrics pre-registration.
func Reasons() []Reason {
	out := make([]Reason, len(reasonNames))
	for i := range reasonNames {
		out[i] = Reason(i)
	}
	return out
}

// Decision is the typed outcome of ValidateSignal. A rejection is not an error.
type Decision struct {
	Approved bool
	Reason   Reason
	// AdjustedQuantity is set when a fixed lot size overrides a BUY quantity.
	AdjustedQuantity int64
}

// Quantity returns the quantity to execute for sig under this decision.
func (d Decision) Quantity(sig schema.Signal) int64 {
	if d.AdjustedQuantity > 0 {
		return d.AdjustedQuantity
	}
	return sig.Quantity
}

// Config defines position and loss limits.
type Config struct {
	MaxPositionSize         float64
	MaxPositionsPerStrategy int
	MaxTotalPositions       int
	MaxDailyLoss            float64
	// FixedLotSize > 0 forces every BUY quantity.
	FixedLotSize int64
	// EstimatedLossPct of notional is the prospective loss checked against the emergency limits.
	EstimatedLossPct float64
}

// Validate checks if the config is usable.
func (c Config) Validate() error {
	if c.MaxPositionSize <= 0 {
		return fmt.Errorf("invalid risk config: MaxPositionSize must be > 0")
	}
	if c.MaxPositionsPerStrategy <= 0 {
		return fmt.Errorf("invalid risk config: MaxPositionsPerStrategy must be > 0")
	}
	if c.MaxTotalPositions <= 0 {
		return fmt.Errorf("invalid risk config: MaxTotalPositions must be > 0")
	}
	if c.MaxDailyLoss <= 0 {
		return fmt.Errorf("invalid risk config: MaxDailyLoss must be > 0")
	}
	if c.FixedLotSize < 0 {
		return fmt.Errorf("invalid risk config: FixedLotSize must be >= 0")
	}
	if c.EstimatedLossPct < 0 || c.EstimatedLossPct > 1 {
		return fmt.Errorf("invalid risk config: EstimatedLossPct must be between 0 and 1")
	}
	return nil
}

// State is a read-only view of the daily risk state.
type State struct {
	Day                string  `json:"day"`
	DailyPnL           float64 `json:"daily_pnl"`
	DailyTrades        int     `json:"daily_trades"`
	PendingOrders      int     `json:"pending_orders"`
	TradingAllowed     bool    `json:"trading_allowed"`
	EmergencyTriggered bool    `json:"emergency_triggered"`
}

// Manager validates signals against position, concentration, duplication and daily-loss policy.
// Dedup and emergency are optional; when nil their checks are skipped.
type Manager struct {
	cfg       Config
	dedup     *Deduplicator
	emergency *EmergencyExit

	day         string
	dailyPnL    float64
	dailyTrades int
}

// NewManager validates the config and creates a risk manager.
func NewManager(cfg Config, dedup *Deduplicator, emergency *EmergencyExit) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{cfg: cfg, dedup: dedup, emergency: emergency}, nil
}

// Config returns the risk limits.
func (m *Manager) Config() Config {
	return m.cfg
}

// Emergency returns the optional emergency manager.
func (m *Manager) Emergency() *EmergencyExit {
	return m.emergency
}

// ValidateSignal applies the checks in order and stops at the first failure:
// halt latch, duplicate window, SELL bypass, notional size, position counts, fixed lot.
// Emergency liquidation SELLs are never held back by the duplicate window.
// strategyPositions holds the signal's strategy rows; allPositions every open row.
func (m *Manager) ValidateSignal(sig schema.Signal, strategyPositions map[string]schema.Position, allPositions []schema.Position) Decision {
	if sig.Quantity <= 0 || sig.Price <= 0 || sig.Symbol == "" ||
		(sig.Action != schema.ActionBuy && sig.Action != schema.ActionSell) {
		return reject(ReasonInvalidSignal)
	}
	m.rollDay(sig.Timestamp)

	if sig.Action == schema.ActionBuy {
		if m.emergency != nil && m.emergency.Triggered() {
			return reject(ReasonEmergencyHalt)
		}
		if !m.IsTradingAllowed() {
			return reject(ReasonTradingHalted)
		}
	}

	key := KeyOf(sig)
	liquidation := sig.Action == schema.ActionSell && sig.Reason == ReasonEmergencyExit
	if m.dedup != nil && !liquidation && m.dedup.IsDuplicate(key, sig.Timestamp) {
		return reject(ReasonDuplicate)
	}

	if sig.Action == schema.ActionSell {
		m.register(key, sig.Timestamp)
		return Decision{Approved: true}
	}

	notional := sig.Notional()
	if notional > m.cfg.MaxPositionSize {
		return reject(ReasonMaxPositionSize)
	}

	if _, held := strategyPositions[sig.Symbol]; !held {
		if len(strategyPositions) >= m.cfg.MaxPositionsPerStrategy {
			return reject(ReasonMaxPositionsPerStrategy)
		}
		if countOpen(allPositions) >= m.cfg.MaxTotalPositions {
			return reject(ReasonMaxTotalPositions)
		}
	}

	if m.emergency != nil && m.cfg.EstimatedLossPct > 0 {
		if !m.emergency.CanOpenNewPosition(notional * m.cfg.EstimatedLossPct) {
			return reject(ReasonLossBudget)
		}
	}

	decision := Decision{Approved: true}
	if m.cfg.FixedLotSize > 0 && m.cfg.FixedLotSize != sig.Quantity {
		if sig.Price*float64(m.cfg.FixedLotSize) > m.cfg.MaxPositionSize {
			return reject(ReasonMaxPositionSize)
		}
		decision.AdjustedQuantity = m.cfg.FixedLotSize
	}
	m.register(key, sig.Timestamp)
	return decision
}

// RecordTrade adds a realized P&L to the daily totals.
func (m *Manager) RecordTrade(pnl float64, at time.Time) {
	m.rollDay(at)
	m.dailyPnL += pnl
	m.dailyTrades++
	if !m.IsTradingAllowed() {
		logs.Warnf("daily loss limit reached: pnl %.2f, limit %.2f", m.dailyPnL, m.cfg.MaxDailyLoss)
	}
}

// IsTradingAllowed reports daily_pnl > -max_daily_loss.
func (m *Manager) IsTradingAllowed() bool {
	return m.dailyPnL > -m.cfg.MaxDailyLoss
}

// ResetDaily clears the daily state, the dedup set and the emergency latch.
func (m *Manager) ResetDaily(day string) {
	m.day = day
	m.dailyPnL = 0
	m.dailyTrades = 0
	if m.dedup != nil {
		m.dedup.Reset()
	}
	if m.emergency != nil {
		m.emergency.Reset()
	}
}

// State returns the daily risk state at now.
func (m *Manager) State(now time.Time) State {
	st := State{
		Day:            m.day,
		DailyPnL:       m.dailyPnL,
		DailyTrades:    m.dailyTrades,
		TradingAllowed: m.IsTradingAllowed(),
	}
	if m.dedup != nil {
		st.PendingOrders = m.dedup.Pending(now)
	}
	if m.emergency != nil {
		st.EmergencyTriggered = m.emergency.Triggered()
		st.TradingAllowed = st.TradingAllowed && !m.emergency.TradingDisabled()
	}
	return st
}

func (m *Manager) register(key DedupKey, at time.Time) {
	if m.dedup != nil {
		m.dedup.Register(key, at)
	}
}

func (m *Manager) rollDay(at time.Time) {
	if at.IsZero() {
		return
	}
	day := at.Format(time.DateOnly)
	if m.day == "" {
		m.day = day
		return
	}
	if day != m.day {
		logs.Infof("risk day changed %s -> %s, reset", m.day, day)
		m.ResetDaily(day)
	}
}

func reject(reason Reason) Decision {
	return Decision{Approved: false, Reason: reason}
}

func countOpen(positions []schema.Position) int {
	n := 0
	for _, p := range positions {
		if p.Quantity != 0 {
			n++
		}
	}
	return n
}
