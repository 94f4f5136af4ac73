package risk

import (
	"fmt"
	"sort"
	"time"

	"github.com/yanun0323/logs"

	"papertrader/internal/schema"
)

// ReasonEmergencyExit tags liquidation signals.
const ReasonEmergencyExit = "EMERGENCY_EXIT_LOSS_LIMIT"

// EmergencyState is the one-way daily state.
type EmergencyState uint16

const (
	EmergencyNormal EmergencyState = iota
	EmergencyTriggered
)

func (s EmergencyState) String() string {
	if s == EmergencyTriggered {
		return "EMERGENCY"
	}
	return "NORMAL"
}

// EmergencyConfig holds the daily loss limits.
type EmergencyConfig struct {
	// MaxDailyLoss is an absolute currency amount, > 0.
	MaxDailyLoss float64
	// MaxDailyLossPct is a percentage of Capital; 0 disables it.
	MaxDailyLossPct float64
	Capital         float64
}

// Validate checks if the config is usable.
func (c EmergencyConfig) Validate() error {
	if c.MaxDailyLoss <= 0 {
		return fmt.Errorf("invalid emergency config: MaxDailyLoss must be > 0")
	}
	if c.MaxDailyLossPct < 0 || c.MaxDailyLossPct > 100 {
		return fmt.Errorf("invalid emergency config: MaxDailyLossPct must be between 0 and 100")
	}
	if c.MaxDailyLossPct > 0 && c.Capital <= 0 {
		return fmt.Errorf("invalid emergency config: Capital must be > 0 with a percentage limit")
	}
	return nil
}

// EmergencyExit latches a daily trading halt on a loss-limit breach.
type EmergencyExit struct {
	cfg EmergencyConfig

	state           EmergencyState
	tradingDisabled bool
	triggeredAt     time.Time
	totalPnL        float64
	day             string

	onTrigger func(total float64, at time.Time)
}

// NewEmergencyExit validates the config and creates a manager in NORMAL.
func NewEmergencyExit(cfg EmergencyConfig) (*EmergencyExit, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &EmergencyExit{cfg: cfg}, nil
}

// OnTrigger registers the callback invoked on the first breach of a day.
func (e *EmergencyExit) OnTrigger(fn func(total float64, at time.Time)) {
	e.onTrigger = fn
}

// UpdatePnL recomputes total P&L and returns true only on the call that first breaches.
func (e *EmergencyExit) UpdatePnL(realized, unrealized float64, now time.Time) bool {
	e.rollDay(now)
	e.totalPnL = realized + unrealized
	if e.state == EmergencyTriggered {
		return false
	}
	if !e.breached(e.totalPnL) {
		return false
	}

	e.state = EmergencyTriggered
	e.tradingDisabled = true
	e.triggeredAt = now
	logs.Errorf("emergency exit triggered: total pnl %.2f breaches limit %.2f (%.2f%%)",
		e.totalPnL, e.cfg.MaxDailyLoss, e.cfg.MaxDailyLossPct)
	if e.onTrigger != nil {
		e.onTrigger(e.totalPnL, now)
	}
	return true
}

func (e *EmergencyExit) breached(total float64) bool {
	if total <= -e.cfg.MaxDailyLoss {
		return true
	}
	if e.cfg.MaxDailyLossPct > 0 && e.cfg.Capital > 0 {
		return total/e.cfg.Capital*100 <= -e.cfg.MaxDailyLossPct
	}
	return false
}

// CanOpenNewPosition reports whether a trade risking estimatedLoss keeps the day inside its limits.
func (e *EmergencyExit) CanOpenNewPosition(estimatedLoss float64) bool {
	if e.state == EmergencyTriggered || e.tradingDisabled {
		return false
	}
	if estimatedLoss < 0 {
		estimatedLoss = -estimatedLoss
	}
	return !e.breached(e.totalPnL - estimatedLoss)
}

// CloseAllPositions builds liquidation signals for every open position.
func (e *EmergencyExit) CloseAllPositions(positions []schema.Position, at time.Time) []schema.Signal {
	sorted := append([]schema.Position(nil), positions...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].StrategyID != sorted[j].StrategyID {
			return sorted[i].StrategyID < sorted[j].StrategyID
		}
		return sorted[i].Symbol < sorted[j].Symbol
	})
	out := make([]schema.Signal, 0, len(sorted))
	for _, p := range sorted {
		if p.Quantity <= 0 {
			continue
		}
		price := p.CurrentPrice
		if price <= 0 {
			price = p.AveragePrice
		}
		out = append(out, schema.Signal{
			StrategyID: p.StrategyID,
			Action:     schema.ActionSell,
			Symbol:     p.Symbol,
			Price:      price,
			Quantity:   p.Quantity,
			Timestamp:  at,
			Reason:     ReasonEmergencyExit,
			Priority:   schema.PriorityHigh,
		})
	}
	return out
}

// Triggered reports whether the latch is set.
func (e *EmergencyExit) Triggered() bool {
	return e.state == EmergencyTriggered
}

// TradingDisabled reports whether new trades are refused.
func (e *EmergencyExit) TradingDisabled() bool {
	return e.tradingDisabled
}

// State returns the current state.
func (e *EmergencyExit) State() EmergencyState {
	return e.state
}

// TriggeredAt returns the breach time, zero when NORMAL.
func (e *EmergencyExit) TriggeredAt() time.Time {
	return e.triggeredAt
}

// TotalPnL returns the last computed total.
func (e *EmergencyExit) TotalPnL() float64 {
	return e.totalPnL
}

// Reset returns to NORMAL.
func (e *EmergencyExit) Reset() {
	e.state = EmergencyNormal
	e.tradingDisabled = false
	e.triggeredAt = time.Time{}
	e.totalPnL = 0
}

func (e *EmergencyExit) rollDay(now time.Time) {
	day := now.Format(time.DateOnly)
	if e.day == day {
		return
	}
	if e.day != "" {
		logs.Infof("emergency exit reset for new day %s", day)
		e.Reset()
	}
	e.day = day
}
