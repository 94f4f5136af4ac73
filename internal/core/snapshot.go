package core

import (
	"time"

	"papertrader/internal/obs"
	"papertrader/internal/risk"
	"papertrader/internal/schema"
	"papertrader/internal/session"
)

// Snapshot is the read-only view of a session handed to observers.
// It shares no memory with the pipeline.
type Snapshot struct {
	Time          time.Time               `json:"time"`
	Session       session.Status          `json:"session"`
	Risk          risk.State              `json:"risk"`
	Cash          float64                 `json:"cash"`
	RealizedPnL   float64                 `json:"realized_pnl"`
	UnrealizedPnL float64                 `json:"unrealized_pnl"`
	Prices        map[string]float64      `json:"prices"`
	Positions     []schema.Position       `json:"positions"`
	Stops         []schema.StopLossUpdate `json:"stops"`
	RecentTrades  []schema.Trade          `json:"recent_trades"`
	Strategies    []StrategyStatus        `json:"strategies"`
	Metrics       obs.Snapshot            `json:"metrics"`
}

// StrategyStatus is the per-strategy part of a snapshot.
type StrategyStatus struct {
	ID        string   `json:"id"`
	Symbols   []string `json:"symbols"`
	Active    bool     `json:"active"`
	WarmedUp  bool     `json:"warmed_up"`
	Positions int      `json:"positions"`
}

// Snapshot builds a deep copy of the current session state.
func (e *Engine) Snapshot() Snapshot {
	prices := make(map[string]float64, len(e.prices))
	for k, v := range e.prices {
		prices[k] = v
	}

	stops := e.Stops.All()
	views := make([]schema.StopLossUpdate, 0, len(stops))
	for _, s := range stops {
		views = append(views, stopUpdate(s, s.CurrentSL))
	}

	strategies := e.Strategies.Strategies()
	statuses := make([]StrategyStatus, 0, len(strategies))
	for _, s := range strategies {
		statuses = append(statuses, StrategyStatus{
			ID:        s.ID(),
			Symbols:   s.Symbols(),
			Active:    s.Active(),
			WarmedUp:  s.WarmedUp(),
			Positions: len(s.Positions()),
		})
	}

	return Snapshot{
		Time:          e.now,
		Session:       e.Session.Status(),
		Risk:          e.Risk.State(e.now),
		Cash:          e.Orders.Cash(),
		RealizedPnL:   e.Positions.RealizedPnL(),
		UnrealizedPnL: e.Positions.UnrealizedPnL(),
		Prices:        prices,
		Positions:     e.Positions.Positions(),
		Stops:         views,
		RecentTrades:  e.Trades(),
		Strategies:    statuses,
		Metrics:       e.Metrics.Snapshot(),
	}
}
