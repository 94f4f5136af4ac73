package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrader/internal/candle"
	"papertrader/internal/obs"
	"papertrader/internal/og"
	"papertrader/internal/risk"
	"papertrader/internal/schema"
	"papertrader/internal/session"
	"papertrader/internal/state"
	"papertrader/internal/stoploss"
)

type recordedEvent struct {
	kind    schema.EventKind
	payload any
}

type eventLog struct {
	events []recordedEvent
}

func (l *eventLog) Publish(kind schema.EventKind, _ string, _ time.Time, payload any) error {
	l.events = append(l.events, recordedEvent{kind: kind, payload: payload})
	return nil
}

func (l *eventLog) decisions() []schema.RiskDecision {
	var out []schema.RiskDecision
	for _, e := range l.events {
		if d, ok := e.payload.(schema.RiskDecision); ok {
			out = append(out, d)
		}
	}
	return out
}

type lastSnapshot struct {
	snap  Snapshot
	count int
}

func (p *lastSnapshot) Publish(s Snapshot) {
	p.snap = s
	p.count++
}

type fixture struct {
	engine *Engine
	strat  *scripted
	events *eventLog
	pub    *lastSnapshot
}

func newFixture(t *testing.T, maxDailyLoss float64) *fixture {
	t.Helper()
	strat := newScripted("s1", "AAA")
	manager := NewManager()
	require.NoError(t, manager.Add(strat))

	agg, err := candle.NewAggregator(candle.Config{Timeframes: []time.Duration{time.Minute}})
	require.NoError(t, err)
	clock, err := session.NewController(session.Config{WarningTime: "15:00", SquareOffTime: "15:15", Location: "UTC"})
	require.NoError(t, err)
	emergency, err := risk.NewEmergencyExit(risk.EmergencyConfig{MaxDailyLoss: maxDailyLoss})
	require.NoError(t, err)
	riskManager, err := risk.NewManager(risk.Config{
		MaxPositionSize:         1e6,
		MaxPositionsPerStrategy: 5,
		MaxTotalPositions:       10,
		MaxDailyLoss:            maxDailyLoss,
	}, risk.NewDeduplicator(5*time.Second), emergency)
	require.NoError(t, err)
	broker, err := og.NewSimBroker(og.SimBrokerConfig{Seed: 1})
	require.NoError(t, err)
	orders, err := og.NewOrderManager(og.Config{}, broker)
	require.NoError(t, err)
	stops, err := stoploss.NewManager(stoploss.DefaultConfig(stoploss.TypeFixedPct))
	require.NoError(t, err)

	f := &fixture{strat: strat, events: &eventLog{}, pub: &lastSnapshot{}}
	f.engine, err = NewEngine(EngineConfig{}, Deps{
		Strategies: manager,
		Aggregator: agg,
		Session:    clock,
		Risk:       riskManager,
		Orders:     orders,
		Positions:  state.NewPositionManager(),
		Stops:      stops,
		Events:     f.events,
		Publisher:  f.pub,
		Metrics:    obs.NewMetrics(),
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) run(t *testing.T, ticks ...schema.Tick) {
	t.Helper()
	for _, tick := range ticks {
		require.NoError(t, f.engine.OnTick(context.Background(), tick))
	}
}

func buyPlan(qty int64) []schema.Signal {
	return []schema.Signal{{Action: schema.ActionBuy, Symbol: "AAA", Quantity: qty, Reason: "ENTRY"}}
}

func TestNewEngineRequiresDeps(t *testing.T) {
	_, err := NewEngine(EngineConfig{}, Deps{})
	require.Error(t, err)
}

func TestEngineTrailingStopExit(t *testing.T) {
	f := newFixture(t, 1e5)
	f.strat.plan[1] = buyPlan(10)

	f.run(t, tickAt("AAA", 10*time.Hour, 100))

	pos, ok := f.engine.Positions.Position("s1", "AAA")
	require.True(t, ok)
	assert.Equal(t, int64(10), pos.Quantity)
	holding, ok := f.strat.Position("AAA")
	require.True(t, ok, "strategy sees the fill")
	assert.Equal(t, int64(10), holding.Quantity)
	stop, ok := f.engine.Stops.Get("s1", "AAA")
	require.True(t, ok)
	assert.InDelta(t, pos.AveragePrice*0.98, stop.CurrentSL, 1e-9)
	assert.Empty(t, f.strat.Signals(), "queues are cleared after the round")

	f.run(t, tickAt("AAA", 10*time.Hour+time.Minute, 99), tickAt("AAA", 10*time.Hour+2*time.Minute, 97))

	_, ok = f.engine.Positions.Position("s1", "AAA")
	assert.False(t, ok, "stop hit closes the position")
	_, ok = f.strat.Position("AAA")
	assert.False(t, ok)
	_, ok = f.engine.Stops.Get("s1", "AAA")
	assert.False(t, ok)

	trades := f.engine.Trades()
	require.Len(t, trades, 2)
	assert.Equal(t, ReasonTrailingStop, trades[1].Reason)
	assert.Equal(t, schema.ActionSell, trades[1].Order.Action)
	assert.Less(t, trades[1].RealizedPnL, 0.0)
	assert.NotEqual(t, trades[0].Round, trades[1].Round)

	assert.Equal(t, 3, f.pub.count)
	assert.Empty(t, f.pub.snap.Positions)
	assert.Len(t, f.pub.snap.RecentTrades, 2)
	assert.Equal(t, uint64(3), f.engine.Metrics.Snapshot().Ticks)
	assert.Len(t, f.strat.closed, 2, "closed 1m candles reach the strategy")
}

func TestEngineSessionClose(t *testing.T) {
	f := newFixture(t, 1e5)
	f.strat.plan[1] = buyPlan(5)
	f.strat.plan[2] = buyPlan(7)

	f.run(t,
		tickAt("AAA", 14*time.Hour, 100),
		tickAt("AAA", 15*time.Hour, 100.5),
	)
	pos, ok := f.engine.Positions.Position("s1", "AAA")
	require.True(t, ok)
	assert.Equal(t, int64(5), pos.Quantity, "entry after warning is blocked")

	decisions := f.events.decisions()
	require.Len(t, decisions, 1)
	assert.Equal(t, risk.ReasonNewEntriesBlocked.String(), decisions[0].Reason)

	f.run(t, tickAt("AAA", 15*time.Hour+15*time.Minute, 101))
	_, ok = f.engine.Positions.Position("s1", "AAA")
	assert.False(t, ok, "square off closes every position")
	trades := f.engine.Trades()
	require.Len(t, trades, 2)
	assert.Equal(t, ReasonSquareOff, trades[1].Reason)
	assert.Equal(t, session.StateSquaredOff.String(), f.pub.snap.Session.State)

	snap := f.engine.Finish()
	assert.Empty(t, snap.Positions)
	assert.InDelta(t, f.engine.Positions.RealizedPnL(), snap.RealizedPnL, 1e-9)
	assert.Greater(t, snap.Cash, 0.0)
}

func TestEngineEmergencyExit(t *testing.T) {
	f := newFixture(t, 50)
	f.strat.plan[1] = buyPlan(10)
	f.strat.plan[3] = buyPlan(1)

	f.run(t, tickAt("AAA", 10*time.Hour, 100), tickAt("AAA", 10*time.Hour+time.Minute, 90))

	_, ok := f.engine.Positions.Position("s1", "AAA")
	assert.False(t, ok, "breach liquidates")
	trades := f.engine.Trades()
	require.Len(t, trades, 2)
	assert.Equal(t, risk.ReasonEmergencyExit, trades[1].Reason)
	assert.True(t, f.engine.Risk.Emergency().Triggered())

	f.run(t, tickAt("AAA", 10*time.Hour+2*time.Minute, 95))
	_, ok = f.engine.Positions.Position("s1", "AAA")
	assert.False(t, ok, "entries stay blocked after the breach")
	decisions := f.events.decisions()
	require.NotEmpty(t, decisions)
	assert.Equal(t, risk.ReasonEmergencyHalt.String(), decisions[len(decisions)-1].Reason)
}

func TestEngineEmergencyExitAfterPartialSell(t *testing.T) {
	f := newFixture(t, 50)
	f.strat.plan[1] = buyPlan(100)
	f.strat.plan[2] = []schema.Signal{{Action: schema.ActionSell, Symbol: "AAA", Quantity: 50, Reason: "EXIT"}}

	open := 10 * time.Hour
	f.run(t,
		tickAt("AAA", open, 100),
		tickAt("AAA", open+time.Second, 100),
		tickAt("AAA", open+2*time.Second, 98.5),
	)
	require.True(t, f.engine.Risk.Emergency().Triggered())

	_, ok := f.engine.Positions.Position("s1", "AAA")
	assert.False(t, ok, "liquidation matching the partial exit still fills")
	trades := f.engine.Trades()
	require.Len(t, trades, 3)
	assert.Equal(t, risk.ReasonEmergencyExit, trades[2].Reason)
	assert.Equal(t, int64(50), trades[2].Order.FilledQuantity)
	for _, d := range f.events.decisions() {
		assert.NotEqual(t, risk.ReasonDuplicate.String(), d.Reason)
	}

	f.run(t, tickAt("AAA", open+10*time.Second, 98))
	assert.Zero(t, f.engine.Positions.Count())
	assert.Len(t, f.engine.Trades(), 3, "a flat book issues no further liquidation")
}

func TestEngineClampsOversell(t *testing.T) {
	f := newFixture(t, 1e5)
	f.strat.plan[1] = buyPlan(4)
	f.strat.plan[2] = []schema.Signal{{Action: schema.ActionSell, Symbol: "AAA", Quantity: 9, Reason: "EXIT"}}
	f.strat.plan[3] = []schema.Signal{{Action: schema.ActionSell, Symbol: "AAA", Quantity: 1, Reason: "EXIT"}}

	f.run(t,
		tickAt("AAA", 10*time.Hour, 100),
		tickAt("AAA", 10*time.Hour+time.Minute, 101),
		tickAt("AAA", 10*time.Hour+2*time.Minute, 102),
	)
	trades := f.engine.Trades()
	require.Len(t, trades, 2)
	assert.Equal(t, int64(4), trades[1].Order.FilledQuantity)

	decisions := f.events.decisions()
	require.Len(t, decisions, 1)
	assert.Equal(t, risk.ReasonNoPosition.String(), decisions[0].Reason)
}
