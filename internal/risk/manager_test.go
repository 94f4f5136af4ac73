package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrader/internal/schema"
)

var t0 = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func baseConfig() Config {
	return Config{
		MaxPositionSize:         100000,
		MaxPositionsPerStrategy: 2,
		MaxTotalPositions:       3,
		MaxDailyLoss:            5000,
	}
}

func buy(symbol string, price float64, qty int64, at time.Time) schema.Signal {
	return schema.Signal{StrategyID: "s1", Action: schema.ActionBuy, Symbol: symbol, Price: price, Quantity: qty, Timestamp: at}
}

func sell(symbol string, price float64, qty int64, at time.Time) schema.Signal {
	s := buy(symbol, price, qty, at)
	s.Action = schema.ActionSell
	return s
}

func newManager(t *testing.T, cfg Config, withDedup bool, em *EmergencyExit) *Manager {
	t.Helper()
	var dedup *Deduplicator
	if withDedup {
		dedup = NewDeduplicator(5 * time.Second)
	}
	m, err := NewManager(cfg, dedup, em)
	require.NoError(t, err)
	return m
}

func TestValidateSignalPositionSizeBoundary(t *testing.T) {
	m := newManager(t, baseConfig(), false, nil)

	d := m.ValidateSignal(buy("AAA", 1000, 100, t0), nil, nil)
	assert.True(t, d.Approved, "notional equal to max is approved")

	d = m.ValidateSignal(buy("AAA", 1000.01, 100, t0), nil, nil)
	assert.False(t, d.Approved)
	assert.Equal(t, ReasonMaxPositionSize, d.Reason)

	d = m.ValidateSignal(buy("AAA", 1000, 101, t0), nil, nil)
	assert.False(t, d.Approved)
	assert.Equal(t, ReasonMaxPositionSize, d.Reason)
}

func TestValidateSignalOrder(t *testing.T) {
	open := func(sym string) schema.Position {
		return schema.Position{StrategyID: "s1", Symbol: sym, Quantity: 10, AveragePrice: 10}
	}
	other := schema.Position{StrategyID: "s2", Symbol: "ZZZ", Quantity: 5, AveragePrice: 10}

	testCases := []struct {
		desc     string
		sig      schema.Signal
		own      map[string]schema.Position
		all      []schema.Position
		approved bool
		reason   Reason
	}{
		{
			desc:     "first buy",
			sig:      buy("AAA", 100, 10, t0),
			approved: true,
		},
		{
			desc:   "invalid quantity",
			sig:    buy("AAA", 100, 0, t0),
			reason: ReasonInvalidSignal,
		},
		{
			desc:   "unknown action",
			sig:    schema.Signal{StrategyID: "s1", Symbol: "AAA", Price: 1, Quantity: 1, Timestamp: t0},
			reason: ReasonInvalidSignal,
		},
		{
			desc:   "strategy slot limit on a new symbol",
			sig:    buy("CCC", 100, 10, t0),
			own:    map[string]schema.Position{"AAA": open("AAA"), "BBB": open("BBB")},
			all:    []schema.Position{open("AAA"), open("BBB")},
			reason: ReasonMaxPositionsPerStrategy,
		},
		{
			desc:     "adding to a held symbol ignores slot limits",
			sig:      buy("AAA", 100, 10, t0),
			own:      map[string]schema.Position{"AAA": open("AAA"), "BBB": open("BBB")},
			all:      []schema.Position{open("AAA"), open("BBB"), other},
			approved: true,
		},
		{
			desc:   "total limit across strategies",
			sig:    buy("CCC", 100, 10, t0),
			own:    map[string]schema.Position{"AAA": open("AAA")},
			all:    []schema.Position{open("AAA"), open("BBB"), other},
			reason: ReasonMaxTotalPositions,
		},
		{
			desc:     "sell bypasses size limits",
			sig:      sell("AAA", 1e6, 1000, t0),
			own:      map[string]schema.Position{"AAA": open("AAA"), "BBB": open("BBB")},
			all:      []schema.Position{open("AAA"), open("BBB"), other},
			approved: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			m := newManager(t, baseConfig(), true, nil)
			d := m.ValidateSignal(tc.sig, tc.own, tc.all)
			if d.Approved != tc.approved {
				t.Fatalf("approved mismatch: got %v want %v (reason %s)", d.Approved, tc.approved, d.Reason)
			}
			if !tc.approved && d.Reason != tc.reason {
				t.Fatalf("reason mismatch: got %s want %s", d.Reason, tc.reason)
			}
		})
	}
}

func TestValidateSignalDuplicateWindow(t *testing.T) {
	m := newManager(t, baseConfig(), true, nil)

	require.True(t, m.ValidateSignal(buy("AAA", 100, 10, t0), nil, nil).Approved)

	d := m.ValidateSignal(buy("AAA", 100, 10, t0.Add(2*time.Second)), nil, nil)
	assert.False(t, d.Approved)
	assert.Equal(t, ReasonDuplicate, d.Reason)

	assert.True(t, m.ValidateSignal(buy("AAA", 100, 11, t0.Add(2*time.Second)), nil, nil).Approved, "different quantity is a different key")
	assert.True(t, m.ValidateSignal(buy("AAA", 100, 10, t0.Add(5*time.Second)), nil, nil).Approved, "window elapsed")

	require.True(t, m.ValidateSignal(sell("AAA", 100, 10, t0.Add(10*time.Second)), nil, nil).Approved)
	d = m.ValidateSignal(sell("AAA", 100, 10, t0.Add(11*time.Second)), nil, nil)
	assert.False(t, d.Approved, "approved sells are registered")
	assert.Equal(t, ReasonDuplicate, d.Reason)

	liquidation := sell("AAA", 100, 10, t0.Add(12*time.Second))
	liquidation.Reason = ReasonEmergencyExit
	liquidation.Priority = schema.PriorityHigh
	assert.True(t, m.ValidateSignal(liquidation, nil, nil).Approved, "liquidation ignores the window")
	assert.True(t, m.ValidateSignal(liquidation, nil, nil).Approved, "repeated liquidation ignores the window")
}

func TestValidateSignalRejectedNotRegistered(t *testing.T) {
	m := newManager(t, baseConfig(), true, nil)
	d := m.ValidateSignal(buy("AAA", 1e6, 10, t0), nil, nil)
	require.False(t, d.Approved)
	assert.Equal(t, 0, m.State(t0).PendingOrders)
}

func TestValidateSignalFixedLot(t *testing.T) {
	cfg := baseConfig()
	cfg.FixedLotSize = 25
	m := newManager(t, cfg, false, nil)

	sig := buy("AAA", 100, 10, t0)
	d := m.ValidateSignal(sig, nil, nil)
	require.True(t, d.Approved)
	assert.Equal(t, int64(25), d.AdjustedQuantity)
	assert.Equal(t, int64(25), d.Quantity(sig))

	s := sell("AAA", 100, 7, t0)
	d = m.ValidateSignal(s, nil, nil)
	require.True(t, d.Approved)
	assert.Equal(t, int64(7), d.Quantity(s), "sells keep their quantity")

	testCases := []struct {
		desc     string
		price    float64
		approved bool
	}{
		{desc: "lot notional at the limit", price: 4000, approved: true},
		{desc: "lot notional above the limit", price: 4000.01, approved: false},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			m := newManager(t, cfg, false, nil)
			d := m.ValidateSignal(buy("AAA", tc.price, 1, t0), nil, nil)
			if d.Approved != tc.approved {
				t.Fatalf("approved = %t, want %t (reason %s)", d.Approved, tc.approved, d.Reason)
			}
			if !tc.approved {
				assert.Equal(t, ReasonMaxPositionSize, d.Reason)
			}
		})
	}
}

func TestDailyLossHaltBlocksBuysOnly(t *testing.T) {
	m := newManager(t, baseConfig(), false, nil)
	assert.True(t, m.IsTradingAllowed())

	m.RecordTrade(-4999, t0)
	assert.True(t, m.IsTradingAllowed())
	m.RecordTrade(-1, t0)
	assert.False(t, m.IsTradingAllowed(), "pnl equal to -max_daily_loss halts")

	d := m.ValidateSignal(buy("AAA", 100, 1, t0), nil, nil)
	assert.False(t, d.Approved)
	assert.Equal(t, ReasonTradingHalted, d.Reason)
	assert.True(t, m.ValidateSignal(sell("AAA", 100, 1, t0), nil, nil).Approved)

	st := m.State(t0)
	assert.Equal(t, 2, st.DailyTrades)
	assert.InDelta(t, -5000, st.DailyPnL, 1e-9)

	m.RecordTrade(0, t0.Add(24*time.Hour))
	assert.True(t, m.IsTradingAllowed(), "new day resets")
}

func TestEmergencyLatch(t *testing.T) {
	em, err := NewEmergencyExit(EmergencyConfig{MaxDailyLoss: 1000})
	require.NoError(t, err)
	m := newManager(t, baseConfig(), false, em)

	fired := 0
	em.OnTrigger(func(float64, time.Time) { fired++ })

	assert.False(t, em.UpdatePnL(-200, -700, t0))
	assert.True(t, em.UpdatePnL(-500, -700, t0), "first breach")
	assert.False(t, em.UpdatePnL(-500, -700, t0.Add(time.Second)), "unchanged pnl does not re-fire")
	assert.False(t, em.UpdatePnL(0, 500, t0.Add(2*time.Second)), "latch holds after recovery")
	assert.Equal(t, 1, fired)
	assert.Equal(t, EmergencyTriggered, em.State())
	assert.Equal(t, t0, em.TriggeredAt())

	d := m.ValidateSignal(buy("AAA", 100, 1, t0), nil, nil)
	assert.False(t, d.Approved)
	assert.Equal(t, ReasonEmergencyHalt, d.Reason)
	assert.True(t, m.ValidateSignal(sell("AAA", 100, 1, t0), nil, nil).Approved)
	assert.False(t, m.State(t0).TradingAllowed)

	assert.False(t, em.UpdatePnL(0, 0, t0.Add(24*time.Hour)))
	assert.Equal(t, EmergencyNormal, em.State(), "new day resets")
}

func TestEmergencyPercentLimit(t *testing.T) {
	em, err := NewEmergencyExit(EmergencyConfig{MaxDailyLoss: 1e9, MaxDailyLossPct: 2, Capital: 100000})
	require.NoError(t, err)
	assert.False(t, em.UpdatePnL(-1999, 0, t0))
	assert.True(t, em.UpdatePnL(-2000, 0, t0))
}

func TestEmergencyLossBudget(t *testing.T) {
	em, err := NewEmergencyExit(EmergencyConfig{MaxDailyLoss: 1000})
	require.NoError(t, err)
	cfg := baseConfig()
	cfg.EstimatedLossPct = 0.1
	m := newManager(t, cfg, false, em)

	require.False(t, em.UpdatePnL(-900, 0, t0))
	assert.True(t, em.CanOpenNewPosition(50))
	assert.False(t, em.CanOpenNewPosition(100))

	assert.True(t, m.ValidateSignal(buy("AAA", 50, 10, t0), nil, nil).Approved)
	d := m.ValidateSignal(buy("BBB", 100, 10, t0), nil, nil)
	assert.False(t, d.Approved)
	assert.Equal(t, ReasonLossBudget, d.Reason)
}

func TestCloseAllPositions(t *testing.T) {
	em, err := NewEmergencyExit(EmergencyConfig{MaxDailyLoss: 1000})
	require.NoError(t, err)

	positions := []schema.Position{
		{StrategyID: "s2", Symbol: "BBB", Quantity: 3, AveragePrice: 10, CurrentPrice: 9},
		{StrategyID: "s1", Symbol: "AAA", Quantity: 5, AveragePrice: 20},
		{StrategyID: "s1", Symbol: "CCC", Quantity: 0},
	}
	out := em.CloseAllPositions(positions, t0)
	require.Len(t, out, 2)
	assert.Equal(t, "AAA", out[0].Symbol)
	assert.Equal(t, 20.0, out[0].Price)
	assert.Equal(t, "BBB", out[1].Symbol)
	assert.Equal(t, 9.0, out[1].Price)
	for _, sig := range out {
		assert.Equal(t, schema.ActionSell, sig.Action)
		assert.Equal(t, schema.PriorityHigh, sig.Priority)
		assert.Equal(t, ReasonEmergencyExit, sig.Reason)
	}
}

func TestConfigValidate(t *testing.T) {
	_, err := NewManager(Config{}, nil, nil)
	require.Error(t, err)
	_, err = NewEmergencyExit(EmergencyConfig{MaxDailyLoss: 1, MaxDailyLossPct: 5})
	require.Error(t, err)
}
