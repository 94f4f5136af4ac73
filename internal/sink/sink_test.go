package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"papertrader/internal/bus"
	"papertrader/internal/journal"
	"papertrader/internal/obs"
	"papertrader/internal/schema"
)

type mockSink struct {
	mock.Mock
	name string
}

func (m *mockSink) Name() string { return m.name }

func (m *mockSink) Write(ctx context.Context, e schema.Event) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

func (m *mockSink) Close() error {
	args := m.Called()
	return args.Error(0)
}

var at = time.Date(2024, 3, 4, 4, 0, 0, 0, time.UTC)

func sampleTrade() schema.Trade {
	return schema.Trade{
		Round: 7,
		Order: schema.Order{
			ID: "0b6f0c1e-0000-4000-8000-000000000001", StrategyID: "rsi", Symbol: "AAA",
			Action: schema.ActionBuy, RequestedPrice: 100, FilledPrice: 100.05,
			Quantity: 10, FilledQuantity: 10, Status: schema.OrderStatusFilled, CreatedAt: at, FilledAt: at,
		},
		Reason: "ENTRY",
	}
}

func TestDispatcherDeliversToEverySink(t *testing.T) {
	q := bus.NewQueue(8)
	metrics := obs.NewMetrics()

	good := &mockSink{name: "good"}
	bad := &mockSink{name: "bad"}
	good.On("Write", mock.Anything, mock.Anything).Return(nil).Times(3)
	bad.On("Write", mock.Anything, mock.Anything).Return(errors.New("down")).Times(3)
	good.On("Close").Return(nil).Once()
	bad.On("Close").Return(errors.New("already closed")).Once()

	require.NoError(t, q.Publish(schema.EventTick, "AAA", at, schema.Tick{Symbol: "AAA", Price: 1}))
	require.NoError(t, q.Publish(schema.EventTrade, "AAA", at, sampleTrade()))
	require.NoError(t, q.Publish(schema.EventSession, "", at, schema.SessionEvent{State: "DONE"}))
	q.Close()

	d := NewDispatcher(DispatcherConfig{}, q, metrics, good, bad)
	d.Start(context.Background())
	d.Wait()

	good.AssertExpectations(t)
	bad.AssertExpectations(t)
	assert.Equal(t, map[string]uint64{"bad": 3}, d.Failures())
	assert.Equal(t, uint64(3), metrics.Snapshot().SinkErrors)
}

func TestDispatcherPreservesOrder(t *testing.T) {
	q := bus.NewQueue(8)
	var seqs []uint64
	s := &mockSink{name: "order"}
	s.On("Write", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		seqs = append(seqs, args.Get(1).(schema.Event).Header.Seq)
	}).Return(nil)
	s.On("Close").Return(nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Publish(schema.EventTick, "AAA", at, schema.Tick{}))
	}
	q.Close()
	NewDispatcher(DispatcherConfig{}, q, nil, s).Run(context.Background())
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, seqs)
}

func TestNATSSinkSubjects(t *testing.T) {
	type published struct {
		subject string
		data    []byte
	}
	var got []published
	s := newNATSSinkWith("", func(subject string, data []byte) error {
		got = append(got, published{subject: subject, data: data})
		return nil
	})

	e := schema.Event{Header: schema.NewHeader(schema.EventTrade, 9, "AAA", at), Payload: sampleTrade()}
	require.NoError(t, s.Write(context.Background(), e))
	require.Len(t, got, 1)
	assert.Equal(t, "papertrader.trade", got[0].subject)

	var decoded struct {
		Header  schema.EventHeader `json:"header"`
		Payload schema.Trade       `json:"payload"`
	}
	require.NoError(t, sonic.ConfigStd.Unmarshal(got[0].data, &decoded))
	assert.Equal(t, uint64(9), decoded.Header.Seq)
	assert.Equal(t, schema.EventTrade, decoded.Header.Kind)
	assert.Equal(t, "ENTRY", decoded.Payload.Reason)
	assert.Equal(t, int64(10), decoded.Payload.Order.FilledQuantity)

	assert.Equal(t, "pt.sl_update", newNATSSinkWith("pt", nil).Subject(schema.EventStopLossUpdate))
	require.NoError(t, s.Close())
}

func TestNATSSinkPublishError(t *testing.T) {
	s := newNATSSinkWith("", func(string, []byte) error { return errors.New("no responders") })
	err := s.Write(context.Background(), schema.Event{Header: schema.NewHeader(schema.EventTick, 1, "AAA", at), Payload: schema.Tick{}})
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, s.Write(ctx, schema.Event{}), context.Canceled)
}

func TestNewNATSSinkRequiresURL(t *testing.T) {
	_, err := NewNATSSink(NATSConfig{})
	require.Error(t, err)
}

func TestJournalSinkThroughDispatcher(t *testing.T) {
	dir := t.TempDir()
	js, err := NewJournalSink(journal.DefaultConfig(dir))
	require.NoError(t, err)

	q := bus.NewQueue(4)
	require.NoError(t, q.Publish(schema.EventTrade, "AAA", at, sampleTrade()))
	q.Close()
	NewDispatcher(DispatcherConfig{}, q, nil, js).Run(context.Background())

	p, err := journal.NewPlayback(journal.PlaybackConfig{Dir: dir})
	require.NoError(t, err)
	var trades []schema.Trade
	require.NoError(t, p.Run(context.Background(), func(rec journal.Record) error {
		payload, err := rec.Decode()
		if err != nil {
			return err
		}
		trades = append(trades, payload.(schema.Trade))
		return nil
	}))
	require.Len(t, trades, 1)
	assert.Equal(t, uint64(7), trades[0].Round)
}

func TestRowMapping(t *testing.T) {
	testCases := []struct {
		desc  string
		event schema.Event
		check func(t *testing.T, row any)
	}{
		{
			desc:  "trade",
			event: schema.Event{Header: schema.NewHeader(schema.EventTrade, 3, "AAA", at), Payload: sampleTrade()},
			check: func(t *testing.T, row any) {
				r := row.(*tradeRow)
				assert.Equal(t, uint64(3), r.Seq)
				assert.Equal(t, "BUY", r.Action)
				assert.True(t, r.Notional.Equal(decimal.RequireFromString("1000.5")), r.Notional.String())
			},
		},
		{
			desc: "position snapshot",
			event: schema.Event{Header: schema.NewHeader(schema.EventPositionSnapshot, 4, "", at), Payload: schema.PositionSnapshot{
				Positions:     []schema.Position{{StrategyID: "rsi", Symbol: "AAA", Quantity: 10, AveragePrice: 100}},
				UnrealizedPnL: -2.5,
			}},
			check: func(t *testing.T, row any) {
				r := row.(*positionSnapshotRow)
				assert.Equal(t, 1, r.OpenPositions)
				assert.Contains(t, r.Positions, `"symbol":"AAA"`)
				assert.True(t, r.UnrealizedPnL.Equal(decimal.NewFromFloat(-2.5)))
			},
		},
		{
			desc:  "stop update",
			event: schema.Event{Header: schema.NewHeader(schema.EventStopLossUpdate, 5, "AAA", at), Payload: schema.StopLossUpdate{Symbol: "AAA", PreviousSL: 98, CurrentSL: 99}},
			check: func(t *testing.T, row any) {
				r := row.(*stopLossRow)
				assert.True(t, r.CurrentSL.GreaterThan(r.PreviousSL))
				assert.Equal(t, at, r.At)
			},
		},
		{
			desc:  "tick ignored",
			event: schema.Event{Header: schema.NewHeader(schema.EventTick, 6, "AAA", at), Payload: schema.Tick{}},
			check: func(t *testing.T, row any) { assert.Nil(t, row) },
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			row, err := rowFor(tc.event)
			require.NoError(t, err)
			tc.check(t, row)
		})
	}
}

func TestOpenEnabledSinks(t *testing.T) {
	var cfg Config
	sinks, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	assert.Empty(t, sinks)
	assert.Equal(t, defaultQueueSize, cfg.Queue())

	cfg.Journal.Enabled = true
	cfg.Journal.Config = journal.DefaultConfig(t.TempDir())
	sinks, err = Open(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, sinks, 1)
	assert.Equal(t, "journal", sinks[0].Name())
	require.NoError(t, sinks[0].Close())

	testCases := []struct {
		desc   string
		mutate func(c *Config)
	}{
		{desc: "nats without url", mutate: func(c *Config) { c.NATS.Enabled = true }},
		{desc: "store without database", mutate: func(c *Config) { c.Store.Enabled = true }},
		{desc: "journal without dir", mutate: func(c *Config) { c.Journal.Enabled = true }},
		{desc: "negative queue", mutate: func(c *Config) { c.QueueSize = -1 }},
	}
	for _, tc := range testCases {
		var c Config
		tc.mutate(&c)
		if _, err := Open(context.Background(), c); err == nil {
			t.Fatalf("%s: expected error", tc.desc)
		}
	}
}
