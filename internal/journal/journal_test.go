package journal

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrader/internal/schema"
)

type fakeClock struct {
	sleeps []time.Duration
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.sleeps = append(c.sleeps, d)
	return nil
}

var t0 = time.Date(2024, 3, 4, 4, 0, 0, 0, time.UTC)

func sampleEvents() []schema.Event {
	tick := schema.Tick{Symbol: "AAA", Timestamp: t0, Price: 100, Bid: 99.95, Ask: 100.05, Volume: 12}
	trade := schema.Trade{
		Round: 3,
		Order: schema.Order{
			ID: "o-1", StrategyID: "rsi", Symbol: "AAA", Action: schema.ActionSell,
			RequestedPrice: 101, FilledPrice: 100.95, Quantity: 5, FilledQuantity: 5,
			Status: schema.OrderStatusFilled, CreatedAt: t0.Add(2 * time.Second), FilledAt: t0.Add(2 * time.Second),
		},
		RealizedPnL: 4.75,
		Reason:      "TRAILING_STOP_HIT",
	}
	return []schema.Event{
		{Header: schema.NewHeader(schema.EventTick, 1, "AAA", t0), Payload: tick},
		{Header: schema.NewHeader(schema.EventTrade, 2, "AAA", t0.Add(2*time.Second)), Payload: trade},
		{Header: schema.NewHeader(schema.EventSession, 3, "", t0.Add(4*time.Second)), Payload: schema.SessionEvent{State: "DONE"}},
	}
}

func writeAll(t *testing.T, cfg Config, events []schema.Event) *Writer {
	t.Helper()
	w, err := NewWriter(cfg)
	require.NoError(t, err)
	for _, e := range events {
		require.NoError(t, w.Append(e))
	}
	require.NoError(t, w.Close())
	return w
}

func TestWriteAndPlayback(t *testing.T) {
	dir := t.TempDir()
	w := writeAll(t, DefaultConfig(dir), sampleEvents())
	assert.Equal(t, uint64(3), w.Written())
	require.ErrorIs(t, w.Append(sampleEvents()[0]), ErrClosed)

	clock := &fakeClock{}
	p, err := NewPlayback(PlaybackConfig{Dir: dir, Speed: 2})
	require.NoError(t, err)
	p.WithClock(clock)

	var got []schema.Event
	require.NoError(t, p.Run(context.Background(), func(rec Record) error {
		e, err := rec.Event()
		if err != nil {
			return err
		}
		got = append(got, e)
		return nil
	}))

	require.Len(t, got, 3)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, clock.sleeps)

	tick, ok := got[0].Payload.(schema.Tick)
	require.True(t, ok)
	assert.Equal(t, 100.0, tick.Price)
	assert.True(t, tick.Timestamp.Equal(t0))

	trade, ok := got[1].Payload.(schema.Trade)
	require.True(t, ok)
	assert.Equal(t, uint64(3), trade.Round)
	assert.Equal(t, schema.ActionSell, trade.Order.Action)
	assert.Equal(t, schema.OrderStatusFilled, trade.Order.Status)
	assert.Equal(t, "TRAILING_STOP_HIT", trade.Reason)
	assert.Equal(t, schema.EventTrade, got[1].Header.Kind)
	assert.Equal(t, uint64(2), got[1].Header.Seq)

	session, ok := got[2].Payload.(schema.SessionEvent)
	require.True(t, ok)
	assert.Equal(t, "DONE", session.State)
}

func TestWriterRotatesBySize(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.SegmentMaxBytes = 1
	writeAll(t, cfg, sampleEvents())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3, "one line per segment")

	p, err := NewPlayback(PlaybackConfig{Dir: dir})
	require.NoError(t, err)
	var seqs []uint64
	require.NoError(t, p.Run(context.Background(), func(rec Record) error {
		seqs = append(seqs, rec.Header.Seq)
		return nil
	}))
	assert.Equal(t, []uint64{1, 2, 3}, seqs, "segments replay in order")
}

func TestWriterRotatesByDuration(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.SegmentMaxDuration = time.Minute
	w, err := NewWriter(cfg)
	require.NoError(t, err)
	now := t0
	w.now = func() time.Time { return now }

	events := sampleEvents()
	require.NoError(t, w.Append(events[0]))
	now = now.Add(30 * time.Second)
	require.NoError(t, w.Append(events[1]))
	now = now.Add(time.Minute)
	require.NoError(t, w.Append(events[2]))
	require.NoError(t, w.Close())

	files, err := filepath.Glob(filepath.Join(dir, "journal-*.jsonl"))
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestPlaybackFiltersKinds(t *testing.T) {
	dir := t.TempDir()
	writeAll(t, DefaultConfig(dir), sampleEvents())

	p, err := NewPlayback(PlaybackConfig{Dir: dir, Kinds: []schema.EventKind{schema.EventTrade}})
	require.NoError(t, err)
	var kinds []schema.EventKind
	require.NoError(t, p.Run(context.Background(), func(rec Record) error {
		kinds = append(kinds, rec.Header.Kind)
		return nil
	}))
	assert.Equal(t, []schema.EventKind{schema.EventTrade}, kinds)
}

func TestPlaybackStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	writeAll(t, DefaultConfig(dir), sampleEvents())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p, err := NewPlayback(PlaybackConfig{Dir: dir})
	require.NoError(t, err)
	require.ErrorIs(t, p.Run(ctx, func(Record) error { return nil }), context.Canceled)
}

func TestReaderRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journal-x-000001.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("\n{not json\n"), 0o644))

	p, err := NewPlayback(PlaybackConfig{Dir: dir})
	require.NoError(t, err)
	require.Error(t, p.Run(context.Background(), func(Record) error { return nil }))
}

func TestConfigValidate(t *testing.T) {
	testCases := []struct {
		desc string
		cfg  Config
		ok   bool
	}{
		{desc: "defaults", cfg: DefaultConfig("x"), ok: true},
		{desc: "empty dir", cfg: Config{}},
		{desc: "negative flush", cfg: Config{Dir: "x", FlushInterval: -1}},
		{desc: "negative duration", cfg: Config{Dir: "x", SegmentMaxDuration: -1}},
	}
	for _, tc := range testCases {
		err := tc.cfg.withDefaults().Validate()
		if tc.ok != (err == nil) {
			t.Fatalf("%s: unexpected result %v", tc.desc, err)
		}
	}

	_, err := NewPlayback(PlaybackConfig{Dir: "x", Speed: -1})
	require.Error(t, err)
}

func TestDecodeUnknownKind(t *testing.T) {
	_, err := Record{Header: schema.EventHeader{Kind: schema.EventUnknown}, Payload: []byte("{}")}.Decode()
	require.ErrorIs(t, err, ErrUnknownKind)
}
