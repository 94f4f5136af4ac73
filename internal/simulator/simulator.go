/*
Simulator replays historical OHLCV bars as a synthetic sub-interval tick stream.

# Module
  - path synthesis: open->close, or through the extremes for wide candles
  - noise, EMA smoothing and clipping inside the candle range
  - pacing: one sleep per sub-interval, scaled by speed
  - cooperative pause / resume / stop, checked between ticks

# Source
 1. candles for one date from a history provider

# Produce
  - ticks to the pipeline handler, interleaved across symbols by sub-interval
*/
package simulator

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"papertrader/internal/schema"
	"papertrader/pkg/exception"
)

// State is the simulator run state.
type State uint32

const (
	StateIdle State = iota
	StateRunning
	StatePaused
	StateStopped
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Clock allows deterministic pacing control.
type Clock interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Progress reports how far a run has advanced.
type Progress struct {
	State       State
	Buckets     int
	BucketsDone int
	TicksSent   int
	Current     time.Time
}

type bucket struct {
	start   time.Time
	candles []schema.Candle
}

// Simulator is the sole tick producer of a session.
type Simulator struct {
	cfg     Config
	clock   Clock
	synth   synthesizer
	buckets []bucket

	mu       sync.Mutex
	state    State
	resume   chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	progress Progress
}

// New validates the config and prepares the candles for replay.
func New(cfg Config, candles []schema.Candle) (*Simulator, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	valid := make([]schema.Candle, 0, len(candles))
	for _, c := range candles {
		if err := validateCandle(c); err != nil {
			logs.Warnf("skip candle %s@%s, err: %+v", c.Symbol, c.Start.Format(time.RFC3339), err)
			continue
		}
		valid = append(valid, c)
	}
	if len(valid) == 0 {
		return nil, exception.ErrNoData
	}

	buckets := groupByStart(valid)
	return &Simulator{
		cfg:     cfg,
		clock:   realClock{},
		synth:   synthesizer{cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))},
		buckets: buckets,
		stop:    make(chan struct{}),
		progress: Progress{
			Buckets: len(buckets),
		},
	}, nil
}

// WithClock swaps the clock implementation.
func (s *Simulator) WithClock(clock Clock) *Simulator {
	if clock != nil {
		s.clock = clock
	}
	return s
}

// Config returns the resolved config.
func (s *Simulator) Config() Config {
	return s.cfg
}

// Symbols returns every symbol present in the replay, sorted.
func (s *Simulator) Symbols() []string {
	seen := make(map[string]struct{})
	for _, b := range s.buckets {
		for _, c := range b.candles {
			seen[c.Symbol] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for sym := range seen {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Run emits ticks to handler until the data ends, Stop is called, or ctx is done.
// Stop ends the run cleanly with a nil error. A handler error aborts the run.
func (s *Simulator) Run(ctx context.Context, handler func(schema.Tick) error) error {
	if handler == nil {
		return errors.Wrap(exception.ErrNilInstance, "simulator handler")
	}

	s.mu.Lock()
	if s.state == StateRunning || s.state == StateDone {
		s.mu.Unlock()
		return errors.New("simulator already ran")
	}
	if s.state == StateIdle {
		s.state = StateRunning
	}
	s.progress.State = s.state
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	pace := s.cfg.PaceInterval()
	for bi, b := range s.buckets {
		perSymbol := make([][]schema.Tick, len(b.candles))
		for i, c := range b.candles {
			perSymbol[i] = s.synth.ticks(c)
		}

		for step := 0; step < s.cfg.TicksPerCandle; step++ {
			for _, ticks := range perSymbol {
				if err := s.checkpoint(ctx); err != nil {
					return s.finish(err)
				}
				tick := ticks[step]
				if err := handler(tick); err != nil {
					s.setState(StateStopped)
					return errors.Wrapf(err, "handle tick %s@%s", tick.Symbol, tick.Timestamp.Format(time.RFC3339))
				}
				s.mu.Lock()
				s.progress.TicksSent++
				s.progress.Current = tick.Timestamp
				s.mu.Unlock()
			}
			if pace > 0 {
				if err := s.clock.Sleep(ctx, pace); err != nil {
					return s.finish(err)
				}
			}
		}

		s.mu.Lock()
		s.progress.BucketsDone = bi + 1
		s.mu.Unlock()
	}

	s.setState(StateDone)
	return nil
}

// Pause holds the run before the next tick.
func (s *Simulator) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateIdle || s.state == StateRunning {
		s.state = StatePaused
		s.progress.State = s.state
		s.resume = make(chan struct{})
	}
}

// Resume releases a paused run.
func (s *Simulator) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePaused {
		return
	}
	s.state = StateRunning
	s.progress.State = s.state
	close(s.resume)
}

// Stop ends the run after the current tick.
func (s *Simulator) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}

// State returns the current run state.
func (s *Simulator) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Progress returns a copy of the run progress.
func (s *Simulator) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

func (s *Simulator) checkpoint(ctx context.Context) error {
	for {
		select {
		case <-s.stop:
			return exception.ErrStopped
		default:
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		s.mu.Lock()
		state, resume := s.state, s.resume
		s.mu.Unlock()
		if state != StatePaused {
			return nil
		}

		select {
		case <-ctx.Done():
		case <-s.stop:
		case <-resume:
		}
	}
}

func (s *Simulator) finish(err error) error {
	select {
	case <-s.stop:
		s.setState(StateStopped)
		return nil
	default:
	}
	if errors.Is(err, exception.ErrStopped) {
		s.setState(StateStopped)
		return nil
	}
	s.setState(StateStopped)
	return err
}

func (s *Simulator) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.progress.State = state
	s.mu.Unlock()
}

func validateCandle(c schema.Candle) error {
	if c.Symbol == "" {
		return errors.Wrap(exception.ErrInvalidCandle, "empty symbol")
	}
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return errors.Wrap(exception.ErrInvalidCandle, "non-positive price")
	}
	if c.High < c.Low || c.Open > c.High || c.Open < c.Low || c.Close > c.High || c.Close < c.Low {
		return errors.Wrap(exception.ErrInvalidCandle, "price outside range")
	}
	if c.Volume < 0 {
		return errors.Wrap(exception.ErrInvalidCandle, "negative volume")
	}
	return nil
}

func groupByStart(candles []schema.Candle) []bucket {
	sorted := append([]schema.Candle(nil), candles...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Start.Equal(sorted[j].Start) {
			return sorted[i].Start.Before(sorted[j].Start)
		}
		return sorted[i].Symbol < sorted[j].Symbol
	})

	var out []bucket
	for _, c := range sorted {
		if n := len(out); n > 0 && out[n-1].start.Equal(c.Start) {
			out[n-1].candles = append(out[n-1].candles, c)
			continue
		}
		out = append(out, bucket{start: c.Start, candles: []schema.Candle{c}})
	}
	return out
}
