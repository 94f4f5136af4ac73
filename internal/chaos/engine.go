// Package chaos perturbs recorded event streams to exercise journal consumers
// against lost, duplicated, reordered and late events.
package chaos

import (
	"fmt"
	"math/rand"
	"time"

	"papertrader/internal/schema"
)

// Config controls chaos injection behavior.
type Config struct {
	Seed          int64
	DropRate      float64
	DuplicateRate float64
	ReorderWindow int
	MaxDelay      time.Duration
	// Kinds limits injection to these kinds; others pass through untouched.
	Kinds []schema.EventKind
}

// Engine applies chaos rules to events.
type Engine struct {
	cfg     Config
	rng     *rand.Rand
	kinds   map[schema.EventKind]struct{}
	pending []schema.Event
	stats   Stats
}

// Stats counts what the engine did.
type Stats struct {
	In         int
	Out        int
	Dropped    int
	Duplicated int
	Delayed    int
}

// NewEngine creates a chaos engine with validation.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.ReorderWindow <= 0 {
		cfg.ReorderWindow = 1
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UTC().UnixNano()
	}
	e := &Engine{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}
	if len(cfg.Kinds) > 0 {
		e.kinds = make(map[schema.EventKind]struct{}, len(cfg.Kinds))
		for _, k := range cfg.Kinds {
			e.kinds[k] = struct{}{}
		}
	}
	return e, nil
}

// Validate ensures the config is within supported ranges.
func (c Config) Validate() error {
	if c.DropRate < 0 || c.DropRate > 1 {
		return fmt.Errorf("invalid chaos config: DropRate must be between 0 and 1")
	}
	if c.DuplicateRate < 0 || c.DuplicateRate > 1 {
		return fmt.Errorf("invalid chaos config: DuplicateRate must be between 0 and 1")
	}
	if c.ReorderWindow <= 0 {
		return fmt.Errorf("invalid chaos config: ReorderWindow must be >= 1")
	}
	if c.MaxDelay < 0 {
		return fmt.Errorf("invalid chaos config: MaxDelay must be >= 0")
	}
	return nil
}

// Process applies chaos to a single event and returns any output events.
func (e *Engine) Process(ev schema.Event) []schema.Event {
	if e == nil {
		return []schema.Event{ev}
	}
	e.stats.In++
	if !e.targeted(ev.Header.Kind) {
		return e.emit(ev)
	}
	if e.shouldDrop() {
		e.stats.Dropped++
		return nil
	}
	ev = e.applyDelay(ev)
	if e.cfg.ReorderWindow <= 1 {
		return e.emit(e.applyDuplicate(ev)...)
	}
	e.pending = append(e.pending, ev)
	if len(e.pending) < e.cfg.ReorderWindow {
		return nil
	}
	idx := e.rng.Intn(len(e.pending))
	out := e.pending[idx]
	e.pending = append(e.pending[:idx], e.pending[idx+1:]...)
	return e.emit(e.applyDuplicate(out)...)
}

// Flush returns any buffered events after processing completes.
func (e *Engine) Flush() []schema.Event {
	if e == nil || len(e.pending) == 0 {
		return nil
	}
	var out []schema.Event
	for len(e.pending) > 0 {
		idx := e.rng.Intn(len(e.pending))
		ev := e.pending[idx]
		e.pending = append(e.pending[:idx], e.pending[idx+1:]...)
		out = append(out, e.applyDuplicate(ev)...)
	}
	return e.emit(out...)
}

// Stats returns the counters so far.
func (e *Engine) Stats() Stats {
	return e.stats
}

func (e *Engine) targeted(kind schema.EventKind) bool {
	if e.kinds == nil {
		return true
	}
	_, ok := e.kinds[kind]
	return ok
}

func (e *Engine) emit(events ...schema.Event) []schema.Event {
	e.stats.Out += len(events)
	return events
}

func (e *Engine) shouldDrop() bool {
	return e.cfg.DropRate > 0 && e.rng.Float64() < e.cfg.DropRate
}

func (e *Engine) applyDuplicate(ev schema.Event) []schema.Event {
	out := []schema.Event{ev}
	if e.cfg.DuplicateRate > 0 && e.rng.Float64() < e.cfg.DuplicateRate {
		e.stats.Duplicated++
		out = append(out, ev)
	}
	return out
}

func (e *Engine) applyDelay(ev schema.Event) schema.Event {
	maxDelay := e.cfg.MaxDelay.Nanoseconds()
	if maxDelay <= 0 {
		return ev
	}
	delay := time.Duration(e.rng.Int63n(maxDelay + 1))
	if delay == 0 || ev.Header.Timestamp.IsZero() {
		return ev
	}
	e.stats.Delayed++
	ev.Header.Timestamp = ev.Header.Timestamp.Add(delay)
	return ev
}
