// Package sink delivers pipeline events to external collaborators.
//
// # Module
//
// The pipeline publishes into a bounded bus.Queue and never waits on a sink. One dispatcher
// goroutine drains the queue and hands every event to every sink in order. Sink errors are
// returned, counted and logged, then discarded: a failing sink never stops the replay.
//
// # Source
//
//   - bus.Queue fed by core.Engine
//
// # Produce
//
//   - NATS subjects <prefix>.<kind>
//   - postgres rows (trades, position_snapshots, sl_updates)
//   - JSONL journal segments
package sink

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"papertrader/internal/bus"
	"papertrader/internal/obs"
	"papertrader/internal/schema"
)

const defaultWriteTimeout = 2 * time.Second

// Sink receives events. Write must not retain the event after returning.
type Sink interface {
	Name() string
	Write(ctx context.Context, e schema.Event) error
	Close() error
}

// DispatcherConfig controls sink delivery.
type DispatcherConfig struct {
	WriteTimeout time.Duration
}

// Dispatcher drains a queue into sinks.
type Dispatcher struct {
	cfg     DispatcherConfig
	queue   *bus.Queue
	metrics *obs.Metrics
	sinks   []Sink

	mu     sync.Mutex
	failed map[string]uint64
	done   chan struct{}
}

// NewDispatcher binds sinks to queue. metrics may be nil.
func NewDispatcher(cfg DispatcherConfig, queue *bus.Queue, metrics *obs.Metrics, sinks ...Sink) *Dispatcher {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	return &Dispatcher{
		cfg:     cfg,
		queue:   queue,
		metrics: metrics,
		sinks:   sinks,
		failed:  make(map[string]uint64, len(sinks)),
		done:    make(chan struct{}),
	}
}

// Start runs the dispatcher in a new goroutine until the queue is closed and drained or ctx ends.
// Sinks are closed when it returns.
func (d *Dispatcher) Start(ctx context.Context) {
	go func() {
		defer close(d.done)
		d.Run(ctx)
	}()
}

// Wait blocks until a started dispatcher has returned.
func (d *Dispatcher) Wait() {
	<-d.done
}

// Run drains the queue on the calling goroutine.
func (d *Dispatcher) Run(ctx context.Context) {
	d.queue.Run(ctx, func(e schema.Event) {
		d.Deliver(ctx, e)
	})
	for _, s := range d.sinks {
		if err := s.Close(); err != nil {
			logs.Warnf("close sink %s: %+v", s.Name(), err)
		}
	}
	for name, n := range d.Failures() {
		logs.Warnf("sink %s dropped %d events", name, n)
	}
}

// Deliver hands one event to every sink.
func (d *Dispatcher) Deliver(ctx context.Context, e schema.Event) {
	for _, s := range d.sinks {
		wctx, cancel := context.WithTimeout(ctx, d.cfg.WriteTimeout)
		err := s.Write(wctx, e)
		cancel()
		if err != nil {
			d.fail(s.Name(), e, err)
		}
	}
}

// Failures returns the failed write count per sink.
func (d *Dispatcher) Failures() map[string]uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]uint64, len(d.failed))
	for k, v := range d.failed {
		out[k] = v
	}
	return out
}

func (d *Dispatcher) fail(name string, e schema.Event, err error) {
	d.mu.Lock()
	d.failed[name]++
	n := d.failed[name]
	d.mu.Unlock()

	d.metrics.IncSinkError(name)
	if n == 1 {
		logs.Warnf("sink %s failed on %s event %d: %+v", name, e.Header.Kind, e.Header.Seq, err)
		return
	}
	logs.Debugf("sink %s failed on %s event %d: %+v", name, e.Header.Kind, e.Header.Seq, err)
}
