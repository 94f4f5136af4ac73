package bus

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"papertrader/internal/schema"
)

var (
	ErrQueueFull   = errors.New("event queue full")
	ErrQueueClosed = errors.New("event queue closed")
)

// Queue is a bounded, non-blocking event queue between the pipeline and the sinks.
type Queue struct {
	ch     chan schema.Event
	closed uint32
	seq    uint64
}

// NewQueue allocates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan schema.Event, capacity)}
}

// Publish wraps payload in an envelope with the next sequence number and enqueues it.
func (q *Queue) Publish(kind schema.EventKind, symbol string, ts time.Time, payload any) error {
	seq := atomic.AddUint64(&q.seq, 1)
	return q.TryPublish(schema.Event{
		Header:  schema.NewHeader(kind, seq, symbol, ts),
		Payload: payload,
	})
}

// TryPublish enqueues an event without blocking.
func (q *Queue) TryPublish(e schema.Event) error {
	if atomic.LoadUint32(&q.closed) != 0 {
		return ErrQueueClosed
	}
	select {
	case q.ch <- e:
		return nil
	default:
		return ErrQueueFull
	}
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}

// Close stops the queue from accepting new events. Queued events are still delivered by Run.
func (q *Queue) Close() {
	if atomic.CompareAndSwapUint32(&q.closed, 0, 1) {
		close(q.ch)
	}
}

// Run consumes events until the context is done or the queue is closed and drained.
func (q *Queue) Run(ctx context.Context, handler func(schema.Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-q.ch:
			if !ok {
				return
			}
			handler(e)
		}
	}
}
