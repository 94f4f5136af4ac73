// Package monitor exposes the latest session snapshot to observers.
//
// # Module
//
// The pipeline publishes an immutable core.Snapshot after every tick. Readers load it through
// an atomic pointer and never touch pipeline state. Subscribers get the newest snapshot only;
// slow readers skip intermediate ones.
//
// # Produce
//
//   - GET /healthz, GET /api/v1/snapshot, GET /api/v1/positions, GET /api/v1/trades
//   - GET /metrics (prometheus)
//   - GET /ws (snapshot push)
package monitor

import (
	"sync"
	"sync/atomic"

	"papertrader/internal/core"
)

// Store holds the most recent snapshot.
type Store struct {
	latest atomic.Pointer[core.Snapshot]

	mu   sync.Mutex
	subs map[chan *core.Snapshot]struct{}
}

var _ core.Publisher = (*Store)(nil)

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{subs: make(map[chan *core.Snapshot]struct{})}
}

// Publish replaces the latest snapshot and wakes subscribers without blocking.
func (s *Store) Publish(snap core.Snapshot) {
	p := &snap
	s.latest.Store(p)

	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- p:
			continue
		default:
		}
		// drop the stale one and retry once
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- p:
		default:
		}
	}
}

// Latest returns the last published snapshot.
func (s *Store) Latest() (*core.Snapshot, bool) {
	p := s.latest.Load()
	return p, p != nil
}

// Subscribe returns a channel that always holds at most the newest snapshot, and a cancel func.
func (s *Store) Subscribe() (<-chan *core.Snapshot, func()) {
	ch := make(chan *core.Snapshot, 1)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			s.mu.Unlock()
		})
	}
}

// Subscribers returns the number of live subscriptions.
func (s *Store) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
