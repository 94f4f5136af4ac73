package risk

import (
	"sync"
	"time"

	"papertrader/internal/schema"
)

const defaultDedupWindow = 5 * time.Second

// DedupKey identifies an order for duplicate detection.
type DedupKey struct {
	StrategyID string
	Symbol     string
	Action     schema.Action
	Quantity   int64
}

// KeyOf builds the dedup key of a signal.
func KeyOf(sig schema.Signal) DedupKey {
	return DedupKey{
		StrategyID: sig.StrategyID,
		Symbol:     sig.Symbol,
		Action:     sig.Action,
		Quantity:   sig.Quantity,
	}
}

// Deduplicator rejects identical orders seen within a time window.
// Time is the signal's own timestamp, so the window follows simulated time.
type Deduplicator struct {
	window time.Duration
	mu     sync.Mutex
	seen   map[DedupKey]time.Time
}

// NewDeduplicator creates a deduplicator; a window <= 0 uses the 5s default.
func NewDeduplicator(window time.Duration) *Deduplicator {
	if window <= 0 {
		window = defaultDedupWindow
	}
	return &Deduplicator{window: window, seen: make(map[DedupKey]time.Time)}
}

// Window returns the dedup window.
func (d *Deduplicator) Window() time.Duration {
	return d.window
}

// IsDuplicate reports whether the key was registered within the window before now.
func (d *Deduplicator) IsDuplicate(k DedupKey, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	last, ok := d.seen[k]
	if !ok {
		return false
	}
	if now.Sub(last) < d.window {
		return true
	}
	delete(d.seen, k)
	return false
}

// Register records the key at now.
func (d *Deduplicator) Register(k DedupKey, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[k] = now
	d.pruneLocked(now)
}

// Pending returns the number of keys still inside the window at now.
func (d *Deduplicator) Pending(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pruneLocked(now)
	return len(d.seen)
}

// Reset drops every key.
func (d *Deduplicator) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = make(map[DedupKey]time.Time)
}

func (d *Deduplicator) pruneLocked(now time.Time) {
	for k, at := range d.seen {
		if now.Sub(at) >= d.window {
			delete(d.seen, k)
		}
	}
}
