package candle

import "papertrader/internal/schema"

// ring is a fixed-capacity buffer of closed candles, oldest overwritten first.
type ring struct {
	buf   []schema.Candle
	start int
	size  int
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &ring{buf: make([]schema.Candle, capacity)}
}

func (r *ring) push(c schema.Candle) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = c
		r.size++
		return
	}
	r.buf[r.start] = c
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) last(n int) []schema.Candle {
	if n <= 0 || n > r.size {
		n = r.size
	}
	out := make([]schema.Candle, n)
	offset := r.size - n
	for i := 0; i < n; i++ {
		out[i] = r.buf[(r.start+offset+i)%len(r.buf)]
	}
	return out
}

func (r *ring) len() int {
	return r.size
}
