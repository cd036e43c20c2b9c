package osm

import "sync/atomic"

// RoundRobin cycles an index through [0,n) under a single atomic counter —
// no separate mutex, since an add-and-mod is already indivisible.
type RoundRobin struct {
	n       uint64
	current atomic.Uint64
}

// NewRoundRobin builds a RoundRobin over n slots. n must be > 0.
func NewRoundRobin(n int) *RoundRobin {
	return &RoundRobin{n: uint64(n)}
}

// Next returns the next slot index and advances the cursor.
func (r *RoundRobin) Next() int {
	v := r.current.Add(1) - 1
	return int(v % r.n)
}

// Preview returns the slot Next would return, without advancing.
func (r *RoundRobin) Preview() int {
	return int(r.current.Load() % r.n)
}

// Reset rebinds the round-robin to n slots and zeros the cursor.
func (r *RoundRobin) Reset(n int) {
	r.n = uint64(n)
	r.current.Store(0)
}
