package engine

import "sync/atomic"

// Clock is the monotonic logical clock stamping receipt sequence numbers.
//
// Every local and commit receipt carries a strictly increasing seq from
// this clock. This ensures:
// - Deterministic ordering (no wall-clock race conditions)
// - Replay produces identical order
// - The append-only receipt log has a total order
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
// The engine's single-writer design means only one goroutine typically
// calls Next().
type Clock struct {
	seq atomic.Uint64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a new clock starting at a specific sequence number.
// Used when resuming against an existing receipt log.
func NewClockAt(start uint64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
// Calls are linearizable - each call returns a unique, increasing value.
func (c *Clock) Next() uint64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() uint64 {
	return c.seq.Load()
}
