package osm

import "sync/atomic"

// Counters tracks the pipeline's lifecycle counts. At quiescence
// Created == Dispatched == Received == Finished.
type Counters struct {
	created    atomic.Int64
	dispatched atomic.Int64
	received   atomic.Int64
	finished   atomic.Int64
}

func (c *Counters) Created() int64    { return c.created.Load() }
func (c *Counters) Dispatched() int64 { return c.dispatched.Load() }
func (c *Counters) Received() int64   { return c.received.Load() }
func (c *Counters) Finished() int64   { return c.finished.Load() }

func (c *Counters) incCreated()    { c.created.Add(1) }
func (c *Counters) incDispatched() { c.dispatched.Add(1) }
func (c *Counters) incReceived()   { c.received.Add(1) }
func (c *Counters) incFinished()   { c.finished.Add(1) }

// Quiescent reports whether all four counters agree.
func (c *Counters) Quiescent() bool {
	created := c.created.Load()
	return created == c.dispatched.Load() &&
		created == c.received.Load() &&
		created == c.finished.Load()
}

// reset zeros every counter. Only safe to call before Start.
func (c *Counters) reset() {
	c.created.Store(0)
	c.dispatched.Store(0)
	c.received.Store(0)
	c.finished.Store(0)
}
