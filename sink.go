package prerollvalve

import "sync"

// Sink receives units emitted by the valve.
//
// Emit is called with the valve lock held: it must not call back into the
// valve. A returned error aborts the current flush.
type Sink interface {
	Emit(u Unit) error
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(u Unit) error

// Emit calls f(u)
func (f SinkFunc) Emit(u Unit) error {
	return f(u)
}

// Collector is an in-memory Sink that records every emitted unit.
// Thread-safe.
type Collector struct {
	mu    sync.Mutex
	units []Unit
}

// Emit appends u
func (c *Collector) Emit(u Unit) error {
	c.mu.Lock()
	c.units = append(c.units, u)
	c.mu.Unlock()
	return nil
}

// Units returns a copy of the collected units
func (c *Collector) Units() []Unit {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Unit, len(c.units))
	copy(out, c.units)
	return out
}

// TimestampsMS returns the collected timestamps in milliseconds, in order
func (c *Collector) TimestampsMS() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int64, len(c.units))
	for i, u := range c.units {
		out[i] = u.Timestamp.Milliseconds()
	}
	return out
}

// Reset discards everything collected so far
func (c *Collector) Reset() {
	c.mu.Lock()
	c.units = nil
	c.mu.Unlock()
}
