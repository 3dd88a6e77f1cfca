package testutil

import "sync"

// DeterministicClock is a manually driven model.Clock for tests.
//
// Time only moves when the test calls Set or Advance, so every updatedAt,
// timestamp and deletedAt a test produces is known in advance.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu  sync.Mutex
	now int64
}

// NewDeterministicClock creates a clock reading start milliseconds.
func NewDeterministicClock(start int64) *DeterministicClock {
	return &DeterministicClock{now: start}
}

// NowMillis returns the current reading without moving the clock.
func (c *DeterministicClock) NowMillis() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by ms and returns the new reading.
// Negative values are ignored so the clock stays monotonic.
func (c *DeterministicClock) Advance(ms int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ms > 0 {
		c.now += ms
	}
	return c.now
}

// Set jumps the clock to ms.
func (c *DeterministicClock) Set(ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = ms
}
