package testutil

import (
	"sync"
	"time"
)

// DeterministicClock is a manually advanced wall clock for tests.
//
// Session-log banner timestamps come from the clock; ids come from the
// manager's IDGenerator. A test that fixes both gets byte-identical logs.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu  sync.Mutex
	now time.Time
}

// Epoch is the default start time of a DeterministicClock.
var Epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// NewDeterministicClock creates a clock frozen at Epoch.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{now: Epoch}
}

// Now returns the current frozen time.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new time.
//
// Monotonic: negative durations are ignored, the clock never moves back.
func (c *DeterministicClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.now = c.now.Add(d)
	}
	return c.now
}

// Reset moves the clock back to Epoch.
//
// Used for test reuse.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = Epoch
}
