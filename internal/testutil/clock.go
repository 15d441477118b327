package testutil

import (
	"sync"
	"time"
)

// FakeClock is a controllable wall clock for tests.
//
// Unlike store.SystemClock, time only moves when the test calls Advance
// or Set, which makes time-dependent behavior (typing liveness, last-seen
// stamps, summary timestamps) fully deterministic.
//
// Thread-safety: all methods are safe for concurrent use via internal
// mutex.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock creates a clock pinned to the given instant.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the clock's current instant without advancing it.
//
// Implements store.Clock.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d. Negative durations move it
// backward; tests use that to construct out-of-window fixtures.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set pins the clock to a specific instant.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
