package testutil

import (
	"sync"
	"time"
)

// BaseTime is the first instant returned by a new Clock.
var BaseTime = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// Clock is a deterministic wall clock for tests. Each call to Now returns
// the current instant and then advances by a fixed step, so successive
// writes get distinct, predictable timestamps.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Clock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewClock creates a clock starting at BaseTime and stepping one second.
func NewClock() *Clock {
	return &Clock{now: BaseTime, step: time.Second}
}

// NewClockAt creates a clock starting at start and stepping by step.
func NewClockAt(start time.Time, step time.Duration) *Clock {
	return &Clock{now: start, step: step}
}

// Now returns the current instant and advances the clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Peek returns the instant the next Now call will return.
func (c *Clock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Reset rewinds the clock to BaseTime.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = BaseTime
}
