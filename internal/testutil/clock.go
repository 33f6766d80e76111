// Package testutil provides deterministic test fixtures shared across
// packages: a fixed-step wall clock and flow builders. Everything here
// exists so tests and golden traces reproduce byte for byte.
package testutil

import (
	"sync"
	"time"
)

// DeterministicClock is a wall clock that advances by a fixed step on
// every reading. Wiring it into a store makes created_at timestamps
// reproducible across runs.
//
// All methods are safe for concurrent use.
type DeterministicClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// Epoch is the default starting instant.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// NewDeterministicClock creates a clock starting at Epoch, advancing
// one second per reading.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{now: Epoch, step: time.Second}
}

// NewDeterministicClockAt creates a clock with an explicit start and
// step.
func NewDeterministicClockAt(start time.Time, step time.Duration) *DeterministicClock {
	return &DeterministicClock{now: start, step: step}
}

// Now returns the current instant and advances the clock by one step.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Peek returns the instant the next Now call will produce, without
// advancing.
func (c *DeterministicClock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Reset rewinds the clock to its starting instant.
func (c *DeterministicClock) Reset(start time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = start
}
