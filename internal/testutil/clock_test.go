package testutil

import (
	"testing"
	"time"
)

func TestDeterministicClock_Advances(t *testing.T) {
	c := NewDeterministicClock()

	first := c.Now()
	second := c.Now()

	if !first.Equal(Epoch) {
		t.Errorf("first reading = %v, want %v", first, Epoch)
	}
	if got, want := second.Sub(first), time.Second; got != want {
		t.Errorf("step = %v, want %v", got, want)
	}
}

func TestDeterministicClock_PeekAndReset(t *testing.T) {
	start := time.Date(2030, 5, 1, 0, 0, 0, 0, time.UTC)
	c := NewDeterministicClockAt(start, time.Minute)

	if got := c.Peek(); !got.Equal(start) {
		t.Errorf("peek = %v, want %v", got, start)
	}
	c.Now()
	c.Reset(start)
	if got := c.Now(); !got.Equal(start) {
		t.Errorf("after reset = %v, want %v", got, start)
	}
}
