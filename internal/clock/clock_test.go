package clock

import (
	"testing"
	"time"
)

func TestReplayClockAdvancesForwardOnly(t *testing.T) {
	start := time.Date(2026, 1, 2, 9, 15, 0, 0, time.UTC)
	c := NewReplayClock(start)

	if got := c.Now(); !got.Equal(start) {
		t.Fatalf("Now() = %v, want %v", got, start)
	}

	later := start.Add(1 * time.Minute)
	c.AdvanceTo(later)
	if got := c.Now(); !got.Equal(later) {
		t.Fatalf("Now() after advance = %v, want %v", got, later)
	}

	// Advancing to an earlier instant is a no-op.
	c.AdvanceTo(start)
	if got := c.Now(); !got.Equal(later) {
		t.Fatalf("Now() after backward advance = %v, want unchanged %v", got, later)
	}
}

func TestRealClockTracksWallTime(t *testing.T) {
	rc := NewRealClock()
	before := time.Now()
	got := rc.Now()
	after := time.Now()

	if got.Before(before) || got.After(after) {
		t.Fatalf("RealClock.Now() = %v, want between %v and %v", got, before, after)
	}
}
