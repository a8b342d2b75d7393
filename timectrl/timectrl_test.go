package timectrl

import (
	"testing"
	"time"
)

func TestManualClockSetTime(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	clock := NewManualClock(start)

	newNow := start.Add(42 * time.Second)
	clock.SetTime(newNow)

	if got := clock.Now(); !got.Equal(newNow) {
		t.Fatalf("Now() = %v, want %v", got, newNow)
	}
}

func TestSessionClockSecondsSinceReset(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	clock := NewManualClock(start)
	sc := NewSessionClock(clock)

	clock.Advance(3 * time.Second)
	if got := sc.Seconds(); got != 3 {
		t.Fatalf("Seconds() = %v, want 3", got)
	}

	anchor := sc.Reset()
	if !anchor.Equal(start.Add(3 * time.Second)) {
		t.Fatalf("Reset() = %v, want %v", anchor, start.Add(3*time.Second))
	}
	clock.Advance(1500 * time.Millisecond)
	if got := sc.Seconds(); got != 1.5 {
		t.Fatalf("Seconds() after reset = %v, want 1.5", got)
	}
	if !sc.StartTime().Equal(anchor) {
		t.Fatalf("StartTime() = %v, want %v", sc.StartTime(), anchor)
	}
}

func TestSessionClockNeverNegative(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	clock := NewManualClock(start)
	sc := NewSessionClock(clock)

	clock.SetTime(start.Add(-time.Minute))
	if got := sc.Seconds(); got != 0 {
		t.Fatalf("Seconds() = %v, want 0", got)
	}
}
