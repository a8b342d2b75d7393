package timectrl

import (
	"sync"
	"time"
)

// SimClock is the clock abstraction the monitor depends on, so that tests
// can drive time explicitly instead of sleeping.
type SimClock interface {
	// Now returns the current wall-clock reading.
	Now() time.Time
}

// WallClock reads time.Now.
type WallClock struct{}

// Now implements SimClock.
func (WallClock) Now() time.Time { return time.Now() }

// ManualClock is a SimClock that only moves when told to.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock returns a clock fixed at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now implements SimClock.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// SetTime jumps the clock to t.
func (c *ManualClock) SetTime(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// SessionClock converts wall-clock readings into simulation-relative
// seconds measured from the instant the current session started.
type SessionClock struct {
	mu    sync.RWMutex
	clock SimClock
	start time.Time
}

// NewSessionClock constructs a session clock anchored at clock.Now().
func NewSessionClock(clock SimClock) *SessionClock {
	if clock == nil {
		clock = WallClock{}
	}
	return &SessionClock{clock: clock, start: clock.Now()}
}

// Reset re-anchors the session start to the current reading and returns it.
func (c *SessionClock) Reset() time.Time {
	now := c.clock.Now()
	c.mu.Lock()
	c.start = now
	c.mu.Unlock()
	return now
}

// StartTime returns the wall-clock start of the current session.
func (c *SessionClock) StartTime() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.start
}

// Seconds returns simulation-relative seconds since the session started.
// It never goes negative.
func (c *SessionClock) Seconds() float64 {
	now := c.clock.Now()
	c.mu.RLock()
	start := c.start
	c.mu.RUnlock()
	elapsed := now.Sub(start).Seconds()
	if elapsed < 0 {
		return 0
	}
	return elapsed
}
