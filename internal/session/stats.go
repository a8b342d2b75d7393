package session

import "sync"

// Stats counts what the monitor has received in the current process.
// Counters are not reset between sessions.
type Stats struct {
	Frames         uint64 `json:"frames"`
	Events         uint64 `json:"events"`
	Administrative uint64 `json:"administrative"`
	Blank          uint64 `json:"blank"`
	DecodeErrors   uint64 `json:"decode_errors"`
	Anomalies      uint64 `json:"anomalies"`
	Intervals      uint64 `json:"intervals"`
}

// counters is the concurrency-safe backing store for Stats. The consumer
// loop increments it; status readers copy it.
type counters struct {
	mu sync.Mutex
	s  Stats
}

func (c *counters) incFrames() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.Frames++
}

func (c *counters) incBlank() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.Blank++
}

func (c *counters) incAdministrative() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.Administrative++
}

func (c *counters) incDecodeErrors() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.DecodeErrors++
}

// addEvent records one applied event with its anomaly count and whether it
// closed an interval.
func (c *counters) addEvent(anomalies int, closed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.Events++
	c.s.Anomalies += uint64(anomalies)
	if closed {
		c.s.Intervals++
	}
}

func (c *counters) snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s
}
