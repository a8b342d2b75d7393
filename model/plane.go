package model

import (
	"fmt"
	"strings"
)

// LifecycleState is the position of a plane in its scheduling lifecycle.
type LifecycleState int

const (
	// StateQueued is the initial state assigned at session start.
	StateQueued LifecycleState = iota
	// StateWaiting means the plane is in the backend's priority queue.
	StateWaiting
	// StateRunning means the plane has just acquired a runway.
	StateRunning
	// StateProgress means the plane is partway through its runway occupancy.
	StateProgress
	// StateCompleted is terminal.
	StateCompleted
)

var stateNames = [...]string{
	StateQueued:    "QUEUED",
	StateWaiting:   "WAITING",
	StateRunning:   "RUNNING",
	StateProgress:  "PROGRESS",
	StateCompleted: "COMPLETED",
}

// AllStates lists every lifecycle state in declaration order.
var AllStates = []LifecycleState{StateQueued, StateWaiting, StateRunning, StateProgress, StateCompleted}

func (s LifecycleState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("LifecycleState(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText renders the state as its wire token.
func (s LifecycleState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Occupying reports whether a plane in this state may hold a runway.
func (s LifecycleState) Occupying() bool {
	return s == StateRunning || s == StateProgress
}

// ParseState converts a wire token into a LifecycleState. Matching is
// case-insensitive. Only tokens the backend actually emits are accepted;
// QUEUED is a local state and never arrives on the wire.
func ParseState(token string) (LifecycleState, error) {
	switch strings.ToUpper(strings.TrimSpace(token)) {
	case "WAITING":
		return StateWaiting, nil
	case "RUNNING":
		return StateRunning, nil
	case "PROGRESS":
		return StateProgress, nil
	case "COMPLETED":
		return StateCompleted, nil
	default:
		return 0, fmt.Errorf("unknown state token %q", token)
	}
}

// NoRunway is the resource identifier meaning "not on a runway".
const NoRunway = 0

// Plane is the monitor's view of one scheduled entity.
type Plane struct {
	ID       int
	Priority int
	State    LifecycleState
	Runway   int

	// Progress is queue-wait progress while WAITING and runway-occupancy
	// progress while RUNNING/PROGRESS.
	Progress float64

	// PlannedDuration is the expected occupancy in simulation seconds,
	// set on RUNNING.
	PlannedDuration float64

	// OpenIntervalStart is non-nil while an occupancy interval is open.
	OpenIntervalStart *float64
}

// Elapsed estimates how many seconds of the planned occupancy have passed.
func (p Plane) Elapsed() float64 {
	return p.Progress * p.PlannedDuration
}

// Occupying reports whether the plane currently has an open interval.
func (p Plane) Occupying() bool {
	return p.OpenIntervalStart != nil
}

// Clone returns a deep copy safe to hand to other goroutines.
func (p Plane) Clone() Plane {
	if p.OpenIntervalStart != nil {
		start := *p.OpenIntervalStart
		p.OpenIntervalStart = &start
	}
	return p
}
