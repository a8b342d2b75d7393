package state

import (
	"fmt"
	"strings"
)

// AnomalyKind classifies a protocol anomaly. Values are stable and used as
// metric labels.
type AnomalyKind string

const (
	AnomalyUnknownPlane            AnomalyKind = "unknown_plane"
	AnomalyOpenIntervalOverwritten AnomalyKind = "open_interval_overwritten"
	AnomalyWaitingWithOpenInterval AnomalyKind = "waiting_with_open_interval"
	AnomalyEventAfterCompletion    AnomalyKind = "event_after_completion"
	AnomalyResourceOutOfRange      AnomalyKind = "resource_out_of_range"
	AnomalyResourceConflict        AnomalyKind = "resource_conflict"
	AnomalyResourceMismatch        AnomalyKind = "resource_mismatch"
)

// AllAnomalyKinds lists every kind, in the order they are documented.
var AllAnomalyKinds = []AnomalyKind{
	AnomalyUnknownPlane,
	AnomalyOpenIntervalOverwritten,
	AnomalyWaitingWithOpenInterval,
	AnomalyEventAfterCompletion,
	AnomalyResourceOutOfRange,
	AnomalyResourceConflict,
	AnomalyResourceMismatch,
}

// Anomaly is an event the store accepted but could not reconcile with the
// plane's current state. It is reported, never fatal.
type Anomaly struct {
	Kind    AnomalyKind
	PlaneID int
	Detail  string
}

func (a Anomaly) Error() string {
	if a.Detail == "" {
		return fmt.Sprintf("protocol anomaly %s: plane %d", a.Kind, a.PlaneID)
	}
	return fmt.Sprintf("protocol anomaly %s: plane %d: %s", a.Kind, a.PlaneID, a.Detail)
}

// UnknownPlanePolicy decides what happens to events for planes outside the
// configured 1..N range.
type UnknownPlanePolicy int

const (
	// PolicyTolerant registers the plane lazily as QUEUED and applies nothing else.
	PolicyTolerant UnknownPlanePolicy = iota
	// PolicyStrict rejects the event.
	PolicyStrict
)

func (p UnknownPlanePolicy) String() string {
	switch p {
	case PolicyTolerant:
		return "tolerant"
	case PolicyStrict:
		return "strict"
	default:
		return fmt.Sprintf("UnknownPlanePolicy(%d)", int(p))
	}
}

// ParseUnknownPlanePolicy accepts "tolerant" or "strict"; an empty string
// selects tolerant.
func ParseUnknownPlanePolicy(s string) (UnknownPlanePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "tolerant":
		return PolicyTolerant, nil
	case "strict":
		return PolicyStrict, nil
	default:
		return PolicyTolerant, fmt.Errorf("unknown plane policy %q", s)
	}
}
