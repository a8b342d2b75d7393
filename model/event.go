package model

// Event is one decoded plane transition reported by the backend.
type Event struct {
	PlaneID int
	State   LifecycleState
	Runway  int

	// Value is queue progress for WAITING, planned duration for RUNNING,
	// occupancy progress for PROGRESS and ignored for COMPLETED.
	Value float64

	// Raw is the frame the event was decoded from.
	Raw string
}

// ConnectionState tracks the socket session to the backend.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Closed
)

func (c ConnectionState) String() string {
	switch c {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the connection state by name.
func (c ConnectionState) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}
