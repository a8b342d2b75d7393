package wire

import (
	"math"
	"strconv"
	"strings"

	"github.com/signalsfoundry/runway-monitor/model"
)

// MessageKind classifies a decoded frame.
type MessageKind int

const (
	// KindEvent is a plane transition.
	KindEvent MessageKind = iota
	// KindAdministrative is a CONFIG echo or EXIT signal; it carries no
	// plane state.
	KindAdministrative
)

const (
	tokenConfig = "CONFIG"
	tokenExit   = "EXIT"

	minEventFields = 4
)

// Message is the result of decoding one frame.
type Message struct {
	Kind  MessageKind
	Event model.Event

	// Admin holds the leading token for administrative messages.
	Admin string
}

// Decode parses one frame. Administrative frames are classified before any
// field validation. Event frames need at least four fields:
//
//	<plane_id>,<STATE>,<runway>,<value>[,...]
//
// Extra fields are ignored. Any failure yields a *DecodeError carrying the
// raw frame.
func Decode(frame string) (Message, error) {
	fields := strings.Split(frame, ",")
	head := strings.TrimSpace(fields[0])
	if head == tokenConfig || head == tokenExit {
		return Message{Kind: KindAdministrative, Admin: head}, nil
	}

	if len(fields) < minEventFields {
		return Message{}, &DecodeError{
			Frame:  frame,
			Reason: "expected at least " + strconv.Itoa(minEventFields) + " fields, got " + strconv.Itoa(len(fields)),
		}
	}

	planeID, err := strconv.Atoi(head)
	if err != nil {
		return Message{}, &DecodeError{Frame: frame, Reason: "plane id", Err: err}
	}
	state, err := model.ParseState(fields[1])
	if err != nil {
		return Message{}, &DecodeError{Frame: frame, Reason: "state token", Err: err}
	}
	runway, err := strconv.Atoi(strings.TrimSpace(fields[2]))
	if err != nil {
		return Message{}, &DecodeError{Frame: frame, Reason: "runway id", Err: err}
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(fields[3]), 64)
	if err != nil {
		return Message{}, &DecodeError{Frame: frame, Reason: "data value", Err: err}
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return Message{}, &DecodeError{Frame: frame, Reason: "data value is not finite"}
	}

	return Message{
		Kind: KindEvent,
		Event: model.Event{
			PlaneID: planeID,
			State:   state,
			Runway:  runway,
			Value:   value,
			Raw:     frame,
		},
	}, nil
}
