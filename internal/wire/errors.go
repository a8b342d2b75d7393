package wire

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected indicates the connector has no live channel.
	ErrNotConnected = errors.New("wire: not connected")
	// ErrClosed indicates the connector was closed by the caller.
	ErrClosed = errors.New("wire: connector closed")
	// ErrIdle is returned by FrameReader.Next when a poll timed out before a
	// complete frame arrived. It is transient; callers retry.
	ErrIdle = errors.New("wire: no frame within poll timeout")
	// ErrFrameTooLong is returned by FrameReader.Next in place of a frame
	// longer than MaxFrameSize. It is transient; the stream continues.
	ErrFrameTooLong = errors.New("wire: frame exceeds maximum size")
)

// ConnectionError reports that the initial connect exhausted its retries.
type ConnectionError struct {
	Addr     string
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("wire: connect %s failed after %d attempts: %v", e.Addr, e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TransmissionError reports a failed send.
type TransmissionError struct {
	Err error
}

func (e *TransmissionError) Error() string {
	return fmt.Sprintf("wire: send failed: %v", e.Err)
}

func (e *TransmissionError) Unwrap() error { return e.Err }

// FrameTransportError reports an unexpected channel failure while reading.
type FrameTransportError struct {
	Err error
}

func (e *FrameTransportError) Error() string {
	return fmt.Sprintf("wire: read failed: %v", e.Err)
}

func (e *FrameTransportError) Unwrap() error { return e.Err }

// DecodeError reports a malformed frame. Frame holds the raw input for
// diagnostics.
type DecodeError struct {
	Frame  string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("wire: malformed frame %q: %s: %v", e.Frame, e.Reason, e.Err)
	}
	return fmt.Sprintf("wire: malformed frame %q: %s", e.Frame, e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ConfigurationError reports session parameters that must not be sent.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}
