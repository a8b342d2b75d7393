package wire

import (
	"bytes"
	"errors"
	"io"
)

const defaultReadChunk = 1024

// MaxFrameSize bounds a single frame. Longer input is dropped up to the next
// delimiter and reported as ErrFrameTooLong.
const MaxFrameSize = 64 << 10

// FrameReader splits a byte stream into newline-delimited frames. Partial
// reads are buffered until their delimiter arrives, and a '\r' directly
// before the '\n' is treated as part of the delimiter.
//
// Unlike bufio.Scanner it survives read timeouts: a timed-out read keeps
// whatever was buffered and Next reports ErrIdle.
type FrameReader struct {
	r       io.Reader
	chunk   []byte
	pending []byte
	ready   []string
	err     error

	discarding bool
	tooLong    bool
}

// NewFrameReader wraps r.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r, chunk: make([]byte, defaultReadChunk)}
}

// Next returns the next complete frame. It returns ErrIdle when a read timed
// out without completing a frame, ErrFrameTooLong in place of an oversized
// frame, io.EOF when the stream ended (including a zero-length read), and a
// *FrameTransportError for any other failure. Terminal errors are sticky.
func (f *FrameReader) Next() (string, error) {
	for {
		if len(f.ready) > 0 {
			frame := f.ready[0]
			f.ready = f.ready[1:]
			return frame, nil
		}
		if f.tooLong {
			f.tooLong = false
			return "", ErrFrameTooLong
		}
		if f.err != nil {
			return "", f.err
		}

		n, err := f.r.Read(f.chunk)
		if n > 0 {
			f.split(f.chunk[:n])
		}
		switch {
		case err == nil && n == 0:
			f.err = io.EOF
		case err == nil:
		case isTimeout(err):
			if len(f.ready) == 0 {
				return "", ErrIdle
			}
		case errors.Is(err, io.EOF):
			f.err = io.EOF
		default:
			f.err = &FrameTransportError{Err: err}
		}
	}
}

// Buffered returns the bytes received after the last delimiter.
func (f *FrameReader) Buffered() int {
	return len(f.pending)
}

func (f *FrameReader) split(data []byte) {
	if f.discarding {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			return
		}
		f.discarding = false
		data = data[idx+1:]
	}
	f.pending = append(f.pending, data...)
	consumed := 0
	for {
		idx := bytes.IndexByte(f.pending[consumed:], '\n')
		if idx < 0 {
			break
		}
		line := f.pending[consumed : consumed+idx]
		if n := len(line); n > 0 && line[n-1] == '\r' {
			line = line[:n-1]
		}
		f.ready = append(f.ready, string(line))
		consumed += idx + 1
	}
	if consumed > 0 {
		rest := copy(f.pending, f.pending[consumed:])
		f.pending = f.pending[:rest]
	}
	if len(f.pending) > MaxFrameSize {
		f.pending = f.pending[:0]
		f.discarding = true
		f.tooLong = true
	}
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
