// Package wiretest provides a scripted stand-in for the scheduler backend.
//
// Backend listens on a loopback port, accepts a single client, records every
// byte the client sends and lets tests push raw frames back, including
// frames split across several writes.
package wiretest

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// Backend is a test-only TCP peer that behaves like the scheduler process.
type Backend struct {
	ln net.Listener

	mu       sync.Mutex
	conn     net.Conn
	received bytes.Buffer
	closed   bool

	accepted chan struct{}
	done     chan struct{}
}

// NewBackend starts listening on 127.0.0.1 with an ephemeral port. The
// listener and any accepted client are closed when the test finishes.
func NewBackend(t testing.TB) *Backend {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("wiretest: listen: %v", err)
	}
	b := &Backend{
		ln:       ln,
		accepted: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go b.acceptLoop()
	t.Cleanup(b.Close)
	return b
}

// Addr returns the listening address.
func (b *Backend) Addr() *net.TCPAddr {
	return b.ln.Addr().(*net.TCPAddr)
}

// Host returns the listening host.
func (b *Backend) Host() string { return b.Addr().IP.String() }

// Port returns the listening port.
func (b *Backend) Port() int { return b.Addr().Port }

func (b *Backend) acceptLoop() {
	conn, err := b.ln.Accept()
	if err != nil {
		return
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = conn.Close()
		return
	}
	b.conn = conn
	b.mu.Unlock()
	close(b.accepted)

	buf := make([]byte, 512)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			b.mu.Lock()
			b.received.Write(buf[:n])
			b.mu.Unlock()
		}
		if err != nil {
			close(b.done)
			return
		}
	}
}

// WaitAccepted blocks until a client connects.
func (b *Backend) WaitAccepted(timeout time.Duration) error {
	select {
	case <-b.accepted:
		return nil
	case <-time.After(timeout):
		return errors.New("wiretest: no client connected")
	}
}

// WaitClientGone blocks until the client side of the socket is closed.
func (b *Backend) WaitClientGone(timeout time.Duration) error {
	select {
	case <-b.done:
		return nil
	case <-time.After(timeout):
		return errors.New("wiretest: client still connected")
	}
}

// Received returns everything the client has sent so far.
func (b *Backend) Received() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.received.String()
}

// WaitReceived polls until the client has sent data containing substr.
func (b *Backend) WaitReceived(substr string, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		got := b.Received()
		if strings.Contains(got, substr) {
			return got, nil
		}
		if time.Now().After(deadline) {
			return got, fmt.Errorf("wiretest: %q not received, have %q", substr, got)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Write sends raw bytes to the client.
func (b *Backend) Write(raw string) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return errors.New("wiretest: no client connected")
	}
	_, err := conn.Write([]byte(raw))
	return err
}

// Send writes each line followed by '\n', the way the backend does.
func (b *Backend) Send(lines ...string) error {
	for _, line := range lines {
		if err := b.Write(line + "\n"); err != nil {
			return err
		}
	}
	return nil
}

// CloseClient drops the accepted connection, ending the client's stream.
func (b *Backend) CloseClient() {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Close stops the listener and drops the client.
func (b *Backend) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	conn := b.conn
	b.mu.Unlock()
	_ = b.ln.Close()
	if conn != nil {
		_ = conn.Close()
	}
}
