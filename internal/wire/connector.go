package wire

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/signalsfoundry/runway-monitor/internal/logging"
	"github.com/signalsfoundry/runway-monitor/model"
)

const (
	// DefaultHost is the loopback address the backend listens on.
	DefaultHost = "127.0.0.1"
	// DefaultPort is the backend's fixed TCP port.
	DefaultPort = 54321
	// DefaultMaxAttempts bounds the initial connect loop.
	DefaultMaxAttempts = 100
	// DefaultRetryInterval is the fixed pause between connect attempts.
	DefaultRetryInterval = 100 * time.Millisecond
	// DefaultAttemptTimeout caps a single dial.
	DefaultAttemptTimeout = time.Second
	// DefaultPollTimeout caps a single blocking read.
	DefaultPollTimeout = time.Second
	// DefaultKeepAlive is the TCP keep-alive period used for liveness.
	DefaultKeepAlive = 15 * time.Second
)

// Settings configures the connector.
type Settings struct {
	Host           string
	Port           int
	MaxAttempts    int
	RetryInterval  time.Duration
	AttemptTimeout time.Duration
	PollTimeout    time.Duration
	KeepAlive      time.Duration
}

// DefaultSettings mirrors the backend's fixed loopback endpoint.
func DefaultSettings() Settings {
	return Settings{
		Host:           DefaultHost,
		Port:           DefaultPort,
		MaxAttempts:    DefaultMaxAttempts,
		RetryInterval:  DefaultRetryInterval,
		AttemptTimeout: DefaultAttemptTimeout,
		PollTimeout:    DefaultPollTimeout,
		KeepAlive:      DefaultKeepAlive,
	}
}

func (s *Settings) normalize() {
	if s.Host == "" {
		s.Host = DefaultHost
	}
	if s.Port <= 0 || s.Port > 65535 {
		s.Port = DefaultPort
	}
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = DefaultMaxAttempts
	}
	if s.RetryInterval <= 0 {
		s.RetryInterval = DefaultRetryInterval
	}
	if s.AttemptTimeout <= 0 {
		s.AttemptTimeout = DefaultAttemptTimeout
	}
	if s.PollTimeout < 0 {
		s.PollTimeout = DefaultPollTimeout
	}
}

// Address returns host:port.
func (s Settings) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// DialFunc opens a network connection.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// ConnectorOption customises Connector construction.
type ConnectorOption func(*Connector)

// WithLogger attaches a logger.
func WithLogger(l logging.Logger) ConnectorOption {
	return func(c *Connector) {
		if l != nil {
			c.log = l
		}
	}
}

// WithDialFunc replaces the TCP dialer, mainly for tests.
func WithDialFunc(fn DialFunc) ConnectorOption {
	return func(c *Connector) {
		if fn != nil {
			c.dial = fn
		}
	}
}

// WithStateObserver is called on every connection state transition.
func WithStateObserver(fn func(model.ConnectionState)) ConnectorOption {
	return func(c *Connector) {
		c.onState = fn
	}
}

// WithAttemptObserver is called after every dial attempt.
func WithAttemptObserver(fn func(ok bool)) ConnectorOption {
	return func(c *Connector) {
		c.onAttempt = fn
	}
}

// Connector owns the full-duplex socket session to the backend. Send may be
// called concurrently with Read; Close is idempotent and unblocks a pending
// Read.
type Connector struct {
	settings  Settings
	log       logging.Logger
	dial      DialFunc
	onState   func(model.ConnectionState)
	onAttempt func(ok bool)

	state atomic.Int32

	mu      sync.Mutex
	conn    net.Conn
	writeMu sync.Mutex

	closeOnce sync.Once
}

// NewConnector constructs a disconnected connector.
func NewConnector(settings Settings, opts ...ConnectorOption) *Connector {
	settings.normalize()
	c := &Connector{
		settings: settings,
		log:      logging.Noop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.dial == nil {
		d := &net.Dialer{Timeout: settings.AttemptTimeout, KeepAlive: settings.KeepAlive}
		c.dial = d.DialContext
	}
	c.state.Store(int32(model.Disconnected))
	return c
}

// Settings returns the normalised settings.
func (c *Connector) Settings() Settings { return c.settings }

// State reports the current connection state.
func (c *Connector) State() model.ConnectionState {
	return model.ConnectionState(c.state.Load())
}

func (c *Connector) setState(s model.ConnectionState) {
	if model.ConnectionState(c.state.Swap(int32(s))) == s {
		return
	}
	if c.onState != nil {
		c.onState(s)
	}
}

// Connect dials the backend at a fixed interval until it answers or the
// attempt ceiling is reached. Each attempt carries its own timeout.
func (c *Connector) Connect(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	switch c.State() {
	case model.Connected:
		return nil
	case model.Closed:
		return ErrClosed
	}

	addr := c.settings.Address()
	c.setState(model.Connecting)

	attempts := 0
	conn, err := backoff.Retry(ctx, func() (net.Conn, error) {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, c.settings.AttemptTimeout)
		defer cancel()
		conn, err := c.dial(attemptCtx, "tcp", addr)
		if c.onAttempt != nil {
			c.onAttempt(err == nil)
		}
		if err != nil {
			c.log.Debug(ctx, "backend connect attempt failed",
				logging.String("addr", addr),
				logging.Int("attempt", attempts),
				logging.Err(err),
			)
			return nil, err
		}
		return conn, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(c.settings.RetryInterval)),
		backoff.WithMaxTries(uint(c.settings.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil {
		if c.State() != model.Closed {
			c.setState(model.Disconnected)
		}
		c.log.Error(ctx, "could not connect to backend",
			logging.String("addr", addr),
			logging.Int("attempts", attempts),
			logging.Err(err),
		)
		return &ConnectionError{Addr: addr, Attempts: attempts, Err: err}
	}

	c.mu.Lock()
	if c.State() == model.Closed {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.mu.Unlock()
	c.setState(model.Connected)

	c.log.Info(ctx, "connected to backend",
		logging.String("addr", addr),
		logging.Int("attempt", attempts),
	)
	return nil
}

func (c *Connector) current() net.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// Read implements io.Reader over the live channel. Every call is bounded by
// the poll timeout; a timed-out read returns an error whose Timeout method
// reports true.
func (c *Connector) Read(p []byte) (int, error) {
	conn := c.current()
	if conn == nil {
		if c.State() == model.Closed {
			return 0, ErrClosed
		}
		return 0, ErrNotConnected
	}
	if c.settings.PollTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(c.settings.PollTimeout)); err != nil && c.State() != model.Closed {
			return 0, err
		}
	}
	n, err := conn.Read(p)
	if err != nil && c.State() == model.Closed {
		return n, ErrClosed
	}
	return n, err
}

// Send writes b in full. It fails with a TransmissionError when the channel
// is not connected.
func (c *Connector) Send(b []byte) error {
	conn := c.current()
	if conn == nil || c.State() != model.Connected {
		return &TransmissionError{Err: ErrNotConnected}
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.settings.AttemptTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(c.settings.AttemptTimeout))
	}
	for len(b) > 0 {
		n, err := conn.Write(b)
		if err != nil {
			if c.State() == model.Closed {
				err = ErrClosed
			} else {
				c.drop(conn)
			}
			return &TransmissionError{Err: err}
		}
		b = b[n:]
	}
	return nil
}

// Disconnect drops the live channel after the peer closed it or the
// transport failed. Unlike Close it leaves the connector usable: state goes
// back to DISCONNECTED and Connect may dial again. It is a no-op once closed.
func (c *Connector) Disconnect() error {
	conn := c.current()
	if conn == nil {
		return nil
	}
	return c.drop(conn)
}

// drop releases conn if it is still the live channel.
func (c *Connector) drop(conn net.Conn) error {
	c.mu.Lock()
	if c.conn != conn || c.State() == model.Closed {
		c.mu.Unlock()
		return nil
	}
	c.conn = nil
	c.setState(model.Disconnected)
	c.mu.Unlock()

	c.log.Info(context.Background(), "backend connection dropped",
		logging.String("addr", c.settings.Address()))
	err := conn.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

// Close releases the channel. It is safe to call more than once and from
// any goroutine.
func (c *Connector) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		c.setState(model.Closed)
		c.mu.Unlock()
		if conn != nil {
			err = conn.Close()
			if errors.Is(err, net.ErrClosed) {
				err = nil
			}
		}
	})
	return err
}
