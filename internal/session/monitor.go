// Package session runs the event ingestion engine against one backend
// connection.
//
// A Monitor owns exactly two goroutines while Run is active: a reader that
// blocks on the socket and forwards complete frames, and a consumer that
// decodes, applies and dispatches them. The only hand-off between the two
// is a FIFO channel, so frames are applied in arrival order and the store
// has a single writer. Session resets travel through the same channel.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/signalsfoundry/runway-monitor/internal/logging"
	"github.com/signalsfoundry/runway-monitor/internal/observability"
	"github.com/signalsfoundry/runway-monitor/internal/sim/state"
	"github.com/signalsfoundry/runway-monitor/internal/wire"
	"github.com/signalsfoundry/runway-monitor/model"
	"github.com/signalsfoundry/runway-monitor/timectrl"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// DefaultQueueSize bounds the frame hand-off channel.
const DefaultQueueSize = 256

// ErrAlreadyRunning is returned by Run when another Run is active.
var ErrAlreadyRunning = errors.New("session: monitor already running")

// Settings configures a Monitor.
type Settings struct {
	Wire          wire.Settings
	Runways       int
	UnknownPlanes state.UnknownPlanePolicy
	QueueSize     int
}

// Metrics receives monitor-level measurements. observability.MonitorCollector
// implements it.
type Metrics interface {
	ObserveFrame(outcome string)
	ObserveConnectAttempt(ok bool)
	SetConnectionState(s model.ConnectionState)
	IncSessions()
}

// SessionInfo describes the session most recently started.
type SessionInfo struct {
	ID         string    `json:"id"`
	Runways    int       `json:"runways"`
	Planes     int       `json:"planes"`
	Priorities []int     `json:"priorities"`
	StartedAt  time.Time `json:"started_at"`

	// SendError is set when CONFIG could not be delivered after the session
	// had already been installed behind a running stream.
	SendError string `json:"send_error,omitempty"`
}

// Option customises Monitor construction.
type Option func(*Monitor)

// WithLogger attaches a logger.
func WithLogger(l logging.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.log = l
		}
	}
}

// WithSink sets the notification sink.
func WithSink(s Sink) Option {
	return func(m *Monitor) {
		m.sink = s
	}
}

// WithClock replaces the wall clock used for interval timestamps.
func WithClock(c timectrl.SimClock) Option {
	return func(m *Monitor) {
		if c != nil {
			m.clockSource = c
		}
	}
}

// WithMetrics attaches monitor metrics. When the value also implements
// state.MetricsRecorder it is passed to the store.
func WithMetrics(mx Metrics) Option {
	return func(m *Monitor) {
		m.metrics = mx
	}
}

// WithDialFunc replaces the connector's dialer.
func WithDialFunc(fn wire.DialFunc) Option {
	return func(m *Monitor) {
		m.dial = fn
	}
}

// WithTracer overrides the tracer; the default comes from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(m *Monitor) {
		if t != nil {
			m.tracer = t
		}
	}
}

type task struct {
	frame string

	// reset, when set, starts a new session; done is closed once applied.
	reset *SessionInfo
	done  chan struct{}

	// tooLong stands in for a frame the reader discarded for its size.
	tooLong bool

	// last marks the end of the inbound stream.
	last bool
}

// Monitor ties the Connector, FrameReader, decoder and Store together.
type Monitor struct {
	settings    Settings
	log         logging.Logger
	sink        Sink
	metrics     Metrics
	tracer      trace.Tracer
	clockSource timectrl.SimClock
	dial        wire.DialFunc

	conn  *wire.Connector
	store *state.Store
	clock *timectrl.SessionClock

	tasks chan task
	stats counters

	// runMu guards running and stopped. Start holds it shared while
	// handing a reset to the consumer; Run takes it exclusively to begin
	// and to end, so no reset is queued after the final drain.
	runMu   sync.RWMutex
	running bool
	stopped chan struct{}

	mu      sync.RWMutex
	current SessionInfo
	slog    logging.Logger
	sctx    context.Context
}

// NewMonitor builds a disconnected monitor.
func NewMonitor(settings Settings, opts ...Option) *Monitor {
	if settings.QueueSize <= 0 {
		settings.QueueSize = DefaultQueueSize
	}
	m := &Monitor{
		settings:    settings,
		log:         logging.Noop(),
		tracer:      observability.Tracer(),
		clockSource: timectrl.WallClock{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	if m.sink == nil {
		m.sink = LogSink{Log: m.log}
	}

	connOpts := []wire.ConnectorOption{
		wire.WithLogger(m.log),
		wire.WithDialFunc(m.dial),
	}
	if m.metrics != nil {
		connOpts = append(connOpts,
			wire.WithStateObserver(m.metrics.SetConnectionState),
			wire.WithAttemptObserver(m.metrics.ObserveConnectAttempt),
		)
		m.metrics.SetConnectionState(model.Disconnected)
	}
	m.conn = wire.NewConnector(settings.Wire, connOpts...)

	storeOpts := []state.Option{
		state.WithUnknownPlanePolicy(settings.UnknownPlanes),
		state.WithLogger(m.log),
	}
	if rec, ok := m.metrics.(state.MetricsRecorder); ok {
		storeOpts = append(storeOpts, state.WithMetricsRecorder(rec))
	}
	m.store = state.NewStore(storeOpts...)
	m.clock = timectrl.NewSessionClock(m.clockSource)
	m.tasks = make(chan task, settings.QueueSize)
	m.slog = m.log
	m.sctx = context.Background()
	return m
}

// Connect dials the backend with bounded retries.
func (m *Monitor) Connect(ctx context.Context) error {
	ctx, span := m.tracer.Start(ctx, "monitor.connect", trace.WithAttributes(
		attribute.String("backend.addr", m.conn.Settings().Address()),
		attribute.Int("backend.max_attempts", m.conn.Settings().MaxAttempts),
	))
	defer span.End()

	if err := m.conn.Connect(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "connect failed")
		return err
	}
	return nil
}

// Start begins a new session: it sends CONFIG and resets planes, timeline
// and session clock. It fails without touching state when the backend is
// not connected or the priorities are inconsistent.
//
// With no stream running, CONFIG goes out first and state is reset only once
// it was written, so a failed send leaves the previous session intact. While
// Run is active the reset is queued behind frames already received and
// CONFIG follows it; if that send fails the new session stays installed
// with SendError set and the connection is dropped.
func (m *Monitor) Start(ctx context.Context, priorities []int) (SessionInfo, error) {
	ctx, span := m.tracer.Start(ctx, "monitor.start_session", trace.WithAttributes(
		attribute.Int("session.runways", m.settings.Runways),
		attribute.Int("session.planes", len(priorities)),
	))
	defer span.End()

	fail := func(err error) (SessionInfo, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "start failed")
		return SessionInfo{}, err
	}

	if m.conn.State() != model.Connected {
		m.log.Warn(ctx, "backend not connected yet; session not started")
		return fail(&wire.TransmissionError{Err: wire.ErrNotConnected})
	}
	frame, err := wire.BuildConfig(m.settings.Runways, len(priorities), priorities)
	if err != nil {
		return fail(err)
	}

	info := SessionInfo{
		ID:         uuid.NewString(),
		Runways:    m.settings.Runways,
		Planes:     len(priorities),
		Priorities: append([]int(nil), priorities...),
	}
	span.SetAttributes(attribute.String("session.id", info.ID))

	if err := m.install(ctx, &info, frame); err != nil {
		return fail(err)
	}
	if m.metrics != nil {
		m.metrics.IncSessions()
	}

	m.sessionLogger().Info(ctx, "session started",
		logging.Int("runways", info.Runways),
		logging.Int("planes", info.Planes),
		logging.String("config", strings.TrimSpace(string(frame))),
	)
	return info, nil
}

// install makes info the current session and delivers frame to the backend.
// While Run is active the reset is queued behind frames already received
// and Start waits for it, so no frame from the previous session lands in
// the new one.
func (m *Monitor) install(ctx context.Context, info *SessionInfo, frame []byte) error {
	for {
		m.runMu.RLock()
		if !m.running {
			err := m.conn.Send(frame)
			if err == nil {
				m.applyReset(info)
			}
			m.runMu.RUnlock()
			return err
		}

		done := make(chan struct{})
		select {
		case m.tasks <- task{reset: info, done: done}:
			m.runMu.RUnlock()
		case <-m.stopped:
			// Run is ending; retry once it has drained.
			m.runMu.RUnlock()
			continue
		case <-ctx.Done():
			m.runMu.RUnlock()
			return ctx.Err()
		}

		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		if err := m.conn.Send(frame); err != nil {
			m.markSendFailed(info.ID, err)
			return err
		}
		return nil
	}
}

func (m *Monitor) markSendFailed(id string, err error) {
	m.mu.Lock()
	if m.current.ID == id {
		m.current.SendError = err.Error()
	}
	m.mu.Unlock()
	_ = m.conn.Disconnect()
}

func (m *Monitor) isRunning() bool {
	m.runMu.RLock()
	defer m.runMu.RUnlock()
	return m.running
}

func (m *Monitor) applyReset(info *SessionInfo) {
	m.store.Reset(info.Runways, info.Priorities)
	info.StartedAt = m.clock.Reset()

	sctx, slog := logging.WithSessionLogger(context.Background(), m.log, info.ID)
	m.mu.Lock()
	m.current = *info
	m.slog = slog
	m.sctx = sctx
	m.mu.Unlock()
}

func (m *Monitor) sessionLogger() logging.Logger {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.slog
}

// Run drives the reader and consumer until the stream ends, the connection
// fails or ctx is cancelled. Cancelling ctx closes the connector, which
// unblocks a pending read immediately.
//
// Run returns nil at end of stream, ctx.Err() on cancellation and a
// *wire.FrameTransportError when the channel fails. Frames received before
// the failure are applied before Run returns.
func (m *Monitor) Run(ctx context.Context) error {
	if m.conn.State() != model.Connected {
		return fmt.Errorf("session: run: %w", wire.ErrNotConnected)
	}
	m.runMu.Lock()
	if m.running {
		m.runMu.Unlock()
		return ErrAlreadyRunning
	}
	m.running = true
	m.stopped = make(chan struct{})
	m.runMu.Unlock()
	defer m.drainResets()

	ctx, span := m.tracer.Start(ctx, "monitor.run")
	defer span.End()

	stop := context.AfterFunc(ctx, func() { _ = m.conn.Close() })
	defer stop()

	g := new(errgroup.Group)
	g.Go(func() error { return m.readLoop(ctx) })
	g.Go(func() error { return m.consumeLoop(ctx) })
	err := g.Wait()

	stats := m.Stats()
	m.sessionLogger().Info(ctx, "event stream finished",
		logging.Int("frames", int(stats.Frames)),
		logging.Int("events", int(stats.Events)),
		logging.Int("decode_errors", int(stats.DecodeErrors)),
		logging.Int("anomalies", int(stats.Anomalies)),
	)
	if err != nil && !errors.Is(err, context.Canceled) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stream failed")
	}
	return err
}

// drainResets marks the monitor stopped and applies any reset a concurrent
// Start queued after the consumer exited. Stale frames are dropped.
func (m *Monitor) drainResets() {
	close(m.stopped)
	m.runMu.Lock()
	defer m.runMu.Unlock()
	m.running = false
	for {
		select {
		case t := <-m.tasks:
			if t.reset != nil {
				m.applyReset(t.reset)
				close(t.done)
			}
		default:
			return
		}
	}
}

// readLoop is the background flow. It never touches the store.
func (m *Monitor) readLoop(ctx context.Context) error {
	fr := wire.NewFrameReader(m.conn)
	err := func() error {
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			frame, err := fr.Next()
			switch {
			case err == nil:
			case errors.Is(err, wire.ErrIdle):
				continue
			case errors.Is(err, wire.ErrFrameTooLong):
				m.sessionLogger().Warn(ctx, "oversized frame discarded",
					logging.Int("max_bytes", wire.MaxFrameSize))
				select {
				case m.tasks <- task{tooLong: true}:
				case <-ctx.Done():
					return ctx.Err()
				}
				continue
			case errors.Is(err, io.EOF):
				m.sessionLogger().Info(ctx, "backend closed the connection")
				_ = m.conn.Disconnect()
				return nil
			case ctx.Err() != nil:
				return ctx.Err()
			case errors.Is(err, wire.ErrClosed):
				return nil
			default:
				m.sessionLogger().Error(ctx, "backend read failed", logging.Err(err))
				_ = m.conn.Disconnect()
				return err
			}
			select {
			case m.tasks <- task{frame: frame}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}()

	select {
	case m.tasks <- task{last: true}:
	case <-ctx.Done():
	}
	return err
}

// consumeLoop is the single mutator of store state.
func (m *Monitor) consumeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-m.tasks:
			switch {
			case t.last:
				return nil
			case t.reset != nil:
				m.applyReset(t.reset)
				close(t.done)
			case t.tooLong:
				m.stats.incFrames()
				m.stats.incDecodeErrors()
				m.observeFrame(observability.FrameDecodeError)
			default:
				m.handleFrame(ctx, t.frame)
			}
		}
	}
}

func (m *Monitor) handleFrame(ctx context.Context, frame string) {
	m.stats.incFrames()
	log := m.sessionLogger()

	if strings.TrimSpace(frame) == "" {
		m.stats.incBlank()
		m.observeFrame(observability.FrameBlank)
		return
	}

	msg, err := wire.Decode(frame)
	if err != nil {
		m.stats.incDecodeErrors()
		m.observeFrame(observability.FrameDecodeError)
		log.Warn(ctx, "malformed message", logging.String("frame", frame), logging.Err(err))
		return
	}
	if msg.Kind == wire.KindAdministrative {
		m.stats.incAdministrative()
		m.observeFrame(observability.FrameAdmin)
		log.Debug(ctx, "administrative message ignored", logging.String("frame", frame))
		return
	}
	m.observeFrame(observability.FrameEvent)

	n := m.store.Apply(msg.Event, m.clock.Seconds())
	m.stats.addEvent(len(n.Anomalies), n.Interval != nil)
	log.Debug(ctx, "event applied",
		logging.Int("plane", msg.Event.PlaneID),
		logging.String("state", msg.Event.State.String()),
		logging.Int("runway", msg.Event.Runway),
		logging.Float("value", msg.Event.Value),
	)

	span := trace.SpanFromContext(ctx)
	for _, a := range n.Anomalies {
		span.AddEvent("protocol_anomaly", trace.WithAttributes(
			attribute.String("anomaly.kind", string(a.Kind)),
			attribute.Int("plane.id", a.PlaneID),
			attribute.String("anomaly.detail", a.Detail),
		))
	}

	m.mu.RLock()
	sctx := m.sctx
	m.mu.RUnlock()
	m.sink.Notify(logging.ContextWithLogger(trace.ContextWithSpan(sctx, span), log), n)
}

func (m *Monitor) observeFrame(outcome string) {
	if m.metrics != nil {
		m.metrics.ObserveFrame(outcome)
	}
}

// Close releases the connection and unblocks a running reader. It is safe to
// call more than once.
func (m *Monitor) Close() error {
	return m.conn.Close()
}

// Snapshot returns the current store contents.
func (m *Monitor) Snapshot() state.Snapshot { return m.store.Snapshot() }

// Plane returns one plane by id.
func (m *Monitor) Plane(id int) (model.Plane, bool) { return m.store.Get(id) }

// Timeline returns the closed intervals of the current session.
func (m *Monitor) Timeline() []model.Interval { return m.store.Timeline() }

// Stats returns the frame counters.
func (m *Monitor) Stats() Stats { return m.stats.snapshot() }

// ConnectionState reports the connector state.
func (m *Monitor) ConnectionState() model.ConnectionState { return m.conn.State() }

// Session returns the most recently started session.
func (m *Monitor) Session() SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info := m.current
	info.Priorities = append([]int(nil), info.Priorities...)
	return info
}
