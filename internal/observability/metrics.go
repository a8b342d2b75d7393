package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/signalsfoundry/runway-monitor/internal/sim/state"
	"github.com/signalsfoundry/runway-monitor/model"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// Frame outcomes used as the "outcome" label of runway_frames_total.
const (
	FrameEvent       = "event"
	FrameAdmin       = "administrative"
	FrameBlank       = "blank"
	FrameDecodeError = "decode_error"
)

// MonitorCollector bundles Prometheus metrics for the event ingestion engine
// and the status surface. It satisfies state.MetricsRecorder.
type MonitorCollector struct {
	gatherer prometheus.Gatherer

	Frames           *prometheus.CounterVec
	Anomalies        *prometheus.CounterVec
	Intervals        *prometheus.CounterVec
	IntervalDuration prometheus.Histogram
	PlanesByState    *prometheus.GaugeVec
	ConnectionState  *prometheus.GaugeVec
	ConnectAttempts  *prometheus.CounterVec
	Sessions         prometheus.Counter

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec
}

// NewMonitorCollector registers metrics against the provided registerer,
// defaulting to the global Prometheus registry when nil.
func NewMonitorCollector(reg prometheus.Registerer) (*MonitorCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	frames, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "runway_frames_total",
		Help: "Frames received from the backend, labeled by decode outcome.",
	}, []string{"outcome"}), "runway_frames_total")
	if err != nil {
		return nil, err
	}

	anomalies, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "runway_protocol_anomalies_total",
		Help: "Events accepted but inconsistent with plane state, labeled by kind.",
	}, []string{"kind"}), "runway_protocol_anomalies_total")
	if err != nil {
		return nil, err
	}

	intervals, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "runway_intervals_total",
		Help: "Closed runway occupancy intervals, labeled by runway.",
	}, []string{"runway"}), "runway_intervals_total")
	if err != nil {
		return nil, err
	}

	duration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "runway_interval_duration_seconds",
		Help:    "Length of closed runway occupancy intervals in simulation seconds.",
		Buckets: []float64{0.5, 1, 2, 3, 5, 8, 13, 21, 34, 60},
	}), "runway_interval_duration_seconds")
	if err != nil {
		return nil, err
	}

	planes, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "runway_planes",
		Help: "Current number of planes in each lifecycle state.",
	}, []string{"state"}), "runway_planes")
	if err != nil {
		return nil, err
	}

	connState, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "runway_connection_state",
		Help: "1 for the backend connection's current state, 0 otherwise.",
	}, []string{"state"}), "runway_connection_state")
	if err != nil {
		return nil, err
	}

	attempts, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "runway_connect_attempts_total",
		Help: "Backend dial attempts, labeled by result.",
	}, []string{"result"}), "runway_connect_attempts_total")
	if err != nil {
		return nil, err
	}

	sessions, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "runway_sessions_started_total",
		Help: "Sessions started by sending CONFIG.",
	}), "runway_sessions_started_total")
	if err != nil {
		return nil, err
	}

	requests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "status_requests_total",
		Help: "Handled status RPCs, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"}), "status_requests_total")
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "status_request_duration_seconds",
		Help:    "Status RPC latency in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"service", "method"}), "status_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &MonitorCollector{
		gatherer:         gatherer,
		Frames:           frames,
		Anomalies:        anomalies,
		Intervals:        intervals,
		IntervalDuration: duration,
		PlanesByState:    planes,
		ConnectionState:  connState,
		ConnectAttempts:  attempts,
		Sessions:         sessions,
		RPCRequests:      requests,
		RPCDurations:     durations,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *MonitorCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *MonitorCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveFrame counts one received frame by outcome.
func (c *MonitorCollector) ObserveFrame(outcome string) {
	if c == nil || c.Frames == nil {
		return
	}
	c.Frames.WithLabelValues(outcome).Inc()
}

// ObserveConnectAttempt counts one dial attempt.
func (c *MonitorCollector) ObserveConnectAttempt(ok bool) {
	if c == nil || c.ConnectAttempts == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	c.ConnectAttempts.WithLabelValues(result).Inc()
}

// SetConnectionState flips the connection state gauge to s.
func (c *MonitorCollector) SetConnectionState(s model.ConnectionState) {
	if c == nil || c.ConnectionState == nil {
		return
	}
	for _, st := range []model.ConnectionState{model.Disconnected, model.Connecting, model.Connected, model.Closed} {
		v := 0.0
		if st == s {
			v = 1
		}
		c.ConnectionState.WithLabelValues(st.String()).Set(v)
	}
}

// IncSessions counts a started session.
func (c *MonitorCollector) IncSessions() {
	if c == nil || c.Sessions == nil {
		return
	}
	c.Sessions.Inc()
}

// SetPlaneCounts satisfies state.MetricsRecorder.
func (c *MonitorCollector) SetPlaneCounts(byState map[model.LifecycleState]int) {
	if c == nil || c.PlanesByState == nil {
		return
	}
	for st, n := range byState {
		c.PlanesByState.WithLabelValues(st.String()).Set(float64(n))
	}
}

// ObserveInterval satisfies state.MetricsRecorder.
func (c *MonitorCollector) ObserveInterval(iv model.Interval) {
	if c == nil {
		return
	}
	if c.Intervals != nil {
		c.Intervals.WithLabelValues(fmt.Sprint(iv.Runway)).Inc()
	}
	if c.IntervalDuration != nil {
		c.IntervalDuration.Observe(iv.Duration())
	}
}

// ObserveAnomaly satisfies state.MetricsRecorder.
func (c *MonitorCollector) ObserveAnomaly(kind state.AnomalyKind) {
	if c == nil || c.Anomalies == nil {
		return
	}
	c.Anomalies.WithLabelValues(string(kind)).Inc()
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *MonitorCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		code := status.Code(err).String()

		if c.RPCRequests != nil {
			c.RPCRequests.WithLabelValues(service, method, code).Inc()
		}
		if c.RPCDurations != nil {
			c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		}

		return resp, err
	}
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components, returning "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

// register adds c to reg, returning the already-registered collector of the
// same type when one exists.
func register[T prometheus.Collector](reg prometheus.Registerer, c T, name string) (T, error) {
	if err := reg.Register(c); err != nil {
		var zero T
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return zero, err
	}
	return c, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	return register(reg, vec, name)
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	return register(reg, vec, name)
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	return register(reg, vec, name)
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	return register(reg, hist, name)
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	return register(reg, counter, name)
}
