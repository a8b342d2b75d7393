package status

import (
	"context"
	"sync"
	"time"

	"github.com/signalsfoundry/runway-monitor/internal/logging"
	"github.com/signalsfoundry/runway-monitor/model"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// MonitorService is the health service name reported for the event stream.
const MonitorService = "runway.Monitor"

// DefaultHealthInterval is how often Poll re-reads the connection state.
const DefaultHealthInterval = 500 * time.Millisecond

// HealthServer publishes the monitor's connection state through the gRPC
// health protocol. Both the overall ("") and MonitorService statuses are
// SERVING while the backend connection is up.
type HealthServer struct {
	*health.Server
	source Source
	log    logging.Logger

	mu   sync.Mutex
	last healthpb.HealthCheckResponse_ServingStatus
}

// NewHealthServer returns a health server already synced to source.
func NewHealthServer(source Source, log logging.Logger) *HealthServer {
	if log == nil {
		log = logging.Noop()
	}
	h := &HealthServer{
		Server: health.NewServer(),
		source: source,
		log:    log,
		last:   healthpb.HealthCheckResponse_UNKNOWN,
	}
	h.Sync()
	return h
}

func servingStatus(s model.ConnectionState) healthpb.HealthCheckResponse_ServingStatus {
	if s == model.Connected {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// Sync copies the source's connection state into the health statuses and
// reports the status it set.
func (h *HealthServer) Sync() healthpb.HealthCheckResponse_ServingStatus {
	st := servingStatus(h.source.ConnectionState())
	h.mu.Lock()
	defer h.mu.Unlock()
	if st != h.last {
		h.log.Info(context.Background(), "health status changed",
			logging.String("service", MonitorService),
			logging.String("status", st.String()),
		)
		h.last = st
	}
	h.SetServingStatus("", st)
	h.SetServingStatus(MonitorService, st)
	return st
}

// Poll calls Sync every interval until ctx is done, then marks every
// service NOT_SERVING.
func (h *HealthServer) Poll(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.Shutdown()
			return
		case <-ticker.C:
			h.Sync()
		}
	}
}

// NewGRPCServer returns a gRPC server with OpenTelemetry instrumentation and
// the health service registered. Extra options are applied after the
// defaults, e.g. a metrics interceptor.
func NewGRPCServer(h *HealthServer, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.StatsHandler(otelgrpc.NewServerHandler())}, opts...)
	srv := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(srv, h)
	return srv
}
