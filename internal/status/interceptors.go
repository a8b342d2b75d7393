package status

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/signalsfoundry/runway-monitor/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	grpcstatus "google.golang.org/grpc/status"
)

const requestIDMetadataKey = "x-request-id"

// RequestLoggingInterceptor attaches a logger annotated with request_id and
// method to each RPC's context and logs the outcome at debug level. The
// request id comes from inbound x-request-id metadata when present.
func RequestLoggingInterceptor(base logging.Logger) grpc.UnaryServerInterceptor {
	if base == nil {
		base = logging.Noop()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		reqID := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			reqID = firstHeader(md, requestIDMetadataKey)
		}
		if reqID == "" {
			reqID = uuid.NewString()
		}

		reqLog := base.With(
			logging.String("request_id", reqID),
			logging.String("method", info.FullMethod),
		)
		ctx = logging.ContextWithLogger(ctx, reqLog)

		start := time.Now()
		resp, err := handler(ctx, req)
		reqLog.Debug(ctx, "grpc request",
			logging.String("code", grpcstatus.Code(err).String()),
			logging.Float("duration_ms", float64(time.Since(start).Microseconds())/1000),
		)
		return resp, err
	}
}

func firstHeader(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}
