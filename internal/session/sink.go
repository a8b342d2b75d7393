package session

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/runway-monitor/internal/logging"
	"github.com/signalsfoundry/runway-monitor/internal/sim/state"
)

// Sink receives one notification per applied event, in the order events
// were applied. Notify runs on the consumer loop and must not block.
type Sink interface {
	Notify(ctx context.Context, n state.Notification)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, n state.Notification)

// Notify calls f.
func (f SinkFunc) Notify(ctx context.Context, n state.Notification) {
	if f != nil {
		f(ctx, n)
	}
}

// MultiSink fans a notification out to every sink in order.
type MultiSink []Sink

// Notify delivers n to each non-nil sink.
func (m MultiSink) Notify(ctx context.Context, n state.Notification) {
	for _, s := range m {
		if s != nil {
			s.Notify(ctx, n)
		}
	}
}

// LogSink writes a line per transition, the console view of the session.
type LogSink struct {
	Log logging.Logger
}

// Notify logs the transition and, when one closed, the interval.
func (s LogSink) Notify(ctx context.Context, n state.Notification) {
	log := s.Log
	if log == nil {
		log = logging.LoggerFromContext(ctx)
	}
	if log == nil || !n.Changed {
		return
	}
	p := n.Plane
	log.Info(ctx, fmt.Sprintf("plane %d -> %s", p.ID, p.State),
		logging.Int("runway", n.Event.Runway),
		logging.Int("priority", p.Priority),
		logging.Float("progress", p.Progress),
	)
	if iv := n.Interval; iv != nil {
		log.Info(ctx, "runway interval closed",
			logging.Int("plane", iv.PlaneID),
			logging.Int("runway", iv.Runway),
			logging.Float("start", iv.Start),
			logging.Float("end", iv.End),
			logging.Float("duration", iv.Duration()),
		)
	}
}
