package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/signalsfoundry/runway-monitor/internal/logging"
	"go.opentelemetry.io/otel"
)

func TestTracingConfigFromEnv(t *testing.T) {
	t.Setenv("RUNWAY_TRACING_ENABLED", "TRUE")
	t.Setenv("RUNWAY_TRACING_EXPORTER", "OTLP")
	t.Setenv("RUNWAY_TRACING_SERVICE_NAME", "")
	t.Setenv("RUNWAY_TRACING_SAMPLE_RATIO", "0.25")
	t.Setenv("RUNWAY_OTLP_ENDPOINT", "collector:4317")

	cfg := TracingConfigFromEnv()
	if !cfg.Enabled || cfg.Exporter != "otlp" || cfg.ServiceName != "runway-monitor" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.SampleRatio != 0.25 || cfg.Endpoint != "collector:4317" {
		t.Fatalf("cfg = %+v", cfg)
	}

	t.Setenv("RUNWAY_TRACING_SAMPLE_RATIO", "7")
	if got := TracingConfigFromEnv().SampleRatio; got != 1 {
		t.Fatalf("out of range ratio accepted: %v", got)
	}
}

func TestInitTracingStdoutExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracing(context.Background(), TracingConfig{
		Enabled:     true,
		ServiceName: "runway-monitor-test",
		Exporter:    "stdout",
		SampleRatio: 1,
		BackendAddr: "127.0.0.1:54321",
		Runways:     3,
		Output:      &buf,
	}, logging.Noop())
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	t.Cleanup(func() {
		_, _ = InitTracing(context.Background(), TracingConfig{}, nil)
	})

	_, span := Tracer().Start(context.Background(), "monitor.connect")
	span.End()
	ShutdownWithTimeout(context.Background(), shutdown, nil)

	if !strings.Contains(buf.String(), "monitor.connect") {
		t.Fatalf("exported spans missing monitor.connect: %s", buf.String())
	}
	for _, want := range []string{`"runway.backend.addr"`, `"127.0.0.1:54321"`, `"runway.runways"`, `"service.instance.id"`} {
		if !strings.Contains(buf.String(), want) {
			t.Fatalf("span resource missing %s: %s", want, buf.String())
		}
	}
	if strings.Contains(buf.String(), `"runway.planes"`) {
		t.Fatalf("unset plane count exported: %s", buf.String())
	}
}

func TestInitTracingDisabledInstallsNoop(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	_, span := otel.Tracer("x").Start(context.Background(), "noop")
	if span.SpanContext().IsValid() {
		t.Fatalf("noop provider produced a sampled span")
	}
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	if _, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin"}, nil); err == nil {
		t.Fatalf("expected error for unsupported exporter")
	}
}
