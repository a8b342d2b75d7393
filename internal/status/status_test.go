package status

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/runway-monitor/internal/logging"
	"github.com/signalsfoundry/runway-monitor/internal/session"
	"github.com/signalsfoundry/runway-monitor/internal/sim/state"
	"github.com/signalsfoundry/runway-monitor/model"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"
)

type fakeSource struct {
	mu    sync.Mutex
	store *state.Store
	conn  model.ConnectionState
	info  session.SessionInfo
	stats session.Stats
}

func newFakeSource() *fakeSource {
	store := state.NewStore()
	store.Reset(3, []int{2, 1})
	store.Apply(model.Event{PlaneID: 1, State: model.StateRunning, Runway: 1, Value: 5}, 0)
	store.Apply(model.Event{PlaneID: 1, State: model.StateCompleted, Runway: 1}, 5)
	store.Apply(model.Event{PlaneID: 2, State: model.StateRunning, Runway: 2, Value: 4}, 6)
	store.Apply(model.Event{PlaneID: 2, State: model.StateProgress, Runway: 2, Value: 0.25}, 7)
	return &fakeSource{
		store: store,
		conn:  model.Connected,
		info:  session.SessionInfo{ID: "sess-1", Runways: 3, Planes: 2, Priorities: []int{2, 1}},
		stats: session.Stats{Frames: 4, Events: 4, Intervals: 1},
	}
}

func (f *fakeSource) Snapshot() state.Snapshot         { return f.store.Snapshot() }
func (f *fakeSource) Plane(id int) (model.Plane, bool) { return f.store.Get(id) }
func (f *fakeSource) Stats() session.Stats             { return f.stats }
func (f *fakeSource) Session() session.SessionInfo     { return f.info }

func (f *fakeSource) ConnectionState() model.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conn
}

func (f *fakeSource) setConn(s model.ConnectionState) {
	f.mu.Lock()
	f.conn = s
	f.mu.Unlock()
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestHealthz(t *testing.T) {
	src := newFakeSource()
	h := NewHTTPHandler(src, nil)

	rr := get(t, h, "/healthz")
	if rr.Code != http.StatusOK {
		t.Fatalf("/healthz status = %d", rr.Code)
	}
	var body struct {
		Status     string              `json:"status"`
		Connection string              `json:"connection"`
		Session    session.SessionInfo `json:"session"`
		Stats      session.Stats       `json:"stats"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Connection != "CONNECTED" || body.Session.ID != "sess-1" || body.Stats.Frames != 4 {
		t.Fatalf("body = %+v", body)
	}

	src.setConn(model.Disconnected)
	if rr := get(t, h, "/healthz"); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("/healthz while disconnected = %d", rr.Code)
	}
}

func TestPlanesEndpoints(t *testing.T) {
	h := NewHTTPHandler(newFakeSource(), nil)

	rr := get(t, h, "/planes")
	if rr.Code != http.StatusOK {
		t.Fatalf("/planes status = %d", rr.Code)
	}
	var planes []map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&planes); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(planes) != 2 || planes[0]["state"] != "COMPLETED" || planes[1]["state"] != "PROGRESS" {
		t.Fatalf("planes = %v", planes)
	}
	if planes[1]["elapsed"] != 1.0 || planes[1]["open_interval_start"] != 6.0 {
		t.Fatalf("plane 2 = %v", planes[1])
	}
	if _, ok := planes[0]["open_interval_start"]; ok {
		t.Fatalf("completed plane reports an open interval")
	}

	rr = get(t, h, "/planes/2")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"priority":1`) {
		t.Fatalf("/planes/2 = %d %s", rr.Code, rr.Body.String())
	}
	if rr := get(t, h, "/planes/9"); rr.Code != http.StatusNotFound {
		t.Fatalf("/planes/9 status = %d", rr.Code)
	}
	if rr := get(t, h, "/planes/abc"); rr.Code != http.StatusNotFound {
		t.Fatalf("/planes/abc status = %d, want route miss", rr.Code)
	}
}

func TestTimelineAndRunways(t *testing.T) {
	h := NewHTTPHandler(newFakeSource(), nil)

	var timeline []struct {
		Runway   int     `json:"runway"`
		Plane    int     `json:"plane"`
		Start    float64 `json:"start"`
		End      float64 `json:"end"`
		Duration float64 `json:"duration"`
	}
	if err := json.NewDecoder(get(t, h, "/timeline").Body).Decode(&timeline); err != nil {
		t.Fatalf("decode timeline: %v", err)
	}
	if len(timeline) != 1 || timeline[0].Runway != 1 || timeline[0].Plane != 1 || timeline[0].Duration != 5 {
		t.Fatalf("timeline = %+v", timeline)
	}

	var runways []runwayView
	if err := json.NewDecoder(get(t, h, "/runways").Body).Decode(&runways); err != nil {
		t.Fatalf("decode runways: %v", err)
	}
	want := []runwayView{{Runway: 1}, {Runway: 2, Plane: 2}, {Runway: 3}}
	if len(runways) != len(want) {
		t.Fatalf("runways = %+v", runways)
	}
	for i := range want {
		if runways[i] != want[i] {
			t.Fatalf("runways = %+v, want %+v", runways, want)
		}
	}
}

func TestMetricsMount(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("runway_frames_total 1\n"))
	})
	h := NewHTTPHandler(newFakeSource(), metrics)
	if rr := get(t, h, "/metrics"); rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "runway_frames_total") {
		t.Fatalf("/metrics = %d %s", rr.Code, rr.Body.String())
	}
	if rr := get(t, NewHTTPHandler(newFakeSource(), nil), "/metrics"); rr.Code != http.StatusNotFound {
		t.Fatalf("/metrics without handler = %d", rr.Code)
	}
}

func TestHealthServerTracksConnection(t *testing.T) {
	src := newFakeSource()
	hs := NewHealthServer(src, nil)

	lis := bufconn.Listen(1 << 20)
	srv := NewGRPCServer(hs)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	client := healthpb.NewHealthClient(conn)

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		t.Helper()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		if err != nil {
			t.Fatalf("Check(%q): %v", service, err)
		}
		return resp.GetStatus()
	}

	if got := check(MonitorService); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("status = %v, want SERVING", got)
	}

	src.setConn(model.Closed)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hs.Poll(ctx, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for check("") != healthpb.HealthCheckResponse_NOT_SERVING {
		if time.Now().After(deadline) {
			t.Fatalf("health did not flip to NOT_SERVING")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
}

func TestRequestLoggingInterceptor(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New(logging.Config{Level: "debug", Format: "json", Output: &buf})
	interceptor := RequestLoggingInterceptor(log)

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(requestIDMetadataKey, "req-42"))
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
	var sawLogger bool
	_, err := interceptor(ctx, nil, info, func(ctx context.Context, req any) (any, error) {
		sawLogger = logging.LoggerFromContext(ctx) != nil
		return nil, nil
	})
	if err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if !sawLogger {
		t.Fatalf("handler context carries no logger")
	}
	out := buf.String()
	for _, want := range []string{`"request_id":"req-42"`, `"method":"/grpc.health.v1.Health/Check"`, `"code":"OK"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output missing %s:\n%s", want, out)
		}
	}
}
