// Package status exposes a read-only view of the monitor over HTTP and the
// standard gRPC health protocol.
package status

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/signalsfoundry/runway-monitor/internal/session"
	"github.com/signalsfoundry/runway-monitor/internal/sim/state"
	"github.com/signalsfoundry/runway-monitor/model"
)

// Source is the read side of a session.Monitor.
type Source interface {
	Snapshot() state.Snapshot
	Plane(id int) (model.Plane, bool)
	Stats() session.Stats
	ConnectionState() model.ConnectionState
	Session() session.SessionInfo
}

type planeView struct {
	ID                int                  `json:"id"`
	Priority          int                  `json:"priority"`
	State             model.LifecycleState `json:"state"`
	Runway            int                  `json:"runway"`
	Progress          float64              `json:"progress"`
	PlannedDuration   float64              `json:"planned_duration"`
	Elapsed           float64              `json:"elapsed"`
	OpenIntervalStart *float64             `json:"open_interval_start,omitempty"`
}

func newPlaneView(p model.Plane) planeView {
	return planeView{
		ID:                p.ID,
		Priority:          p.Priority,
		State:             p.State,
		Runway:            p.Runway,
		Progress:          p.Progress,
		PlannedDuration:   p.PlannedDuration,
		Elapsed:           p.Elapsed(),
		OpenIntervalStart: p.OpenIntervalStart,
	}
}

type intervalView struct {
	model.Interval
	Duration float64 `json:"duration"`
}

type runwayView struct {
	Runway int `json:"runway"`
	Plane  int `json:"plane,omitempty"`
}

type healthView struct {
	Status     string                `json:"status"`
	Connection model.ConnectionState `json:"connection"`
	Session    session.SessionInfo   `json:"session"`
	Stats      session.Stats         `json:"stats"`
}

// NewHTTPHandler builds the status router. metrics may be nil, in which case
// /metrics is not mounted.
func NewHTTPHandler(source Source, metrics http.Handler) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", healthHandler(source)).Methods(http.MethodGet)
	r.HandleFunc("/planes", planesHandler(source)).Methods(http.MethodGet)
	r.HandleFunc("/planes/{id:[0-9]+}", planeHandler(source)).Methods(http.MethodGet)
	r.HandleFunc("/runways", runwaysHandler(source)).Methods(http.MethodGet)
	r.HandleFunc("/timeline", timelineHandler(source)).Methods(http.MethodGet)
	if metrics != nil {
		r.Handle("/metrics", metrics).Methods(http.MethodGet)
	}

	return r
}

func healthHandler(source Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn := source.ConnectionState()
		view := healthView{
			Status:     "ok",
			Connection: conn,
			Session:    source.Session(),
			Stats:      source.Stats(),
		}
		code := http.StatusOK
		if conn != model.Connected {
			view.Status = "unavailable"
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, view)
	}
}

func planesHandler(source Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := source.Snapshot()
		out := make([]planeView, 0, len(snap.Planes))
		for _, p := range snap.Planes {
			out = append(out, newPlaneView(p))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func planeHandler(source Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.Atoi(mux.Vars(r)["id"])
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid plane id"})
			return
		}
		p, ok := source.Plane(id)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "plane not found"})
			return
		}
		writeJSON(w, http.StatusOK, newPlaneView(p))
	}
}

func runwaysHandler(source Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := source.Snapshot()
		out := make([]runwayView, 0, snap.RunwayCount)
		for rw := 1; rw <= snap.RunwayCount; rw++ {
			out = append(out, runwayView{Runway: rw, Plane: snap.Runways[rw]})
		}
		// Out-of-range runways the backend reported still show up.
		var extra []int
		for rw := range snap.Runways {
			if rw < 1 || rw > snap.RunwayCount {
				extra = append(extra, rw)
			}
		}
		sort.Ints(extra)
		for _, rw := range extra {
			out = append(out, runwayView{Runway: rw, Plane: snap.Runways[rw]})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func timelineHandler(source Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := source.Snapshot()
		out := make([]intervalView, 0, len(snap.Timeline))
		for _, iv := range snap.Timeline {
			out = append(out, intervalView{Interval: iv, Duration: iv.Duration()})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
