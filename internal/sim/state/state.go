// internal/sim/state/state.go
package state

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/runway-monitor/internal/logging"
	"github.com/signalsfoundry/runway-monitor/model"
)

// Store is the authoritative record of every plane in the current session
// and the append-only timeline of closed runway occupancies.
//
// Apply is the only mutation entry point besides Reset. The monitor calls
// both from a single consumer goroutine; the lock exists so read-only
// callers (status endpoints, tests) can take snapshots from elsewhere.
type Store struct {
	mu sync.RWMutex

	runways    int
	configured int
	planes     map[int]*model.Plane

	// openOn records the runway each open interval was opened on, keyed by
	// plane. It survives a WAITING that clears the assigned runway.
	openOn map[int]int

	// holders maps runway -> plane currently holding an open interval there.
	holders map[int]int

	timeline []model.Interval
	seq      uint64

	policy  UnknownPlanePolicy
	log     logging.Logger
	metrics MetricsRecorder
}

// MetricsRecorder receives derived counts from the store.
type MetricsRecorder interface {
	SetPlaneCounts(byState map[model.LifecycleState]int)
	ObserveInterval(iv model.Interval)
	ObserveAnomaly(kind AnomalyKind)
}

// Notification describes the outcome of one Apply call.
type Notification struct {
	// Seq increases by one per Apply within the store's lifetime.
	Seq uint64

	// Plane is a copy of the plane after the event. It is the zero value
	// when the event was rejected for an unknown plane.
	Plane    model.Plane
	Previous model.LifecycleState

	// Interval is set when the event closed an occupancy interval.
	Interval *model.Interval

	Anomalies []Anomaly

	// Changed reports whether any stored state was modified.
	Changed bool

	Event model.Event
	At    float64
}

// Snapshot is a consistent copy of the store. Callers own every slice and
// map in it.
type Snapshot struct {
	Seq         uint64
	RunwayCount int
	Planes      []model.Plane
	Timeline    []model.Interval

	// Runways maps runway -> plane for every runway with an open interval.
	Runways map[int]int
}

// Option customises Store construction.
type Option func(*Store)

// WithUnknownPlanePolicy selects how events for unconfigured planes are handled.
func WithUnknownPlanePolicy(p UnknownPlanePolicy) Option {
	return func(s *Store) {
		s.policy = p
	}
}

// WithMetricsRecorder attaches an optional metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// WithLogger attaches a logger for anomaly reports.
func WithLogger(l logging.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// NewStore returns an empty store. Call Reset before applying events.
func NewStore(opts ...Option) *Store {
	s := &Store{
		planes:  make(map[int]*model.Plane),
		openOn:  make(map[int]int),
		holders: make(map[int]int),
		log:     logging.Noop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.updateMetricsLocked()
	return s
}

// Policy returns the configured unknown-plane policy.
func (s *Store) Policy() UnknownPlanePolicy { return s.policy }

// Reset discards all planes and the timeline, then registers planes
// 1..len(priorities) as QUEUED with no runway. priorities[i] belongs to
// plane i+1.
func (s *Store) Reset(runways int, priorities []int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runways = runways
	s.configured = len(priorities)
	s.planes = make(map[int]*model.Plane, len(priorities))
	s.openOn = make(map[int]int)
	s.holders = make(map[int]int)
	s.timeline = nil
	for i, prio := range priorities {
		id := i + 1
		s.planes[id] = &model.Plane{
			ID:       id,
			Priority: prio,
			State:    model.StateQueued,
			Runway:   model.NoRunway,
		}
	}
	s.updateMetricsLocked()
}

// Apply performs the transition described by ev at simulation time at
// (seconds since session start) and reports what happened.
func (s *Store) Apply(ev model.Event, at float64) Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	n := Notification{Seq: s.seq, Event: ev, At: at}

	// Range, not map membership, decides: tolerated ids are in the map too.
	p, ok := s.planes[ev.PlaneID]
	if !ok || ev.PlaneID < 1 || ev.PlaneID > s.configured {
		s.applyUnknownLocked(ev, &n)
		s.finishLocked(&n)
		return n
	}

	n.Previous = p.State
	if p.State == model.StateCompleted {
		n.Anomalies = append(n.Anomalies, Anomaly{
			Kind:    AnomalyEventAfterCompletion,
			PlaneID: p.ID,
			Detail:  fmt.Sprintf("%s ignored", ev.State),
		})
		n.Plane = p.Clone()
		s.finishLocked(&n)
		return n
	}

	switch ev.State {
	case model.StateWaiting:
		s.applyWaitingLocked(p, ev, &n)
	case model.StateRunning:
		s.applyRunningLocked(p, ev, at, &n)
	case model.StateProgress:
		p.State = model.StateProgress
		p.Progress = clampFraction(ev.Value)
	case model.StateCompleted:
		s.applyCompletedLocked(p, ev, at, &n)
	default:
		// Decode never produces QUEUED; treat it as a no-op.
		n.Plane = p.Clone()
		s.finishLocked(&n)
		return n
	}

	n.Changed = true
	n.Plane = p.Clone()
	s.finishLocked(&n)
	return n
}

// applyUnknownLocked handles ids outside 1..N. They never take part in the
// lifecycle: the tolerant policy registers the id once as QUEUED so it shows
// up in snapshots, and every event for it is reported and otherwise ignored.
func (s *Store) applyUnknownLocked(ev model.Event, n *Notification) {
	detail := fmt.Sprintf("outside configured range 1..%d", s.configured)
	if s.policy == PolicyStrict || ev.PlaneID <= 0 {
		n.Anomalies = append(n.Anomalies, Anomaly{
			Kind:    AnomalyUnknownPlane,
			PlaneID: ev.PlaneID,
			Detail:  detail + ", rejected",
		})
		return
	}

	p, seen := s.planes[ev.PlaneID]
	if !seen {
		p = &model.Plane{ID: ev.PlaneID, State: model.StateQueued}
		s.planes[p.ID] = p
		detail += ", registered"
		n.Changed = true
	} else {
		detail += fmt.Sprintf(", %s ignored", ev.State)
	}
	n.Anomalies = append(n.Anomalies, Anomaly{
		Kind:    AnomalyUnknownPlane,
		PlaneID: ev.PlaneID,
		Detail:  detail,
	})
	n.Previous = p.State
	n.Plane = p.Clone()
}

func (s *Store) applyWaitingLocked(p *model.Plane, ev model.Event, n *Notification) {
	if p.OpenIntervalStart != nil {
		// The interval stays open; only COMPLETED closes it.
		n.Anomalies = append(n.Anomalies, Anomaly{
			Kind:    AnomalyWaitingWithOpenInterval,
			PlaneID: p.ID,
			Detail:  fmt.Sprintf("interval opened at %.3fs on runway %d left open", *p.OpenIntervalStart, s.openOn[p.ID]),
		})
	}
	p.State = model.StateWaiting
	p.Runway = model.NoRunway
	p.Progress = clampFraction(ev.Value)
}

func (s *Store) applyRunningLocked(p *model.Plane, ev model.Event, at float64, n *Notification) {
	if ev.Runway < 1 || ev.Runway > s.runways {
		n.Anomalies = append(n.Anomalies, Anomaly{
			Kind:    AnomalyResourceOutOfRange,
			PlaneID: p.ID,
			Detail:  fmt.Sprintf("runway %d outside 1..%d", ev.Runway, s.runways),
		})
	}
	if p.OpenIntervalStart != nil {
		n.Anomalies = append(n.Anomalies, Anomaly{
			Kind:    AnomalyOpenIntervalOverwritten,
			PlaneID: p.ID,
			Detail:  fmt.Sprintf("interval opened at %.3fs on runway %d discarded", *p.OpenIntervalStart, s.openOn[p.ID]),
		})
		s.releaseLocked(p.ID)
	}
	if holder, held := s.holders[ev.Runway]; held && holder != p.ID && ev.Runway != model.NoRunway {
		n.Anomalies = append(n.Anomalies, Anomaly{
			Kind:    AnomalyResourceConflict,
			PlaneID: p.ID,
			Detail:  fmt.Sprintf("runway %d already held by plane %d", ev.Runway, holder),
		})
	}

	start := at
	p.State = model.StateRunning
	p.Runway = ev.Runway
	p.Progress = 0
	p.PlannedDuration = ev.Value
	if p.PlannedDuration < 0 {
		p.PlannedDuration = 0
	}
	p.OpenIntervalStart = &start

	s.openOn[p.ID] = ev.Runway
	if ev.Runway != model.NoRunway {
		s.holders[ev.Runway] = p.ID
	}
}

func (s *Store) applyCompletedLocked(p *model.Plane, ev model.Event, at float64, n *Notification) {
	if p.OpenIntervalStart != nil {
		opened := s.openOn[p.ID]
		runway := ev.Runway
		if runway == model.NoRunway {
			runway = opened
		} else if opened != model.NoRunway && runway != opened {
			n.Anomalies = append(n.Anomalies, Anomaly{
				Kind:    AnomalyResourceMismatch,
				PlaneID: p.ID,
				Detail:  fmt.Sprintf("completed on runway %d, opened on runway %d", runway, opened),
			})
		}
		end := at
		if end < *p.OpenIntervalStart {
			end = *p.OpenIntervalStart
		}
		iv := model.Interval{
			Runway:  runway,
			PlaneID: p.ID,
			Start:   *p.OpenIntervalStart,
			End:     end,
		}
		s.timeline = append(s.timeline, iv)
		n.Interval = &iv
		if s.metrics != nil {
			s.metrics.ObserveInterval(iv)
		}
		s.releaseLocked(p.ID)
		p.OpenIntervalStart = nil
	}
	p.State = model.StateCompleted
	p.Runway = model.NoRunway
	p.Progress = 1
}

// releaseLocked forgets the open interval bookkeeping for plane id.
func (s *Store) releaseLocked(id int) {
	runway, ok := s.openOn[id]
	if !ok {
		return
	}
	delete(s.openOn, id)
	if s.holders[runway] == id {
		delete(s.holders, runway)
	}
}

func (s *Store) finishLocked(n *Notification) {
	for _, a := range n.Anomalies {
		s.log.Warn(context.Background(), "protocol anomaly",
			logging.String("kind", string(a.Kind)),
			logging.Int("plane", a.PlaneID),
			logging.String("detail", a.Detail),
			logging.String("frame", n.Event.Raw),
		)
		if s.metrics != nil {
			s.metrics.ObserveAnomaly(a.Kind)
		}
	}
	if n.Changed {
		s.updateMetricsLocked()
	}
}

// Get returns a copy of the plane with the given id.
func (s *Store) Get(id int) (model.Plane, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.planes[id]
	if !ok {
		return model.Plane{}, false
	}
	return p.Clone(), true
}

// Timeline returns the closed intervals in the order they were appended.
func (s *Store) Timeline() []model.Interval {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Interval, len(s.timeline))
	copy(out, s.timeline)
	return out
}

// Snapshot returns a coherent copy of all planes (sorted by id), the
// timeline and the current runway holders.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	planes := make([]model.Plane, 0, len(s.planes))
	for _, p := range s.planes {
		planes = append(planes, p.Clone())
	}
	sort.Slice(planes, func(i, j int) bool { return planes[i].ID < planes[j].ID })

	timeline := make([]model.Interval, len(s.timeline))
	copy(timeline, s.timeline)

	runways := make(map[int]int, len(s.holders))
	for r, id := range s.holders {
		runways[r] = id
	}

	return Snapshot{
		Seq:         s.seq,
		RunwayCount: s.runways,
		Planes:      planes,
		Timeline:    timeline,
		Runways:     runways,
	}
}

// updateMetricsLocked pushes per-state plane counts to the recorder.
// Caller must hold s.mu.
func (s *Store) updateMetricsLocked() {
	if s.metrics == nil {
		return
	}
	counts := make(map[model.LifecycleState]int, len(model.AllStates))
	for _, st := range model.AllStates {
		counts[st] = 0
	}
	for _, p := range s.planes {
		counts[p.State]++
	}
	s.metrics.SetPlaneCounts(counts)
}

func clampFraction(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
