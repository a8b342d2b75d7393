package state

import (
	"testing"

	"github.com/signalsfoundry/runway-monitor/model"
)

type stubMetricsRecorder struct {
	counts    []map[model.LifecycleState]int
	intervals []model.Interval
	anomalies []AnomalyKind
}

func (r *stubMetricsRecorder) SetPlaneCounts(byState map[model.LifecycleState]int) {
	cp := make(map[model.LifecycleState]int, len(byState))
	for k, v := range byState {
		cp[k] = v
	}
	r.counts = append(r.counts, cp)
}

func (r *stubMetricsRecorder) ObserveInterval(iv model.Interval) {
	r.intervals = append(r.intervals, iv)
}

func (r *stubMetricsRecorder) ObserveAnomaly(kind AnomalyKind) {
	r.anomalies = append(r.anomalies, kind)
}

func (r *stubMetricsRecorder) last() map[model.LifecycleState]int {
	if len(r.counts) == 0 {
		return nil
	}
	return r.counts[len(r.counts)-1]
}

func TestStoreMetricsRecorder(t *testing.T) {
	recorder := &stubMetricsRecorder{}
	s := NewStore(WithMetricsRecorder(recorder))
	if got := recorder.last(); got[model.StateQueued] != 0 || len(got) != len(model.AllStates) {
		t.Fatalf("initial counts = %v", got)
	}

	s.Reset(3, []int{1, 2, 3})
	assertStateCounts(t, recorder.last(), map[model.LifecycleState]int{model.StateQueued: 3})

	s.Apply(ev(1, model.StateRunning, 1, 2), 0)
	s.Apply(ev(2, model.StateWaiting, 0, 0.5), 0)
	assertStateCounts(t, recorder.last(), map[model.LifecycleState]int{
		model.StateQueued:  1,
		model.StateWaiting: 1,
		model.StateRunning: 1,
	})

	s.Apply(ev(1, model.StateCompleted, 1, 0), 2)
	assertStateCounts(t, recorder.last(), map[model.LifecycleState]int{
		model.StateQueued:    1,
		model.StateWaiting:   1,
		model.StateCompleted: 1,
	})
	if len(recorder.intervals) != 1 || recorder.intervals[0].Duration() != 2 {
		t.Fatalf("intervals = %+v", recorder.intervals)
	}

	updates := len(recorder.counts)
	s.Apply(ev(1, model.StateCompleted, 1, 0), 3)
	if len(recorder.counts) != updates {
		t.Fatalf("unchanged Apply pushed plane counts")
	}
	if len(recorder.anomalies) != 1 || recorder.anomalies[0] != AnomalyEventAfterCompletion {
		t.Fatalf("anomalies = %v", recorder.anomalies)
	}
}

func assertStateCounts(t *testing.T, got, want map[model.LifecycleState]int) {
	t.Helper()
	for _, st := range model.AllStates {
		if got[st] != want[st] {
			t.Fatalf("counts = %v, want %v", got, want)
		}
	}
}
