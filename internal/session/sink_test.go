package session

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/signalsfoundry/runway-monitor/internal/logging"
	"github.com/signalsfoundry/runway-monitor/internal/sim/state"
	"github.com/signalsfoundry/runway-monitor/model"
)

func TestMultiSinkPreservesOrder(t *testing.T) {
	var got []string
	sink := MultiSink{
		SinkFunc(func(context.Context, state.Notification) { got = append(got, "a") }),
		nil,
		SinkFunc(func(context.Context, state.Notification) { got = append(got, "b") }),
	}
	sink.Notify(context.Background(), state.Notification{})
	if strings.Join(got, "") != "ab" {
		t.Fatalf("delivery order = %v", got)
	}
}

func TestLogSinkWritesTransitionAndInterval(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New(logging.Config{Level: "info", Format: "text", Output: &buf})
	iv := model.Interval{Runway: 1, PlaneID: 1, Start: 0, End: 5}
	LogSink{Log: log}.Notify(context.Background(), state.Notification{
		Changed:  true,
		Plane:    model.Plane{ID: 1, Priority: 2, State: model.StateCompleted},
		Event:    model.Event{PlaneID: 1, State: model.StateCompleted, Runway: 1},
		Interval: &iv,
	})

	out := buf.String()
	for _, want := range []string{`"plane 1 -> COMPLETED"`, "runway=1", "priority=2", "runway interval closed", "duration=5"} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestLogSinkSkipsUnchanged(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New(logging.Config{Level: "debug", Output: &buf})
	LogSink{Log: log}.Notify(context.Background(), state.Notification{Plane: model.Plane{ID: 3}})
	if buf.Len() != 0 {
		t.Fatalf("unchanged notification logged: %s", buf.String())
	}
}
