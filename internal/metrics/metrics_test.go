package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, r *Recorder, name string) float64 {
	t.Helper()
	families, err := r.Registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		var metric *dto.Metric
		for _, m := range f.GetMetric() {
			metric = m
		}
		if metric == nil {
			return 0
		}
		if metric.Counter != nil {
			return metric.Counter.GetValue()
		}
		if metric.Gauge != nil {
			return metric.Gauge.GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func TestRecorderEntryCounters(t *testing.T) {
	r := NewRecorder()
	r.EntrySent()
	r.EntrySent()
	r.EntryReceived()
	r.EntryDropped()

	if got := counterValue(t, r, "kvmesh_entries_sent_total"); got != 2 {
		t.Fatalf("expected 2 sent, got %v", got)
	}
	if got := counterValue(t, r, "kvmesh_entries_received_total"); got != 1 {
		t.Fatalf("expected 1 received, got %v", got)
	}
	if got := counterValue(t, r, "kvmesh_entries_dropped_total"); got != 1 {
		t.Fatalf("expected 1 dropped, got %v", got)
	}
}

func TestRecorderSessionGaugeTracksOpenAndClose(t *testing.T) {
	r := NewRecorder()
	r.SessionOpened()
	r.SessionOpened()
	r.SessionClosed()

	if got := counterValue(t, r, "kvmesh_sessions_active"); got != 1 {
		t.Fatalf("expected 1 active session, got %v", got)
	}
	if got := counterValue(t, r, "kvmesh_sessions_closed_total"); got != 1 {
		t.Fatalf("expected 1 closed session, got %v", got)
	}
}
