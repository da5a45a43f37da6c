// Package metrics wires the replication engine's counters into Prometheus,
// the metrics library the retrieval pack's dantte-lp-gobfd repo uses for
// the same session/byte-accounting shape this engine needs.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Recorder implements core.MetricsSink against a dedicated prometheus
// registry, so embedding callers can expose it on their own /metrics
// endpoint without colliding with the default global registry.
type Recorder struct {
	Registry *prometheus.Registry

	entriesSent     prometheus.Counter
	entriesReceived prometheus.Counter
	entriesDropped  prometheus.Counter
	sessionsClosed  prometheus.Counter
	sessionsActive  prometheus.Gauge
}

// NewRecorder builds a Recorder registered against a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		Registry: reg,
		entriesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kvmesh_entries_sent_total",
			Help: "Entries serialized into a session's outbound buffer.",
		}),
		entriesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kvmesh_entries_received_total",
			Help: "Incoming entries accepted by storage without error; entries the merge rule discarded are counted too.",
		}),
		entriesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kvmesh_entries_dropped_total",
			Help: "Incoming entries dropped due to a storage error.",
		}),
		sessionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kvmesh_sessions_closed_total",
			Help: "Peer sessions that have transitioned to Closed.",
		}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kvmesh_sessions_active",
			Help: "Peer sessions currently open, in any phase.",
		}),
	}
	reg.MustRegister(r.entriesSent, r.entriesReceived, r.entriesDropped, r.sessionsClosed, r.sessionsActive)
	return r
}

func (r *Recorder) EntrySent()     { r.entriesSent.Inc() }
func (r *Recorder) EntryReceived() { r.entriesReceived.Inc() }
func (r *Recorder) EntryDropped()  { r.entriesDropped.Inc() }
func (r *Recorder) SessionOpened() { r.sessionsActive.Inc() }
func (r *Recorder) SessionClosed() {
	r.sessionsClosed.Inc()
	r.sessionsActive.Dec()
}
