package core

// MetricsSink receives counters from the reactor and its sessions. The
// core never reaches for a process-wide metrics singleton; callers inject
// an implementation (see internal/metrics for the Prometheus-backed one),
// mirroring how types.Logger is injected rather than global.
type MetricsSink interface {
	EntrySent()
	EntryReceived()
	EntryDropped()
	SessionOpened()
	SessionClosed()
}

// NoopMetrics discards everything; used when the caller doesn't wire a
// sink.
type NoopMetrics struct{}

func (NoopMetrics) EntrySent()     {}
func (NoopMetrics) EntryReceived() {}
func (NoopMetrics) EntryDropped()  {}
func (NoopMetrics) SessionOpened() {}
func (NoopMetrics) SessionClosed() {}
