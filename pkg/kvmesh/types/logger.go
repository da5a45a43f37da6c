package types

// Logger is the logging sink injected into every component that needs to
// report something. The core never reaches for a process-wide singleton;
// callers provide an implementation (see pkg/kvmesh/definition for the
// defaults) and every error surfaced to the application is also observable
// here, never via a panic or a returned error from the reactor goroutine.
type Logger interface {
	Debugf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
}
