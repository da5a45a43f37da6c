// Package definition holds the default, swappable implementations of the
// injected collaborators the core expects (types.Logger today). None of
// these are reached for as a process-wide singleton anywhere in the core;
// a caller that doesn't supply one gets NewDefaultLogger.
package definition

import (
	"fmt"
	"log"
	"os"
)

const (
	calldepth = 2
	info      = "INFO"
	warn      = "WARN"
	errorl    = "ERROR"
	debug     = "DEBUG"
)

// NewDefaultLogger returns a stdlib-backed logger with debug logging off.
func NewDefaultLogger() *DefaultLogger {
	return &DefaultLogger{
		Logger: log.New(os.Stderr, "kvmesh ", log.LstdFlags),
		debug:  false,
	}
}

func level(prefix, message string) string {
	return fmt.Sprintf("[%s]: %s", prefix, message)
}

// DefaultLogger is the zero-dependency types.Logger implementation used
// when nothing else is wired in.
type DefaultLogger struct {
	*log.Logger
	debug bool
}

func (l *DefaultLogger) Infof(format string, v ...interface{}) {
	_ = l.Output(calldepth, level(info, fmt.Sprintf(format, v...)))
}

func (l *DefaultLogger) Warnf(format string, v ...interface{}) {
	_ = l.Output(calldepth, level(warn, fmt.Sprintf(format, v...)))
}

func (l *DefaultLogger) Errorf(format string, v ...interface{}) {
	_ = l.Output(calldepth, level(errorl, fmt.Sprintf(format, v...)))
}

func (l *DefaultLogger) Debugf(format string, v ...interface{}) {
	if l.debug {
		_ = l.Output(calldepth, level(debug, fmt.Sprintf(format, v...)))
	}
}

// ToggleDebug turns debug-level logging on or off and returns the new
// state.
func (l *DefaultLogger) ToggleDebug(value bool) bool {
	l.debug = value
	return l.debug
}
