package definition

import "github.com/sirupsen/logrus"

// LogrusLogger adapts a *logrus.Logger to types.Logger, for callers that
// want structured, leveled output (e.g. cmd/kvmeshd) instead of the
// zero-dependency DefaultLogger.
type LogrusLogger struct {
	entry *logrus.Entry
}

// NewLogrusLogger wraps logger, tagging every line with the node's
// identifier so multi-node test harnesses can tell sessions apart in
// interleaved output.
func NewLogrusLogger(logger *logrus.Logger, node string) *LogrusLogger {
	return &LogrusLogger{entry: logger.WithField("node", node)}
}

func (l *LogrusLogger) Debugf(format string, v ...interface{}) { l.entry.Debugf(format, v...) }
func (l *LogrusLogger) Infof(format string, v ...interface{})  { l.entry.Infof(format, v...) }
func (l *LogrusLogger) Warnf(format string, v ...interface{})  { l.entry.Warnf(format, v...) }
func (l *LogrusLogger) Errorf(format string, v ...interface{}) { l.entry.Errorf(format, v...) }
