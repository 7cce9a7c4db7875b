// Package log has the logger used by the taskd client SDK.
//
// Nothing is logged unless a [Logger] is set in the client config. Any type
// with the format methods and value helpers fits, for example a thin wrapper
// over a logrus entry:
//
//	type logrusLogger struct{ e *logrus.Entry }
//
//	func (l logrusLogger) Infof(format string, args ...any) { l.e.Infof(format, args...) }
//	func (l logrusLogger) WithValues(kv log.Kv) log.Logger  { return logrusLogger{l.e.WithFields(logrus.Fields(kv))} }
//	// ...
package log

import "github.com/slok/taskd/internal/log"

// Logger logs the SDK events, values set with WithValues are attached to every line.
type Logger = log.Logger

// Kv are structured logging values.
type Kv = log.Kv

// Noop discards everything, it's the default logger.
var Noop = log.Noop
