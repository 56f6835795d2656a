// Package monitoring provides the process-wide diagnostic loggers.
package monitoring

import "log"

// Logf is the package-level operational logger. It defaults to
// log.Printf but may be replaced by SetLogger; tests typically mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// Debugf is the high-frequency per-frame logger. Disabled by default;
// EnableDebug routes it to a microsecond-stamped logger.
var Debugf func(format string, v ...interface{}) = func(string, ...interface{}) {}

// SetLogger replaces the operational logger. Passing nil installs a
// no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// EnableDebug turns on the per-frame diagnostic stream.
func EnableDebug() {
	l := log.New(log.Writer(), "[debug] ", log.LstdFlags|log.Lmicroseconds)
	Debugf = l.Printf
}

// DisableDebug mutes the per-frame diagnostic stream.
func DisableDebug() {
	Debugf = func(string, ...interface{}) {}
}
