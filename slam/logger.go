package slam

import "log"

// Logf is the package logger. It defaults to log.Printf; the filter runs
// inside the service and replay tools, both of which log to stderr.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil mutes it.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
