package util

import "log"

// Verbose turns Logf on.  Off by default so tests stay quiet.
var Verbose = false

// Logf calls log.Printf when Verbose is set.  Components take a Logf
// field; wiring this function in gives a process-wide switch.
func Logf(format string, args ...interface{}) {
	if !Verbose {
		return
	}
	log.Printf(format, args...)
}
