// Package reporter defines the interface a struct implements to periodically describe itself,
// normally with statistics counters, to whichever command owns it.
package reporter

// Reporter is implemented by anything that can render a printable status report. The returned
// string is zero or more newline-separated lines ready for a log file; callers usually split the
// lines apart and prefix each with their own timestamp and source tag, so single-line reports
// should not bother with a trailing newline. Empty lines are discarded by callers.
type Reporter interface {

	// Name identifies the reportable struct, normally used as a prefix on each output line.
	Name() string

	// Report renders the current counters. When resetCounters is true all internal counters
	// are zeroed after the report is produced. Implementations must tolerate concurrent
	// callers even though multiple concurrent reporters are unlikely in practice.
	Report(resetCounters bool) string
}
