package servertally

import (
	"fmt"
)

// Name implements the reporter interface
func (t *Tally) Name() string {
	return "Server Tally"
}

/*
Report implements the reporter interface with one line per server. Zero counters if resetCounters
is true; the outstanding gauge survives a reset with its peak clamped to the current value.

Server: req=1273 ok=1270 out=1/3 al=0.003 errs=3 (2/1) 127.0.0.1:53
        ^        ^       ^     ^ ^        ^      ^ ^   ^
        |        |       |     | |        |      | |   |
        |        |       |     | |        |      | |   +--Server name
        |        |       |     | |        |      | +--Transport errors
        |        |       |     | |        |      +--Non-success rcodes
        |        |       |     | |        +--Total failed attempts
        |        |       |     | +--Weighted average latency
        |        |       |     +--Peak outstanding attempts
        |        |       +--Outstanding attempts right now
        |        +--Successful attempts
        +--Attempts dispatched
*/
func (t *Tally) Report(resetCounters bool) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	report := ""
	for _, s := range t.servers {
		errs := s.rcodeFailures + s.errorFailures
		report += fmt.Sprintf("Server: req=%d ok=%d out=%d/%d al=%0.3f errs=%d (%d/%d) %s\n",
			s.dispatches, s.successes, s.outstanding, s.peakOutstanding,
			s.weightedAverage.Seconds(), errs,
			s.rcodeFailures, s.errorFailures, s.name)
		if resetCounters {
			s.serverStats = serverStats{}
			s.peakOutstanding = s.outstanding
		}
	}

	return report
}
