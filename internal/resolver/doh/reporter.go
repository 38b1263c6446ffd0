package doh

import (
	"fmt"
	"time"
)

// addSuccessStats tracks one successful exchange.
func (t *Resolver) addSuccessStats(total, server time.Duration, tracking ecsTracking) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.success++
	t.totalLatency += total
	t.serverLatency += server

	if tracking.removed {
		t.ecsRemoved++
	}
	if tracking.set {
		t.ecsSet++
	}
	if tracking.requested {
		t.ecsRequest++
	}
	if tracking.returned {
		t.ecsReturned++
	}
}

// addFailure tracks one failed exchange by cause.
func (t *Resolver) addFailure(dex dexInt) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.failures[dex]++
}

/*
Report implements the reporter interface. Zero counters if resetCounters is true. The Name() of
this reportable is the server URL, so the owning command's log prefix already identifies which
server the line describes.

Output:

req=305 ok=301 tl=0.254 rl=0.235 errs=4 (0/0/0/4/0/0/0) (ecs 0/0/301/64)
^       ^      ^        ^        ^       ^ ^ ^ ^ ^ ^ ^   ^    ^ ^ ^   ^
|       |      |        |        |       | | | | | | |   |    | | |   |
|       |      |        |        |       | | | | | | |   |    | | |   +--ecsReturned
|       |      |        |        |       | | | | | | |   |    | | +--ecsRequest
|       |      |        |        |       | | | | | | |   |    | +--ecsSet
|       |      |        |        |       | | | | | | |   |    +--ecsRemoved
|       |      |        |        |       | | | | | | |   +--EDNS Client Subnet stats
|       |      |        |        |       | | | | | | +--UnpackDNSResponse
|       |      |        |        |       | | | | | +--ContentType
|       |      |        |        |       | | | | +--ResponseReadAll
|       |      |        |        |       | | | +--NonStatusOk
|       |      |        |        |       | | +--DoRequest
|       |      |        |        |       | +--CreateHTTPRequest
|       |      |        |        |       +--PackDNSQuery
|       |      |        |        +--Failed exchanges
|       |      |        +--Remote server latency (average)
|       |      +--Total query latency (average)
|       +--Good exchanges
+--Total exchanges
*/
func (t *Resolver) Report(resetCounters bool) string {
	if resetCounters {
		t.mu.Lock()
		defer t.mu.Unlock()
	} else {
		t.mu.RLock()
		defer t.mu.RUnlock()
	}

	errs := 0
	for _, v := range t.failures {
		errs += v
	}
	var tl, rl float64
	if t.success > 0 {
		tl = t.totalLatency.Seconds() / float64(t.success)
		rl = t.serverLatency.Seconds() / float64(t.success)
	}
	report := fmt.Sprintf("req=%d ok=%d tl=%0.3f rl=%0.3f errs=%d (%s) (ecs %d/%d/%d/%d)",
		t.success+errs, t.success, tl, rl, errs, formatCounters("%d", "/", t.failures[:]),
		t.ecsRemoved, t.ecsSet, t.ecsRequest, t.ecsReturned)

	if resetCounters {
		t.resolverStats = resolverStats{}
	}

	return report
}

// formatCounters renders an int array as %d/%d/%d... Less error-prone than one big hard-coded
// Sprintf string and the speed difference is irrelevant here.
func formatCounters(vfmt string, delim string, vals []int) string {
	res := ""
	for ix, v := range vals {
		if ix > 0 {
			res += delim
		}
		res += fmt.Sprintf(vfmt, v)
	}

	return res
}
