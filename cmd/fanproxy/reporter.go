package main

import (
	"fmt"
	"time"
)

//////////////////////////////////////////////////////////////////////
// reporter implementation
//////////////////////////////////////////////////////////////////////

// enter and leave bracket each ServeDNS call so the report can show peak query concurrency.

func (t *server) enter() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.inFlight++
	if t.inFlight > t.peakInFlight {
		t.peakInFlight = t.inFlight
	}
}

func (t *server) leave() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.inFlight--
}

// addSuccessStats transfers stats from a successful ServeDNS query to longer-term server stats.
func (t *server) addSuccessStats(latency time.Duration, evs events) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.successCount++
	t.totalLatency += latency
	for ix := 0; ix < len(evs); ix++ {
		if evs[ix] {
			t.eventCounters[ix]++
		}
	}
}

// addFailureStats transfers stats from a failed ServeDNS query to longer-term server stats.
func (t *server) addFailureStats(ix int, evs events) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.failureCounters[ix]++
	for ix := 0; ix < len(evs); ix++ {
		if evs[ix] {
			t.eventCounters[ix]++
		}
	}
}

func (t *server) Name() string {
	return "Server: (on " + t.listenAddress + "/" + t.transport + ")"
}

func (t *server) Report(resetCounters bool) string {
	if resetCounters {
		t.mu.Lock()
		defer t.mu.Unlock()
	} else {
		t.mu.RLock()
		defer t.mu.RUnlock()
	}

	errs := 0
	for _, v := range t.failureCounters {
		errs += v
	}
	req := t.successCount + errs

	var al float64
	if t.successCount > 0 {
		al = t.totalLatency.Seconds() / float64(t.successCount)
	}

	s := fmt.Sprintf("req=%d ok=%d (%s) al=%0.3f errs=%d (%s) Concurrency=%d",
		req, t.successCount, formatCounters("%d", "/", t.eventCounters[:]), al,
		errs, formatCounters("%d", "/", t.failureCounters[:]),
		t.peakInFlight)

	if resetCounters {
		t.stats = stats{}
		t.peakInFlight = t.inFlight // The live gauge itself is never reset
	}

	return s
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
