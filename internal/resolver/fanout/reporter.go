package fanout

import (
	"fmt"
	"sync"
	"time"
)

// stats tracks the aggregate request counters reported through reporter.Reporter. Per-server
// breakdown is not kept here since a single ExtendedResolver call already arbitrates across its
// own servers before Resolve ever sees the result.
type stats struct {
	mu sync.Mutex

	total        int
	success      int
	failures     int
	totalLatency time.Duration
}

func (s *stats) record(ok bool, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total++
	if ok {
		s.success++
		s.totalLatency += latency
	} else {
		s.failures++
	}
}

// Name identifies this reportable for the reporter package's periodic dumps.
func (r *Resolver) Name() string {
	return "Fanout Resolver"
}

// Report meets reporter.Reporter, returning a single "Totals:" summary line.
func (r *Resolver) Report(resetCounters bool) string {
	r.stats.mu.Lock()
	defer r.stats.mu.Unlock()

	var al float64
	if r.stats.success > 0 {
		al = r.stats.totalLatency.Seconds() / float64(r.stats.success)
	}
	report := fmt.Sprintf("Totals: req=%d ok=%d al=%0.3f errs=%d\n",
		r.stats.total, r.stats.success, al, r.stats.failures)

	if resetCounters {
		r.stats.total, r.stats.success, r.stats.failures, r.stats.totalLatency = 0, 0, 0, 0
	}

	return report
}
