/*
Package servertally accumulates per-server performance and reliability statistics for a fixed set
of upstream servers. What a server "is" is unknown to this package - a host:port, a URL, the name
of a racing pigeon... whatever - it is identified purely by a unique name.

The caller reports each dispatch and each outcome; the tally maintains counters plus a weighted
average latency per server, which smooths momentary spikes while still following genuine
performance changes. Fastest() answers which server has the best weighted average, purely as
advisory information - nothing here influences dispatch decisions.

A Tally implements the resolve.Observer callbacks so it can be plugged straight into the fan-out
engine, and the reporter interface so the per-server breakdown can be periodically logged.

Multiple goroutines can safely invoke all methods concurrently.
*/
package servertally

import (
	"errors"
	"sync"
	"time"
)

const me = "servertally"

// DefaultWeightForLatest is the percentage influence the latest latency sample has on a server's
// weighted average.
const DefaultWeightForLatest = 67

// serverStats is a separate struct from server so a reset is one struct copy.
type serverStats struct {
	dispatches      int
	successes       int // err == nil and rcode == NOERROR
	rcodeFailures   int // err == nil but rcode != NOERROR
	errorFailures   int // err != nil
	lastFailure     time.Time
	weightedAverage time.Duration
}

type server struct {
	name string

	outstanding     int // Attempts dispatched but not yet answered. Live gauge - a stats
	peakOutstanding int // reset clamps the peak but never the current count.

	serverStats
}

// Tally tracks outcome statistics for a fixed list of servers.
type Tally struct {
	weightForLatest int

	mu      sync.RWMutex
	servers []*server
	index   map[string]int // name -> servers offset
}

// New constructs a Tally for the given server names. Names must be unique - they are the sole
// correlation key for all subsequent calls. weightForLatest is the 0-100 percentage influence of
// the newest latency sample; zero selects DefaultWeightForLatest.
func New(names []string, weightForLatest int) (*Tally, error) {
	if len(names) == 0 {
		return nil, errors.New(me + ": No servers in list")
	}
	if weightForLatest < 0 || weightForLatest > 100 {
		return nil, errors.New(me + ": weightForLatest is not in range 0-100")
	}
	if weightForLatest == 0 {
		weightForLatest = DefaultWeightForLatest
	}

	t := &Tally{weightForLatest: weightForLatest, index: make(map[string]int)}
	for _, n := range names {
		if _, dup := t.index[n]; dup {
			return nil, errors.New(me + ": Duplicate server in list: " + n)
		}
		t.index[n] = len(t.servers)
		t.servers = append(t.servers, &server{name: n})
	}

	return t, nil
}

// Names returns the tracked server names in construction order.
func (t *Tally) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, 0, len(t.servers))
	for _, s := range t.servers {
		names = append(names, s.name)
	}

	return names
}

// Dispatched records one attempt sent to the named server. Unknown names are silently ignored so
// a caller can add servers to its resolver without re-plumbing its tally.
func (t *Tally) Dispatched(name string, attempt int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ix, ok := t.index[name]; ok {
		s := t.servers[ix]
		s.dispatches++
		s.outstanding++
		if s.outstanding > s.peakOutstanding {
			s.peakOutstanding = s.outstanding
		}
	}
}

// Received records the outcome of one attempt against the named server. err != nil counts as an
// error failure; otherwise rcode 0 counts as a success and anything else as an rcode failure.
// Latency only folds into the weighted average on success since a failure's latency could be a
// timeout.
func (t *Tally) Received(name string, latency time.Duration, rcode int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ix, ok := t.index[name]
	if !ok {
		return
	}
	s := t.servers[ix]

	if s.outstanding > 0 {
		s.outstanding--
	}

	switch {
	case err != nil:
		s.errorFailures++
		s.lastFailure = time.Now()

	case rcode == 0:
		s.successes++
		if s.weightedAverage == 0 { // No history yet, take the sample as the whole average
			s.weightedAverage = latency
		} else {
			current := latency * time.Duration(t.weightForLatest)
			historic := s.weightedAverage * time.Duration(100-t.weightForLatest)
			s.weightedAverage = (current + historic) / 100
		}

	default:
		s.rcodeFailures++
		s.lastFailure = time.Now()
	}
}

// Outstanding returns how many attempts are currently in flight to the named server, or 0 for an
// unknown name. Within one engine call a server holds at most one outstanding attempt; across
// concurrent calls the gauge climbs with genuine parallelism.
func (t *Tally) Outstanding(name string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if ix, ok := t.index[name]; ok {
		return t.servers[ix].outstanding
	}

	return 0
}

// Fastest returns the name of the server with the lowest weighted average latency. Servers with
// no latency history yet are skipped; ok is false when no server has any.
func (t *Tally) Fastest() (name string, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var best time.Duration
	for _, s := range t.servers {
		if s.weightedAverage == 0 {
			continue
		}
		if !ok || s.weightedAverage < best {
			name, best, ok = s.name, s.weightedAverage, true
		}
	}

	return
}
