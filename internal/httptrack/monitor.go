/*
Package httptrack follows the life of inbound HTTPS connections and the DoH requests riding on
them. One Monitor watches one listen address and answers, through the reporter interface, how
busy that listener really is: how many connections are open, how many requests are in flight
across them (HTTP2 multiplexes many onto one connection), and how much of each connection's
lifetime was spent actually serving.

Wiring is two hooks. Connection transitions arrive from http.Server.ConnState:

	mon := httptrack.New("Name")
	s := http.Server{ConnState: func(c net.Conn, state http.ConnState) {
	                                 mon.ConnState(c.RemoteAddr().String(), time.Now(), state)
	                             }

and each request handler brackets itself:

	mon.RequestStart(httpReq.RemoteAddr)
	defer mon.RequestDone(httpReq.RemoteAddr)

The connection key can be any string that uniquely identifies one connection endpoint. A remote
address/port normally suffices since the Monitor itself is already scoped to one listen address.

Transitions that cannot happen - a request on an untracked connection, a close with requests
still in flight - are tallied in an anomaly map which the report renders by reason, so a mis-wired
caller shows up in the logs. They are otherwise handled as ConnState and RequestStart describe.
*/
package httptrack

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// connEntry is the per-connection record, alive from StateNew until close or hijack.
type connEntry struct {
	opened      time.Time
	active      bool          // Between a transition to active and the next idle/close
	activeSince time.Time     // Last transition to active; only meaningful while active
	activeFor   time.Duration // Sum of completed active periods
	streams     int           // Requests currently in flight on this connection
	peakStreams int
}

// Monitor watches every live connection, and the requests on them, for one listen address.
type Monitor struct {
	name string

	mu    sync.Mutex
	conns map[string]*connEntry

	inFlight     int // Requests currently being served across all connections
	peakInFlight int

	opened     int // Connections accepted since the last reset
	closed     int
	peakConns  int
	peakOnConn int           // Highest request count seen on any single connection
	aliveTime  time.Duration // Summed lifetime of closed connections
	activeTime time.Duration // Summed request-serving time of closed connections

	anomalies map[string]int // Impossible transitions, tallied by reason
}

// New constructs an idle Monitor. name appears at the end of each report line.
func New(name string) *Monitor {
	return &Monitor{
		name:      name,
		conns:     make(map[string]*connEntry),
		anomalies: make(map[string]int),
	}
}

// ConnState records a connection state transition at time now. Impossible transitions are tallied
// and otherwise resolved in favour of the new state so the gauges can never wedge: a re-opened
// key replaces its predecessor, a close for an untracked key is dropped.
//
// Only the transitions that matter for occupancy are interpreted. This is not a protocol
// validator and mostly cannot know which transitions are legal anyway.
func (m *Monitor) ConnState(key string, now time.Time, state http.ConnState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, known := m.conns[key]

	if state == http.StateNew { // Every other state requires a pre-existing connection
		if known {
			m.anomalies["reopened"]++
		}
		m.conns[key] = &connEntry{opened: now}
		m.opened++
		if len(m.conns) > m.peakConns {
			m.peakConns = len(m.conns)
		}
		return
	}

	if !known {
		m.anomalies["untracked"]++
		return
	}

	switch state {
	case http.StateActive:
		c.activeSince = now
		c.active = true

	case http.StateIdle:
		if c.active {
			c.activeFor += now.Sub(c.activeSince)
			c.active = false
		}

	case http.StateHijacked, http.StateClosed:
		if c.active { // Capture the final active period
			c.activeFor += now.Sub(c.activeSince)
		}
		m.aliveTime += now.Sub(c.opened)
		m.activeTime += c.activeFor
		m.closed++
		if c.streams > 0 {
			m.anomalies["closed-busy"]++
		}
		if c.peakStreams > m.peakOnConn {
			m.peakOnConn = c.peakStreams
		}
		delete(m.conns, key)

	default:
		m.anomalies["unknown-state"]++
	}
}

// RequestStart records one request entering service on the connection identified by key. Requests
// count towards the global in-flight gauge even when their connection is unknown, so the
// concurrency numbers stay truthful for a mis-wired caller.
func (m *Monitor) RequestStart(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.inFlight++
	if m.inFlight > m.peakInFlight {
		m.peakInFlight = m.inFlight
	}

	c, known := m.conns[key]
	if !known {
		m.anomalies["orphan-request"]++
		return
	}
	c.streams++
	if c.streams > c.peakStreams {
		c.peakStreams = c.streams
	}
}

// RequestDone undoes RequestStart.
func (m *Monitor) RequestDone(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inFlight == 0 {
		m.anomalies["unbalanced-done"]++
	} else {
		m.inFlight--
	}

	if c, known := m.conns[key]; known && c.streams > 0 {
		c.streams--
	}
}

// PeakRequests returns the peak request concurrency, optionally clamping the peak back down to
// the current in-flight count. The clamp takes effect after the return value is captured.
func (m *Monitor) PeakRequests(resetCounters bool) (peak int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	peak = m.peakInFlight
	if resetCounters {
		m.peakInFlight = m.inFlight
	}

	return
}

// anomalyLine renders the anomaly tally as "reason=n,reason=n" in a stable order, or "none".
// Caller holds the lock.
func (m *Monitor) anomalyLine() string {
	if len(m.anomalies) == 0 {
		return "none"
	}

	reasons := make([]string, 0, len(m.anomalies))
	for reason := range m.anomalies {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	parts := make([]string, 0, len(reasons))
	for _, reason := range reasons {
		parts = append(parts, fmt.Sprintf("%s=%d", reason, m.anomalies[reason]))
	}

	return strings.Join(parts, ",")
}

// Name implements the reporter interface
func (m *Monitor) Name() string {
	return "HTTP Track"
}

/*
Report implements the reporter interface. Zero counters if resetCounters is true; gauges for
still-live connections and in-flight requests survive a reset, with peaks clamped down to the
current values.

conns=2 pk=3 opened=9 closed=7 reqs=1 pk=4 onconn=2 alive=61.5s active=12.0s anomalies=none name
      ^    ^        ^        ^      ^    ^        ^          ^           ^             ^    ^
      |    |        |        |      |    |        |          |           |             |    +--Monitor name
      |    |        |        |      |    |        |          |           |             +--Impossible transitions by reason
      |    |        |        |      |    |        |          |           +--Serving time of closed connections
      |    |        |        |      |    |        |          +--Lifetime of closed connections
      |    |        |        |      |    |        +--Peak requests on any one connection
      |    |        |        |      |    +--Peak concurrent requests
      |    |        |        |      +--Requests in flight now
      |    |        |        +--Connections closed or hijacked
      |    |        +--Connections accepted
      |    +--Peak concurrent connections
      +--Connections open now
*/
func (m *Monitor) Report(resetCounters bool) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	report := fmt.Sprintf("conns=%d pk=%d opened=%d closed=%d reqs=%d pk=%d onconn=%d alive=%0.1fs active=%0.1fs anomalies=%s %s",
		len(m.conns), m.peakConns, m.opened, m.closed, m.inFlight, m.peakInFlight, m.peakOnConn,
		m.aliveTime.Round(time.Millisecond*100).Seconds(),
		m.activeTime.Round(time.Millisecond*100).Seconds(),
		m.anomalyLine(), m.name)

	if resetCounters {
		m.opened, m.closed = 0, 0
		m.peakConns = len(m.conns)
		m.peakInFlight = m.inFlight
		m.peakOnConn = 0
		m.aliveTime, m.activeTime = 0, 0
		m.anomalies = make(map[string]int)
	}

	return report
}
