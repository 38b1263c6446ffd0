package resolve

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"
)

// Quantum is the default per-attempt timeout given to every SingleResolver constructed by New,
// NewFromHostnames or AddResolver's defaulting path. It is intentionally short so that retry
// pressure across the server list builds quickly rather than a single slow server exhausting the
// caller's patience.
const Quantum = 20 * time.Second

// DefaultRetries is the default maximum number of attempts made against any one server during a
// single Send call.
const DefaultRetries = 3

// Handle is an opaque identifier returned by SingleResolver.SendAsync, used to correlate the
// eventual listener callback with the attempt that produced it. Handles only need to be unique
// among outstanding attempts; callers must not assume any ordering.
type Handle uint64

var handleCounter atomic.Uint64

// NextHandle allocates a fresh, process-wide unique Handle. SingleResolver implementations use
// this so that Handles remain unique across every server dispatched within a single Send call,
// regardless of how many distinct SingleResolver implementations participate.
func NextHandle() Handle {
	return Handle(handleCounter.Add(1))
}

// Listener receives exactly one callback per SendAsync call: either OnMessage or OnException,
// never both and never zero times.
type Listener interface {
	OnMessage(h Handle, msg *dns.Msg)
	OnException(h Handle, err error)
}

// SingleResolver is the per-server collaborator ExtendedResolver fans queries out to. One
// SingleResolver owns one upstream server's transport/timeout/TSIG configuration and can perform
// one DNS transaction at a time, synchronously or asynchronously. It is expected to be safe for
// concurrent use by multiple callers.
type SingleResolver interface {
	// Send performs one synchronous query against this server.
	Send(ctx context.Context, msg *dns.Msg) (*dns.Msg, error)

	// SendAsync starts a query against this server and returns a Handle immediately without
	// blocking. The listener is invoked exactly once, from another goroutine, with either
	// OnMessage or OnException.
	SendAsync(ctx context.Context, msg *dns.Msg, listener Listener) Handle

	// Name identifies the server, chiefly for logging and reporting.
	Name() string

	// Fan-out setters. ExtendedResolver merely iterates its server list and forwards these.
	SetPort(port int)
	SetTCP(tcp bool)
	SetIgnoreTruncation(ignore bool)
	SetEDNS(size int)
	SetTSIGKey(name, secret string)
	SetTimeout(d time.Duration)
}

// Logger is consulted for diagnostic output describing dispatches, receipts and exceptions. It is
// constructor-injected rather than read from process-wide state so each resolver's verbosity can
// be flipped independently. A nil Logger is legal and silently discards everything.
type Logger interface {
	Logf(format string, args ...interface{})
}

type discardLogger struct{}

func (discardLogger) Logf(string, ...interface{}) {}

// Observer is notified of each per-server dispatch and receipt so callers can keep performance
// statistics without the engine owning any. Received reports err == nil with the reply's rcode,
// or a non-nil err with rcode undefined. Latency is measured from the attempt's dispatch to the
// integration of its response. Callbacks arrive from the goroutine running Send, never
// concurrently within one call, but possibly concurrently across calls.
type Observer interface {
	Dispatched(server string, attempt int)
	Received(server string, latency time.Duration, rcode int, err error)
}
