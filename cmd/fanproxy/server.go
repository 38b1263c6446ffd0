package main

/*

This module is the DNS-facing half of the proxy. It accepts a traditional DNS query, hands it to
the appropriate resolver - the split-horizon local fan-out or the DoH dispatch engine - and
returns the response.

The main area of interest here is truncation. A response from an upstream DoH server can easily be
larger than our downstream client allows over UDP, so in some cases we must truncate and set TC=1.
A DoH response can also arrive with TC=1 already set, which must be passed through.

Under no circumstances do we ever clear TC=1 even though some other DNS proxies are known to do
this. Our view is that clearing it hides information from the client and robs it of the ability to
make fully informed choices. In the same vein we retain as much of the response as possible when
we truncate, so a client incapable of a TCP re-query at least has something to work with - in the
common case of an address lookup there are highly likely to be some answers that fit.

When and how to truncate and what to do with a truncated response was meant to be clarified by
rfc2181, which seems only to have muddied the waters. In one breath it says "Where TC is set, the
partial RRSet that would not completely fit may be left in the response", suggesting partial
answers have value; in the next it says a client receiving TC "should ignore that response, and
query again", suggesting they have none. Ugg. We give the client as much as possible and let it
decide. Having said all that, TC=1 responses are rare events so spending too much time worrying
about corner-cases probably isn't productive.

*/

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/nandorik/fanresolve/internal/dnsutil"
	"github.com/nandorik/fanresolve/internal/resolver"

	"github.com/miekg/dns"
)

const ( // ser = Server ERror index into failureCounters
	serNoResponse = iota // iota resets to zero in each const() spec set
	serDNSWriteFailed
	serListSize
)

const ( // ev = EVent index into events array
	evInTruncated  = iota // Upstream returned TC=1
	evOutTruncated        // We set TC=1
	evListSize
)

type events [evListSize]bool

type stats struct {
	successCount    int              // Queries that ran to completion without error
	totalLatency    time.Duration    // Duration of all successful queries
	eventCounters   [evListSize]int  // Events that occur during the course of a query
	failureCounters [serListSize]int // Errors that stop a query from progressing
}

type server struct {
	stdout        io.Writer
	remote        resolver.Resolver // Mandatory resolver - never nil
	local         resolver.Resolver // Optional split-horizon resolver - may be nil
	listenAddress string
	transport     string // One of listenTransports
	server        *dns.Server

	mu sync.RWMutex // Protects everything below - everything above is read-only or self-protected

	inFlight     int // Queries currently inside ServeDNS. Live gauges - a stats reset
	peakInFlight int // clamps the peak but never touches the current count.

	stats
}

// start starts up the dns server and writes to errorChan at server exit. The server's
// NotifyStartedFunc is used to actually wait until the socket is opened, so no setuid delay fudge
// is needed. Too bad net/http hasn't got a NotifyStartedFunc. It's all a bit messy because a
// socket that cannot be opened causes an early return of ListenAndServe with no call to
// NotifyStartedFunc - logical, but it takes some juggling to return to the caller in a consistent
// state either way.
func (t *server) start(errorChan chan error, wg *sync.WaitGroup) {
	var notifyWG sync.WaitGroup
	var once sync.Once

	notifyWG.Add(1)
	t.server = &dns.Server{Addr: t.listenAddress, Net: t.transport, Handler: t, NotifyStartedFunc: func() {
		once.Do(func() { notifyWG.Done() })
	}}

	wg.Add(1) // Add to caller's waitGroup
	go func() {
		errorChan <- t.server.ListenAndServe()
		once.Do(func() { notifyWG.Done() })
		wg.Done()
	}()
	notifyWG.Wait() // Only return once the server is listening (or has failed)
}

// ServeDNS is called once per query in a newly created go-routine.
func (t *server) ServeDNS(writer dns.ResponseWriter, query *dns.Msg) {
	var evs events // Track events for the end-of-request call to addSuccessStats()

	t.enter() // Track peak concurrency for reporting purposes
	defer t.leave()

	// Default to the remote fan-out. Only use the local resolver if one exists and the qName
	// is in its bailiwick.

	currResolver := t.remote
	inType := "Cr:"  // Client In to remote fan-out
	outType := "CO:" // Client Out
	if t.local != nil && len(query.Question) > 0 && t.local.InBailiwick(query.Question[0].Name) {
		inType = "Cl:" // Client In to local resolver
		currResolver = t.local
	}

	if cfg.logClientIn {
		fmt.Fprintln(t.stdout, inType+writer.RemoteAddr().String()+":"+dnsutil.CompactMsgString(query))
	}

	// Hand the query to the chosen resolver. The fan-out engine manages failures and retries
	// itself so there is no recovery loop here, and an error cannot sensibly be conveyed in a
	// DNS response anyway - the best bet is to stay silent and let the client retry if it
	// chooses to.

	queryStart := time.Now() // Track latency
	resp, respMeta, err := currResolver.Resolve(query,
		&resolver.QueryMetaData{TransportType: resolver.DNSTransportType(t.transport)})
	duration := time.Since(queryStart)
	if err != nil {
		t.addFailureStats(serNoResponse, evs)
		msg := err.Error()
		if cfg.logClientOut || (cfg.logTLSErrors && strings.Contains(msg, "x509: ")) {
			fmt.Fprintln(t.stdout, "CE:"+dnsutil.CompactMsgString(query), msg)
		}
		return
	}

	// Check for the need to truncate the response. The client's size limit comes from the
	// inbound DNS query OPT, not any residual or alternative OPT that may be present in the
	// upstream response. We use our definition of truncated rather than msg.Truncate() (which
	// has changed over time) and we also preserve the Truncated flag if it's already set.

	evs[evInTruncated] = resp.Truncated
	if t.transport == consts.DNSUDPTransport && respMeta.PayloadSize > consts.DNSTruncateThreshold {
		limit := consts.DNSTruncateThreshold
		opt := query.IsEdns0()                        // Only use client's upper limit from query
		if opt != nil && int(opt.UDPSize()) > limit { // if present *and* GT system limit
			limit = int(opt.UDPSize())
		}
		if respMeta.PayloadSize > limit { // Only call Truncate() if we have to
			evs[evOutTruncated] = true
			preserveTruncated := resp.Truncated
			beforeCount := len(resp.Answer) + len(resp.Ns) + len(resp.Extra)
			resp.Truncate(limit)
			afterCount := len(resp.Answer) + len(resp.Ns) + len(resp.Extra)
			resp.Truncated = resp.Truncated || preserveTruncated || beforeCount != afterCount
		}
	}

	err = writer.WriteMsg(resp)
	if err != nil {
		t.addFailureStats(serDNSWriteFailed, evs)
		if cfg.logClientOut {
			fmt.Fprintln(t.stdout, "CE:"+err.Error())
		}
		return
	}

	t.addSuccessStats(duration, evs)
	if cfg.logClientOut {
		fmt.Fprintln(t.stdout, outType+dnsutil.CompactMsgString(resp), duration)
	}
}

// stop performs an orderly shutdown of listen sockets.
func (t *server) stop() {
	if t.server != nil {
		t.server.Shutdown()
	}
}
