// Package resolver defines the seam between transport-facing servers and resolution backends: a
// Resolver turns one dns.Msg query into one dns.Msg response, plus metadata describing how the
// resolution went.
package resolver

import (
	"time"

	"github.com/miekg/dns"
)

// DNSTransportType names the transport a query arrived over or a response was obtained with.
type DNSTransportType string

const (
	DNSTransportUndefined DNSTransportType = ""
	DNSTransportHTTP      DNSTransportType = "http"
	DNSTransportUDP       DNSTransportType = "udp"
	DNSTransportTCP       DNSTransportType = "tcp"
)

// QueryMetaData carries out-of-band facts about the query handed to Resolve, such as the
// transport the original inbound query arrived over, letting a Resolver make decisions a raw
// dns.Msg cannot express - DNS messages, unlike most latter-day protocols, have nowhere to put
// ad-hoc metadata. There isn't much here yet; it exists chiefly so the Resolve signature doesn't
// churn every time something is added.
type QueryMetaData struct {
	TransportType DNSTransportType // Of the original inbound query
}

// ResponseMetaData describes how a Resolve call went - mostly statistics and trace material for
// reporters.
type ResponseMetaData struct {
	TransportType DNSTransportType // Final transport used with the resultant query

	TransportDuration  time.Duration // Excludes ResolutionDuration
	ResolutionDuration time.Duration // Time spent in the actual resolution system
	// Total elapsed = TransportDuration + ResolutionDuration

	PayloadSize     int
	QueryTries      int    // Resolution attempts made
	ServerTries     int    // Distinct servers tried
	FinalServerUsed string // Name of the last server attempted
}

// Resolver is the contract between a DNS-speaking front end and whatever produces answers for it.
type Resolver interface {
	// InBailiwick reports whether this resolver claims qName.
	InBailiwick(qName string) bool

	// Resolve answers the query. queryMeta may be nil.
	Resolve(query *dns.Msg, queryMeta *QueryMetaData) (resp *dns.Msg, respMeta *ResponseMetaData, err error)
}
