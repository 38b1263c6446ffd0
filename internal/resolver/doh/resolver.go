/*
Package doh implements the client side of DNS-over-HTTPS (RFC8484) for a single upstream DoH
server. A doh.Resolver meets the resolve.SingleResolver contract, so a set of them is normally
placed under the multi-server dispatch engine which handles fan-out, retries and arbitration:

	var members []resolve.SingleResolver
	for _, url := range urls {
		r, err := doh.New(doh.Config{ServerURL: url}, httpClient)
		...
		members = append(members, r)
	}
	engine, err := resolve.NewFromResolvers(members, resolve.Config{})
	reply, err := engine.Send(ctx, query)
*/
package doh

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/nandorik/fanresolve/internal/constants"
	"github.com/nandorik/fanresolve/internal/dnsutil"
	"github.com/nandorik/fanresolve/internal/resolve"

	"github.com/miekg/dns"
)

// HTTPClientDo is an interface which implements http.Client.Do() - the only http.Client method
// this resolver uses. It mainly exists so a mock http.Client can be supplied for testing, since
// http.Client is an implementation struct rather than an interface.
type HTTPClientDo interface {
	Do(*http.Request) (*http.Response, error)
}

const me = "resolver/doh"

// dex = Doh Error indeX into the per-server errors array
type dexInt int

const (
	dexPackDNSQuery dexInt = iota
	dexCreateHTTPRequest
	dexDoRequest
	dexNonStatusOk
	dexResponseReadAll
	dexContentType
	dexUnpackDNSResponse
	dexArraySize
)

// resolverStats is a separate struct so resetCounters is one struct copy.
type resolverStats struct {
	success                                     int
	ecsRemoved, ecsSet, ecsRequest, ecsReturned int
	totalLatency, serverLatency                 time.Duration
	failures                                    [dexArraySize]int
}

// Resolver performs one DNS transaction at a time against one DoH server.
type Resolver struct {
	consts constants.Constants
	config Config

	httpClient      HTTPClientDo
	httpMethod      string // Normally POST
	ecsFamily       int    // 0 = none, 1 = ipv4, 2 = ipv6 (miekg/dns has no consts for these)
	ecsPrefixLength int    // Only valid if ecsFamily != 0
	ecsIP           net.IP // Only valid if ecsFamily != 0
	ecsRequestData  string

	mu sync.RWMutex // Protects everything below here

	timeout    time.Duration
	ednsSize   int
	tsigName   string
	tsigSecret string

	resolverStats
}

// New creates a Resolver for the single DoH server named by config.ServerURL. A lot of what the
// cli programs using us have already validated gets re-checked here, but that's unavoidable as we
// can't rely on callers to get our config right.
func New(config Config, httpClient HTTPClientDo) (*Resolver, error) {
	if len(config.ServerURL) == 0 {
		return nil, errors.New(me + ": A DoH server URL is required")
	}

	t := &Resolver{config: config, httpClient: httpClient}
	if t.httpClient == nil {
		t.httpClient = http.DefaultClient
	}

	t.consts = constants.Get()

	t.timeout = config.Timeout
	if t.timeout <= 0 {
		t.timeout = resolve.Quantum
	}

	t.httpMethod = http.MethodPost
	if t.config.UseGetMethod {
		if t.config.ECSSetCIDR != nil ||
			t.config.ECSRequestIPv4PrefixLen != 0 || t.config.ECSRequestIPv6PrefixLen != 0 {
			return nil, errors.New(me + ": Cannot have ECS settings active when using HTTP GET")
		}
		t.httpMethod = http.MethodGet
	}

	if t.config.ECSSetCIDR != nil { // Validate the CIDR then pre-digest it
		if t.config.ECSRequestIPv4PrefixLen != 0 || t.config.ECSRequestIPv6PrefixLen != 0 {
			return nil, errors.New(me + ": Cannot have ECSSetCIDR active with ECSRequest*PrefixLen settings")
		}
		maxMaskSize := 0
		switch {
		case t.config.ECSSetCIDR.IP.To4() != nil:
			t.ecsFamily = 1
			maxMaskSize = 32

		case t.config.ECSSetCIDR.IP.To16() != nil:
			t.ecsFamily = 2
			maxMaskSize = 128

		default:
			return nil, fmt.Errorf(me+":Unknown IP family in ECSSetCIDR: %v", t.config.ECSSetCIDR)
		}

		maskSize, _ := t.config.ECSSetCIDR.Mask.Size()
		if maskSize < 0 || maskSize > maxMaskSize {
			return nil, fmt.Errorf(me+"Mask size of %d exceeds family limit of %d in ECSSetCIDR: %v",
				maskSize, maxMaskSize, t.config.ECSSetCIDR)
		}

		t.ecsPrefixLength = maskSize
		t.ecsIP = t.config.ECSSetCIDR.IP
	}

	if t.config.ECSRequestIPv4PrefixLen < 0 || t.config.ECSRequestIPv4PrefixLen > 32 {
		return nil, fmt.Errorf(me+": Invalid IPv4 Prefix Length: %d. Must be in range 0-32",
			t.config.ECSRequestIPv4PrefixLen)
	}
	if t.config.ECSRequestIPv6PrefixLen < 0 || t.config.ECSRequestIPv6PrefixLen > 128 {
		return nil, fmt.Errorf(me+": Invalid IPv6 Prefix Length: %d. Must be in range 0-128",
			t.config.ECSRequestIPv6PrefixLen)
	}
	if t.config.ECSRequestIPv4PrefixLen > 0 || t.config.ECSRequestIPv6PrefixLen > 0 {
		t.ecsRequestData = fmt.Sprintf("%d/%d",
			t.config.ECSRequestIPv4PrefixLen, t.config.ECSRequestIPv6PrefixLen)
	}

	return t, nil
}

// Name identifies this server for dispatch logging and reporter output.
func (t *Resolver) Name() string {
	return t.config.ServerURL
}

// Setter plumbing so a Resolver can sit under the dispatch engine's fan-out setters. Port and
// transport choices are baked into the server URL and HTTPS respectively, so those two are
// accepted and ignored. Truncation never happens over DoH (RFC8484 6).

func (t *Resolver) SetPort(port int) {}

func (t *Resolver) SetTCP(tcp bool) {}

func (t *Resolver) SetIgnoreTruncation(ignore bool) {}

func (t *Resolver) SetEDNS(size int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ednsSize = size
}

func (t *Resolver) SetTSIGKey(name, secret string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tsigName = dns.Fqdn(name)
	t.tsigSecret = secret
}

func (t *Resolver) SetTimeout(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeout = d
}

// prepare applies the ECS rules to the query prior to transport. The general philosophy is to
// know as little about the query as possible - in part because we don't need to and in part to
// insulate us from future DNS enhancements we may not understand.
//
// The rules, applied in order and only to mutable-looking IN queries:
//
// 1. If ECSRemove is set remove any ECS OPT from the query.
//
// 2. If ECSSetCIDR is non-nil and there is no ECS OPT in the query (perhaps because of rule 1)
// then synthesize an ECS OPT from the CIDR.
//
// 3. If ECSRequest prefix lengths are set and there is no ECS OPT in the query (perhaps because
// of rule 1) then arrange for the SynthesizeECS HTTP header asking the far end to synthesize an
// ECS option from the HTTPS client source address. Zero prefix values in that header tell the far
// end *not* to generate an ECS under *any* circumstances.
func (t *Resolver) prepare(q *dns.Msg, msgIsMutable bool) (ecsRequestData string, tracking ecsTracking) {
	tracking.originalRetained = true
	if q.MsgHdr.Opcode != dns.OpcodeQuery ||
		len(q.Question) != 1 ||
		q.Question[0].Qclass != dns.ClassINET ||
		!msgIsMutable {
		return "", tracking
	}

	ecsPresent := false
	if _, ecs := dnsutil.FindECS(q); ecs != nil {
		ecsPresent = true
	}

	if t.config.ECSRemove && ecsPresent {
		tracking.removed = dnsutil.RemoveEDNS0FromOPT(q, dns.EDNS0SUBNET)
		tracking.originalRetained = false
		ecsPresent = false
	}

	if t.config.ECSSetCIDR != nil && !ecsPresent {
		dnsutil.CreateECS(q, t.ecsFamily, t.ecsPrefixLength, t.ecsIP)
		tracking.originalRetained = false
		tracking.set = true
		ecsPresent = true
	}

	if len(t.ecsRequestData) > 0 && !ecsPresent {
		ecsRequestData = t.ecsRequestData
		tracking.originalRetained = false
		tracking.requested = true
	}

	return ecsRequestData, tracking
}

// ecsTracking follows what the ECS rules did to one query so the response handling and stats know
// what to expect.
type ecsTracking struct {
	originalRetained bool // Whether the query's original ECS went to the DoH server untouched
	removed          bool
	set              bool
	requested        bool
	returned         bool
}

// Send performs one synchronous DoH exchange. The caller's msg is never mutated - it may be
// shared across every server dispatched within one engine call - so all adjustments are applied
// to a private copy.
func (t *Resolver) Send(ctx context.Context, msg *dns.Msg) (*dns.Msg, error) {
	t.mu.RLock()
	timeout := t.timeout
	ednsSize := t.ednsSize
	tsigName, tsigSecret := t.tsigName, t.tsigSecret
	t.mu.RUnlock()

	startTime := time.Now()
	originalId := msg.MsgHdr.Id // Saved for reconstitution from the returned result

	q := msg.Copy()

	// RFC2845 says a TSIG message *cannot* be modified in *any* way excepting the Id otherwise
	// the signature becomes invalid. A query we are about to sign ourselves is equally
	// untouchable.

	msgIsMutable := q.IsTsig() == nil && tsigName == ""

	if ednsSize > 0 && msgIsMutable {
		q.SetEdns0(uint16(ednsSize), false)
	}

	ecsRequestData, tracking := t.prepare(q, msgIsMutable)

	if t.httpMethod == http.MethodGet { // Msg ID SHOULD be zero for GET to aid cache friendliness
		q.MsgHdr.Id = 0
	}

	// Serialize the query into the semantic-free binary blob HTTPS transports. A TSIG key
	// means dns.TsigGenerate does the packing so the signature covers the final message;
	// otherwise PadAndPack applies RFC8467 padding when configured.

	var binary []byte
	var err error
	switch {
	case tsigName != "":
		q.SetTsig(tsigName, dns.HmacSHA256, 300, time.Now().Unix())
		binary, _, err = dns.TsigGenerate(q, tsigSecret, "", false)

	case t.config.GeneratePadding && msgIsMutable:
		binary, err = dnsutil.PadAndPack(q, t.consts.Rfc8467ClientPadModulo)

	default:
		binary, err = q.Pack()
	}
	if err != nil {
		t.addFailure(dexPackDNSQuery)
		return nil, errors.New(me + ":Msg Pack" + err.Error())
	}

	// With GET the query rides base64url-encoded in the query string; with POST it is the raw
	// binary request body.

	url := t.config.ServerURL
	var rd io.Reader
	if t.httpMethod == http.MethodGet {
		url += "?" + t.consts.Rfc8484QueryParam + "=" + base64.URLEncoding.EncodeToString(binary)
	} else {
		rd = bytes.NewReader(binary)
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, t.httpMethod, url, rd)
	if err != nil {
		t.addFailure(dexCreateHTTPRequest)
		return nil, err
	}

	req.Header.Set(t.consts.AcceptHeader, t.consts.Rfc8484AcceptValue)      // RFC SHOULD
	req.Header.Set(t.consts.ContentTypeHeader, t.consts.Rfc8484AcceptValue) // RFC MUST
	req.Header.Set(t.consts.UserAgentHeader,
		t.consts.PackageName+"/"+t.consts.Version+" ("+t.consts.PackageURL+")")

	// The far end re-checks mutability itself, but there's no point spending header space on a
	// synthesis request that can't be honoured.

	if len(ecsRequestData) > 0 && msgIsMutable {
		req.Header.Set(t.consts.SynthesizeECSRequestHeader, ecsRequestData)
	}

	resp, err := t.httpClient.Do(req)
	totalDuration := time.Since(startTime)

	if err != nil {
		t.addFailure(dexDoRequest)
		return nil, classifyError(ctx, err)
	}

	defer resp.Body.Close() // net/http advises this Close() to avoid a resource leak

	if resp.StatusCode != http.StatusOK { // Only a 200 ok will do
		t.addFailure(dexNonStatusOk)
		qName := "?"
		if len(q.Question) >= 1 {
			qName = q.Question[0].Name
		}
		return nil, fmt.Errorf(me+": Bad HTTP Status: %s with %s query id=%d qName=%s",
			resp.Status, t.config.ServerURL, q.Id, qName)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.addFailure(dexResponseReadAll)
		return nil, fmt.Errorf(me+": Body Read Error: %s", err.Error())
	}

	ct := resp.Header.Get(t.consts.ContentTypeHeader)
	if ct != t.consts.Rfc8484AcceptValue {
		t.addFailure(dexContentType)
		return nil, fmt.Errorf(me+": Expected Content-Type of '%s' but got '%s'",
			t.consts.Rfc8484AcceptValue, ct)
	}

	if uint(len(body)) < t.consts.MinimumViableDNSMessage {
		t.addFailure(dexContentType)
		return nil, fmt.Errorf(me+": Response message length of %d is less than minimum viable of %d",
			len(body), t.consts.MinimumViableDNSMessage)
	}

	// The HTTP response is starting to look good. Extract the payload.

	var serverDuration time.Duration
	if hv := resp.Header.Get(t.consts.DurationHeader); len(hv) > 0 {
		serverDuration, _ = time.ParseDuration(hv) // Ignore errors as it doesn't matter
	}

	reply := &dns.Msg{}
	if err = reply.Unpack(body); err != nil {
		t.addFailure(dexUnpackDNSResponse)
		return nil, fmt.Errorf(me+": dns.Unpack of reply failed: %s", err.Error())
	}

	replyIsMutable := reply.IsTsig() == nil

	// RFC8484 5.1 says to adjust TTLs down by Age (a caching HTTPS proxy could inject one). It
	// fails to say what to do when Age exceeds the TTL; we never reduce below 1s as a TTL of
	// zero is not well defined and a little protection of the caller seems kind.

	if replyIsMutable {
		if ageValue := resp.Header.Get(t.consts.AgeHeader); len(ageValue) > 0 {
			ttlAdjust, perr := strconv.ParseUint(ageValue, 10, 32) // TTL is 32bit so...
			if perr == nil && ttlAdjust > 0 {
				dnsutil.ReduceTTL(reply, uint32(ttlAdjust), 1)
			}
		}
	}

	if tracking.set || tracking.requested || tracking.removed {
		if _, ecs := dnsutil.FindECS(reply); ecs != nil && ecs.SourceScope > 0 {
			tracking.returned = true
		}
	}

	// Where allowed, mould the response back towards the original query: recover the original
	// ID (possibly zeroed for GET), conditionally redact an ECS we synthesized or modified,
	// and strip returned padding when we generated query padding.

	reply.MsgHdr.Id = originalId
	if replyIsMutable {
		if !tracking.originalRetained && t.config.ECSRedactResponse {
			dnsutil.RemoveEDNS0FromOPT(reply, dns.EDNS0SUBNET)
		}
		if t.config.GeneratePadding {
			dnsutil.RemoveEDNS0FromOPT(reply, dns.EDNS0PADDING)
		}
	}

	t.addSuccessStats(totalDuration, serverDuration, tracking)

	return reply, nil
}

// SendAsync runs Send on a fresh goroutine and delivers exactly one listener callback.
func (t *Resolver) SendAsync(ctx context.Context, msg *dns.Msg, listener resolve.Listener) resolve.Handle {
	h := resolve.NextHandle()
	go func() {
		reply, err := t.Send(ctx, msg)
		if err != nil {
			listener.OnException(h, err)
			return
		}
		listener.OnMessage(h, reply)
	}()
	return h
}

// classifyError separates a cancellation of the *caller's* context - transient as far as this
// server's health is concerned - from a genuine transport failure, which includes our own
// per-attempt timeout firing.
func classifyError(callerCtx context.Context, err error) error {
	if errors.Is(err, context.Canceled) && callerCtx.Err() != nil {
		return fmt.Errorf("%w: %v", resolve.ErrInterrupted, err)
	}
	return err
}
