package resolve

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// netResolver is the concrete SingleResolver this package ships: one upstream server reached over
// plain DNS (UDP, falling back to TCP on truncation unless told not to, or TCP-only if configured).
// It performs exactly one attempt per Send - retrying is the dispatch loop's job, one level up.
type netResolver struct {
	mu sync.RWMutex

	host             string // bare host or IP, no port
	port             int
	tcp              bool
	ignoreTruncation bool
	ednsSize         int
	tsigName         string
	tsigSecret       string
	timeout          time.Duration
}

// newNetResolver builds a netResolver for host, which may already carry a ":port" suffix (as
// resconf-normalised resolv.conf entries do) or may be bare, in which case DefaultDNSPort
// applies.
func newNetResolver(hostport string) *netResolver {
	host, port := splitHostPort(hostport)
	return &netResolver{host: host, port: port, timeout: Quantum}
}

// NewNetResolver exposes the plain-DNS SingleResolver for callers assembling a mixed member list
// by hand rather than via NewFromHostnames.
func NewNetResolver(hostport string) SingleResolver {
	return newNetResolver(hostport)
}

// DefaultDNSPort is the port assumed for a server address with no explicit port.
const DefaultDNSPort = 53

func splitHostPort(hostport string) (string, int) {
	if strings.HasPrefix(hostport, "[") { // [ipv6]:port or [ipv6]
		if ix := strings.LastIndex(hostport, "]:"); ix >= 0 {
			var port int
			fmt.Sscanf(hostport[ix+2:], "%d", &port)
			return hostport[1:ix], port
		}
		return strings.Trim(hostport, "[]"), DefaultDNSPort
	}
	if ix := strings.LastIndex(hostport, ":"); ix >= 0 && strings.Count(hostport, ":") == 1 {
		var port int
		fmt.Sscanf(hostport[ix+1:], "%d", &port)
		return hostport[:ix], port
	}
	return hostport, DefaultDNSPort
}

func (r *netResolver) Name() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.addrLocked()
}

func (r *netResolver) addrLocked() string {
	if strings.Contains(r.host, ":") {
		return fmt.Sprintf("[%s]:%d", r.host, r.port)
	}
	return fmt.Sprintf("%s:%d", r.host, r.port)
}

func (r *netResolver) SetPort(port int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.port = port
}

func (r *netResolver) SetTCP(tcp bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tcp = tcp
}

func (r *netResolver) SetIgnoreTruncation(ignore bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ignoreTruncation = ignore
}

func (r *netResolver) SetEDNS(size int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ednsSize = size
}

func (r *netResolver) SetTSIGKey(name, secret string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tsigName = dns.Fqdn(name)
	r.tsigSecret = secret
}

func (r *netResolver) SetTimeout(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeout = d
}

func (r *netResolver) snapshot() netResolver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return *r
}

// Send performs one synchronous exchange against this server. The caller's msg is never mutated -
// it is shared across every server dispatched within a single Send call, so EDNS/TSIG are applied
// to a private copy.
func (r *netResolver) Send(ctx context.Context, msg *dns.Msg) (*dns.Msg, error) {
	cfg := r.snapshot()

	q := msg.Copy()
	if cfg.ednsSize > 0 {
		q.SetEdns0(uint16(cfg.ednsSize), false)
	}

	client := &dns.Client{Net: "udp", Timeout: cfg.timeout}
	if cfg.tcp {
		client.Net = "tcp"
	}
	if cfg.tsigName != "" {
		q.SetTsig(cfg.tsigName, dns.HmacSHA256, 300, time.Now().Unix())
		client.TsigSecret = map[string]string{cfg.tsigName: cfg.tsigSecret}
	}

	addr := cfg.addrLocked()
	reply, _, err := client.ExchangeContext(ctx, q, addr)
	if err != nil {
		return nil, classifyError(err)
	}

	if !cfg.tcp && !cfg.ignoreTruncation && reply.Truncated {
		tcpClient := &dns.Client{Net: "tcp", Timeout: cfg.timeout}
		if cfg.tsigName != "" {
			tcpClient.TsigSecret = client.TsigSecret
		}
		tcpReply, _, tcpErr := tcpClient.ExchangeContext(ctx, q, addr)
		if tcpErr == nil {
			return tcpReply, nil
		}
		// TCP fallback failed; return the original truncated UDP answer rather than masking it.
	}

	return reply, nil
}

// SendAsync runs Send on a fresh goroutine and delivers exactly one listener callback.
func (r *netResolver) SendAsync(ctx context.Context, msg *dns.Msg, listener Listener) Handle {
	h := NextHandle()
	go func() {
		reply, err := r.Send(ctx, msg)
		if err != nil {
			listener.OnException(h, err)
			return
		}
		listener.OnMessage(h, reply)
	}()
	return h
}

// classifyError distinguishes an externally-cancelled context (transient - the server stays
// eligible) from every other transport failure (a server-specific fault).
func classifyError(err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrInterrupted, err)
	}
	return err
}
