package fanout

import (
	"context"
	"time"

	"github.com/miekg/dns"

	"github.com/nandorik/fanresolve/internal/resconf"
	"github.com/nandorik/fanresolve/internal/resolve"
	"github.com/nandorik/fanresolve/internal/resolver"
)

// Resolver meets the resolver.Resolver interface by fanning every query out across the system's
// configured nameservers in parallel via resolve.ExtendedResolver, rather than trying one server
// at a time.
type Resolver struct {
	engine *resolve.ExtendedResolver
	conf   *resconf.Conf // InBailiwick decisions come from the same file as the server list

	stats stats
}

// New discovers nameservers from ResolvConfPath and builds a fanout.Resolver that dispatches to
// all of them in parallel.
func New(cfg Config) (*Resolver, error) {
	conf, err := resconf.Load(cfg.ResolvConfPath, cfg.LocalDomains...)
	if err != nil {
		return nil, err
	}

	hostports := conf.Servers()
	if len(hostports) == 0 {
		hostports = []string{"127.0.0.1"}
	}

	engine, err := resolve.NewFromHostnames(hostports, resolve.Config{
		Retries:     cfg.Retries,
		LoadBalance: cfg.LoadBalance,
		Logger:      cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Timeout > 0 {
		engine.SetTimeout(cfg.Timeout)
	}

	return &Resolver{engine: engine, conf: conf}, nil
}

// InBailiwick reports whether qName falls under the resolv.conf-derived local domain list.
func (r *Resolver) InBailiwick(qName string) bool {
	return r.conf.InBailiwick(qName)
}

// InBailiwickDomains returns the local domains this resolver claims.
func (r *Resolver) InBailiwickDomains() []string {
	return r.conf.Domains()
}

// Resolve fans q out across every configured nameserver and returns the arbitrated winner.
func (r *Resolver) Resolve(q *dns.Msg, qMeta *resolver.QueryMetaData) (*dns.Msg, *resolver.ResponseMetaData, error) {
	transportType := resolver.DNSTransportUDP
	if qMeta != nil && qMeta.TransportType != resolver.DNSTransportUndefined {
		transportType = qMeta.TransportType
	}

	start := time.Now()
	reply, err := r.engine.Send(context.Background(), q)
	elapsed := time.Since(start)
	r.stats.record(err == nil, elapsed)
	if err != nil {
		return nil, nil, err
	}

	respMeta := &resolver.ResponseMetaData{
		TransportType:      transportType,
		ResolutionDuration: elapsed,
		PayloadSize:        reply.Len(),
	}
	return reply, respMeta, nil
}

// Engine exposes the underlying ExtendedResolver for callers (the server's reporter, chiefly) that
// want fan-out-specific controls - SetRetries, SetLoadBalance, AddResolver, and so on.
func (r *Resolver) Engine() *resolve.ExtendedResolver {
	return r.engine
}
