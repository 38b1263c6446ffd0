package main

import (
	"context"
	"strings"
	"time"

	"github.com/nandorik/fanresolve/internal/resolve"
	"github.com/nandorik/fanresolve/internal/resolver"

	"github.com/miekg/dns"
)

// remoteResolver adapts the multi-server dispatch engine - with one DoH member per server URL -
// to the resolver.Resolver seam the DNS-facing server consumes.
type remoteResolver struct {
	engine *resolve.ExtendedResolver
}

// InBailiwick is a not-very-robust test for whether this resolver can handle the name in
// question. It liberally accepts anything that looks vaguely like a FQDN according to the miekg
// checker routines.
func (t *remoteResolver) InBailiwick(qName string) bool {
	if !strings.Contains(qName, ".") {
		return false
	}

	_, ok := dns.IsDomainName(qName)
	return ok && dns.IsFqdn(qName)
}

// Resolve fans the query out across every DoH server and returns the arbitrated winner.
func (t *remoteResolver) Resolve(q *dns.Msg, qMeta *resolver.QueryMetaData) (*dns.Msg, *resolver.ResponseMetaData, error) {
	startTime := time.Now()
	reply, err := t.engine.Send(context.Background(), q)
	elapsed := time.Since(startTime)
	if err != nil {
		return nil, nil, err
	}

	respMeta := &resolver.ResponseMetaData{
		TransportType:      resolver.DNSTransportHTTP,
		ResolutionDuration: elapsed,
		PayloadSize:        reply.Len(),
	}

	return reply, respMeta, nil
}
