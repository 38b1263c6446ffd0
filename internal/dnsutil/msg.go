/*
Package dnsutil manipulates the fiddly corners of a "github.com/miekg/dns.Msg": EDNS0 Client
Subnet sub-options, TTL reduction and RFC8467 padding. Callers are assumed to have already
verified that the dns.Msg is a legitimate IN/Query before reaching for any of these functions.
*/
package dnsutil

import (
	"net"

	"github.com/nandorik/fanresolve/internal/constants"

	"github.com/miekg/dns"
)

var (
	consts = constants.Get()
)

// forEachOPT invokes fn for every OPT RR found in msg.Extra, stopping early when fn returns
// false. A well-formed message holds at most one OPT but we deliberately tolerate - and visit -
// extras.
func forEachOPT(msg *dns.Msg, fn func(*dns.OPT) bool) {
	for _, rr := range msg.Extra {
		if opt, ok := rr.(*dns.OPT); ok {
			if !fn(opt) {
				return
			}
		}
	}
}

// FindOPT returns the first OPT RR in dns.Msg.Extra, or nil. There should only be one.
func FindOPT(msg *dns.Msg) (found *dns.OPT) {
	forEachOPT(msg, func(opt *dns.OPT) bool {
		found = opt
		return false
	})

	return
}

// FindECS returns the first EDNS_SUBNET sub-option anywhere in the Extra RR list, together with
// the OPT RR containing it. The search deliberately spans every OPT present - more aggressive
// than the standard message format intends, but an ECS must not be missed merely because it sits
// in ostensibly the wrong place. Returns nil, nil when no ECS exists.
func FindECS(msg *dns.Msg) (foundOpt *dns.OPT, foundECS *dns.EDNS0_SUBNET) {
	forEachOPT(msg, func(opt *dns.OPT) bool {
		for _, subOpt := range opt.Option {
			if ecs, ok := subOpt.(*dns.EDNS0_SUBNET); ok {
				foundOpt, foundECS = opt, ecs
				return false
			}
		}
		return true
	})

	return
}

// RemoveEDNS0FromOPT strips every occurrence of the given EDNS0 sub-option code from the Extra RR
// list, making the worst-case assumption that multiple OPTs each holding multiple matching
// sub-options may exist. An OPT left empty by the removal is dropped entirely.
//
// Returns true if at least one sub-option was removed.
func RemoveEDNS0FromOPT(msg *dns.Msg, edns0Code uint16) (removed bool) {
	survivors := make([]dns.RR, 0, len(msg.Extra))
	for _, rr := range msg.Extra {
		inOpt, ok := rr.(*dns.OPT)
		if !ok { // Non-OPT RRs are never touched
			survivors = append(survivors, rr)
			continue
		}

		outOpt := &dns.OPT{Hdr: inOpt.Hdr}
		for _, subOpt := range inOpt.Option {
			if subOpt.Option() == edns0Code {
				removed = true
				continue
			}
			outOpt.Option = append(outOpt.Option, subOpt)
		}
		if len(outOpt.Option) > 0 {
			survivors = append(survivors, outOpt)
		}
	}

	if removed {
		msg.Extra = survivors
	}

	return
}

// CreateECS appends a newly-minted EDNS0_SUBNET sub-option to the message's OPT, creating the OPT
// first if the message has none. No check is made for a pre-existing EDNS0_SUBNET - that is the
// caller's business.
//
// Returns the created ecs sub-option.
func CreateECS(msg *dns.Msg, family, prefixLength int, ip net.IP) *dns.EDNS0_SUBNET {
	ecs := &dns.EDNS0_SUBNET{
		Code:          dns.EDNS0SUBNET,
		Family:        uint16(family),
		SourceNetmask: uint8(prefixLength),
		Address:       ip, // dns.OPT.pack() truncates this to SourceNetmask
	}

	optRR := FindOPT(msg)
	if optRR == nil {
		optRR = NewOPT()
		msg.Extra = append(msg.Extra, optRR)
	}

	optRR.Option = append(optRR.Option, ecs)

	return ecs
}

// ReduceTTL lowers the TTL of every RR in Answer, Ns and Extra by "by", never dropping any TTL
// below "minimum" and never touching TTLs already at or below it. Returns how many TTLs changed.
func ReduceTTL(msg *dns.Msg, by uint32, minimum uint32) int {
	changeCount := 0
	for _, rrset := range [][]dns.RR{msg.Answer, msg.Ns, msg.Extra} {
		changeCount += reduceRRSet(rrset, int64(by), int64(minimum))
	}

	return changeCount
}

// reduceRRSet does the arithmetic for one RR set. by and minimum originate from uint32 values so
// signed 64bit calculations comfortably hold every interim value, negatives included.
func reduceRRSet(rrset []dns.RR, by int64, minimum int64) int {
	changeCount := 0
	for _, rr := range rrset {
		hdr := rr.Header()
		ttl := int64(hdr.Ttl)
		if ttl <= minimum { // Already at or below the floor
			continue
		}
		ttl -= by
		if ttl < minimum { // Catches negatives as well as merely too small
			ttl = minimum
		}
		if uint32(ttl) != hdr.Ttl {
			hdr.Ttl = uint32(ttl)
			changeCount++
		}
	}

	return changeCount
}

// NewOPT creates a fully-populated OPT RR since a zero-value struct is not a valid OPT. Note that
// SetUDPSize matters to some ECS-aware resolvers - unbound in particular does not seem to like a
// UDP size of zero.
func NewOPT() *dns.OPT {
	optRR := &dns.OPT{}
	optRR.SetVersion(0)
	optRR.SetUDPSize(dns.DefaultMsgSize)
	optRR.Hdr.Name = "."
	optRR.Hdr.Rrtype = dns.TypeOPT

	return optRR
}
