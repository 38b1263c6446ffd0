package dnsutil

import (
	"fmt"

	"github.com/miekg/dns"
)

// FindPadding returns the length of the first EDNS0_PADDING sub-option anywhere in the Extra RR
// list, or -1 when no padding exists. Presence of padding is the signal from a DoH client that
// the DoH server should pad its response.
func FindPadding(msg *dns.Msg) int {
	length := -1
	forEachOPT(msg, func(opt *dns.OPT) bool {
		for _, subOpt := range opt.Option {
			if pad, ok := subOpt.(*dns.EDNS0_PADDING); ok {
				length = len(pad.Padding)
				return false
			}
		}
		return true
	})

	return length
}

// PadAndPack packs the message with an EDNS0_PADDING sub-option sized so the packed length is a
// multiple of moduloSize, creating the OPT RR if the message has none. RFC8467 recommends queries
// pad "to the closest multiple of 128 octets" and responses to "a multiple of 468 octets" (one
// assumes "closest multiple" was meant there too).
//
// Any pre-existing padding option is removed first: padding is hop-by-hop, so whatever arrived
// with the message has already served its protective and signalling purpose.
//
// Packing happens in here precisely so the caller cannot modify the message afterwards and
// invalidate the carefully selected padding size. Even a message already at an exact modulo
// length gets a (zero length) padding option, because the option itself signals the remote end to
// pad its response.
//
// WARNING: dns.Msg.Len() and dns.Msg.Pack() only behave with well-formed DNS messages, and can
// disagree with each other, so this function also only works with properly formed messages.
//
// Returns the dns.Pack() byte slice or an error.
func PadAndPack(msg *dns.Msg, moduloSize uint) ([]byte, error) {
	if moduloSize < 1 || moduloSize > consts.MaximumViableDNSMessage {
		return nil, fmt.Errorf("PadAndPack: Modulo size %d is not in range 1-%d",
			moduloSize, consts.MaximumViableDNSMessage)
	}

	var optRR *dns.OPT
	if len(msg.Extra) > 0 {
		RemoveEDNS0FromOPT(msg, dns.EDNS0PADDING)
		optRR = FindOPT(msg)
	}
	if optRR == nil {
		optRR = NewOPT()
		msg.Extra = append(msg.Extra, optRR)
	}

	// The message now has an OPT RR and no padding. Append a zero length padding option first
	// so the option's own overhead is included in the length we size the real padding from.

	padding := &dns.EDNS0_PADDING{Padding: make([]byte, 0)}
	optRR.Option = append(optRR.Option, padding)

	mLen := msg.Len() // Expensive call - do it once

	extraPadding := (moduloSize - uint(mLen)%moduloSize) % moduloSize
	if extraPadding > 0 { // Zero means we got lucky and the empty option landed exactly
		padding.Padding = make([]byte, extraPadding)
		optRR.Option[len(optRR.Option)-1] = padding
	}

	packed, err := msg.Pack()
	if err != nil {
		return nil, fmt.Errorf("PadAndPack dns.Pack() failed: %s", err.Error())
	}

	// Len() and Pack() do not share a code path so verify the modulo actually came out right.
	if uint(len(packed))%moduloSize != 0 {
		return nil, fmt.Errorf("PadAndPack dns.Pack() created unexpected length of %d with mod %d",
			len(packed), moduloSize)
	}

	return packed, nil
}
