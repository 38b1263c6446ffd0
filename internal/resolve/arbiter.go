package resolve

import "github.com/miekg/dns"

// arbitrate implements the cross-server response arbitration rule: authoritative non-existence
// beats a generic failure, and the first non-NOERROR response seen is otherwise kept. NOERROR
// never reaches here - the dispatch loop short-circuits and returns it directly, since a
// successful answer always wins regardless of arrival order.
func arbitrate(best, incoming *dns.Msg) *dns.Msg {
	if best == nil {
		return incoming
	}
	if incoming.Rcode == dns.RcodeNameError && best.Rcode != dns.RcodeNameError {
		return incoming
	}
	return best
}
