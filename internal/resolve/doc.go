/*
Package resolve implements a multi-server DNS stub resolver. A single query is fanned out in
parallel across a configured set of upstream servers, retried per-server on loss, and the best
available response is returned to the caller.

It solves the reliability problem of stub resolution where any individual upstream server may be
slow, unreachable or return a transient failure: by dispatching to all configured servers with
bounded per-server retries and a staggered scan order, latency tracks whichever server answers
first while correctness survives any individual server's failure.

Typical usage:

	r, err := resolve.New(resolve.Config{})      // auto-discover from /etc/resolv.conf
	if err != nil {
		...
	}
	query := new(dns.Msg)
	query.SetQuestion(dns.Fqdn("example.com"), dns.TypeA)
	reply, err := r.Send(context.Background(), query)

Resolution itself is not implemented here - recursion, caching, zone data and DNSSEC validation are
explicitly out of scope. This package only arbitrates across upstream stub responses.

The per-server collaborator is the SingleResolver interface - it owns one upstream server's
transport/timeout/TSIG configuration and performs one DNS transaction at a time. ExtendedResolver
merely fans a query out to a list of these, in the manner of res_send(3) fanned out across N
servers simultaneously instead of one at a time.
*/
package resolve

const me = "resolve"
