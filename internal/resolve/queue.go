package resolve

import (
	"context"

	"github.com/miekg/dns"
)

// response is one tuple passed from a receiver callback to the dispatch loop: a DNS message or an
// I/O error, tagged with the index of the server that produced it. Exactly one of msg and err is
// set.
type response struct {
	serverIndex int
	msg         *dns.Msg
	err         error
}

// responseQueue is a FIFO of response tuples. There is a single consumer - the goroutine running
// Send - and potentially many producers, one per outstanding attempt's receiver callback. push is
// a channel send, popOrWait is a channel receive guarded by ctx so Send can unblock on
// cancellation even with nothing queued.
type responseQueue struct {
	ch chan response
}

// newResponseQueue allocates a queue sized to hold one outstanding response per server, which is
// enough that no producer ever blocks on push - every index can have at most one response in
// flight between dispatch and receipt, since a server is only re-dispatched once its prior attempt
// has been integrated.
func newResponseQueue(servers int) *responseQueue {
	if servers < 1 {
		servers = 1
	}
	return &responseQueue{ch: make(chan response, servers)}
}

// push appends a tuple and wakes the single waiter, if any.
func (q *responseQueue) push(r response) {
	q.ch <- r
}

// tryPop returns the next tuple without blocking. ok is false if the queue is currently empty.
func (q *responseQueue) tryPop() (response, bool) {
	select {
	case r := <-q.ch:
		return r, true
	default:
		return response{}, false
	}
}

// popOrWait blocks until a tuple is available or ctx is done, in which case ok is false.
func (q *responseQueue) popOrWait(ctx context.Context) (response, bool) {
	select {
	case r := <-q.ch:
		return r, true
	case <-ctx.Done():
		return response{}, false
	}
}
