package resolve

import (
	"context"
	"time"

	"github.com/miekg/dns"
)

// receiver bridges per-server callbacks into the response queue: two methods closing over the
// idTable and queue owned by a single sendState. A callback whose handle is no longer registered
// is dropped - its Send call has already returned.
type receiver struct {
	idt   *idTable
	queue *responseQueue
}

func (r *receiver) OnMessage(h Handle, msg *dns.Msg) {
	if ix, ok := r.idt.take(h); ok {
		r.queue.push(response{serverIndex: ix, msg: msg})
	}
}

func (r *receiver) OnException(h Handle, err error) {
	if ix, ok := r.idt.take(h); ok {
		r.queue.push(response{serverIndex: ix, err: err})
	}
}

// sendState is the per-call mutable state described for a single Send: dispatch/receipt counters,
// invalidation flags, the arbitration winner so far, and the plumbing (idTable, queue, receiver)
// that ties asynchronous callbacks back to this one call.
type sendState struct {
	servers []SingleResolver
	retries int
	query   *dns.Msg

	sent       []int
	recvd      []int
	invalid    []bool
	dispatched []time.Time // Dispatch time of the (sole) outstanding attempt per server

	best    *dns.Msg
	bestErr error

	idt      *idTable
	queue    *responseQueue
	receiver *receiver

	logger   Logger
	observer Observer
}

func newSendState(servers []SingleResolver, retries int, query *dns.Msg, logger Logger, observer Observer) *sendState {
	n := len(servers)
	idt := newIDTable()
	queue := newResponseQueue(n)
	return &sendState{
		servers:    servers,
		retries:    retries,
		query:      query,
		sent:       make([]int, n),
		recvd:      make([]int, n),
		invalid:    make([]bool, n),
		dispatched: make([]time.Time, n),
		idt:        idt,
		queue:      queue,
		receiver:   &receiver{idt: idt, queue: queue},
		logger:     logger,
		observer:   observer,
	}
}

// scan implements step 1 of the dispatch loop: find the next server eligible for a fresh dispatch,
// scanning start..start+N-1 modulo N. It returns the first dispatch candidate found (stopping the
// scan there, per the algorithm), plus whether any server anywhere in the full scan still has an
// outstanding (sent but not yet received) attempt.
func (s *sendState) scan(start int) (idx int, dispatch bool, waiting bool) {
	n := len(s.servers)
	for k := 0; k < n; k++ {
		r := (start + k) % n
		if !dispatch && s.sent[r] == s.recvd[r] && s.sent[r] < s.retries && !s.invalid[r] {
			idx, dispatch = r, true
		}
		if s.recvd[r] < s.sent[r] {
			waiting = true
		}
	}
	return idx, dispatch, waiting
}

// dispatch sends one more attempt to server idx. The idTable lock spans the SendAsync call itself,
// per idTable's documented invariant, so a callback that fires before SendAsync returns still finds
// its handle registered.
func (s *sendState) dispatch(ctx context.Context, idx int) {
	s.sent[idx]++
	s.dispatched[idx] = time.Now()
	server := s.servers[idx]

	s.idt.lock()
	h := server.SendAsync(ctx, s.query, s.receiver)
	s.idt.putLocked(h, idx)
	s.idt.unlock()

	if s.observer != nil {
		s.observer.Dispatched(server.Name(), s.sent[idx])
	}
	if s.logger != nil {
		s.logger.Logf("%s: dispatch server=%d name=%s attempt=%d", me, idx, server.Name(), s.sent[idx])
	}
}

// integrate applies step 3 of the dispatch loop to one received tuple. It returns (msg, true) the
// moment a NOERROR response arrives - the only case in which the loop returns early instead of
// looping back to scan.
func (s *sendState) integrate(r response) (*dns.Msg, bool) {
	s.recvd[r.serverIndex]++
	latency := time.Since(s.dispatched[r.serverIndex])

	if s.observer != nil {
		rcode := -1
		if r.msg != nil {
			rcode = r.msg.Rcode
		}
		s.observer.Received(s.servers[r.serverIndex].Name(), latency, rcode, r.err)
	}

	if r.err != nil {
		if !IsInterrupted(r.err) {
			s.invalid[r.serverIndex] = true
		}
		if s.bestErr == nil {
			s.bestErr = r.err
		}
		if s.logger != nil {
			s.logger.Logf("%s: exception server=%d err=%v", me, r.serverIndex, r.err)
		}
		return nil, false
	}

	if s.logger != nil {
		s.logger.Logf("%s: receipt server=%d rcode=%s", me, r.serverIndex, dns.RcodeToString[r.msg.Rcode])
	}

	if r.msg.Rcode == dns.RcodeSuccess {
		return r.msg, true
	}

	s.invalid[r.serverIndex] = true
	s.best = arbitrate(s.best, r.msg)
	return nil, false
}

// run drives the dispatch/retry/arbitrate loop to completion starting the scan at startIndex. It
// returns the winning message, or the best error captured, or ErrNoResponse if neither ever
// materialised.
func (s *sendState) run(ctx context.Context, startIndex int) (*dns.Msg, error) {
	for {
		idx, dispatch, waiting := s.scan(startIndex)
		if dispatch {
			s.dispatch(ctx, idx)
			continue // keep firing any other immediately-eligible servers before blocking
		}
		if !waiting {
			break
		}

		r, ok := s.queue.popOrWait(ctx)
		if !ok {
			return nil, ctx.Err()
		}
		if msg, done := s.integrate(r); done {
			return msg, nil
		}
	}

	if s.best != nil {
		return s.best, nil
	}
	if s.bestErr != nil {
		return nil, s.bestErr
	}
	return nil, ErrNoResponse
}
