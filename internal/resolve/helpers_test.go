package resolve

import (
	"context"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// scriptedAct describes what a scriptedResolver's Nth SendAsync call delivers and after how long.
type scriptedAct struct {
	delay time.Duration
	msg   *dns.Msg
	err   error
}

// scriptedResolver is a test double for SingleResolver. Each call to SendAsync consumes the next
// scripted act (the last one repeats once exhausted), delivering it to the listener after delay on
// a fresh goroutine - mirroring how a real transport callback arrives asynchronously.
type scriptedResolver struct {
	name string
	acts []scriptedAct

	mu    sync.Mutex
	calls int
}

func (s *scriptedResolver) Name() string { return s.name }

func (s *scriptedResolver) nextAct() scriptedAct {
	s.mu.Lock()
	defer s.mu.Unlock()
	ix := s.calls
	s.calls++
	if ix >= len(s.acts) {
		ix = len(s.acts) - 1
	}
	return s.acts[ix]
}

func (s *scriptedResolver) Send(ctx context.Context, msg *dns.Msg) (*dns.Msg, error) {
	act := s.nextAct()
	if act.delay > 0 {
		time.Sleep(act.delay)
	}
	return act.msg, act.err
}

func (s *scriptedResolver) SendAsync(ctx context.Context, msg *dns.Msg, listener Listener) Handle {
	h := NextHandle()
	act := s.nextAct()
	go func() {
		if act.delay > 0 {
			time.Sleep(act.delay)
		}
		if act.err != nil {
			listener.OnException(h, act.err)
			return
		}
		listener.OnMessage(h, act.msg)
	}()
	return h
}

func (s *scriptedResolver) SetPort(int)                 {}
func (s *scriptedResolver) SetTCP(bool)                 {}
func (s *scriptedResolver) SetIgnoreTruncation(bool)    {}
func (s *scriptedResolver) SetEDNS(int)                 {}
func (s *scriptedResolver) SetTSIGKey(name, secret string) {}
func (s *scriptedResolver) SetTimeout(time.Duration)    {}

func msgWithRcode(rcode int) *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion("example.com.", dns.TypeA)
	m.Rcode = rcode
	return m
}
