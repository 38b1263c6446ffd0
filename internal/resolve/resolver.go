package resolve

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"

	"github.com/nandorik/fanresolve/internal/resconf"
)

// Config configures New, the auto-discovery constructor.
type Config struct {
	ResolvConfPath string // Defaults to /etc/resolv.conf
	Retries        int    // Defaults to DefaultRetries
	LoadBalance    bool
	Logger         Logger   // Defaults to a silent logger
	Observer       Observer // Optional per-attempt statistics sink
}

// ExtendedResolver is the multi-server stub resolver: it fans one query out across N member
// SingleResolvers in parallel, retries per-server on loss, and arbitrates among the responses that
// come back. It is the core engine this package exists to provide.
type ExtendedResolver struct {
	mu      sync.RWMutex
	servers []SingleResolver

	retries     int
	loadBalance bool
	lbStart     atomic.Uint64 // rotation cursor, advanced once per Send call when loadBalance is set

	logger   Logger
	observer Observer
	pool     *workerPool
}

// New auto-discovers upstream servers from the system resolver configuration (resolv.conf). If
// none are found it falls back to a single default server at 127.0.0.1, so construction always
// yields at least one usable member.
func New(cfg Config) (*ExtendedResolver, error) {
	var hostports []string
	if conf, err := resconf.Load(cfg.ResolvConfPath); err == nil {
		hostports = conf.Servers()
	}
	if len(hostports) == 0 {
		hostports = []string{"127.0.0.1"}
	}

	return NewFromHostnames(hostports, cfg)
}

// NewFromHostnames constructs one netResolver per entry in hostports (host, or host:port), each
// defaulted to Quantum's timeout so retry pressure builds quickly.
func NewFromHostnames(hostports []string, cfg Config) (*ExtendedResolver, error) {
	if len(hostports) == 0 {
		return nil, ErrNoServers
	}
	servers := make([]SingleResolver, 0, len(hostports))
	for _, hp := range hostports {
		servers = append(servers, newNetResolver(hp))
	}
	return NewFromResolvers(servers, cfg)
}

// NewFromResolvers adopts a pre-built list of SingleResolvers as-is - no timeout override, since
// the caller is presumed to have configured them already.
func NewFromResolvers(servers []SingleResolver, cfg Config) (*ExtendedResolver, error) {
	if len(servers) == 0 {
		return nil, ErrNoServers
	}

	retries := cfg.Retries
	if retries <= 0 {
		retries = DefaultRetries
	}
	logger := cfg.Logger
	if logger == nil {
		logger = discardLogger{}
	}

	r := &ExtendedResolver{
		servers:     append([]SingleResolver(nil), servers...),
		retries:     retries,
		loadBalance: cfg.LoadBalance,
		logger:      logger,
		observer:    cfg.Observer,
		pool:        newWorkerPool(),
	}
	return r, nil
}

// startIndex computes the scan start for one Send call, advancing the rotation cursor exactly once
// per call when load balancing is enabled. The update is a relaxed atomic increment, matching the
// design's explicit tolerance for a benign race on which call gets which start under concurrent
// Send calls.
func (r *ExtendedResolver) startIndex() int {
	r.mu.RLock()
	n := len(r.servers)
	lb := r.loadBalance
	r.mu.RUnlock()

	if !lb || n == 0 {
		return 0
	}
	return int(r.lbStart.Add(1)-1) % n
}

// Send issues query against every configured server in parallel (subject to per-server retry
// limits and staggered dispatch) and returns the first NOERROR reply, or the best arbitrated
// non-NOERROR reply, or the first I/O error observed, per the arbitration rules.
func (r *ExtendedResolver) Send(ctx context.Context, query *dns.Msg) (*dns.Msg, error) {
	r.mu.RLock()
	servers := append([]SingleResolver(nil), r.servers...)
	retries := r.retries
	logger := r.logger
	observer := r.observer
	r.mu.RUnlock()

	if len(servers) == 0 {
		return nil, ErrNoServers
	}

	start := r.startIndex()
	state := newSendState(servers, retries, query, logger, observer)
	return state.run(ctx, start)
}

// SendAsync is the AsyncFront: it allocates a handle, schedules Send on the worker pool, and
// returns immediately. The listener is invoked exactly once, from another goroutine.
func (r *ExtendedResolver) SendAsync(ctx context.Context, query *dns.Msg, listener Listener) Handle {
	h := NextHandle()
	r.pool.submit(func() {
		reply, err := r.Send(ctx, query)
		if err != nil {
			listener.OnException(h, err)
			return
		}
		listener.OnMessage(h, reply)
	})
	return h
}

// --- Fan-out setters: pure iteration over the member server list. ---

func (r *ExtendedResolver) SetPort(port int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.servers {
		s.SetPort(port)
	}
}

func (r *ExtendedResolver) SetTCP(tcp bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.servers {
		s.SetTCP(tcp)
	}
}

func (r *ExtendedResolver) SetIgnoreTruncation(ignore bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.servers {
		s.SetIgnoreTruncation(ignore)
	}
}

func (r *ExtendedResolver) SetEDNS(size int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.servers {
		s.SetEDNS(size)
	}
}

func (r *ExtendedResolver) SetTSIGKey(name, secret string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.servers {
		s.SetTSIGKey(name, secret)
	}
}

func (r *ExtendedResolver) SetTimeout(d time.Duration) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.servers {
		s.SetTimeout(d)
	}
}

func (r *ExtendedResolver) SetLoadBalance(lb bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadBalance = lb
}

// SetObserver installs (or clears) the per-attempt statistics sink. Handy when the observer needs
// the member names, which are only known once construction has finished.
func (r *ExtendedResolver) SetObserver(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observer = o
}

func (r *ExtendedResolver) SetRetries(retries int) {
	if retries <= 0 {
		retries = DefaultRetries
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries = retries
}

// --- Server list maintenance. ---

// AddResolver appends server to the member list, applying the same Quantum-second default timeout
// given to auto/hostname-constructed servers so newly added members retry at the same cadence.
func (r *ExtendedResolver) AddResolver(server SingleResolver) {
	server.SetTimeout(Quantum)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.servers = append(r.servers, server)
}

// DeleteResolver removes the first member for which server.Name() matches, reporting whether one
// was found.
func (r *ExtendedResolver) DeleteResolver(server SingleResolver) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.servers {
		if s.Name() == server.Name() {
			r.servers = append(r.servers[:i], r.servers[i+1:]...)
			return true
		}
	}
	return false
}

// GetResolver returns the member at index i, or nil if i is out of range.
func (r *ExtendedResolver) GetResolver(i int) SingleResolver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i < 0 || i >= len(r.servers) {
		return nil
	}
	return r.servers[i]
}

// GetResolvers returns a copy of the current member list, in order.
func (r *ExtendedResolver) GetResolvers() []SingleResolver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]SingleResolver(nil), r.servers...)
}
