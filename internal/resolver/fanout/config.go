// Package fanout adapts resolve.ExtendedResolver - the multi-server dispatch/retry/arbitration
// engine - to the resolver.Resolver interface, handling in-bailiwick queries by fanning them out
// across the nameservers discovered from the system resolver configuration.
package fanout

import (
	"time"

	"github.com/nandorik/fanresolve/internal/resolve"
)

// Config is passed to New.
type Config struct {
	ResolvConfPath string   // Defaults to /etc/resolv.conf
	LocalDomains   []string // In addition to those found in ResolvConfPath

	Retries     int // Defaults to resolve.DefaultRetries
	LoadBalance bool
	Timeout     time.Duration // Per-attempt timeout; defaults to resolve.Quantum

	Logger resolve.Logger
}
