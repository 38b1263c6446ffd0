package doh

import (
	"net"
	"time"
)

// Config is passed to the New() constructor. One doh.Resolver speaks to exactly one DoH server
// URL - fanning a query out across several URLs is the dispatch engine's job, with one Resolver
// constructed per member.
type Config struct {
	ServerURL string // Base URL of the DoH server, e.g. https://doh.example.net/dns-query

	UseGetMethod    bool // Instead of the default POST
	GeneratePadding bool // RFC8467 query and response padding with zeroes

	ECSRedactResponse       bool       // If synthesized/set, remove ECS before returning to client
	ECSRemove               bool       // Remove ECS options from inbound queries
	ECSRequestIPv4PrefixLen int        // Server-side synthesis if client address is IPv4 - 0=no synth
	ECSRequestIPv6PrefixLen int        // Server-side synthesis if client address is IPv6 - 0=no synth
	ECSSetCIDR              *net.IPNet // Set the ECS locally with this CIDR - cannot have ECSRequest* as well

	Timeout time.Duration // Per-attempt bound. Defaults to resolve.Quantum
}
