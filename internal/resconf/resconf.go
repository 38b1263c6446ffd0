// Package resconf discovers the system resolver configuration. It parses a resolv.conf-format
// file into the pieces the rest of this project cares about: a dialable nameserver list and the
// set of local domain suffixes used for bailiwick decisions.
package resconf

import (
	"errors"
	"strings"

	"github.com/miekg/dns"
)

const me = "resconf"

// DefaultPath is consulted when a caller supplies no explicit resolv.conf path.
const DefaultPath = "/etc/resolv.conf"

// Conf is the digested system resolver configuration.
type Conf struct {
	servers []string // host:port, ipv6 hosts wrapped in brackets
	domains []string // lowercased, guarded with leading and trailing dots
}

// Load parses the resolv.conf-format file at path and merges extraDomains into the local domain
// set. Parsing is delegated to miekg/dns; this function only normalises the results. An empty
// path falls back to DefaultPath.
//
// Note that resolv.conf parsing is loosely defined across platforms - "domain" and "search"
// overwrite each other in file order, and nameserver port syntax varies - so whatever
// dns.ClientConfigFromFile decides is taken as the truth.
func Load(path string, extraDomains ...string) (*Conf, error) {
	if path == "" {
		path = DefaultPath
	}
	cc, err := dns.ClientConfigFromFile(path)
	if err != nil {
		return nil, errors.New(me + ": " + err.Error())
	}

	c := &Conf{}
	for _, s := range cc.Servers {
		if strings.Contains(s, ":") { // ipv6 - bracket so the port can be appended safely
			s = "[" + s + "]"
		}
		c.servers = append(c.servers, s+":"+cc.Port)
	}

	seen := make(map[string]bool)
	for _, domain := range append(cc.Search, extraDomains...) {
		if domain == "" {
			continue
		}
		domain = guard(strings.ToLower(domain))
		if strings.Contains(domain, "..") {
			return nil, errors.New(me + ": Double dots in local domain name: " + domain)
		}
		if !seen[domain] {
			seen[domain] = true
			c.domains = append(c.domains, domain)
		}
	}

	return c, nil
}

// guard wraps name in leading and trailing dots so suffix comparisons can never span labels and
// exact matches fall out of the same comparison.
func guard(name string) string {
	if name[0] != '.' {
		name = "." + name
	}
	if name[len(name)-1] != '.' {
		name += "."
	}
	return name
}

// Servers returns the discovered nameservers as host:port strings ready to dial, in file order.
func (c *Conf) Servers() []string {
	return append([]string(nil), c.servers...)
}

// Domains returns the normalised local domain list with the guard dots removed.
func (c *Conf) Domains() (ret []string) {
	for _, d := range c.domains {
		ret = append(ret, d[1:len(d)-1])
	}

	return
}

// InBailiwick reports whether qName falls under one of the local domains. It is a suffix match on
// label boundaries: "feedme.lulu.example.net" matches a local domain of "lulu.example.net" but
// "feedmelulu.example.net" does not.
//
// A bare name with no dots is claimed whenever at least one local domain exists, since an
// unqualified name is unlikely to resolve anywhere else.
func (c *Conf) InBailiwick(qName string) bool {
	if !strings.Contains(qName, ".") {
		return len(c.domains) > 0
	}

	qName = guard(strings.ToLower(qName))
	for _, d := range c.domains {
		if strings.HasSuffix(qName, d) {
			return true
		}
	}

	return false
}
