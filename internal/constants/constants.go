// Package constants holds the values shared across every fanresolve command and package. Callers
// invoke Get() which returns the Constants struct by value, so accidental mutation can never leak
// into other packages.
//
// Typical usage:
//
//	consts := constants.Get()
//	fmt.Println("I am", consts.ProxyProgramName, "based on", consts.RFC)
//
// The values live in a constructed struct rather than the usual const () block so they can be fed
// straight into templating packages when rendering usage messages.
package constants

// Constants contains the system-wide constants
type Constants struct {
	DigProgramName    string
	ProxyProgramName  string
	ServerProgramName string
	Version           string
	PackageName       string
	PackageURL        string
	RFC               string

	HTTPSDefaultPort string // HTTP related constants
	AgeHeader        string

	AcceptHeader      string // Placed in every request
	ContentTypeHeader string
	UserAgentHeader   string

	DurationHeader             string // Server header with time.Duration of server-side resolution
	SynthesizeECSRequestHeader string // Proxy header with ipv4, ipv6 prefix length

	ConnectionValue    string
	Rfc8484AcceptValue string

	Rfc8484Path       string
	Rfc8484QueryParam string

	DNSDefaultPort          string // DNS related constants
	MinimumViableDNSMessage uint   // MsgHdr + one Question with a zero length name
	DNSTruncateThreshold    int    // A message larger than this may be truncated unless EDNS0
	MaximumViableDNSMessage uint   // RFC8484 defines an upper limit
	Rfc8467ClientPadModulo  uint
	Rfc8467ServerPadModulo  uint

	DNSUDPTransport string // Suitable for the "net" package, kept here so every
	DNSTCPTransport string // package spells them identically.
}

var readOnlyConstants = &Constants{
	DigProgramName:    "fandig",
	ProxyProgramName:  "fanproxy",
	ServerProgramName: "fanserver",
	Version:           "v0.1.0",
	PackageName:       "Fanresolve",
	PackageURL:        "https://github.com/nandorik/fanresolve",
	RFC:               "RFC8484",

	HTTPSDefaultPort: "443",

	AgeHeader: "Age",

	AcceptHeader:      "Accept",
	ContentTypeHeader: "Content-Type",
	UserAgentHeader:   "User-Agent",

	DurationHeader:             "X-Fanresolve-Duration",
	SynthesizeECSRequestHeader: "X-Fanresolve-Synth",

	ConnectionValue:    "Keep-Alive",
	Rfc8484AcceptValue: "application/dns-message",

	Rfc8484Path:       "/dns-query",
	Rfc8484QueryParam: "dns",

	DNSDefaultPort:          "53",
	MinimumViableDNSMessage: 16, // A legit binary DNS message *cannot* be shorter than this
	DNSTruncateThreshold:    512,
	MaximumViableDNSMessage: 65535,
	Rfc8467ClientPadModulo:  128,
	Rfc8467ServerPadModulo:  468,

	DNSUDPTransport: "udp",
	DNSTCPTransport: "tcp",
}

// Get returns a copy of the Constants struct. Returned by value so internal values cannot be
// inadvertently changed by callers.
func Get() Constants {
	return *readOnlyConstants
}
