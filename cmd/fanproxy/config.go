package main

import (
	"time"

	"github.com/nandorik/fanresolve/internal/flagutil"
)

type config struct {
	gops    bool
	help    bool
	tcp     bool // Listen on TCP
	udp     bool // Listen on UDP
	verbose bool
	version bool

	listenAddresses flagutil.StringValue // Listen address for inbound DNS queries

	localResolvConf string
	localDomains    flagutil.StringValue // In addition to those in resolv.conf
	statusInterval  time.Duration

	maximumRemoteConnections int
	requestTimeout           time.Duration

	retries     int  // Maximum attempts per DoH server within one resolution
	loadBalance bool // Rotate the first DoH server dispatched to across queries

	useGetMethod    bool
	generatePadding bool

	ecsRedactResponse bool
	ecsRemove         bool
	ecsRequestIPv4    int
	ecsRequestIPv6    int
	ecsSet            string

	logAll       bool // Turns on all other log options
	logClientIn  bool // Print the DNS query arriving from the client
	logClientOut bool // Print the DNS response returned to the client
	logTLSErrors bool // Print x509 errors returned from the DoH exchange

	tlsClientCertFile   string // Connect to the DoH servers using these credentials
	tlsClientKeyFile    string
	tlsCAFiles          flagutil.StringValue // Non-system root CAs to validate DoH servers
	tlsUseSystemRootCAs bool                 // Do/Do not use system root CAs to validate DoH servers

	cpuprofile, memprofile string

	setuidName, setgidName, chrootDir string // Process constraint settings
}
