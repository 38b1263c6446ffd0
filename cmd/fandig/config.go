package main

import (
	"time"

	"github.com/nandorik/fanresolve/internal/flagutil"
)

type config struct {
	help     bool
	parallel bool
	short    bool
	verbose  bool
	version  bool

	servers    flagutil.StringValue // Repeatable -s server[:port] plain DNS members
	dohServers flagutil.StringValue // Repeatable -S DoH server URL members

	resolvConf string // Consulted when no -s/-S members are supplied

	tcp              bool
	ignoreTruncation bool
	port             int
	edns             int
	retries          int
	loadBalance      bool
	timeout          time.Duration

	tsigKey string // name:secret

	useGetMethod    bool
	generatePadding bool
	ecsRemove       bool
	ecsRequestIPv4  int
	ecsRequestIPv6  int
	ecsSet          string

	tlsUseSystemRootCAs bool
	tlsCAFiles          flagutil.StringValue
	tlsClientCertFile   string
	tlsClientKeyFile    string

	repeatCount int
}
