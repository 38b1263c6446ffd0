package main

import (
	"fmt"
	"io"
	"text/template"
	"time"
)

// The "flag" package is not tty aware so we've arbitrarily picked 100 columns as a conservative tty
// width for the usage output.

const usageMessageTemplate = `
NAME
          {{.DigProgramName}} -- a multi-server parallel DNS query program

SYNOPSIS
          {{.DigProgramName}} [options] FQDN [DNS-qType]

DESCRIPTION
          {{.DigProgramName}} issues one DNS query in parallel across a set of upstream servers and
          prints the arbitrated best response: the first NOERROR answer wins outright, an
          NXDOMAIN beats any other failing rcode, and an I/O error only surfaces when no
          server ever produced a message. Only qClass=IN is supported. If a DNS-qType is not
          supplied then qType=A is used.

          Upstream servers are plain DNS servers supplied with -s, DoH servers supplied
          with -S, or - when neither option appears - the nameservers discovered from the
          system resolver configuration. -s and -S can be mixed freely; every member takes
          part in the same dispatch, retry and arbitration cycle.

          **********
          Production Use Alert: {{.DigProgramName}} is a diagnostic program which will almost certainly
          change with each new package release. Please do not rely on its current behaviour
          or output format and definitely do not use it in a shell script.
          **********

EXAMPLES
          Fan out across the system resolvers:

            $ {{.DigProgramName}} yahoo.com MX

          Fan out across three public DNS servers with rotation and a dispatch trace:

            $ {{.DigProgramName}} -v --lb -s 8.8.8.8 -s 1.1.1.1 -s 9.9.9.9 yahoo.com AAAA

          Mix a local server with a public DoH server:

            $ {{.DigProgramName}} -s 127.0.0.1 -S https://mozilla.cloudflare-dns.com/dns-query yahoo.com

OPTIONS
          [-ghpv] [--short]

          [-s plain DNS server...] [-S DoH server URL...] [-c resolv.conf path]

          [-r repeat count] [-t per-attempt timeout] [--retries per-server attempts] [--lb]

          [--tcp] [--ignore-tc] [--port port] [--edns size] [--tsig name:secret]

          [--ecs-remove]
            [                                                  **Either**
                 [--ecs-request-ipv4-prefixlen prefix-len]
                 [--ecs-request-ipv6-prefixlen prefix-len]
              |                                                **Or**
                 [--ecs-set CIDR]
            ]

          [--padding]
          [--tls-cert TLS Client Certificate file]
          [--tls-key TLS Client Key file]
          [--tls-other-roots TLS Root Certificate file...]
          [--tls-use-system-roots]
          [--version]
`

//////////////////////////////////////////////////////////////////////

func usage(out io.Writer) {
	tmpl, err := template.New("usage").Parse(usageMessageTemplate)
	if err != nil {
		panic(err) // We've messed up our template
	}
	err = tmpl.Execute(out, consts)
	if err != nil {
		panic(err) // We've messed up our template
	}
	flagSet.SetOutput(out)
	flagSet.PrintDefaults()
	fmt.Fprintln(out, "\nVersion:", consts.Version)
}

// parseCommandLine sets up the flags-to-config mapping and parses the supplied command line
// arguments. It starts from scratch each time to make it easier for test wrappers to use.
func parseCommandLine(args []string) error {
	flagSet.BoolVar(&cfg.useGetMethod, "g", false, "Use HTTP GET with the 'dns' query parameter for DoH members (instead of POST)")
	flagSet.BoolVar(&cfg.help, "h", false, "Print usage message to Stdout then exit(0)")
	flagSet.BoolVar(&cfg.parallel, "p", false, "Issue all repeated queries in parallel")
	flagSet.BoolVar(&cfg.verbose, "v", false, "Trace dispatches, receipts and per-server stats to Stderr")
	flagSet.IntVar(&cfg.repeatCount, "r", 1, "`Number` of times to issue the query (GE zero)")

	flagSet.BoolVar(&cfg.short, "short", false, "Generate short output showing only Answer RRs")

	flagSet.Var(&cfg.servers, "s", "Plain DNS `server[:port]` to fan out to (repeatable)")
	flagSet.Var(&cfg.dohServers, "S", "DoH server `URL` to fan out to (repeatable)")
	flagSet.StringVar(&cfg.resolvConf, "c", "", "resolv.conf `path` for auto-discovery when no -s/-S supplied")

	flagSet.BoolVar(&cfg.tcp, "tcp", false, "Query with TCP instead of UDP")
	flagSet.BoolVar(&cfg.ignoreTruncation, "ignore-tc", false, "Accept truncated responses without a TCP retry")
	flagSet.IntVar(&cfg.port, "port", 0, "Override the `port` of every member server")
	flagSet.IntVar(&cfg.edns, "edns", 0, "Add an EDNS0 OPT with this UDP `size` to queries")
	flagSet.IntVar(&cfg.retries, "retries", 0, "Maximum `attempts` per server (default 3)")
	flagSet.BoolVar(&cfg.loadBalance, "lb", false, "Rotate the first server dispatched to across calls")
	flagSet.DurationVar(&cfg.timeout, "t", time.Second*15, "Per-attempt `timeout`")
	flagSet.StringVar(&cfg.tsigKey, "tsig", "", "TSIG `name:secret` used to sign queries")

	flagSet.BoolVar(&cfg.ecsRemove, "ecs-remove", false, "Remove inbound ECS before passing to DoH members")
	flagSet.IntVar(&cfg.ecsRequestIPv4, "ecs-request-ipv4-prefixlen", 0,
		"Server-side IPv4 ECS synthesis `Prefix-Length` (normally 24 when used)")
	flagSet.IntVar(&cfg.ecsRequestIPv6, "ecs-request-ipv6-prefixlen", 0,
		"Server-side IPv6 ECS synthesis `Prefix-Length` (normally 64 when used)")
	flagSet.StringVar(&cfg.ecsSet, "ecs-set", "", "`CIDR` to set ECS IP Address and Prefix Length")

	flagSet.BoolVar(&cfg.generatePadding, "padding", true, "Add RFC8467 recommended padding to DoH queries")

	flagSet.StringVar(&cfg.tlsClientCertFile, "tls-cert", "", "TLS Client Certificate `file`")
	flagSet.StringVar(&cfg.tlsClientKeyFile, "tls-key", "", "TLS Client Key `file`")
	flagSet.Var(&cfg.tlsCAFiles, "tls-other-roots", "Non-system Root CA `file` used to validate HTTPS endpoint")
	flagSet.BoolVar(&cfg.tlsUseSystemRootCAs, "tls-use-system-roots", true,
		"Validate HTTPS endpoints with root CAs")

	flagSet.BoolVar(&cfg.version, "version", false, "Print version and exit")

	return flagSet.Parse(args[1:])
}
