// Issue a DNS query in parallel across a set of upstream servers and print the arbitrated winner.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/nandorik/fanresolve/internal/constants"
	"github.com/nandorik/fanresolve/internal/resolve"
	"github.com/nandorik/fanresolve/internal/resolver/doh"
	"github.com/nandorik/fanresolve/internal/servertally"
	"github.com/nandorik/fanresolve/internal/tlsutil"

	"github.com/miekg/dns"
	"golang.org/x/net/http2"
)

// Program-wide variables
var (
	consts = constants.Get()
	cfg    *config

	stdout io.Writer
	stderr io.Writer

	flagSet *flag.FlagSet
)

//////////////////////////////////////////////////////////////////////

func fatal(args ...interface{}) int {
	fmt.Fprint(stderr, "Fatal: ", consts.DigProgramName, ": ")
	fmt.Fprintln(stderr, args...)

	return 1
}

// traceLogger meets the resolve.Logger interface for the -v dispatch trace.
type traceLogger struct{ out io.Writer }

func (t *traceLogger) Logf(format string, args ...interface{}) {
	fmt.Fprintf(t.out, format+"\n", args...)
}

//////////////////////////////////////////////////////////////////////
// main is a wrapper for mainExecute() so tests can call mainExecute()
//////////////////////////////////////////////////////////////////////

func mainInit(out io.Writer, err io.Writer) {
	cfg = &config{}
	stdout = out
	stderr = err
}

func main() {
	mainInit(os.Stdout, os.Stderr)
	os.Exit(mainExecute(os.Args))
}

func mainExecute(args []string) int {
	flagSet = flag.NewFlagSet(args[0], flag.ContinueOnError)
	flagSet.SetOutput(stderr)
	err := parseCommandLine(args)
	if err != nil {
		return 1 // Error already printed by the flag package
	}
	if cfg.help {
		usage(stdout)
		return 0
	}
	if cfg.version {
		fmt.Fprintln(stdout, consts.DigProgramName, "Version:", consts.Version)
		return 0
	}

	if cfg.repeatCount < 0 {
		return fatal("Repeat count (-r) must be GE zero, not", cfg.repeatCount)
	}

	// Validate ECS settings destined for any DoH members

	var ecsIPNet *net.IPNet
	if len(cfg.ecsSet) > 0 {
		var err error
		_, ecsIPNet, err = net.ParseCIDR(cfg.ecsSet)
		if err != nil {
			return fatal("--ecs-set", err)
		}
		if cfg.ecsRequestIPv4 != 0 || cfg.ecsRequestIPv6 != 0 {
			return fatal("Cannot have both --ecs-set and --ecs-request-* options set at the same time")
		}
	}
	if cfg.ecsRequestIPv4 < 0 || cfg.ecsRequestIPv4 > 32 {
		return fatal("--ecs-request-ipv4-prefixlen", cfg.ecsRequestIPv4, "must be between 0 and 32")
	}
	if cfg.ecsRequestIPv6 < 0 || cfg.ecsRequestIPv6 > 128 {
		return fatal("--ecs-request-ipv6-prefixlen", cfg.ecsRequestIPv6, "must be between 0 and 128")
	}

	// Validate TSIG if supplied: name:secret

	tsigName, tsigSecret := "", ""
	if len(cfg.tsigKey) > 0 {
		parts := strings.SplitN(cfg.tsigKey, ":", 2)
		if len(parts) != 2 || len(parts[0]) == 0 || len(parts[1]) == 0 {
			return fatal("--tsig must be of the form name:secret, not", cfg.tsigKey)
		}
		tsigName, tsigSecret = parts[0], parts[1]
	}

	// Validate the command line query: FQDN [qType]

	remainingOptions := flagSet.NArg()
	optionIndex := 0

	if remainingOptions < 1 {
		return fatal("Require query FQDN on command line. Consider -h")
	}
	qName := dns.Fqdn(flagSet.Arg(optionIndex))
	optionIndex++
	remainingOptions--

	qTypeString := dns.TypeToString[dns.TypeA] // Default to an "A" query
	if remainingOptions > 0 {
		qTypeString = strings.ToUpper(flagSet.Arg(optionIndex))
		optionIndex++
		remainingOptions--
	}
	qType, ok := dns.StringToType[qTypeString]
	if !ok {
		return fatal("Unrecognized qType of", qTypeString)
	}

	if remainingOptions > 0 {
		return fatal("Don't know what to do with residual goop on command line:", flagSet.Arg(optionIndex))
	}

	if _, ok := dns.IsDomainName(qName); !ok || !dns.IsFqdn(qName) {
		return fatal("qName cannot be resolved. Is it a valid FQDN?", qName)
	}

	// Assemble the member servers: plain DNS from -s, DoH from -S, or resolv.conf
	// auto-discovery when neither is supplied.

	var logger resolve.Logger
	if cfg.verbose {
		logger = &traceLogger{out: stderr}
	}

	members := make([]resolve.SingleResolver, 0, cfg.servers.NArg()+cfg.dohServers.NArg())
	for _, s := range cfg.servers.Args() {
		members = append(members, resolve.NewNetResolver(s))
	}

	if cfg.dohServers.NArg() > 0 {
		// The HTTPS client is shared by every DoH member. This is where server cert
		// verification is set up and http2 activated.

		tlsConfig, err := tlsutil.NewClientTLSConfig(cfg.tlsUseSystemRootCAs, cfg.tlsCAFiles.Args(),
			cfg.tlsClientCertFile, cfg.tlsClientKeyFile)
		if err != nil {
			return fatal(err)
		}
		tr := &http.Transport{TLSClientConfig: tlsConfig}
		if err := http2.ConfigureTransport(tr); err != nil {
			return fatal(err)
		}
		client := &http.Client{Transport: tr}

		for _, u := range cfg.dohServers.Args() {
			serverURL, err := normalizeURL(u)
			if err != nil {
				return fatal(err)
			}
			member, err := doh.New(doh.Config{
				ServerURL:               serverURL,
				UseGetMethod:            cfg.useGetMethod,
				GeneratePadding:         cfg.generatePadding,
				ECSRemove:               cfg.ecsRemove,
				ECSRequestIPv4PrefixLen: cfg.ecsRequestIPv4,
				ECSRequestIPv6PrefixLen: cfg.ecsRequestIPv6,
				ECSSetCIDR:              ecsIPNet,
				Timeout:                 cfg.timeout,
			}, client)
			if err != nil {
				return fatal(err)
			}
			members = append(members, member)
		}
	}

	engineConfig := resolve.Config{
		ResolvConfPath: cfg.resolvConf,
		Retries:        cfg.retries,
		LoadBalance:    cfg.loadBalance,
		Logger:         logger,
	}

	var engine *resolve.ExtendedResolver
	if len(members) > 0 {
		engine, err = resolve.NewFromResolvers(members, engineConfig)
	} else {
		engine, err = resolve.New(engineConfig)
	}
	if err != nil {
		return fatal(err)
	}

	// Fan the transport settings out to every member

	if cfg.tcp {
		engine.SetTCP(true)
	}
	if cfg.ignoreTruncation {
		engine.SetIgnoreTruncation(true)
	}
	if cfg.port > 0 {
		engine.SetPort(cfg.port)
	}
	if cfg.edns > 0 {
		engine.SetEDNS(cfg.edns)
	}
	if cfg.timeout > 0 {
		engine.SetTimeout(cfg.timeout)
	}
	if len(tsigName) > 0 {
		engine.SetTSIGKey(tsigName, tsigSecret)
	}

	// Track per-server outcomes so -v can show where the answers actually came from

	names := make([]string, 0)
	for _, s := range engine.GetResolvers() {
		names = append(names, s.Name())
	}
	tally, err := servertally.New(names, 0)
	if err != nil {
		return fatal(err)
	}
	engine.SetObserver(tally)

	// Issue the query the requested number of times

	chOut := make(chan string, 1) // Queries write to a chan so we can parallelize
	chErr := make(chan string, 1) // and reap and print the outputs without interleaving.
	exitCode := 0
	reap := func() {
		s := <-chOut
		fmt.Fprint(stdout, s)
		s = <-chErr
		fmt.Fprint(stderr, s)
		if len(s) > 0 {
			exitCode = 1
		}
	}
	if cfg.parallel {
		for qx := 0; qx < cfg.repeatCount; qx++ {
			go doQuery(chOut, chErr, engine, qName, qType, cfg.short)
		}
		for qx := 0; qx < cfg.repeatCount; qx++ {
			reap()
		}
	} else {
		for qx := 0; qx < cfg.repeatCount; qx++ {
			doQuery(chOut, chErr, engine, qName, qType, cfg.short)
			reap()
		}
	}

	if cfg.verbose {
		for _, line := range strings.Split(tally.Report(false), "\n") {
			if len(line) > 0 {
				fmt.Fprintln(stderr, line)
			}
		}
	}

	return exitCode
}

//////////////////////////////////////////////////////////////////////

// normalizeURL fills in the parts of a DoH server URL that a lazy command line may omit: a plain
// FQDN becomes an https:// URL.
func normalizeURL(serverURL string) (string, error) {
	if len(serverURL) == 0 {
		return "", fmt.Errorf("DoH Server URL cannot be an empty string")
	}
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", err
	}
	if len(u.Scheme) == 0 && len(u.Host) == 0 && len(u.Path) > 0 { // A plain FQDN looks like this
		u.Host = u.Path
		u.Path = ""
	}
	if len(u.Host) == 0 {
		return "", fmt.Errorf("%s does not contain a hostname", serverURL)
	}
	if len(u.Scheme) == 0 {
		u.Scheme = "https"
	}

	return u.String(), nil
}

func doQuery(chOut, chErr chan string, engine *resolve.ExtendedResolver, qName string, qType uint16, short bool) {
	outBuf := &bytes.Buffer{}
	errBuf := &bytes.Buffer{}
	defer func() {
		chOut <- outBuf.String()
		chErr <- errBuf.String()
	}()
	query := &dns.Msg{}
	query.SetQuestion(dns.Fqdn(qName), qType)

	startTime := time.Now()
	resp, err := engine.Send(context.Background(), query)
	elapsed := time.Since(startTime)
	if err != nil {
		fmt.Fprintln(errBuf, "Error:", err)
		return
	}

	if short {
		for _, rr := range resp.Answer {
			fmt.Fprintln(outBuf, rr.String())
		}
	} else {
		fmt.Fprintln(outBuf, resp)

		fmt.Fprintf(outBuf, ";; Query Time: %s\n", elapsed.Truncate(time.Millisecond).String())
		fmt.Fprintf(outBuf, ";; Rcode: %s\n", dns.RcodeToString[resp.Rcode])
		fmt.Fprintf(outBuf, ";; Payload Size: %d\n", resp.Len())
		fmt.Fprintln(outBuf)
	}
}
