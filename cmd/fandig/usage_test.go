package main

import (
	"testing"
)

var usageTestCases = []testCase{
	{[]string{}, []string{}, "Fatal: fandig: Require query FQDN on command line. Consider -h"},
	{[]string{"-h"}, []string{"NAME", "SYNOPSIS", "OPTIONS", "Version: v"}, ""},
	{[]string{"--version"}, []string{"Version: v"}, ""},
	{[]string{"-badopt"}, []string{}, "flag provided but not defined"},

	{[]string{"--ecs-set", "10.0.120.XXX/24", "example.net"}, []string{}, "invalid CIDR address"},
	{[]string{"--ecs-set", "10.0.120.0/24", "--ecs-request-ipv4-prefixlen", "24", "example.net"},
		[]string{}, "Cannot have both --ecs-set and --ecs-request"},
	{[]string{"--ecs-set", "10.0.120.0/24", "--ecs-request-ipv6-prefixlen", "66", "example.net"},
		[]string{}, "Cannot have both --ecs-set and --ecs-request"},
	{[]string{"--ecs-request-ipv6-prefixlen", "200", "example.net"}, []string{}, "must be between 0 and 128"},
	{[]string{"--ecs-request-ipv4-prefixlen", "200", "example.net"}, []string{}, "must be between 0 and 32"},

	{[]string{"-S", "", "example.net"}, []string{}, "URL cannot be an empty string"},
	{[]string{"-S", "http://", "example.net"}, []string{}, "does not contain a hostname"},
	{[]string{"-S", "://localhost/xxx", "example.net"}, []string{}, "missing protocol scheme"},

	{[]string{"-s", "127.0.0.1:1", "example.net", "BADTYPE"}, []string{}, "Unrecognized qType"},
	{[]string{"-s", "127.0.0.1:1", "example.net", "AAAA", "goop"}, []string{}, "know what to do"},
	{[]string{"-s", "127.0.0.1:1", "example.."}, []string{}, "Is it a valid FQDN"},

	{[]string{"--tsig", "nocolon", "-s", "127.0.0.1:1", "example.net"}, []string{}, "name:secret"},

	{[]string{"-r", "-1", "-s", "127.0.0.1:1", "example.net"}, []string{}, "Repeat count"},
}

func TestUsage(t *testing.T) {
	for tx, tc := range usageTestCases {
		runTest(t, tx, tc)
	}
}
