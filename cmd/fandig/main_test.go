package main

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
)

type testCase struct {
	args   []string
	stdout []string
	stderr string
}

// All resolution cases point at closed local ports with a tiny timeout so they fail fast and
// deterministically without touching the network proper.
var mainTestCases = []testCase{
	{[]string{"-s", "127.0.0.1:1", "-t", "100ms", "--retries", "1", "example.net"}, []string{}, "Error:"},
	{[]string{"-r", "2", "-s", "127.0.0.1:1", "-t", "100ms", "--retries", "1", "example.net"}, []string{}, "Error:"},
	{[]string{"-p", "-r", "2", "-s", "127.0.0.1:1", "-t", "100ms", "--retries", "1", "example.net"}, []string{}, "Error:"},
	{[]string{"-s", "127.0.0.1:1", "-s", "127.0.0.2:1", "-t", "100ms", "--retries", "1", "example.net"},
		[]string{}, "Error:"},
	{[]string{"-S", "http://127.0.0.1:1/dns-query", "-t", "100ms", "--retries", "1", "example.net"},
		[]string{}, "Error:"},
	{[]string{"--lb", "--tcp", "-s", "127.0.0.1:1", "-t", "100ms", "--retries", "1", "example.net"},
		[]string{}, "Error:"},

	{[]string{"-t", "xx", "-s", "127.0.0.1:1", "example.net"}, []string{}, "invalid value"},
	{[]string{"-S", "http://127.0.0.1:1/dns-query", "--tls-cert", "/dev/null",
		"-t", "100ms", "example.net"}, []string{}, "key file missing"},
}

func TestMain(t *testing.T) {
	for tx, tc := range mainTestCases {
		runTest(t, tx, tc)
	}
}

// This function is used by usage_test.go as well
func runTest(t *testing.T, tx int, tc testCase) {
	t.Run(fmt.Sprintf("%d", tx), func(t *testing.T) {
		args := append([]string{"fandig"}, tc.args...)
		out := &bytes.Buffer{}
		err := &bytes.Buffer{}
		mainInit(out, err)
		ec := mainExecute(args)

		outStr := out.String()
		errStr := err.String()

		if ec != 0 && len(tc.stderr) == 0 {
			t.Error("Unexpected non-zero exit code", ec, outStr, errStr)
		}

		if len(errStr) > 0 && len(tc.stderr) == 0 {
			t.Error("Did not expect stderr:", errStr)
		}
		if len(tc.stderr) > 0 && !strings.Contains(errStr, tc.stderr) {
			t.Error("Stderr expected:\n", tc.stderr, "Got:\n", errStr, args)
		}
		for _, o := range tc.stdout {
			if !strings.Contains(outStr, o) {
				t.Error("Stdout expected:\n", o, "Got:\n", outStr, args)
			}
		}
	})
}
