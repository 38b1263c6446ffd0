package resconf

import (
	"strings"
	"testing"
)

func TestLoad(t *testing.T) {
	c, err := Load("testdata/resolv.conf")
	if c == nil || err != nil {
		t.Fatal("Load failed when it should have succeeded", err)
	}

	servers := c.Servers()
	if len(servers) != 2 {
		t.Fatal("Expected two nameservers, not", servers)
	}
	if servers[0] != "127.0.0.1:53" {
		t.Error("First nameserver should carry the default port, not", servers[0])
	}
	if servers[1] != "[::1]:53" {
		t.Error("ipv6 nameserver should be bracket-wrapped, not", servers[1])
	}

	_, err = Load("testdata/does-not-exist")
	if err == nil {
		t.Error("Load did not fail with a non-existent path")
	}

	_, err = Load("testdata/resolv.conf", "..Example.org")
	if err == nil {
		t.Error("Expected a double dot error with ..Example.org")
	} else if !strings.Contains(err.Error(), "Double dots") {
		t.Error("Expected the error to complain about double dots, not", err)
	}
}

func TestDomains(t *testing.T) {
	c, err := Load("testdata/resolv.conf", "Example.Com", "search1.example.net")
	if err != nil {
		t.Fatal("Load failed unexpectedly", err)
	}

	domains := c.Domains()
	for _, d := range domains {
		if strings.HasPrefix(d, ".") || strings.HasSuffix(d, ".") {
			t.Error("Domains should have guard dots removed, not", d)
		}
		if d != strings.ToLower(d) {
			t.Error("Domains should be lowercased, not", d)
		}
	}

	// search1.example.net appears in both the file and the extras so it must be deduped
	count := 0
	for _, d := range domains {
		if d == "search1.example.net" {
			count++
		}
	}
	if count != 1 {
		t.Error("Expected exactly one search1.example.net after dedupe, got", count)
	}
}

type ibTestCase struct {
	qName string
	ok    bool
	desc  string
}

var ibTestCases = []ibTestCase{
	{"unqualified", true, "unqualified failed with a non-empty domain list"},
	{"good.dom.example.org", true, "Should have suffix matched 'domain' entry"},
	{"example.com", true, "Should have exact matched the extra domain"},
	{"match.search1.example.net", true, "Should have suffix matched first 'search' entry"},
	{"search2.example.net", true, "Should have exact matched second 'search' entry"},
	{"1.120.0.10.in-addr.arpa", true, "Should have suffix matched third 'search' entry"},
	{"matchsearch1.example.net", false, "A fake in-domain name matched unexpectedly"},
	{"example.net", false, "A parent of a search domain matched unexpectedly"},
	{"UPPER.SEARCH1.EXAMPLE.NET", true, "Comparison should be case-insensitive"},
}

func TestInBailiwick(t *testing.T) {
	c, err := Load("testdata/resolv.conf", "example.com")
	if err != nil {
		t.Fatal("Load failed unexpectedly", err)
	}

	for _, tc := range ibTestCases {
		if c.InBailiwick(tc.qName) != tc.ok {
			t.Error(tc.qName, tc.desc)
		}
	}
}

func TestInBailiwickEmpty(t *testing.T) {
	c, err := Load("testdata/simplest.resolv.conf")
	if err != nil {
		t.Fatal("Load failed unexpectedly", err)
	}

	if c.InBailiwick("unqualified") {
		t.Error("unqualified matched with no local domains configured")
	}
	if c.InBailiwick("qualified.example.com") {
		t.Error("qualified.example.com matched with no local domains configured")
	}
}
