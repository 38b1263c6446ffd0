package fanout

import (
	"strings"
	"testing"
	"time"
)

func TestStatsReportAndReset(t *testing.T) {
	r := &Resolver{}
	r.stats.record(true, 10*time.Millisecond)
	r.stats.record(false, 0)

	report := r.Report(false)
	if !strings.Contains(report, "req=2") || !strings.Contains(report, "ok=1") || !strings.Contains(report, "errs=1") {
		t.Fatalf("unexpected report: %q", report)
	}

	r.Report(true) // reset
	report = r.Report(false)
	if !strings.Contains(report, "req=0") {
		t.Fatalf("expected counters to reset, got: %q", report)
	}
}

func TestResolverName(t *testing.T) {
	r := &Resolver{}
	if r.Name() != "Fanout Resolver" {
		t.Fatalf("got Name() = %q", r.Name())
	}
}
