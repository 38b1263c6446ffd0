package constants

import (
	"testing"
)

// TestValues spot-checks that a few of the constants carry non-zero values. Testing every field is
// tiresome and of limited value.
func TestValues(t *testing.T) {
	consts := Get()
	if len(consts.ProxyProgramName) == 0 {
		t.Error("consts.ProxyProgramName should be set but it's zero length")
	}
	if len(consts.RFC) == 0 {
		t.Error("consts.RFC should be set but it's zero length")
	}

	if len(consts.HTTPSDefaultPort) == 0 {
		t.Error("consts.HTTPSDefaultPort should be set but it's zero length")
	}
	if len(consts.SynthesizeECSRequestHeader) == 0 {
		t.Error("consts.SynthesizeECSRequestHeader should be set but it's zero length")
	}

	if len(consts.DNSDefaultPort) == 0 {
		t.Error("consts.DNSDefaultPort should be set but it's zero length")
	}
	if consts.MinimumViableDNSMessage == 0 {
		t.Error("consts.MinimumViableDNSMessage should be set but it's zero")
	}
}

// TestCopy ensures a caller mutating its copy cannot affect later Get calls.
func TestCopy(t *testing.T) {
	consts := Get()
	consts.Version = "mangled"
	if Get().Version == "mangled" {
		t.Error("Mutating a Get() copy leaked back into the shared constants")
	}
}
