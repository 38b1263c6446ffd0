package tlsutil

import (
	"crypto/tls"
	"testing"
)

var (
	emptyAr = []string{}
	certAr  = []string{"testdata/proxy.cert"}
	keyAr   = []string{"testdata/proxy.key"}
	blankAr = []string{""} // As produced by a bogus command line such as --tls-cert ""
)

func TestNewServer(t *testing.T) {
	cfg, err := NewServerTLSConfig(false, zeroCAs, emptyAr, emptyAr)
	if err != nil {
		t.Error("Unexpected error with minimalist NewServerTLSConfig", err)
	}
	if cfg == nil {
		t.Fatal("cfg should be non-nil if no error")
	}
	if cfg.ClientAuth == tls.RequireAndVerifyClientCert {
		t.Error("No roots at all should not demand client certs")
	}
	cfg, err = NewServerTLSConfig(true, zeroCAs, emptyAr, emptyAr)
	if err != nil {
		t.Error("Unexpected error with system-roots-only NewServerTLSConfig", err)
	}
	if cfg == nil {
		t.Fatal("cfg should be non-nil if no error")
	}
	if cfg.ClientAuth != tls.RequireAndVerifyClientCert {
		t.Error("Roots present should demand verified client certs")
	}

	// Good paths

	if _, err = NewServerTLSConfig(false, oneCA, certAr, keyAr); err != nil {
		t.Error("Unexpected error with good data files", err)
	}
	if _, err = NewServerTLSConfig(true, twoCAs, certAr, keyAr); err != nil {
		t.Error("Unexpected error with good data files and useSystemRoots", err)
	}

	// Bad paths

	if _, err = NewServerTLSConfig(false, oneCA, certAr, emptyAr); err == nil {
		t.Error("Expected error with missing key file")
	}
	if _, err = NewServerTLSConfig(false, oneCA, certAr, blankAr); err == nil {
		t.Error("Expected error with blank key file")
	}
	if _, err = NewServerTLSConfig(false, oneCA, blankAr, keyAr); err == nil {
		t.Error("Expected error with blank cert file")
	}
	if _, err = NewServerTLSConfig(false, oneCA, emptyAr, keyAr); err == nil {
		t.Error("Expected error with missing cert file")
	}
	if _, err = NewServerTLSConfig(true, emptyCA, certAr, keyAr); err == nil {
		t.Error("Expected an error with an empty root CA file")
	}
	if _, err = NewServerTLSConfig(true, missingCA, certAr, keyAr); err == nil {
		t.Error("Expected an error with a non-existent rootCA file")
	}
	if _, err = NewServerTLSConfig(true, oneCA, []string{"testdata/proxy.certNoExist"}, keyAr); err == nil {
		t.Error("Expected an error with a non-existent certificate file")
	}
}
