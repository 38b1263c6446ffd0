package tlsutil

import (
	"crypto/x509"
	"fmt"
	"os"
)

// loadroots assembles an x509.CertPool from the system roots (when asked) plus any supplied CA
// files. With nothing requested an empty pool is returned, which tells a tls.Config *not* to go
// hunting for roots itself.
//
// Returns a (possibly empty) x509.CertPool or an error.
func loadroots(useSystemRoots bool, otherCAFiles []string) (*x509.CertPool, error) {
	var pool *x509.CertPool
	if useSystemRoots {
		var err error
		pool, err = x509.SystemCertPool()
		if err != nil {
			return nil, fmt.Errorf("tlsutil:loadroots:systemRoots failed: %s", err.Error())
		}
	} else {
		pool = x509.NewCertPool()
	}

	for _, caFile := range otherCAFiles {
		asn1Data, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("tlsutil:loadroots:otherCA failed: %s", err.Error())
		}

		if !pool.AppendCertsFromPEM(asn1Data) {
			return nil, fmt.Errorf("tlsutil:loadroots:appendCerts failed to add %s", caFile)
		}
	}

	return pool, nil
}
