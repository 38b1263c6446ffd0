package tlsutil

import (
	"crypto/tls"
	"fmt"
)

const (
	myPrefix = "tlsutil:NewServerTLSConfig"
)

// NewServerTLSConfig builds a tls.Config for a server-side listener. Client certificate
// verification is switched on whenever any roots are available - system CAs or supplied CA
// files. Every supplied certificate is loaded so a single TLS listener can serve multiple
// domains.
//
// Returns a tls.Config or an error.
func NewServerTLSConfig(useSystemCAs bool, otherCAFiles []string, certs, keys []string) (*tls.Config, error) {
	verifyClient := useSystemCAs || len(otherCAFiles) > 0
	cfg := &tls.Config{}
	if verifyClient {
		pool, err := loadroots(useSystemCAs, otherCAFiles)
		if err != nil {
			return nil, fmt.Errorf("%s:%s", myPrefix, err.Error())
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert // Insist on legit client certs
	}

	pairs, err := loadKeyPairs(certs, keys)
	if err != nil {
		return nil, err
	}
	cfg.Certificates = pairs

	return cfg, nil
}
