// Package tlsutil assembles tls.Config values from cert/key/CA file settings so commands don't
// each reinvent the loading and validation dance.
package tlsutil

import (
	"crypto/tls"
	"errors"
)

// NewClientTLSConfig builds a tls.Config for a client-side HTTPS connection. Server verification
// is enabled whenever any roots are available - system CAs or supplied CA files. When client cert
// and key files are supplied they are loaded as the client certificate presented to the server;
// both must be present or both absent.
//
// Returns a tls.Config or an error.
func NewClientTLSConfig(useSystemCAs bool, otherCAFiles []string, clientCertFile, clientKeyFile string) (*tls.Config, error) {
	verifyServer := useSystemCAs || len(otherCAFiles) > 0
	cfg := &tls.Config{InsecureSkipVerify: !verifyServer}
	if verifyServer {
		pool, err := loadroots(useSystemCAs, otherCAFiles)
		if err != nil {
			return nil, errors.New("tlsutil:NewClientTLSConfig:" + err.Error())
		}
		cfg.RootCAs = pool
	}

	// Both or neither, never just one.
	if len(clientCertFile) > 0 && len(clientKeyFile) == 0 {
		return nil, errors.New("tlsutil:NewClientTLSConfig Client key file missing when cert file present")
	}
	if len(clientCertFile) == 0 && len(clientKeyFile) > 0 {
		return nil, errors.New("tlsutil:NewClientTLSConfig Client cert file missing when key file present")
	}

	if len(clientCertFile) == 0 {
		return cfg, nil
	}

	pairs, err := loadKeyPairs([]string{clientCertFile}, []string{clientKeyFile})
	if err != nil {
		return nil, err
	}
	cfg.Certificates = pairs

	return cfg, nil
}
