package tlsutil

import (
	"crypto/tls"
	"fmt"
)

// loadKeyPairs loads the certificate/key file pairs shared by the client and server config
// builders. The matching cert and key must be at the same array position, obviously enough, and
// empty file names are rejected rather than silently skipped - a blank --tls-cert "" on a command
// line should fail loudly.
func loadKeyPairs(certFiles, keyFiles []string) ([]tls.Certificate, error) {
	if len(certFiles) != len(keyFiles) {
		return nil, fmt.Errorf("tlsutil:Certificate file count (%d) and key file count (%d) don't match",
			len(certFiles), len(keyFiles))
	}

	pairs := make([]tls.Certificate, 0, len(certFiles))
	for ix, certFile := range certFiles {
		keyFile := keyFiles[ix]
		if len(certFile) == 0 {
			return nil, fmt.Errorf("tlsutil:Empty string Certificate file @ %d not allowed", ix)
		}
		if len(keyFile) == 0 {
			return nil, fmt.Errorf("tlsutil:Empty string Key file @ %d not allowed", ix)
		}

		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("tlsutil:tls.LoadX509KeyPair:%s for %s and %s",
				err.Error(), certFile, keyFile)
		}
		pairs = append(pairs, cert)
	}

	return pairs, nil
}
