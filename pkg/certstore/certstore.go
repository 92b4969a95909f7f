// Package certstore loads the proxy's single TLS certificate and private
// key, once, from a combined PEM file. The proxy always presents one fixed
// identity to inbound clients, so there is nothing to cache or regenerate —
// a single Load at startup is enough.
package certstore

import (
	"crypto/tls"
	"encoding/pem"
	"fmt"
	"os"
)

// Load reads path, expecting it to contain both a certificate block
// (label CERTIFICATE) and a private key block (label PRIVATE KEY, RSA
// PRIVATE KEY or EC PRIVATE KEY), in either order; blocks with any other
// label, such as CERTIFICATE REQUEST, are ignored. It returns the assembled
// tls.Certificate ready for (*tls.Config).Certificates or
// byteconn.ByteConn.UpgradeServer.
func Load(path string) (tls.Certificate, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("certstore: read %s: %w", path, err)
	}

	var certPEM, keyPEM []byte
	rest := raw
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		switch block.Type {
		case "CERTIFICATE":
			certPEM = append(certPEM, pem.EncodeToMemory(block)...)
		default:
			if isPrivateKeyLabel(block.Type) {
				keyPEM = append(keyPEM, pem.EncodeToMemory(block)...)
			}
		}
	}

	if len(certPEM) == 0 {
		return tls.Certificate{}, fmt.Errorf("certstore: %s contains no CERTIFICATE block", path)
	}
	if len(keyPEM) == 0 {
		return tls.Certificate{}, fmt.Errorf("certstore: %s contains no private key block", path)
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("certstore: parse %s: %w", path, err)
	}
	return cert, nil
}

func isPrivateKeyLabel(label string) bool {
	switch label {
	case "PRIVATE KEY", "RSA PRIVATE KEY", "EC PRIVATE KEY":
		return true
	default:
		return false
	}
}
