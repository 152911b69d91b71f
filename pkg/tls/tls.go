package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// Options selects the client-side TLS material. Every field is optional.
type Options struct {
	CertFile           string
	KeyFile            string
	CAFile             string
	InsecureSkipVerify bool
}

// Enabled reports whether any TLS setting was supplied
func (o Options) Enabled() bool {
	return o.CertFile != "" || o.KeyFile != "" || o.CAFile != "" || o.InsecureSkipVerify
}

// LoadClientTLSConfig loads the TLS configuration used when talking to the
// job server. A client certificate is loaded only when both cert and key are
// given; a CA file replaces the system roots.
func LoadClientTLSConfig(opts Options) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: opts.InsecureSkipVerify,
	}

	if (opts.CertFile == "") != (opts.KeyFile == "") {
		return nil, fmt.Errorf("client certificate and key must be provided together")
	}

	if opts.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if opts.CAFile != "" {
		caCert, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = caCertPool
	}

	return tlsConfig, nil
}
