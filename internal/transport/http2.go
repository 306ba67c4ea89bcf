// Package transport talks to the messaging sidecar that sends probes.
package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/net/http2"
)

// TLSConfig holds the client certificate material for the sidecar link
type TLSConfig struct {
	CertPath string
	KeyPath  string
	CAPath   string
}

// Enabled reports whether any TLS material was configured
func (c TLSConfig) Enabled() bool {
	return c.CertPath != "" || c.KeyPath != "" || c.CAPath != ""
}

// BuildHTTP2Client creates an HTTP/2 client. With TLS material it uses mTLS 1.3,
// without it speaks cleartext HTTP/2 (h2c) with prior knowledge.
func BuildHTTP2Client(cfg TLSConfig, timeout time.Duration) (*http.Client, error) {
	if !cfg.Enabled() {
		return &http.Client{
			Transport: &http2.Transport{
				AllowHTTP: true,
				DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, network, addr)
				},
			},
			Timeout: timeout,
		}, nil
	}

	if cfg.CertPath == "" {
		return nil, fmt.Errorf("certPath required")
	}
	if cfg.KeyPath == "" {
		return nil, fmt.Errorf("keyPath required")
	}
	if cfg.CAPath == "" {
		return nil, fmt.Errorf("caPath required")
	}

	// Load client certificate
	clientCert, err := tls.LoadX509KeyPair(cfg.CertPath, cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}

	// Load CA certificate
	caCert, err := os.ReadFile(cfg.CAPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{clientCert},
		RootCAs:      caCertPool,
		MinVersion:   tls.VersionTLS13,
	}

	return &http.Client{
		Transport: &http2.Transport{TLSClientConfig: tlsConfig},
		Timeout:   timeout,
	}, nil
}
