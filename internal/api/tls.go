package api

import (
	"crypto/tls"
	"fmt"
	"os"
)

// TLSConfig holds TLS certificate paths.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

// TLSFromEnv returns the certificate paths from WORKBENCH_TLS_CERT and
// WORKBENCH_TLS_KEY, falling back to the given paths. The result is nil
// unless both paths are known.
func TLSFromEnv(certFile, keyFile string) *TLSConfig {
	if v := os.Getenv("WORKBENCH_TLS_CERT"); v != "" {
		certFile = v
	}
	if v := os.Getenv("WORKBENCH_TLS_KEY"); v != "" {
		keyFile = v
	}
	if certFile == "" || keyFile == "" {
		return nil
	}
	return &TLSConfig{CertFile: certFile, KeyFile: keyFile}
}

// Enabled returns true if both files are configured.
func (c *TLSConfig) Enabled() bool {
	return c != nil && c.CertFile != "" && c.KeyFile != ""
}

// Load reads the key pair into a tls.Config. It returns nil, nil when TLS
// is not configured.
func (c *TLSConfig) Load() (*tls.Config, error) {
	if !c.Enabled() {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
