package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	tlsCaCrt = "tls_ca.crt"
	tlsCrt   = "tls.crt"
	tlsKey   = "tls.key"
)

// Options configures TLS for the admin API.
type Options struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
	// Dir holds tls.crt/tls.key when CertFile/KeyFile are unset.
	Dir          string   `mapstructure:"dir"`
	AutoGenerate bool     `mapstructure:"auto_generate"`
	MinVersion   string   `mapstructure:"min_version"`
	CommonName   string   `mapstructure:"common_name"`
	DNSNames     []string `mapstructure:"dns_names"`
	ValidDays    int      `mapstructure:"valid_days"`
}

// parseTLSVersion parses a TLS version string.
func parseTLSVersion(ver string) (uint16, bool) {
	switch strings.ToLower(ver) {
	case "1.2", "tls1.2":
		return tls.VersionTLS12, true
	case "1.3", "tls1.3":
		return tls.VersionTLS13, true
	default:
		return 0, false
	}
}

// Setup returns the server TLS config for opts, or nil when TLS is disabled.
// Certificates are re-read on every handshake so they can be rotated in place.
func Setup(opts Options) (*tls.Config, error) {
	if !opts.Enabled {
		return nil, nil
	}
	minVer := uint16(tls.VersionTLS13)
	if opts.MinVersion != "" {
		v, ok := parseTLSVersion(opts.MinVersion)
		if !ok {
			return nil, fmt.Errorf("unsupported tls min_version %q", opts.MinVersion)
		}
		minVer = v
	}

	if opts.CertFile != "" && opts.KeyFile != "" {
		return createTLSConfig(opts.CertFile, opts.KeyFile, minVer), nil
	}
	if opts.Dir != "" {
		certPath := filepath.Join(opts.Dir, tlsCrt)
		keyPath := filepath.Join(opts.Dir, tlsKey)
		if opts.AutoGenerate && !certificatesExist(certPath, keyPath) {
			if err := generateCertificate(opts); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
		return createTLSConfig(certPath, keyPath, minVer), nil
	}
	return nil, errors.New("TLS enabled but no certificate configured")
}

func createTLSConfig(certPath, keyPath string, minVer uint16) *tls.Config {
	return &tls.Config{
		GetCertificate: getCertificationFunc(certPath, keyPath),
		MinVersion:     minVer,
	}
}

// getCertificationFunc loads the key pair on demand.
func getCertificationFunc(certFile, keyFile string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		cert, err := tls.LoadX509KeyPair(filepath.Clean(certFile), filepath.Clean(keyFile))
		if err != nil {
			return nil, err
		}
		return &cert, nil
	}
}

func certificatesExist(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}

func generateCertificate(opts Options) error {
	if err := os.MkdirAll(opts.Dir, 0o750); err != nil {
		return fmt.Errorf("create cert dir: %w", err)
	}
	cn := opts.CommonName
	if cn == "" {
		cn = "localhost"
	}
	dns := opts.DNSNames
	if len(dns) == 0 {
		dns = []string{"localhost"}
	}
	days := opts.ValidDays
	if days <= 0 {
		days = 365
	}
	return GenerateSelfSignedCert(CertConfig{
		CommonName:   cn,
		Organization: "twinwatch",
		DNSNames:     dns,
		IPAddresses:  []string{"127.0.0.1"},
		NotAfter:     time.Now().AddDate(0, 0, days),
		CertPath:     filepath.Join(opts.Dir, tlsCrt),
		KeyPath:      filepath.Join(opts.Dir, tlsKey),
		CACertPath:   filepath.Join(opts.Dir, tlsCaCrt),
	})
}
