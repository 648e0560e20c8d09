package client

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const (
	DefaultHost        = "localhost"
	DefaultPort        = 6379
	DefaultDialTimeout = 30 * time.Second
)

type Options struct {
	// Host to connect to
	Host string

	// Port to connect to
	Port int

	// CertFile and KeyFile are the PEM encoded client certificate and key.
	// When KeyFile is empty the key is read from CertFile.
	CertFile string
	KeyFile  string

	// CAFile replaces the system roots used to verify the server
	CAFile string

	// VerifyPeerName controls whether the server certificate must match Host
	// when CAFile is set. Without CAFile the host name is always verified.
	VerifyPeerName bool

	DialTimeout time.Duration

	// Fs is where the PEM files are read from, the OS filesystem by default
	Fs afero.Fs

	Log *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Host == "" {
		o.Host = DefaultHost
	}

	if o.Port == 0 {
		o.Port = DefaultPort
	}

	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}

	if o.Fs == nil {
		o.Fs = afero.NewOsFs()
	}

	if o.Log == nil {
		o.Log = zap.NewNop()
	}

	return o
}

// UseTLS reports whether any of the TLS files are set.
func (o Options) UseTLS() bool {
	return o.CertFile != "" || o.KeyFile != "" || o.CAFile != ""
}

// TLSConfig builds the client TLS configuration. It returns nil when TLS is
// not in use.
func (o Options) TLSConfig() (*tls.Config, error) {
	if !o.UseTLS() {
		return nil, nil
	}

	o = o.withDefaults()

	config := &tls.Config{
		ServerName: o.Host,
		MinVersion: tls.VersionTLS12,
	}

	if o.CertFile != "" || o.KeyFile != "" {
		if o.CertFile == "" {
			return nil, ErrKeyWithoutCert
		}

		keyFile := o.KeyFile
		if keyFile == "" {
			keyFile = o.CertFile
		}

		certPEM, err := afero.ReadFile(o.Fs, o.CertFile)
		if err != nil {
			return nil, fmt.Errorf("Failed to read client certificate: %w", err)
		}

		keyPEM, err := afero.ReadFile(o.Fs, keyFile)
		if err != nil {
			return nil, fmt.Errorf("Failed to read client key: %w", err)
		}

		cert, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, fmt.Errorf("Failed to load client key pair: %w", err)
		}

		config.Certificates = []tls.Certificate{cert}
	}

	if o.CAFile != "" {
		caPEM, err := afero.ReadFile(o.Fs, o.CAFile)
		if err != nil {
			return nil, fmt.Errorf("Failed to read CA file: %w", err)
		}

		roots := x509.NewCertPool()
		if !roots.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("Failed to load '%s': %w", o.CAFile, ErrNoCACerts)
		}

		config.RootCAs = roots

		if !o.VerifyPeerName {
			// Skip the built in verification, which always checks the host
			// name, and verify the chain ourselves.
			config.InsecureSkipVerify = true
			config.VerifyPeerCertificate = verifyChain(roots)
		}
	}

	return config, nil
}

// verifyChain checks the peer's certificate chain against roots without
// checking the host name.
func verifyChain(roots *x509.CertPool) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("Server did not present a certificate")
		}

		certs := make([]*x509.Certificate, len(rawCerts))
		for i, raw := range rawCerts {
			cert, err := x509.ParseCertificate(raw)
			if err != nil {
				return fmt.Errorf("Failed to parse server certificate: %w", err)
			}
			certs[i] = cert
		}

		intermediates := x509.NewCertPool()
		for _, cert := range certs[1:] {
			intermediates.AddCert(cert)
		}

		_, err := certs[0].Verify(x509.VerifyOptions{
			Roots:         roots,
			Intermediates: intermediates,
		})

		return err
	}
}
