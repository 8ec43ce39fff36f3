package tls

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

var (
	// ErrNoCertificates is returned when a CA bundle holds no certificates.
	ErrNoCertificates = errors.New("no certificates found in CA bundle")

	// ErrIncompleteIdentity is returned when an identity path is empty.
	ErrIncompleteIdentity = errors.New("CA, certificate and key paths are required")
)

// IdentityConfig names the files that make up the server's TLS identity.
type IdentityConfig struct {
	CACertPath     string
	ServerCertPath string
	ServerKeyPath  string
}

// Identity is the server side of a mutually authenticated TLS boundary: the
// CA bundle client certificates are verified against, and the certificate
// chain and key the server presents. It is immutable once loaded and safe
// for concurrent use.
type Identity struct {
	clientCAs *x509.CertPool
	caCount   int
	cert      tls.Certificate
}

// LoadIdentity reads the CA bundle and server key pair named by cfg. Any
// read or parse failure, and a key that does not match its certificate,
// is returned as an error naming the offending file.
func LoadIdentity(cfg IdentityConfig) (*Identity, error) {
	if cfg.CACertPath == "" || cfg.ServerCertPath == "" || cfg.ServerKeyPath == "" {
		return nil, ErrIncompleteIdentity
	}

	caPEM, err := os.ReadFile(cfg.CACertPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate file %s: %w", cfg.CACertPath, err)
	}
	pool, n, err := ParseCertPool(caPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CA certificate from %s: %w", cfg.CACertPath, err)
	}

	cert, err := tls.LoadX509KeyPair(cfg.ServerCertPath, cfg.ServerKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load server key pair (%s, %s): %w", cfg.ServerCertPath, cfg.ServerKeyPath, err)
	}

	return &Identity{clientCAs: pool, caCount: n, cert: cert}, nil
}

// NewIdentity builds an Identity from PEM bytes already in memory.
func NewIdentity(caPEM, certPEM, keyPEM []byte) (*Identity, error) {
	pool, n, err := ParseCertPool(caPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CA certificate: %w", err)
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to load server key pair: %w", err)
	}
	return &Identity{clientCAs: pool, caCount: n, cert: cert}, nil
}

// ParseCertPool parses every CERTIFICATE block in pemData. Blocks of other
// types are skipped. A block that fails to parse is an error, as is data
// containing no certificates at all. It returns the pool and the number of
// certificates added.
func ParseCertPool(pemData []byte) (*x509.CertPool, int, error) {
	pool := x509.NewCertPool()
	var added int

	for len(pemData) > 0 {
		var block *pem.Block
		block, pemData = pem.Decode(pemData)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}

		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, 0, fmt.Errorf("parse certificate %d: %w", added+1, err)
		}
		pool.AddCert(cert)
		added++
	}

	if added == 0 {
		return nil, 0, ErrNoCertificates
	}
	return pool, added, nil
}

// TLSConfig returns a new server configuration for one listener. A client
// certificate is mandatory and must chain to the CA bundle. Client
// certificates are never checked against a host name; trust rests entirely
// on the CA.
func (id *Identity) TLSConfig() *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{id.cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    id.clientCAs,
		MinVersion:   tls.VersionTLS12,
		NextProtos:   []string{"http/1.1"},
	}
}

// Leaf returns the parsed server certificate.
func (id *Identity) Leaf() *x509.Certificate {
	return id.cert.Leaf
}

// CACount returns the number of certificates in the CA bundle.
func (id *Identity) CACount() int {
	return id.caCount
}
