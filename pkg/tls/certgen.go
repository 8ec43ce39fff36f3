// Package tls loads the server's mutual-TLS identity and generates
// certificate fixtures for tests.
package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"time"
)

// CertificateConfig contains options for certificate generation.
type CertificateConfig struct {
	// Organization name for the certificate
	Organization string
	// Common name (CN) for the certificate
	CommonName string
	// Additional DNS names for the certificate
	DNSNames []string
	// Additional IP addresses for the certificate
	IPAddresses []net.IP
	// Validity duration
	ValidFor time.Duration
	// Whether this is a CA certificate
	IsCA bool
	// Extended key usages. Defaults to server auth for leaves.
	ExtKeyUsage []x509.ExtKeyUsage
}

// DefaultCertificateConfig returns a leaf configuration for a server on the
// loopback interface.
func DefaultCertificateConfig() *CertificateConfig {
	return &CertificateConfig{
		Organization: "fakemesh",
		CommonName:   "localhost",
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")},
		ValidFor:     24 * time.Hour,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
}

// CAConfig returns a configuration for a test certificate authority.
func CAConfig(commonName string) *CertificateConfig {
	return &CertificateConfig{
		Organization: "fakemesh",
		CommonName:   commonName,
		ValidFor:     24 * time.Hour,
		IsCA:         true,
	}
}

// ClientConfig returns a configuration for a client certificate.
func ClientConfig(commonName string) *CertificateConfig {
	return &CertificateConfig{
		Organization: "fakemesh",
		CommonName:   commonName,
		ValidFor:     24 * time.Hour,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
}

// GeneratedCertificate contains a generated certificate and its private key.
type GeneratedCertificate struct {
	Certificate *x509.Certificate
	PrivateKey  *ecdsa.PrivateKey
	CertPEM     []byte
	KeyPEM      []byte
}

// GeneratePrivateKey generates a new ECDSA private key using P-256 curve.
func GeneratePrivateKey() (*ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}
	return key, nil
}

// CreateCertificateTemplate creates an x509 certificate template with the given config.
func CreateCertificateTemplate(cfg *CertificateConfig) (*x509.Certificate, error) {
	if cfg == nil {
		cfg = DefaultCertificateConfig()
	}

	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	// Backdate slightly so freshly generated fixtures verify on hosts with
	// minor clock skew.
	notBefore := time.Now().Add(-time.Minute)

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{cfg.Organization},
			CommonName:   cfg.CommonName,
		},
		NotBefore:             notBefore,
		NotAfter:              notBefore.Add(cfg.ValidFor),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		DNSNames:              cfg.DNSNames,
		IPAddresses:           cfg.IPAddresses,
	}

	if cfg.IsCA {
		template.IsCA = true
		template.KeyUsage |= x509.KeyUsageCertSign | x509.KeyUsageCRLSign
	} else {
		template.ExtKeyUsage = cfg.ExtKeyUsage
		if len(template.ExtKeyUsage) == 0 {
			template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
		}
	}

	return template, nil
}

// GenerateCA generates a self-signed certificate authority.
func GenerateCA(cfg *CertificateConfig) (*GeneratedCertificate, error) {
	if cfg == nil {
		cfg = CAConfig("fakemesh test CA")
	}
	if !cfg.IsCA {
		return nil, errors.New("CA configuration must set IsCA")
	}
	return generate(cfg, nil)
}

// GenerateSignedCert generates a leaf certificate signed by ca.
func GenerateSignedCert(cfg *CertificateConfig, ca *GeneratedCertificate) (*GeneratedCertificate, error) {
	if ca == nil || ca.Certificate == nil || ca.PrivateKey == nil {
		return nil, errors.New("signing CA cannot be nil")
	}
	if cfg == nil {
		cfg = DefaultCertificateConfig()
	}
	return generate(cfg, ca)
}

func generate(cfg *CertificateConfig, parent *GeneratedCertificate) (*GeneratedCertificate, error) {
	privateKey, err := GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	template, err := CreateCertificateTemplate(cfg)
	if err != nil {
		return nil, err
	}

	parentCert, signer := template, privateKey
	if parent != nil {
		parentCert, signer = parent.Certificate, parent.PrivateKey
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, parentCert, &privateKey.PublicKey, signer)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	keyPEM, err := EncodeKeyToPEM(privateKey)
	if err != nil {
		return nil, err
	}

	return &GeneratedCertificate{
		Certificate: cert,
		PrivateKey:  privateKey,
		CertPEM:     EncodeCertToPEM(certDER),
		KeyPEM:      keyPEM,
	}, nil
}

// EncodeCertToPEM encodes a DER certificate to PEM format.
func EncodeCertToPEM(certDER []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
}

// EncodeKeyToPEM encodes an ECDSA private key to PEM format.
func EncodeKeyToPEM(key *ecdsa.PrivateKey) ([]byte, error) {
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), nil
}
