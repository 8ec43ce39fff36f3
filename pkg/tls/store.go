package tls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// SaveCertToFiles saves a certificate and private key to PEM files.
func SaveCertToFiles(cert *GeneratedCertificate, certPath, keyPath string) error {
	if cert == nil {
		return errors.New("certificate cannot be nil")
	}

	if err := os.MkdirAll(filepath.Dir(certPath), 0o755); err != nil {
		return fmt.Errorf("failed to create certificate directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0o755); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}

	if err := os.WriteFile(certPath, cert.CertPEM, 0o644); err != nil {
		return fmt.Errorf("failed to write certificate file: %w", err)
	}

	// Private key with restricted permissions
	if err := os.WriteFile(keyPath, cert.KeyPEM, 0o600); err != nil {
		_ = os.Remove(certPath)
		return fmt.Errorf("failed to write key file: %w", err)
	}

	return nil
}

// PKI is a set of certificate fixtures written to disk: a CA, a server
// certificate signed by it, a client certificate signed by it, and a client
// certificate signed by an unrelated CA.
type PKI struct {
	Dir string

	CACertPath     string
	ServerCertPath string
	ServerKeyPath  string
	ClientCertPath string
	ClientKeyPath  string

	// Untrusted client credentials, issued by a CA the server does not know.
	RogueCertPath string
	RogueKeyPath  string

	CA     *GeneratedCertificate
	Server *GeneratedCertificate
	Client *GeneratedCertificate
	Rogue  *GeneratedCertificate
}

// GeneratePKI writes a fresh PKI under dir using the file names the server
// expects by default (ca.cert.pem, server.cert.pem, server.key.pem).
func GeneratePKI(dir string) (*PKI, error) {
	ca, err := GenerateCA(CAConfig("fakemesh test CA"))
	if err != nil {
		return nil, err
	}
	server, err := GenerateSignedCert(DefaultCertificateConfig(), ca)
	if err != nil {
		return nil, err
	}
	client, err := GenerateSignedCert(ClientConfig("X26ABC1"), ca)
	if err != nil {
		return nil, err
	}
	rogueCA, err := GenerateCA(CAConfig("rogue CA"))
	if err != nil {
		return nil, err
	}
	rogue, err := GenerateSignedCert(ClientConfig("X26ABC1"), rogueCA)
	if err != nil {
		return nil, err
	}

	p := &PKI{
		Dir:            dir,
		CACertPath:     filepath.Join(dir, "ca.cert.pem"),
		ServerCertPath: filepath.Join(dir, "server.cert.pem"),
		ServerKeyPath:  filepath.Join(dir, "server.key.pem"),
		ClientCertPath: filepath.Join(dir, "client.cert.pem"),
		ClientKeyPath:  filepath.Join(dir, "client.key.pem"),
		RogueCertPath:  filepath.Join(dir, "rogue.cert.pem"),
		RogueKeyPath:   filepath.Join(dir, "rogue.key.pem"),
		CA:             ca,
		Server:         server,
		Client:         client,
		Rogue:          rogue,
	}

	for _, f := range []struct {
		cert     *GeneratedCertificate
		certPath string
		keyPath  string
	}{
		{ca, p.CACertPath, filepath.Join(dir, "ca.key.pem")},
		{server, p.ServerCertPath, p.ServerKeyPath},
		{client, p.ClientCertPath, p.ClientKeyPath},
		{rogue, p.RogueCertPath, p.RogueKeyPath},
	} {
		if err := SaveCertToFiles(f.cert, f.certPath, f.keyPath); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// IdentityConfig returns the server-side paths of the fixture.
func (p *PKI) IdentityConfig() IdentityConfig {
	return IdentityConfig{
		CACertPath:     p.CACertPath,
		ServerCertPath: p.ServerCertPath,
		ServerKeyPath:  p.ServerKeyPath,
	}
}

// ClientTLSConfig returns a client configuration that trusts the fixture CA
// and presents the given certificate. A nil cert presents none.
func (p *PKI) ClientTLSConfig(cert *GeneratedCertificate) (*tls.Config, error) {
	roots := x509.NewCertPool()
	roots.AddCert(p.CA.Certificate)

	cfg := &tls.Config{
		RootCAs:    roots,
		ServerName: "localhost",
		MinVersion: tls.VersionTLS12,
	}
	if cert != nil {
		pair, err := tls.X509KeyPair(cert.CertPEM, cert.KeyPEM)
		if err != nil {
			return nil, fmt.Errorf("failed to load client key pair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{pair}
	}
	return cfg, nil
}
