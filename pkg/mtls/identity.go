// Package mtls extracts the authenticated peer identity from a mutual-TLS
// connection and carries it through a request context.
package mtls

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"log/slog"
	"time"
)

// ClientIdentity is the subject of a verified client certificate.
type ClientIdentity struct {
	CommonName   string   `json:"commonName"`
	Organization []string `json:"organization,omitempty"`
	SerialNumber string   `json:"serialNumber"`
	Issuer       string   `json:"issuer"`
	NotAfter     string   `json:"notAfter"`
	Fingerprint  string   `json:"fingerprint"` // SHA256 fingerprint
	Verified     bool     `json:"verified"`
}

// ExtractIdentity builds a ClientIdentity from cert. verified reports
// whether the certificate chained to a trusted CA.
func ExtractIdentity(cert *x509.Certificate, verified bool) *ClientIdentity {
	if cert == nil {
		return nil
	}

	var org []string
	if len(cert.Subject.Organization) > 0 {
		org = append(org, cert.Subject.Organization...)
	}

	return &ClientIdentity{
		CommonName:   cert.Subject.CommonName,
		Organization: org,
		SerialNumber: cert.SerialNumber.String(),
		Issuer:       cert.Issuer.CommonName,
		NotAfter:     cert.NotAfter.UTC().Format(time.RFC3339),
		Fingerprint:  Fingerprint(cert),
		Verified:     verified,
	}
}

// Fingerprint calculates the SHA256 fingerprint of a certificate as
// lowercase hex.
func Fingerprint(cert *x509.Certificate) string {
	if cert == nil {
		return ""
	}
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}

// LogValue implements slog.LogValuer.
func (c *ClientIdentity) LogValue() slog.Value {
	if c == nil {
		return slog.StringValue("none")
	}
	fp := c.Fingerprint
	if len(fp) > 16 {
		fp = fp[:16]
	}
	return slog.GroupValue(
		slog.String("cn", c.CommonName),
		slog.String("issuer", c.Issuer),
		slog.String("fingerprint", fp),
	)
}
