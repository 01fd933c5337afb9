// Package pki issues self-signed node certificates and loads the server's
// TLS material.
package pki

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"time"
)

// ErrInvalidPEM is returned for input that does not hold a PEM certificate.
var ErrInvalidPEM = errors.New("invalid certificate PEM")

// Request describes the subject and SANs of a certificate.
type Request struct {
	CommonName   string
	Organization string
	DNSNames     []string
	IPAddresses  []string
}

// Issued is a freshly generated key pair and certificate.
type Issued struct {
	CertPEM   []byte
	KeyPEM    []byte
	NotBefore time.Time
	NotAfter  time.Time
	Serial    string
}

// IssueSelfSigned generates an RSA key and a certificate signed by that key,
// valid for [notBefore, notBefore+validity]. The key is PEM-encoded PKCS#8.
func IssueSelfSigned(req Request, keyBits int, notBefore time.Time, validity time.Duration) (Issued, error) {
	ips := make([]net.IP, 0, len(req.IPAddresses))
	for _, s := range req.IPAddresses {
		ip := net.ParseIP(s)
		if ip == nil {
			return Issued{}, fmt.Errorf("invalid ip address %q", s)
		}
		ips = append(ips, ip)
	}
	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return Issued{}, fmt.Errorf("generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return Issued{}, fmt.Errorf("generate serial: %w", err)
	}
	// x509 encodes times with second precision
	notBefore = notBefore.UTC().Truncate(time.Second)
	notAfter := notBefore.Add(validity)
	subject := pkix.Name{CommonName: req.CommonName}
	if req.Organization != "" {
		subject.Organization = []string{req.Organization}
	}
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               subject,
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		DNSNames:              req.DNSNames,
		IPAddresses:           ips,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return Issued{}, fmt.Errorf("create certificate: %w", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return Issued{}, fmt.Errorf("marshal key: %w", err)
	}
	var certBuf, keyBuf bytes.Buffer
	if err := pem.Encode(&certBuf, &pem.Block{Type: "CERTIFICATE", Bytes: der}); err != nil {
		return Issued{}, err
	}
	if err := pem.Encode(&keyBuf, &pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}); err != nil {
		return Issued{}, err
	}
	return Issued{
		CertPEM:   certBuf.Bytes(),
		KeyPEM:    keyBuf.Bytes(),
		NotBefore: notBefore,
		NotAfter:  notAfter,
		Serial:    serial.Text(16),
	}, nil
}

// ParseCertificate decodes the first PEM certificate block.
func ParseCertificate(certPEM []byte) (*x509.Certificate, error) {
	blk, _ := pem.Decode(certPEM)
	if blk == nil || blk.Type != "CERTIFICATE" {
		return nil, ErrInvalidPEM
	}
	cert, err := x509.ParseCertificate(blk.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
	}
	return cert, nil
}

// CheckValidity parses certPEM and checks only that now lies within its
// validity window. No chain is verified.
func CheckValidity(certPEM []byte, now time.Time) (*x509.Certificate, error) {
	cert, err := ParseCertificate(certPEM)
	if err != nil {
		return nil, err
	}
	if now.Before(cert.NotBefore) {
		return cert, fmt.Errorf("certificate not valid before %s", cert.NotBefore.Format(time.RFC3339))
	}
	if now.After(cert.NotAfter) {
		return cert, fmt.Errorf("certificate expired at %s", cert.NotAfter.Format(time.RFC3339))
	}
	return cert, nil
}

// ServerTLSConfig loads the controller's serving certificate.
func ServerTLSConfig(certPath, keyPath string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
