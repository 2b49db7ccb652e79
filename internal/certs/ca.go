// Package certs owns the interception root CA and mints per-host leaf
// certificates for inspected TLS sessions.
package certs

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	caCertFile = "ca.crt"
	caKeyFile  = "ca.key"

	caCommonName   = "Complyze AI Proxy CA"
	caOrganization = "Complyze"

	caValidityYears   = 10
	leafValidityYears = 1
)

// CA is the interception root. It signs short-lived leaf certificates
// for the hosts the proxy inspects. The key never leaves the data
// directory.
type CA struct {
	cert    *x509.Certificate
	key     *rsa.PrivateKey
	certPEM []byte
	keyPEM  []byte

	certPath string
	keyPath  string
}

// LoadOrCreate loads the CA from dir, generating and persisting a fresh
// one when the files are missing or the certificate has expired.
func LoadOrCreate(dir string, logger *zap.SugaredLogger) (*CA, error) {
	certPath := filepath.Join(dir, caCertFile)
	keyPath := filepath.Join(dir, caKeyFile)

	if ca, err := loadCA(certPath, keyPath); err == nil {
		if time.Now().Before(ca.cert.NotAfter) {
			return ca, nil
		}
		logger.Warnw("Root CA expired, generating a new one",
			"not_after", ca.cert.NotAfter)
	} else if !os.IsNotExist(err) {
		logger.Warnw("Failed to load existing root CA, generating a new one",
			"error", err)
	}

	ca, err := generateCA()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating certs directory: %w", err)
	}
	if err := os.WriteFile(certPath, ca.certPEM, 0o644); err != nil {
		return nil, fmt.Errorf("writing CA cert: %w", err)
	}
	if err := os.WriteFile(keyPath, ca.keyPEM, 0o600); err != nil {
		return nil, fmt.Errorf("writing CA key: %w", err)
	}
	ca.certPath = certPath
	ca.keyPath = keyPath

	logger.Infow("Generated new root CA",
		"path", certPath,
		"fingerprint", ca.Fingerprint(),
		"not_after", ca.cert.NotAfter)
	return ca, nil
}

func loadCA(certPath, keyPath string) (*CA, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, err
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, fmt.Errorf("failed to decode CA certificate PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing CA certificate: %w", err)
	}

	block, _ = pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("failed to decode CA key PEM")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing CA key: %w", err)
	}

	return &CA{
		cert:     cert,
		key:      key,
		certPEM:  certPEM,
		keyPEM:   keyPEM,
		certPath: certPath,
		keyPath:  keyPath,
	}, nil
}

// generateCA creates a new root certificate and key. RSA keeps the CA
// importable into every OS trust store and corporate MDM profile we
// have run into; EC roots still trip up some enterprise tooling.
func generateCA() (*CA, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generating CA key: %w", err)
	}

	pubKeyBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshaling public key: %w", err)
	}
	subjectKeyID := sha1.Sum(pubKeyBytes)

	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return nil, fmt.Errorf("generating serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{caOrganization},
			CommonName:   caCommonName,
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().AddDate(caValidityYears, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLenZero:        true,
		SubjectKeyId:          subjectKeyID[:],
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("creating CA certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("parsing generated certificate: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	return &CA{
		cert:    cert,
		key:     key,
		certPEM: certPEM,
		keyPEM:  keyPEM,
	}, nil
}

// CertPEM returns the root certificate in PEM form, for export to
// clients that need to trust the proxy.
func (ca *CA) CertPEM() []byte {
	return ca.certPEM
}

// CertPath returns the on-disk location of the root certificate.
func (ca *CA) CertPath() string {
	return ca.certPath
}

// Fingerprint returns the SHA-256 fingerprint of the root certificate in
// the colon-separated form trust-store UIs display.
func (ca *CA) Fingerprint() string {
	sum := sha256.Sum256(ca.cert.Raw)
	hexed := hex.EncodeToString(sum[:])
	parts := make([]string, 0, len(hexed)/2)
	for i := 0; i < len(hexed); i += 2 {
		parts = append(parts, hexed[i:i+2])
	}
	return strings.ToUpper(strings.Join(parts, ":"))
}

// NotAfter returns the root certificate expiry.
func (ca *CA) NotAfter() time.Time {
	return ca.cert.NotAfter
}
