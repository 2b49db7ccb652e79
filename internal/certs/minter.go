package certs

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// leafCacheSize bounds the number of cached leaf certificates. RSA leaf
// generation costs tens of milliseconds, so evicting a host just means
// one slow handshake on its next visit.
const leafCacheSize = 4096

// Minter issues per-host leaf certificates signed by the root CA.
// Leaves are cached by normalized host; concurrent handshakes for the
// same host share a single key generation.
type Minter struct {
	ca    *CA
	cache *lru.Cache[string, *tls.Certificate]
	group singleflight.Group
}

// NewMinter creates a Minter backed by ca.
func NewMinter(ca *CA) (*Minter, error) {
	cache, err := lru.New[string, *tls.Certificate](leafCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating leaf cache: %w", err)
	}
	return &Minter{ca: ca, cache: cache}, nil
}

// CertificateFor returns a leaf certificate for host, minting and
// caching one when needed. host must already be normalized (lowercase,
// no port).
func (m *Minter) CertificateFor(host string) (*tls.Certificate, error) {
	if cert, ok := m.cache.Get(host); ok {
		return cert, nil
	}

	v, err, _ := m.group.Do(host, func() (interface{}, error) {
		// Re-check: a concurrent caller may have populated the cache
		// between our miss and acquiring the flight.
		if cert, ok := m.cache.Get(host); ok {
			return cert, nil
		}
		cert, err := m.mint(host)
		if err != nil {
			return nil, err
		}
		m.cache.Add(host, cert)
		return cert, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*tls.Certificate), nil
}

// ServerTLSConfig returns the tls.Config used to terminate an inspected
// client connection for host. HTTP/1.1 only: the inspection loop parses
// one request at a time off the wire.
func (m *Minter) ServerTLSConfig(host string) (*tls.Config, error) {
	cert, err := m.CertificateFor(host)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{*cert},
		NextProtos:   []string{"http/1.1"},
	}, nil
}

// mint generates a leaf for host signed by the root CA.
func (m *Minter) mint(host string) (*tls.Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return nil, fmt.Errorf("generating serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{caOrganization},
			CommonName:   host,
		},
		NotBefore:   time.Now().Add(-time.Hour),
		NotAfter:    time.Now().AddDate(leafValidityYears, 0, 0),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	if ip := net.ParseIP(host); ip != nil {
		template.IPAddresses = []net.IP{ip}
	} else {
		// The wildcard SAN lets one leaf cover SNI and Host values that
		// differ by a single label, which desktop apps do in practice.
		template.DNSNames = []string{host, "*." + host}
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, m.ca.cert, &key.PublicKey, m.ca.key)
	if err != nil {
		return nil, fmt.Errorf("creating certificate for %s: %w", host, err)
	}

	// Include the CA cert in the chain. Some TLS stacks (Python's ssl,
	// a few Electron builds) want the issuer present even when the root
	// is in their trust bundle.
	return &tls.Certificate{
		Certificate: [][]byte{certDER, m.ca.cert.Raw},
		PrivateKey:  key,
	}, nil
}

// CacheLen reports how many leaves are currently cached.
func (m *Minter) CacheLen() int {
	return m.cache.Len()
}
