package certs

import (
	"crypto/tls"
	"crypto/x509"
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCA(t *testing.T) *CA {
	t.Helper()
	ca, err := LoadOrCreate(t.TempDir(), zap.NewNop().Sugar())
	require.NoError(t, err)
	return ca
}

func TestLoadOrCreate_GeneratesAndPersists(t *testing.T) {
	dir := t.TempDir()
	logger := zap.NewNop().Sugar()

	ca1, err := LoadOrCreate(dir, logger)
	require.NoError(t, err)
	assert.Equal(t, caCommonName, ca1.cert.Subject.CommonName)
	assert.True(t, ca1.cert.IsCA)
	assert.NotEmpty(t, ca1.cert.SubjectKeyId)

	// Second load must return the same root, not mint a new one.
	ca2, err := LoadOrCreate(dir, logger)
	require.NoError(t, err)
	assert.Equal(t, ca1.cert.SerialNumber, ca2.cert.SerialNumber)
	assert.Equal(t, ca1.Fingerprint(), ca2.Fingerprint())
}

func TestCA_Fingerprint(t *testing.T) {
	ca := newTestCA(t)
	fp := ca.Fingerprint()
	assert.Regexp(t, regexp.MustCompile(`^([0-9A-F]{2}:){31}[0-9A-F]{2}$`), fp)
}

func TestMinter_LeafVerifiesAgainstRoot(t *testing.T) {
	ca := newTestCA(t)
	minter, err := NewMinter(ca)
	require.NoError(t, err)

	cert, err := minter.CertificateFor("api.openai.com")
	require.NoError(t, err)
	require.Len(t, cert.Certificate, 2, "leaf chain should include the issuer")

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	assert.Equal(t, "api.openai.com", leaf.Subject.CommonName)
	assert.ElementsMatch(t, []string{"api.openai.com", "*.api.openai.com"}, leaf.DNSNames)

	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(ca.CertPEM())
	_, err = leaf.Verify(x509.VerifyOptions{DNSName: "api.openai.com", Roots: pool})
	assert.NoError(t, err)
}

func TestMinter_IPHostGetsIPSAN(t *testing.T) {
	minter, err := NewMinter(newTestCA(t))
	require.NoError(t, err)

	cert, err := minter.CertificateFor("10.1.2.3")
	require.NoError(t, err)

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	assert.Empty(t, leaf.DNSNames)
	require.Len(t, leaf.IPAddresses, 1)
	assert.Equal(t, "10.1.2.3", leaf.IPAddresses[0].String())
}

func TestMinter_CachesPerHost(t *testing.T) {
	minter, err := NewMinter(newTestCA(t))
	require.NoError(t, err)

	first, err := minter.CertificateFor("chatgpt.com")
	require.NoError(t, err)
	second, err := minter.CertificateFor("chatgpt.com")
	require.NoError(t, err)
	assert.Same(t, first, second, "same host should hit the cache")
	assert.Equal(t, 1, minter.CacheLen())
}

func TestMinter_ConcurrentMintSingleLeaf(t *testing.T) {
	minter, err := NewMinter(newTestCA(t))
	require.NoError(t, err)

	const goroutines = 16
	certs := make([]*tls.Certificate, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cert, err := minter.CertificateFor("claude.ai")
			assert.NoError(t, err)
			certs[i] = cert
		}(i)
	}
	wg.Wait()

	for i := 1; i < goroutines; i++ {
		assert.Same(t, certs[0], certs[i], "all goroutines should share one leaf")
	}
	assert.Equal(t, 1, minter.CacheLen())
}

func TestServerTLSConfig(t *testing.T) {
	minter, err := NewMinter(newTestCA(t))
	require.NoError(t, err)

	cfg, err := minter.ServerTLSConfig("gemini.google.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"http/1.1"}, cfg.NextProtos)
	require.Len(t, cfg.Certificates, 1)
}
