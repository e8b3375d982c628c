package tls

import (
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDevCertIsGeneratedAndReused(t *testing.T) {
	dir := t.TempDir()
	gen := NewDevCertGenerator(dir, zap.NewNop())

	first, err := gen.GenerateCert([]string{"auth.local", "127.0.0.1", ""})
	require.NoError(t, err)

	leaf, err := x509.ParseCertificate(first.Certificate[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"auth.local"}, leaf.DNSNames)
	require.Len(t, leaf.IPAddresses, 1)
	assert.Equal(t, "127.0.0.1", leaf.IPAddresses[0].String())

	info, err := os.Stat(filepath.Join(dir, "dev-key.pem"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second, err := gen.GenerateCert([]string{"auth.local"})
	require.NoError(t, err)
	assert.Equal(t, first.Certificate[0], second.Certificate[0])
}

func TestDevCertRegeneratedNearExpiry(t *testing.T) {
	dir := t.TempDir()
	gen := NewDevCertGenerator(dir, zap.NewNop())
	first, err := gen.GenerateCert([]string{"localhost"})
	require.NoError(t, err)

	gen.now = func() time.Time { return time.Now().Add(devCertValidity) }
	second, err := gen.GenerateCert([]string{"localhost"})
	require.NoError(t, err)
	assert.NotEqual(t, first.Certificate[0], second.Certificate[0])
}

func TestManagerSources(t *testing.T) {
	_, err := NewTLSManager(Config{Domain: "localhost"}, zap.NewNop())
	assert.ErrorIs(t, err, ErrNoCertificate)

	dir := t.TempDir()
	m, err := NewTLSManager(Config{Domain: "localhost", CertDir: dir, AllowDevCert: true}, zap.NewNop())
	require.NoError(t, err)
	assert.False(t, m.UsesAutoCert())

	cert, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "localhost"})
	require.NoError(t, err)
	assert.NotEmpty(t, cert.Certificate)

	// the generated pair also loads through the file-based path
	fromFiles, err := NewTLSManager(Config{
		CertFile: filepath.Join(dir, "dev-cert.pem"),
		KeyFile:  filepath.Join(dir, "dev-key.pem"),
	}, zap.NewNop())
	require.NoError(t, err)
	got, err := fromFiles.GetCertificate(&tls.ClientHelloInfo{})
	require.NoError(t, err)
	assert.Equal(t, cert.Certificate[0], got.Certificate[0])

	cfg := m.GetTLSConfig()
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.NotContains(t, cfg.NextProtos, "acme-tls/1")
}

func TestHTTPHandlerRedirects(t *testing.T) {
	m, err := NewTLSManager(Config{Domain: "localhost", CertDir: t.TempDir(), AllowDevCert: true}, zap.NewNop())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	m.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://auth.example.com/auth/me?x=1", nil))
	assert.Equal(t, http.StatusMovedPermanently, rec.Code)
	assert.Equal(t, "https://auth.example.com/auth/me?x=1", rec.Header().Get("Location"))
}

func TestHTTPHandlerRedirectsToTLSPort(t *testing.T) {
	m, err := NewTLSManager(Config{
		Domain:       "localhost",
		CertDir:      t.TempDir(),
		AllowDevCert: true,
		HTTPSPort:    8443,
	}, zap.NewNop())
	require.NoError(t, err)

	cases := map[string]string{
		"http://localhost:8080/auth/me":    "https://localhost:8443/auth/me",
		"http://auth.example.com/health":   "https://auth.example.com:8443/health",
		"http://[::1]:8080/auth/login?a=b": "https://[::1]:8443/auth/login?a=b",
	}
	for in, want := range cases {
		rec := httptest.NewRecorder()
		m.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, in, nil))
		assert.Equal(t, http.StatusMovedPermanently, rec.Code, in)
		assert.Equal(t, want, rec.Header().Get("Location"), in)
	}

	m.cfg.HTTPSPort = 443
	rec := httptest.NewRecorder()
	m.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://localhost:8080/auth/me", nil))
	assert.Equal(t, "https://localhost/auth/me", rec.Header().Get("Location"))
}
