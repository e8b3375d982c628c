package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"
)

// Config selects where the serving certificate comes from, in order:
// ACME (AutoCert), a key pair on disk, or a generated development
// certificate stored in CertDir. HTTPSPort is where HTTPHandler sends
// redirected clients; 0 or 443 means the default port.
type Config struct {
	AutoCert     bool
	Domain       string
	CertFile     string
	KeyFile      string
	CertDir      string
	Email        string
	AllowDevCert bool
	HTTPSPort    int
}

var ErrNoCertificate = errors.New("no TLS certificate configured")

type TLSManager struct {
	cfg      Config
	autoCert *autocert.Manager
	cert     *tls.Certificate
	logger   *zap.Logger
}

// NewTLSManager resolves the certificate source once at startup so that
// handshakes never touch the filesystem.
func NewTLSManager(cfg Config, logger *zap.Logger) (*TLSManager, error) {
	m := &TLSManager{cfg: cfg, logger: logger}

	switch {
	case cfg.AutoCert:
		if err := os.MkdirAll(cfg.CertDir, 0o700); err != nil {
			return nil, fmt.Errorf("create autocert cache: %w", err)
		}
		m.autoCert = &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(cfg.Domain),
			Cache:      autocert.DirCache(cfg.CertDir),
			Email:      cfg.Email,
		}
		logger.Info("AutoCert configured", zap.String("domain", cfg.Domain), zap.String("cache_dir", cfg.CertDir))

	case cfg.CertFile != "" && cfg.KeyFile != "":
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load key pair: %w", err)
		}
		m.cert = &cert
		logger.Info("Loaded TLS key pair", zap.String("cert_file", cfg.CertFile))

	case cfg.AllowDevCert:
		hosts := []string{cfg.Domain, "localhost", "127.0.0.1", "::1"}
		cert, err := NewDevCertGenerator(cfg.CertDir, logger).GenerateCert(hosts)
		if err != nil {
			return nil, err
		}
		m.cert = &cert

	default:
		return nil, ErrNoCertificate
	}

	return m, nil
}

func (m *TLSManager) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	if m.autoCert != nil {
		return m.autoCert.GetCertificate(hello)
	}
	if m.cert == nil {
		return nil, ErrNoCertificate
	}
	return m.cert, nil
}

func (m *TLSManager) GetTLSConfig() *tls.Config {
	protos := []string{"h2", "http/1.1"}
	if m.autoCert != nil {
		protos = append(protos, "acme-tls/1")
	}
	return &tls.Config{
		GetCertificate: m.GetCertificate,
		NextProtos:     protos,
		MinVersion:     tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		},
	}
}

// HTTPHandler serves ACME challenges when AutoCert is on and redirects
// everything else to HTTPS.
func (m *TLSManager) HTTPHandler() http.Handler {
	redirect := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		target := "https://" + m.httpsHost(r.Host) + r.URL.RequestURI()
		http.Redirect(w, r, target, http.StatusMovedPermanently)
	})
	if m.autoCert != nil {
		return m.autoCert.HTTPHandler(redirect)
	}
	return redirect
}

// httpsHost swaps the plain listener's port in host for the HTTPS port.
func (m *TLSManager) httpsHost(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	} else {
		host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	}
	if m.cfg.HTTPSPort == 0 || m.cfg.HTTPSPort == 443 {
		if strings.Contains(host, ":") {
			return "[" + host + "]"
		}
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(m.cfg.HTTPSPort))
}

func (m *TLSManager) UsesAutoCert() bool {
	return m.autoCert != nil
}
