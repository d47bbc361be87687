package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	zlog "github.com/rs/zerolog/log"
	"golang.org/x/crypto/acme/autocert"

	"github.com/tariel-x/callrelay/internal/config"
)

const certCheckPeriod = 24 * time.Hour

type server struct {
	*http.Server
	serve      func() error
	background func(ctx context.Context)
}

func newServers(cfg *config.Config, handler http.Handler) ([]*server, error) {
	switch cfg.HTTP.Mode {
	case config.ModeAutocert:
		return autocertServers(cfg, handler)
	case config.ModeSelfSigned:
		return selfSignedServers(cfg, handler)
	default:
		srv := newHTTPServer(cfg.HTTP.Port, handler, nil)
		zlog.Info().Int("port", cfg.HTTP.Port).Msg("HTTP server starting")
		return []*server{plain(srv)}, nil
	}
}

func newHTTPServer(port int, handler http.Handler, tlsConfig *tls.Config) *http.Server {
	// WriteTimeout stays zero: hijacked WebSocket connections manage their own deadlines.
	return &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           handler,
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          log.New(newTLSErrorWriter(), "", 0),
	}
}

func plain(srv *http.Server) *server {
	return &server{Server: srv, serve: func() error {
		return ignoreClosed(srv.ListenAndServe())
	}}
}

func secure(srv *http.Server) *server {
	return &server{Server: srv, serve: func() error {
		return ignoreClosed(srv.ListenAndServeTLS("", ""))
	}}
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func autocertServers(cfg *config.Config, handler http.Handler) ([]*server, error) {
	if err := os.MkdirAll(cfg.HTTP.CertsDir, 0o700); err != nil {
		return nil, fmt.Errorf("create certs directory: %w", err)
	}

	domain := normalizeDomain(cfg.HTTP.Domain)
	m := &autocert.Manager{
		Prompt: autocert.AcceptTOS,
		HostPolicy: func(ctx context.Context, host string) error {
			if normalizeDomain(host) != domain {
				// Rejections are filtered out of the error log.
				return fmt.Errorf("host %q not configured (expected %q)", host, domain)
			}
			return nil
		},
		Cache: autocert.DirCache(cfg.HTTP.CertsDir),
	}

	redirect := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://"+r.Host+r.RequestURI, http.StatusMovedPermanently)
	})
	httpSrv := newHTTPServer(cfg.HTTP.Port, m.HTTPHandler(redirect), nil)
	httpsSrv := newHTTPServer(cfg.HTTP.HTTPSPort, handler, m.TLSConfig())

	zlog.Info().
		Int("http_port", cfg.HTTP.Port).
		Int("https_port", cfg.HTTP.HTTPSPort).
		Str("domain", domain).
		Str("certs_dir", cfg.HTTP.CertsDir).
		Msg("HTTPS server starting with Let's Encrypt certificates")
	if domain == "localhost" || domain == "127.0.0.1" {
		zlog.Warn().Msg("Let's Encrypt will not work for localhost, use http.mode self-signed for local development")
	}

	tlsServer := secure(httpsSrv)
	tlsServer.background = func(ctx context.Context) {
		watchCertificate(ctx, m, domain)
	}
	return []*server{plain(httpSrv), tlsServer}, nil
}

func selfSignedServers(cfg *config.Config, handler http.Handler) ([]*server, error) {
	hosts := []string{"localhost"}
	if cfg.HTTP.Domain != "" {
		hosts = []string{cfg.HTTP.Domain}
	}
	certPEM, keyPEM, err := generateSelfSignedCert(hosts)
	if err != nil {
		return nil, err
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("load self-signed certificate: %w", err)
	}
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	httpsPort := strconv.Itoa(cfg.HTTP.HTTPSPort)
	redirect := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		target := "https://" + net.JoinHostPort(host, httpsPort) + r.URL.RequestURI()
		http.Redirect(w, r, target, http.StatusMovedPermanently)
	})

	zlog.Info().
		Int("http_port", cfg.HTTP.Port).
		Int("https_port", cfg.HTTP.HTTPSPort).
		Strs("hosts", hosts).
		Msg("HTTPS server starting with a self-signed certificate")
	return []*server{
		plain(newHTTPServer(cfg.HTTP.Port, redirect, nil)),
		secure(newHTTPServer(cfg.HTTP.HTTPSPort, handler, tlsConfig)),
	}, nil
}

// watchCertificate logs the certificate expiry once a day and touches the
// manager so renewal starts early.
func watchCertificate(ctx context.Context, m *autocert.Manager, domain string) {
	ticker := time.NewTicker(certCheckPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkCertificate(m, domain)
		}
	}
}

func checkCertificate(m *autocert.Manager, domain string) {
	cert, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: domain})
	if err != nil || cert == nil || len(cert.Certificate) == 0 {
		zlog.Warn().Err(err).Str("domain", domain).Msg("certificate not available yet")
		return
	}
	leaf := cert.Leaf
	if leaf == nil {
		leaf, err = x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			zlog.Error().Err(err).Msg("failed to parse certificate")
			return
		}
	}
	days := int(time.Until(leaf.NotAfter).Hours() / 24)
	zlog.Info().
		Str("domain", domain).
		Int("days_left", days).
		Time("not_after", leaf.NotAfter).
		Msg("certificate checked")
}

// normalizeDomain lowercases and strips a www. prefix.
func normalizeDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	return strings.TrimPrefix(domain, "www.")
}
