// Package web serves the environment's static content over HTTPS. The
// container image ships task fixtures (web pages the agent interacts
// with) as static files; browsers require TLS for some of them, so the
// server generates a self-signed certificate when none is configured.
package web

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/mcpworld/harness/internal/observability"
)

// StaticServer serves a directory over TLS on an IPv6 dual-stack
// listener.
type StaticServer struct {
	port     int
	dir      string
	certFile string
	keyFile  string
	logger   *observability.Logger

	mu     sync.Mutex
	server *http.Server
}

// NewStaticServer creates a server for dir on port. The cert/key pair
// is generated at the given paths when missing.
func NewStaticServer(port int, dir, certFile, keyFile string, logger *observability.Logger) *StaticServer {
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{})
	}
	return &StaticServer{
		port:     port,
		dir:      dir,
		certFile: certFile,
		keyFile:  keyFile,
		logger:   logger,
	}
}

// Name implements the supervisor's Service interface.
func (s *StaticServer) Name() string { return "static" }

// Run implements Service: serve until ctx is cancelled.
func (s *StaticServer) Run(ctx context.Context) error {
	if err := EnsureCertificate(s.certFile, s.keyFile); err != nil {
		return fmt.Errorf("ensure certificate: %w", err)
	}

	if info, err := os.Stat(s.dir); err != nil || !info.IsDir() {
		return fmt.Errorf("static content dir %s is not a directory", s.dir)
	}

	server := &http.Server{
		Handler:           http.FileServer(http.Dir(s.dir)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.server = server
	s.mu.Unlock()

	// "tcp" on the unspecified IPv6 address accepts IPv4 too on
	// dual-stack hosts, matching the original [::]:8083 listener.
	ln, err := net.Listen("tcp", fmt.Sprintf("[::]:%d", s.port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	s.logger.Info(ctx, "static content server listening",
		"port", s.port, "dir", s.dir)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ServeTLS(ln, s.certFile, s.keyFile)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// EnsureCertificate writes a self-signed RSA certificate pair to
// certFile/keyFile when either is missing. Existing pairs are left
// alone.
func EnsureCertificate(certFile, keyFile string) error {
	_, certErr := os.Stat(certFile)
	_, keyErr := os.Stat(keyFile)
	if certErr == nil && keyErr == nil {
		return nil
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("generate serial: %w", err)
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   "localhost",
			Organization: []string{"MCPWorld"},
		},
		NotBefore:             now,
		NotAfter:              now.AddDate(0, 0, 365),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("create certificate: %w", err)
	}

	certOut, err := os.OpenFile(certFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("write cert: %w", err)
	}
	defer certOut.Close()
	if err := pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: der}); err != nil {
		return fmt.Errorf("encode cert: %w", err)
	}

	keyOut, err := os.OpenFile(keyFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("write key: %w", err)
	}
	defer keyOut.Close()
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("marshal key: %w", err)
	}
	if err := pem.Encode(keyOut, &pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}); err != nil {
		return fmt.Errorf("encode key: %w", err)
	}

	return nil
}
