package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/KevoDB/treekv/pkg/common/log"
	"github.com/KevoDB/treekv/pkg/config"
	"github.com/KevoDB/treekv/pkg/engine"
	"github.com/KevoDB/treekv/pkg/grpc/service"
	"github.com/KevoDB/treekv/pkg/telemetry"
)

func openEngine(t *testing.T) *engine.Engine {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.BlockSize = 512
	cfg.DataFileSize = config.MB
	cfg.MaxLobSize = 64 * config.KB
	e, err := engine.Open(t.TempDir(), engine.WithConfig(cfg), engine.WithLogger(log.Discard()))
	if err != nil {
		t.Fatalf("Failed to open engine: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func startServer(t *testing.T, options TransportOptions, tel telemetry.Telemetry) *GRPCServer {
	t.Helper()
	srv, err := NewGRPCServer("127.0.0.1:0", openEngine(t), options, tel)
	if err != nil {
		t.Fatal(err)
	}
	srv.SetLogger(log.Discard())
	if err := srv.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Stop(ctx)
	})
	return srv
}

func roundTrip(t *testing.T, addr string, options TransportOptions) {
	t.Helper()
	ctx := context.Background()
	conn, err := Dial(ctx, addr, options)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	c := service.NewTreeServiceClient(conn)
	if _, err := c.Put(ctx, []byte("key"), []byte("value")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	e, err := c.Get(ctx, []byte("key"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(e.Value) != "value" {
		t.Errorf("Expected value, got %q", e.Value)
	}
}

func TestServerPlaintext(t *testing.T) {
	rec := telemetry.NewRecorder()
	opts := DefaultTransportOptions()
	opts.Compression = CompressionGzip
	srv := startServer(t, opts, rec)

	roundTrip(t, srv.Addr().String(), opts)

	if n := rec.CounterCount("treekv.service.request.count"); n != 2 {
		t.Errorf("Expected 2 recorded requests, got %d", n)
	}
	if err := srv.Start(); !errors.Is(err, ErrServerStarted) {
		t.Errorf("Expected ErrServerStarted, got %v", err)
	}
}

func TestServerStop(t *testing.T) {
	srv := startServer(t, DefaultTransportOptions(), nil)
	addr := srv.Addr().String()

	if err := srv.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if srv.Addr() != nil {
		t.Error("Stopped server should have no address")
	}
	if err := srv.Stop(context.Background()); err != nil {
		t.Errorf("Second Stop should be a no-op, got %v", err)
	}

	opts := DefaultTransportOptions()
	opts.Timeout = 200 * time.Millisecond
	if _, err := Dial(context.Background(), addr, opts); err == nil {
		t.Error("Dial to a stopped server should fail")
	}
}

func TestInvalidOptions(t *testing.T) {
	opts := DefaultTransportOptions()
	opts.Compression = "brotli"
	if _, err := NewGRPCServer("127.0.0.1:0", nil, opts, nil); err == nil {
		t.Error("Expected an error for unknown compression")
	}
	if _, err := DialOptions(opts); err == nil {
		t.Error("Expected an error for unknown compression")
	}

	opts = DefaultTransportOptions()
	opts.TLS = &TLSConfig{}
	srv, err := NewGRPCServer("127.0.0.1:0", nil, opts, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.Start(); err == nil {
		t.Error("Expected Start to fail without certificate files")
	}
}

// writeCert writes a self-signed certificate for 127.0.0.1 and its key.
func writeCert(t *testing.T, dir string) (certFile, keyFile string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "treekv test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		IsCA:                  true,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}

	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	if err := os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0600); err != nil {
		t.Fatal(err)
	}
	return certFile, keyFile
}

func TestServerTLS(t *testing.T) {
	certFile, keyFile := writeCert(t, t.TempDir())

	serverOpts := DefaultTransportOptions()
	serverOpts.TLS = &TLSConfig{CertFile: certFile, KeyFile: keyFile, CAFile: certFile}
	srv := startServer(t, serverOpts, nil)
	addr := srv.Addr().String()

	clientOpts := DefaultTransportOptions()
	clientOpts.TLS = &TLSConfig{CertFile: certFile, KeyFile: keyFile, CAFile: certFile}
	roundTrip(t, addr, clientOpts)

	// The server requires a client certificate.
	clientOpts.TLS = &TLSConfig{CAFile: certFile}
	clientOpts.Timeout = 500 * time.Millisecond
	conn, err := Dial(context.Background(), addr, clientOpts)
	if err == nil {
		_, err = service.NewTreeServiceClient(conn).Get(context.Background(), []byte("key"))
		conn.Close()
	}
	if err == nil {
		t.Error("Expected a call without a client certificate to fail")
	}
}

func TestTLSConfigErrors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.pem")
	if err := os.WriteFile(bad, []byte("not a certificate"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := (&TLSConfig{CertFile: "x"}).ServerConfig(); err == nil {
		t.Error("Expected an error without a key file")
	}
	if _, err := (&TLSConfig{CAFile: bad}).ClientConfig(); err == nil {
		t.Error("Expected an error for an unparsable CA file")
	}
	if _, err := (&TLSConfig{CAFile: filepath.Join(dir, "missing.pem")}).ClientConfig(); err == nil {
		t.Error("Expected an error for a missing CA file")
	}
	cfg, err := (&TLSConfig{SkipVerify: true}).ClientConfig()
	if err != nil || !cfg.InsecureSkipVerify {
		t.Errorf("Expected a skip-verify config, got %v, %v", cfg, err)
	}
}
