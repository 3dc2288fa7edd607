package server

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"io"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
}

func localConfig() Config {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.ShutdownTimeout = time.Second
	return cfg
}

func startManager(t *testing.T, h http.Handler, cfg Config) *Manager {
	t.Helper()
	m := NewManager(h, cfg, zaptest.NewLogger(t))
	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func TestManager_Lifecycle(t *testing.T) {
	m := NewManager(okHandler(), localConfig(), zaptest.NewLogger(t))
	assert.Empty(t, m.ListenAddr())
	assert.False(t, m.Closed())

	require.NoError(t, m.Start())
	assert.ErrorContains(t, m.Start(), "already started")

	resp, err := http.Get("http://" + m.ListenAddr() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()), "second shutdown is a no-op")
	assert.True(t, m.Closed())
	assert.Empty(t, m.ListenAddr())
	assert.ErrorContains(t, m.Start(), "closed")
}

func TestManager_ListenConflict(t *testing.T) {
	first := startManager(t, okHandler(), localConfig())

	cfg := localConfig()
	cfg.Addr = first.ListenAddr()
	second := NewManager(okHandler(), cfg, zaptest.NewLogger(t))
	assert.ErrorContains(t, second.Start(), "failed to listen")
}

func TestManager_NameDefaults(t *testing.T) {
	m := NewManager(okHandler(), Config{Addr: ":0"}, nil)
	assert.Equal(t, "http", m.config.Name)
	assert.Equal(t, "api", DefaultConfig().Name)
}

func TestManager_MaxConnectionsQueuesExtraConnections(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 4)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entered <- struct{}{}
		<-release
	})

	cfg := localConfig()
	cfg.MaxConnections = 1
	m := startManager(t, handler, cfg)

	url := "http://" + m.ListenAddr() + "/"
	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			if resp, err := client.Get(url); err == nil {
				resp.Body.Close()
			}
			done <- struct{}{}
		}()
	}

	<-entered
	select {
	case <-entered:
		t.Fatal("second connection must wait for the first to finish")
	case <-time.After(100 * time.Millisecond):
	}
	close(release)
	<-done
	<-done
}

func TestManager_WaitForShutdownOnContext(t *testing.T) {
	m := startManager(t, okHandler(), localConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m.WaitForShutdown(ctx)
	assert.True(t, m.Closed())

	select {
	case err := <-m.Errors():
		t.Fatalf("unexpected serve error: %v", err)
	default:
	}
}

// =============================================================================
// 🔒 HTTPS
// =============================================================================

func writeSelfSigned(t *testing.T) (certFile, keyFile string, pool *x509.CertPool) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(42),
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		IsCA:                  true,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	dir := t.TempDir()
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	pool = x509.NewCertPool()
	pool.AddCert(cert)
	return certFile, keyFile, pool
}

func TestManager_ServesTLS(t *testing.T) {
	certFile, keyFile, pool := writeSelfSigned(t)
	cfg := localConfig()
	cfg.TLSCertFile = certFile
	cfg.TLSKeyFile = keyFile
	m := startManager(t, okHandler(), cfg)

	client := &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: pool}}}
	resp, err := client.Get("https://" + m.ListenAddr() + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, resp.TLS)
	assert.GreaterOrEqual(t, resp.TLS.Version, uint16(tls.VersionTLS12))
}

func TestManager_TLSMisconfigurationFailsAtStart(t *testing.T) {
	certFile, _, _ := writeSelfSigned(t)

	tests := []struct {
		name     string
		certFile string
		keyFile  string
	}{
		{name: "key missing", certFile: certFile},
		{name: "unreadable files", certFile: certFile, keyFile: filepath.Join(t.TempDir(), "nope.pem")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := localConfig()
			cfg.TLSCertFile = tt.certFile
			cfg.TLSKeyFile = tt.keyFile
			m := NewManager(okHandler(), cfg, zaptest.NewLogger(t))
			assert.Error(t, m.Start())
			assert.Empty(t, m.ListenAddr(), "must not bind when certificates are invalid")
		})
	}
}
