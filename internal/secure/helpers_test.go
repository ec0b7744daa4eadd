package secure

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"net"
	"sync"
	"testing"
	"time"

	"synclient/internal/transport"
)

// testCert generates a self-signed certificate and returns it with its
// PEM encoding (certificate followed by key).
func testCert(t *testing.T, cn string) (tls.Certificate, []byte) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		t.Fatal(err)
	}
	return cert, append(certPEM, keyPEM...)
}

// tlsServer is a loopback TLS endpoint that completes handshakes and
// holds connections open until the test ends.
type tlsServer struct {
	Addr        string
	Fingerprint string

	mu          sync.Mutex
	clientCerts int
}

func startTLSServer(t *testing.T, cfg *tls.Config) *tlsServer {
	t.Helper()
	cert, _ := testCert(t, "synergy-server")
	if cfg == nil {
		cfg = &tls.Config{}
	}
	cfg.Certificates = []tls.Certificate{cert}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatal(err)
	}
	s := &tlsServer{Addr: ln.Addr().String(), Fingerprint: Fingerprint(leaf)}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				tc := tls.Server(c, cfg)
				if err := tc.Handshake(); err != nil {
					return
				}
				if len(tc.ConnectionState().PeerCertificates) > 0 {
					s.mu.Lock()
					s.clientCerts++
					s.mu.Unlock()
				}
				buf := make([]byte, 64)
				for {
					if _, err := tc.Read(buf); err != nil {
						return
					}
				}
			}(conn)
		}
	}()
	return s
}

func (s *tlsServer) ClientCerts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientCerts
}

// fixedResolver answers every lookup with the same candidates.
type fixedResolver []string

func (r fixedResolver) Resolve(context.Context, string, int) ([]string, error) {
	return append([]string(nil), r...), nil
}

// deadAddr returns a loopback address nothing listens on.
func deadAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

// recordingDialer wraps a TCPDialer and remembers every address dialled.
type recordingDialer struct {
	mu    sync.Mutex
	calls []string
	inner transport.TCPDialer
}

func (d *recordingDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	d.mu.Lock()
	d.calls = append(d.calls, address)
	d.mu.Unlock()
	return d.inner.Dial(ctx, network, address)
}

func (d *recordingDialer) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// memStore is an in-memory trust store with an injectable save error.
type memStore struct {
	mu      sync.Mutex
	pins    map[string]string
	saveErr error
	saves   int
}

func newMemStore() *memStore { return &memStore{pins: map[string]string{}} }

func (m *memStore) Load(host string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fp, ok := m.pins[host]
	return fp, ok, nil
}

func (m *memStore) Save(host, fp string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.pins[host] = fp
	return nil
}

func (m *memStore) Close() error { return nil }

var errDiskFull = errors.New("disk full")
