package session

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"math/big"
	"net"
	"sync"
	"testing"
	"time"

	ncerr "synclient/internal/errors"
	"synclient/internal/metrics"
	"synclient/internal/secure"
	"synclient/internal/synergy"
	"synclient/internal/transport"
	"synclient/internal/trust"
	"synclient/util"
)

type fakeState struct {
	connected   bool
	lastMessage time.Time
	lastError   synergy.ErrorCode
	setFalse    int
}

func (f *fakeState) SetConnected(v bool) {
	if !v {
		f.setFalse++
	}
	f.connected = v
}
func (f *fakeState) SetLastMessageTime(t time.Time)   { f.lastMessage = t }
func (f *fakeState) SetLastError(c synergy.ErrorCode) { f.lastError = c }

// server accepts connections and hands each one to the test.  TLS
// connections are handshaken before they are handed over.
func server(t *testing.T, ln net.Listener) <-chan net.Conn {
	t.Helper()
	conns := make(chan net.Conn, 4)
	var (
		mu   sync.Mutex
		open []net.Conn
	)
	t.Cleanup(func() {
		ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range open {
			c.Close()
		}
	})
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			open = append(open, c)
			mu.Unlock()
			go func() {
				if tc, ok := c.(*tls.Conn); ok {
					if err := tc.Handshake(); err != nil {
						return
					}
				}
				conns <- c
			}()
		}
	}()
	return conns
}

func plainServer(t *testing.T) (string, <-chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	return ln.Addr().String(), server(t, ln)
}

// fixedResolver answers every lookup with the same candidates.
type fixedResolver []string

func (r fixedResolver) Resolve(context.Context, string, int) ([]string, error) {
	return append([]string(nil), r...), nil
}

func newSession(t *testing.T, addr string, useTLS bool) (*Session, *fakeState) {
	t.Helper()
	est := &secure.Establisher{
		Host:            "server.test",
		Port:            24800,
		UseTLS:          useTLS,
		TrustOnFirstUse: true,
		Timeout:         2 * time.Second,
		Resolver:        fixedResolver{addr},
		Dialer:          &transport.TCPDialer{Timeout: 2 * time.Second},
		Store:           trust.NewFileStore(t.TempDir()),
		Logger:          util.NewLogger(0),
	}
	s := New(est, time.Second, util.NewLogger(0), metrics.New())
	st := &fakeState{}
	s.Bind(st)
	t.Cleanup(func() { s.Disconnect() })
	return s, st
}

func accept(t *testing.T, conns <-chan net.Conn) net.Conn {
	t.Helper()
	select {
	case c := <-conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("server saw no connection")
		return nil
	}
}

func TestSession_ConnectSendReceive(t *testing.T) {
	addr, conns := plainServer(t)
	s, st := newSession(t, addr, false)

	before := time.Now()
	if err := s.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	peer := accept(t, conns)
	if !s.Connected() || s.Fd() < 0 {
		t.Fatalf("connected=%v fd=%d", s.Connected(), s.Fd())
	}
	if st.lastMessage.Before(before) {
		t.Error("connect did not refresh the last message time")
	}

	if err := s.Send([]byte("ping")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(peer, buf); err != nil || string(buf) != "ping" {
		t.Fatalf("server read %q, %v", buf, err)
	}

	peer.Write([]byte("pong"))
	got := make([]byte, 16)
	n, err := s.Receive(got)
	if err != nil || string(got[:n]) != "pong" {
		t.Fatalf("Receive = %q, %v", got[:n], err)
	}

	snap := s.Metrics.Snapshot()
	if snap.BytesOut != 4 || snap.ConnectsTotal != 1 {
		t.Errorf("metrics %+v", snap)
	}
}

// TestSession_DisconnectIsAtomicAndIdempotent checks that one call
// releases everything and a second finds nothing to do.
func TestSession_DisconnectIsAtomicAndIdempotent(t *testing.T) {
	addr, conns := plainServer(t)
	s, st := newSession(t, addr, false)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	peer := accept(t, conns)
	st.connected = true

	if !s.Disconnect() {
		t.Fatal("first Disconnect reported nothing to close")
	}
	if s.Connected() || s.Fd() != -1 || s.Pending() || st.connected {
		t.Errorf("state after disconnect: connected=%v fd=%d engine=%v", s.Connected(), s.Fd(), st.connected)
	}
	if s.Disconnect() {
		t.Error("second Disconnect should be a no-op")
	}
	if st.setFalse != 1 {
		t.Errorf("engine marked disconnected %d times", st.setFalse)
	}

	peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := peer.Read(make([]byte, 1)); err != io.EOF {
		t.Errorf("server read %v, want EOF", err)
	}
	if err := s.Send([]byte("x")); !ncerr.Is(err, ncerr.ErrNotConnected) {
		t.Errorf("Send after disconnect = %v", err)
	}
}

func TestSession_ReconnectTearsDownFirst(t *testing.T) {
	addr, conns := plainServer(t)
	s, st := newSession(t, addr, false)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	first := accept(t, conns)

	if err := s.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	accept(t, conns)

	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := first.Read(make([]byte, 1)); err != io.EOF {
		t.Errorf("old connection not closed: %v", err)
	}
	if st.setFalse != 1 {
		t.Errorf("engine marked disconnected %d times", st.setFalse)
	}
}

func TestSession_ReceiveTimeout(t *testing.T) {
	addr, conns := plainServer(t)
	s, st := newSession(t, addr, false)
	s.IdleTimeout = 50 * time.Millisecond
	if err := s.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	accept(t, conns)

	_, err := s.Receive(make([]byte, 8))
	if !ncerr.IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if st.lastError != synergy.ErrorTimeout {
		t.Errorf("engine last error = %v, want timeout", st.lastError)
	}
	if s.Metrics.Snapshot().Timeouts != 1 {
		t.Error("timeout not counted")
	}
}

func TestSession_ReceiveClosed(t *testing.T) {
	addr, conns := plainServer(t)
	s, st := newSession(t, addr, false)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	accept(t, conns).Close()

	if _, err := s.Receive(make([]byte, 8)); err == nil || ncerr.IsTimeout(err) {
		t.Fatalf("expected EOF error, got %v", err)
	}
	if st.lastError == synergy.ErrorTimeout {
		t.Error("EOF recorded as a timeout")
	}
}

func TestSession_ConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	s, _ := newSession(t, addr, false)
	if err := s.Connect(context.Background()); err == nil {
		t.Fatal("expected connect error")
	}
	if s.Connected() {
		t.Error("connected after failure")
	}
	if s.Metrics.Snapshot().ConnectFailures != 1 {
		t.Error("failure not counted")
	}
}

func TestSession_PendingBuffered(t *testing.T) {
	addr, conns := plainServer(t)
	s, _ := newSession(t, addr, false)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	peer := accept(t, conns)
	if s.Pending() {
		t.Error("pending before any data")
	}

	peer.Write([]byte("abcdef"))
	// Read two bytes; the rest stays in the read buffer where poll
	// cannot see it.
	buf := make([]byte, 2)
	waitFor(t, func() bool {
		n, err := s.Receive(buf)
		return err == nil && n == 2
	})
	if !s.Pending() {
		t.Error("buffered bytes not reported")
	}
}

func TestSession_PendingTLS(t *testing.T) {
	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{selfSigned(t)}})
	if err != nil {
		t.Fatal(err)
	}
	conns := server(t, ln)
	s, _ := newSession(t, ln.Addr().String(), true)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.Fingerprint() == "" {
		t.Error("TLS session has no fingerprint")
	}
	peer := accept(t, conns)

	go peer.Write([]byte("hello"))
	// Nothing is decoded until a read happens; Pending must pull the
	// record through TLS itself.
	waitFor(t, s.Pending)

	got := make([]byte, 8)
	n, err := s.Receive(got)
	if err != nil || string(got[:n]) != "hello" {
		t.Errorf("Receive = %q, %v", got[:n], err)
	}
	if s.Pending() {
		t.Error("still pending after draining")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

func selfSigned(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "server.test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}
