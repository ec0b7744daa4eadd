// Package secure opens the connection to the synergy server: address
// resolution, candidate fallback, the optional TLS layer and the
// certificate pinning policy.
//
// Identity is never checked against a certificate authority.  Trust
// comes entirely from the fingerprint pinned in the trust store, either
// set out of band (strict mode) or on the first successful handshake
// (trust-on-first-use).
package secure

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	ncerr "synclient/internal/errors"
	"synclient/internal/metrics"
	"synclient/internal/transport"
	"synclient/internal/trust"
	"synclient/util"
)

// Establisher holds the endpoint identity and policy for connection
// attempts.  It keeps no state between calls: every Establish starts
// from resolution and re-reads the trust store.
type Establisher struct {
	Host string
	Port int

	UseTLS          bool
	TrustOnFirstUse bool
	// CertPath is a PEM file holding a client certificate and its key.
	// It is used only when the file exists.
	CertPath string

	// Timeout bounds resolution and each candidate's connect and
	// handshake.  It is capped at IdleTimeout; zero means IdleTimeout.
	Timeout     time.Duration
	IdleTimeout time.Duration

	Resolver transport.Resolver
	Dialer   transport.Dialer
	Store    trust.Store
	Logger   *util.Logger
	Metrics  *metrics.Collector
}

// Establish connects to the first candidate address that fully
// succeeds.  Resolution and trust failures end the attempt; connection
// failures advance to the next candidate.
func (e *Establisher) Establish(ctx context.Context) (*Channel, error) {
	addr := util.FormatAddr(e.Host, e.Port)
	e.Logger.Info("going to connect to %s at port %d", e.Host, e.Port)

	rctx, cancel := e.bounded(ctx)
	candidates, err := e.Resolver.Resolve(rctx, e.Host, e.Port)
	cancel()
	if err != nil {
		e.Logger.Error("resolving %s failed: %v", addr, err)
		return nil, ncerr.Wrap("resolve", addr, err)
	}
	if len(candidates) == 0 {
		return nil, ncerr.Wrap("resolve", addr, ncerr.ErrNoCandidates)
	}

	var (
		pinned string
		cfg    *tls.Config
	)
	if e.UseTLS {
		if pinned, err = e.pinned(); err != nil {
			return nil, err
		}
		if cfg, err = e.tlsConfig(); err != nil {
			return nil, err
		}
	}

	var lastErr error
	for i, cand := range candidates {
		ch, err := e.setup(ctx, cand, cfg, pinned)
		if err == nil {
			e.Logger.Verbose("connected to %s via %s", addr, cand)
			return ch, nil
		}
		lastErr = err
		if ncerr.IsTrust(err) {
			e.Metrics.TrustFailure()
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.Logger.Warn("candidate %d/%d (%s) failed: %v", i+1, len(candidates), cand, err)
	}
	return nil, lastErr
}

// pinned looks up the stored fingerprint.  Missing is acceptable only
// with trust-on-first-use; this is checked before anything is dialled.
func (e *Establisher) pinned() (string, error) {
	fp, ok, err := e.Store.Load(e.Host)
	if err != nil {
		e.Metrics.TrustFailure()
		e.Logger.Error("could not read certificate hash for %s: %v", e.Host, err)
		return "", ncerr.Trust("lookup", e.Host, err)
	}
	if !ok {
		if !e.TrustOnFirstUse {
			e.Metrics.TrustFailure()
			e.Logger.Error("no certificate hash available for %s", e.Host)
			return "", ncerr.Trust("lookup", e.Host, ncerr.ErrNoPinnedFingerprint)
		}
		e.Logger.Verbose("no certificate hash for %s, deferring to first use", e.Host)
	}
	return fp, nil
}

func (e *Establisher) tlsConfig() (*tls.Config, error) {
	cfg := &tls.Config{
		ServerName: e.Host,
		MinVersion: tls.VersionTLS12,
		// Fingerprint pinning replaces chain and name verification.
		InsecureSkipVerify: true, //nolint:gosec
	}
	if e.CertPath == "" {
		return cfg, nil
	}
	if _, err := os.Stat(e.CertPath); errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	cert, err := tls.LoadX509KeyPair(e.CertPath, e.CertPath)
	if err != nil {
		e.Logger.Error("could not load client certificate %s: %v", e.CertPath, err)
		return nil, fmt.Errorf("client certificate %s: %w", e.CertPath, err)
	}
	e.Logger.Verbose("using client certificate %s", e.CertPath)
	cfg.Certificates = []tls.Certificate{cert}
	return cfg, nil
}

// setup connects to one candidate.  On any failure every partially
// built resource is released before returning.
func (e *Establisher) setup(ctx context.Context, addr string, cfg *tls.Config, pinned string) (*Channel, error) {
	cctx, cancel := e.bounded(ctx)
	defer cancel()

	conn, err := e.Dialer.Dial(cctx, "tcp", addr)
	if err != nil {
		return nil, ncerr.Wrap("dial", addr, err)
	}
	if cfg == nil {
		return &Channel{Conn: conn, Addr: addr}, nil
	}

	tc := tls.Client(conn, cfg)
	if err := tc.HandshakeContext(cctx); err != nil {
		conn.Close()
		e.Logger.Error("tls handshake with %s failed: %v", addr, err)
		return nil, ncerr.Wrap("handshake", addr, err)
	}

	fp, err := e.verify(tc.ConnectionState().PeerCertificates, pinned)
	if err != nil {
		tc.Close()
		conn.Close()
		return nil, err
	}
	return &Channel{Conn: conn, TLS: tc, Fingerprint: fp, Addr: addr}, nil
}

// AttemptTimeout is the bound applied to resolution and to each
// candidate, never longer than the idle timeout.
func (e *Establisher) AttemptTimeout() time.Duration {
	if e.Timeout <= 0 || (e.IdleTimeout > 0 && e.Timeout > e.IdleTimeout) {
		return e.IdleTimeout
	}
	return e.Timeout
}

func (e *Establisher) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if d := e.AttemptTimeout(); d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

// verify applies the pinning policy to the certificates of a completed
// handshake and returns the fingerprint the session adopts.
func (e *Establisher) verify(certs []*x509.Certificate, pinned string) (string, error) {
	if len(certs) == 0 {
		e.Logger.Error("server %s provided no certificate", e.Host)
		return "", ncerr.Trust("handshake", e.Host, ncerr.ErrNoPeerCertificate)
	}
	peer := Fingerprint(certs[0])

	if pinned == "" {
		e.Logger.Info("trust-on-first-use enabled, saving hash %s for %s", peer, e.Host)
		if err := e.Store.Save(e.Host, peer); err != nil {
			// Proceeding without a stored pin would make every later
			// connection another first use.
			e.Logger.Error("could not save certificate hash: %v", err)
			return "", ncerr.Trust("persist", e.Host, fmt.Errorf("%w: %w", ncerr.ErrTrustPersist, err))
		}
		return peer, nil
	}

	if !SameFingerprint(pinned, peer) {
		e.Logger.Error("CERTIFICATE HASH MISMATCH: %s (client) != %s (server)", pinned, peer)
		return "", &ncerr.TrustError{
			Host:   e.Host,
			Stage:  "verify",
			Err:    ncerr.ErrFingerprintMismatch,
			Pinned: pinned,
			Peer:   peer,
		}
	}
	return pinned, nil
}
