// Package errors provides domain-specific error types for synclient.
//
// The types carry structured context (operation, address, host, stage)
// so the session layer can log enough to diagnose a failure and the
// supervisor can tell trust failures from transport failures.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	ErrNotConnected = errors.New("not connected")
	ErrTimeout      = errors.New("operation timed out")
	ErrNoCandidates = errors.New("no candidate addresses")
	ErrTunnelClosed = errors.New("tunnel is closed")
	ErrAuthFailed   = errors.New("authentication failed")

	// Trust failures.  None of these may ever be downgraded to a
	// warning: each one means the server identity is unproven.
	ErrNoPinnedFingerprint = errors.New("no certificate fingerprint pinned for host")
	ErrNoPeerCertificate   = errors.New("server provided no certificate")
	ErrFingerprintMismatch = errors.New("certificate fingerprint mismatch")
	ErrTrustPersist        = errors.New("could not persist certificate fingerprint")
)

// ── Structured error types ───────────────────────────────────────────

// NetworkError represents a failure in a network operation.
type NetworkError struct {
	Op        string // "resolve", "dial", "handshake", "write", "read", "poll"
	Addr      string // network address involved
	Err       error  // underlying error
	Retryable bool   // whether the caller should retry
}

func (e *NetworkError) Error() string {
	s := fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
	if e.Retryable {
		s += " (retryable)"
	}
	return s
}

func (e *NetworkError) Unwrap() error { return e.Err }

// TrustError is a failure of the certificate pinning policy.
type TrustError struct {
	Host  string
	Stage string // "lookup", "handshake", "persist", "verify"
	Err   error

	// Pinned and Peer are set for a mismatch.
	Pinned string
	Peer   string
}

func (e *TrustError) Error() string {
	if e.Pinned != "" || e.Peer != "" {
		return fmt.Sprintf("tls %s %s: %v: %s (client) != %s (server)",
			e.Stage, e.Host, e.Err, e.Pinned, e.Peer)
	}
	return fmt.Sprintf("tls %s %s: %v", e.Stage, e.Host, e.Err)
}

func (e *TrustError) Unwrap() error { return e.Err }

// SSHError represents an SSH-specific failure with host context.
type SSHError struct {
	Op   string // "handshake", "auth", "hostkey", "forward"
	Host string
	Port int
	Err  error
}

func (e *SSHError) Error() string {
	return fmt.Sprintf("ssh %s %s:%d: %v", e.Op, e.Host, e.Port, e.Err)
}

func (e *SSHError) Unwrap() error { return e.Err }

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field   string      // config field name
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// ── Constructors ─────────────────────────────────────────────────────

// Wrap creates a NetworkError, automatically detecting retryability
// from the underlying error.
func Wrap(op, addr string, err error) *NetworkError {
	return &NetworkError{
		Op:        op,
		Addr:      addr,
		Err:       err,
		Retryable: classifyRetryable(err),
	}
}

// Trust creates a TrustError for host at the given stage.
func Trust(stage, host string, err error) *TrustError {
	return &TrustError{Stage: stage, Host: host, Err: err}
}

// WrapSSH creates an SSHError.
func WrapSSH(op, host string, port int, err error) *SSHError {
	return &SSHError{Op: op, Host: host, Port: port, Err: err}
}

// ── Classification helpers ───────────────────────────────────────────

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Retryable
	}
	return classifyRetryable(err)
}

// IsTrust reports whether err is a pinning failure.
func IsTrust(err error) bool {
	var te *TrustError
	return errors.As(err, &te)
}

// IsTimeout reports whether err is a deadline expiry, either our own
// ErrTimeout or a net.Error timeout from the runtime poller.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// classifyRetryable inspects standard library error types.  Deadline
// expiries count as transient: the server may simply be slow.
func classifyRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Timeout() || opErr.Temporary() //nolint:staticcheck // Temporary is deprecated but still useful
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary() //nolint:staticcheck
	}
	return false
}

// ── Re-exports for convenience ───────────────────────────────────────

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }
