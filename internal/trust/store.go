// Package trust persists pinned server certificate fingerprints.
//
// A record maps a host name to the fingerprint accepted for it.  The
// session layer reads it before every secure connection and writes it
// exactly once, on a trust-on-first-use handshake.
package trust

import (
	"fmt"
	"strings"
)

// keyPrefix matches the configuration key layout "tls/hash/<host>".
const keyPrefix = "tls/hash/"

// Store loads and saves fingerprints keyed by host.
type Store interface {
	// Load returns the pinned fingerprint.  ok is false when nothing
	// is pinned; that is not an error.
	Load(host string) (fingerprint string, ok bool, err error)

	// Save pins fingerprint for host.  Callers must treat a failure as
	// fatal for the connection attempt.
	Save(host, fingerprint string) error

	// Close releases the backing storage.
	Close() error
}

// Key returns the configuration key for host.
func Key(host string) string {
	return keyPrefix + host
}

// validHost rejects names that could escape a key namespace.
func validHost(host string) error {
	switch {
	case host == "":
		return fmt.Errorf("empty host")
	case strings.ContainsAny(host, "/\\\x00"):
		return fmt.Errorf("host %q contains a path separator", host)
	case host == "." || host == ".." || strings.Contains(host, ".."):
		return fmt.Errorf("host %q is not a valid name", host)
	}
	return nil
}
