package secure

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"strings"
)

// Fingerprint returns the pinning identity of cert: "SHA256:" followed
// by the lowercase hex digest of its DER encoding.
func Fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return "SHA256:" + hex.EncodeToString(sum[:])
}

// SameFingerprint compares two fingerprints case-insensitively, so
// pins written by hand in upper case still match.
func SameFingerprint(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
