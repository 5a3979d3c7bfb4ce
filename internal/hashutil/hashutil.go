// Package hashutil provides the SHA-256 hashing and constant-time
// comparison primitives shared by the Canonical Encoder, the Audit Chain,
// Evidence, and the Envelope. Grounded on the teacher's
// internal/audit.hashContent: hash with crypto/sha256, hex-encode with
// encoding/hex.
package hashutil

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// SHA256Hex returns the lowercase hex-encoded SHA-256 digest of b.
func SHA256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// ConstantTimeEqual reports whether a and b are equal in time independent
// of how many leading bytes match. Unequal-length inputs are allowed to
// short-circuit: the length of a signature or hash is not itself secret.
func ConstantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ConstantTimeEqualBytes is the byte-slice form of ConstantTimeEqual.
func ConstantTimeEqualBytes(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
