// Package checksum provides content fingerprinting for memory records.
//
// Fingerprint is a cheap change-detection tag and carries no security
// guarantees; Digest is the cryptographic hash layered underneath for
// tamper evidence on anchored records.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/fnv"
)

// Fingerprint returns a short FNV-1a fingerprint of the content,
// suitable only for detecting accidental changes.
func Fingerprint(content string) string {
	h := fnv.New64a()
	h.Write([]byte(content))
	return fmt.Sprintf("%016x", h.Sum64())
}

// Digest returns the hex-encoded SHA-256 of the content. Computed over
// the stored (possibly encrypted) bytes, so it can be anchored publicly
// without leaking plaintext.
func Digest(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
