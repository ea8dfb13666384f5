package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// MinHMACKeyBytes is the smallest accepted digest key.
const MinHMACKeyBytes = 32

// Digester computes storage digests of raw tokens.
type Digester struct {
	key []byte
}

// NewDigester returns a SHA-256 digester for an empty key and an HMAC-SHA-256 digester
// otherwise. Keys shorter than MinHMACKeyBytes are rejected.
func NewDigester(key []byte) (Digester, error) {
	if len(key) == 0 {
		return Digester{}, nil
	}
	if len(key) < MinHMACKeyBytes {
		return Digester{}, ErrHMACKeyTooShort
	}
	k := make([]byte, len(key))
	copy(k, key)
	return Digester{key: k}, nil
}

// Keyed reports whether digests are HMACs.
func (d Digester) Keyed() bool { return len(d.key) > 0 }

// Digest returns the hex digest of raw.
func (d Digester) Digest(raw string) string {
	if d.Keyed() {
		return HashHMACSHA256Hex(raw, d.key)
	}
	return HashSHA256Hex(raw)
}

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// EqualHex compares two hex digests in constant time.
func EqualHex(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
