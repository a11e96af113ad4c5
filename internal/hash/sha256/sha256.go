// Package sha256 derives stable keys from URLs.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Key returns the hex SHA-256 digest of s. Cache entries and snapshot paths
// are keyed by the exact URL string, so callers must not normalize it first.
func Key(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
