// Package sha256 provides the digests used for content hashes, fragment IDs,
// and cache keys.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Sum hashes the input and returns a hex digest.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SumParts joins the parts with a NUL separator and hashes the result, so
// ("ab","c") and ("a","bc") never collide.
func SumParts(parts ...string) string {
	return Sum([]byte(strings.Join(parts, "\x00")))
}
