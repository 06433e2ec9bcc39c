// Package hasher computes the content identifiers embedded in cache-busted filenames.
package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"strings"
)

// DefaultLength is the number of hex characters kept from the digest.
const DefaultLength = 8

// Hasher computes stable, truncated content hashes.
type Hasher struct {
	length int
}

// New returns a Hasher keeping length hex characters of a sha256 digest.
// Out-of-range lengths fall back to DefaultLength.
func New(length int) *Hasher {
	if length <= 0 || length > sha256.Size*2 {
		length = DefaultLength
	}
	return &Hasher{length: length}
}

// Sum returns the truncated hex digest of data.
func (h *Hasher) Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:h.length]
}

// HashedName inserts hash before the final extension of name's base.
//
//	HashedName("scripts/main.js", "ab12cd34") == "scripts/main-ab12cd34.js"
func HashedName(name, hash string) string {
	dir, base := path.Split(name)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return dir + stem + "-" + hash + ext
}
