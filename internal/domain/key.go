package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Hash returns the first 16 hex characters of the SHA-256 of parts joined by "|".
func Hash(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])[:16]
}

// Normalize trims, lower-cases and collapses internal whitespace.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
