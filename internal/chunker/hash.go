package chunker

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashBytes returns the hex SHA-256 digest of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashString returns the hex SHA-256 digest of the UTF-8 bytes of text.
func HashString(text string) string {
	return HashBytes([]byte(text))
}
