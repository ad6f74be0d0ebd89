package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentHashHex returns the hex SHA-256 of data, used for content-derived
// document IDs.
func ContentHashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
