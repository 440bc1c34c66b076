package common

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sha256Hex returns the lowercase hex SHA-256 digest of the input. Used to keep
// opaque gateway tokens out of logs while still allowing correlation.
func Sha256Hex(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
