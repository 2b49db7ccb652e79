package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// correlationSalt is fixed on purpose: the dashboard correlates events across
// proxy restarts and devices, so the same input must always map to the same
// id. These hashes are identifiers, not secrets.
const correlationSalt = "complyze-dlp-v1"

// Correlation computes the deterministic non-cryptographic hash used for
// user_hash and prompt_hash. Format: "h_" + base36(xxhash64(salt+input)).
func Correlation(input string) string {
	sum := xxhash.Sum64String(correlationSalt + input)
	return "h_" + strconv.FormatUint(sum, 36)
}

// StringHash computes the SHA-256 hash of a string, hex encoded.
func StringHash(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// BytesHash computes the SHA-256 hash of a byte slice, hex encoded.
// Used for attachment audit correlation.
func BytesHash(input []byte) string {
	sum := sha256.Sum256(input)
	return hex.EncodeToString(sum[:])
}
