// Package identity derives the deterministic identifiers that make ingestion
// idempotent. Version and fragment IDs are content hashes: re-ingesting the
// same upstream data always produces the same IDs, so duplicate work collapses
// into no-op inserts.
//
// The derivation (SHA-256 over pipe-joined components, lowercase hex) is a
// stable external contract. Changing the component order or the separator
// would orphan every stored row.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Hash returns the SHA-256 digest of s as 64 lowercase hex characters.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// VersionID derives the identifier of a block version from everything that
// distinguishes one version from another. Unknown effective start and absent
// amending instrument contribute the empty string, so the component count is
// always five.
func VersionID(instrumentID, blockID, effectiveStart, amendingID, rawHash string) string {
	return Hash(instrumentID + "|" + blockID + "|" + effectiveStart + "|" + amendingID + "|" + rawHash)
}

// FragmentID derives the identifier of a fragment from its parent version,
// its position, and its text content.
func FragmentID(versionID string, ordinal int, textHash string) string {
	return Hash(versionID + "|" + strconv.Itoa(ordinal) + "|" + textHash)
}
