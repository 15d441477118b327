package chat

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// PairKey derives the canonical key for an unordered participant pair.
// Both orderings of the same two users produce the same key, which backs
// the UNIQUE constraint that makes conversation creation race-free.
//
// The separator cannot appear in IDs (UUIDs and test IDs are pipe-free),
// so distinct pairs never collide.
func PairKey(a, b UserID) string {
	lo, hi := OrderPair(a, b)
	return string(lo) + "|" + string(hi)
}

// OrderPair returns the two user IDs in canonical (byte-wise ascending)
// order. Conversations persist participants in this order.
func OrderPair(a, b UserID) (UserID, UserID) {
	if b < a {
		return b, a
	}
	return a, b
}

// NormalizeName canonicalizes a display name for storage and search:
// NFC normalization at the write boundary plus whitespace trimming.
// Directory search lowercases on top of this, so names that are
// canonically equal always match the same queries.
func NormalizeName(name string) string {
	return strings.TrimSpace(norm.NFC.String(name))
}
